package reviewer

import "errors"

// ErrInvalidInput is returned when a request is missing the repository URL or commit id.
var ErrInvalidInput = errors.New("invalid input")
