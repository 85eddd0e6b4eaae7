package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	maxQuerySize        = 100000
	maxGraphQLVarLength = 10000
	maxGitHubNameLength = 100
)

// graphQLError is returned when the response carries an "errors" member.
type graphQLError struct {
	Messages []string
	Types    []string
}

func (e *graphQLError) Error() string {
	return "graphql errors: " + strings.Join(e.Messages, "; ")
}

func (e *graphQLError) hasType(t string) bool {
	for _, got := range e.Types {
		if got == t {
			return true
		}
	}
	return false
}

// MakeGraphQLRequest makes a GraphQL request to the GitHub API.
func (c *Client) MakeGraphQLRequest(ctx context.Context, operation, query string, variables map[string]any) (map[string]any, error) {
	if err := validateGraphQLVariables(variables); err != nil {
		return nil, fmt.Errorf("invalid GraphQL variables: %w", err)
	}
	if len(query) > maxQuerySize {
		return nil, fmt.Errorf("GraphQL query too large: %d chars (max %d)", len(query), maxQuerySize)
	}

	slog.DebugContext(ctx, "Executing GraphQL query", "type", operation, "size", len(query))
	start := time.Now()

	resp, err := c.doRequest(ctx, http.MethodPost, "/graphql", map[string]any{
		"query":     query,
		"variables": variables,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("graphql request failed: %w", err)
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, readError("run GraphQL "+operation, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode GraphQL response: %w", err)
	}

	if errs, ok := result["errors"].([]any); ok && len(errs) > 0 {
		gqlErr := &graphQLError{}
		for _, e := range errs {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if msg, ok := m["message"].(string); ok {
				gqlErr.Messages = append(gqlErr.Messages, msg)
			}
			if typ, ok := m["type"].(string); ok {
				gqlErr.Types = append(gqlErr.Types, typ)
			}
		}
		slog.WarnContext(ctx, "GraphQL query returned errors", "type", operation, "errors", gqlErr.Messages)
		return nil, gqlErr
	}

	slog.DebugContext(ctx, "GraphQL query completed", "type", operation, "duration", time.Since(start))
	return result, nil
}

// validateGraphQLVariables validates GraphQL variables to prevent injection.
func validateGraphQLVariables(variables map[string]any) error {
	for key, value := range variables {
		if strings.ContainsAny(key, "{}[]\"'\n\r\t") {
			return fmt.Errorf("invalid character in variable key: %s", key)
		}

		str, ok := value.(string)
		if !ok {
			continue
		}
		if strings.Contains(str, "__schema") || strings.Contains(str, "__type") {
			return errors.New("introspection queries not allowed in variables")
		}
		if len(str) > maxGraphQLVarLength {
			return fmt.Errorf("variable value too long: %d chars", len(str))
		}
		if key == "owner" || key == "repo" {
			if strings.ContainsAny(str, "/\\\n\r\x00") || strings.Contains(str, "..") || len(str) > maxGitHubNameLength || str == "" {
				return fmt.Errorf("invalid GitHub name in variable %s: %s", key, str)
			}
		}
	}
	return nil
}

// mapValue safely extracts a nested map from a JSON object.
func mapValue(data map[string]any, key string) (map[string]any, bool) {
	val, ok := data[key]
	if !ok {
		return nil, false
	}
	m, ok := val.(map[string]any)
	return m, ok
}
