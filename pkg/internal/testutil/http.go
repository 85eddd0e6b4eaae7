package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPDoer implements github.HTTPDoer for testing.
// Responses are keyed by "METHOD:URL". A URL without a query also matches requests
// that carry one. Queued responses are served in order; the last one repeats.
type MockHTTPDoer struct {
	responses map[string][]mockResponse
	errors    map[string]error
	calls     []HTTPCall
	mu        sync.Mutex
}

type mockResponse struct {
	header http.Header
	body   []byte
	status int
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{
		responses: make(map[string][]mockResponse),
		errors:    make(map[string]error),
	}
}

// Do executes the HTTP request and returns the configured response.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	m.calls = append(m.calls, HTTPCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Body:   body,
		Header: req.Header.Clone(),
	})

	full := req.Method + ":" + req.URL.String()
	u := *req.URL
	u.RawQuery = ""
	bare := req.Method + ":" + u.String()

	for _, key := range []string{full, bare} {
		if err, ok := m.errors[key]; ok {
			return nil, err
		}
		queue, ok := m.responses[key]
		if !ok || len(queue) == 0 {
			continue
		}
		r := queue[0]
		if len(queue) > 1 {
			m.responses[key] = queue[1:]
		}
		return r.response(req), nil
	}

	return mockResponse{status: http.StatusNotFound, body: []byte(`{"message":"Not Found"}`)}.response(req), nil
}

func (r mockResponse) response(req *http.Request) *http.Response {
	header := r.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: r.status,
		Status:     fmt.Sprintf("%d %s", r.status, http.StatusText(r.status)),
		Body:       io.NopCloser(bytes.NewReader(r.body)),
		Header:     header,
		Request:    req,
	}
}

// SetResponse configures the response for a method and URL, replacing any queue.
// String and []byte bodies are sent verbatim; anything else is JSON encoded.
func (m *MockHTTPDoer) SetResponse(method, url string, statusCode int, body any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method+":"+url] = []mockResponse{{status: statusCode, body: encodeBody(body)}}
}

// QueueResponse appends a response for a method and URL.
func (m *MockHTTPDoer) QueueResponse(method, url string, statusCode int, body any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + ":" + url
	m.responses[key] = append(m.responses[key], mockResponse{status: statusCode, body: encodeBody(body)})
}

// SetError configures an error for a specific method and URL.
func (m *MockHTTPDoer) SetError(method, url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method+":"+url] = err
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallsTo returns the recorded calls whose URL starts with prefix.
func (m *MockHTTPDoer) CallsTo(method, prefix string) []HTTPCall {
	var out []HTTPCall
	for _, c := range m.Calls() {
		if c.Method == method && strings.HasPrefix(c.URL, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func encodeBody(body any) []byte {
	switch b := body.(type) {
	case nil:
		return nil
	case string:
		return []byte(b)
	case []byte:
		return b
	}
	data, err := json.Marshal(body)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal response body: %v", err))
	}
	return data
}
