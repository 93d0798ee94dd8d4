package webhook

import (
	"fmt"
	"net/http"
	"strings"
)

// Error is a failed webhook turn: a non-2xx status or a response without a
// usable body. It is never retried.
type Error struct {
	StatusCode int
	StatusText string
	URL        string
	Reason     string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason != "" {
		return "Webhook error: " + e.Reason
	}
	return fmt.Sprintf("Webhook error: %d %s", e.StatusCode, e.StatusText)
}

// HTTPStatusCode reports the upstream status, 0 when the request itself succeeded.
func (e *Error) HTTPStatusCode() int {
	return e.StatusCode
}

func statusError(res *http.Response, url string) *Error {
	text := strings.TrimSpace(strings.TrimPrefix(res.Status, fmt.Sprintf("%d", res.StatusCode)))
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return &Error{StatusCode: res.StatusCode, StatusText: text, URL: url}
}

// StreamParseError describes a stream line that could not be decoded. It is
// logged and the line is skipped; it never ends a stream.
type StreamParseError struct {
	Line string
	Err  error
}

func (e *StreamParseError) Error() string {
	return fmt.Sprintf("webhook: parse stream line %q: %v", e.Line, e.Err)
}

func (e *StreamParseError) Unwrap() error {
	return e.Err
}
