package partapi

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// HTTPError is a non-2xx response from the parts service. Message is the
// user-facing text: the service's own message when it sent one, otherwise a
// status-derived fallback.
type HTTPError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	return e.Message
}

var (
	messagePath = jp.MustParseString("$.message")
	errorPath   = jp.MustParseString("$.error")
)

func parseHTTPError(status int, raw []byte) *HTTPError {
	return &HTTPError{
		StatusCode: status,
		Message:    extractMessage(status, raw),
		Body:       strings.TrimSpace(string(raw)),
	}
}

// extractMessage reads "message" (a string, or a list of strings joined with
// ", ") and then "error" from a JSON error body.
func extractMessage(status int, raw []byte) string {
	doc, err := oj.Parse(raw)
	if err == nil {
		if msg := firstString(messagePath.Get(doc)); msg != "" {
			return msg
		}
		if msg := firstString(errorPath.Get(doc)); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("Request failed with status %d.", status)
}

func firstString(results []any) string {
	for _, r := range results {
		switch v := r.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return ""
}
