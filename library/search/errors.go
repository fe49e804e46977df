package search

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
)

// ErrUnavailable is wrapped by every error returned after all engines failed.
var ErrUnavailable = errors.New("search unavailable")

// StatusError reports a non-2xx response from a search backend.
type StatusError struct {
	Engine     string
	StatusCode int
	Body       string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Engine, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Engine, e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// CredentialRejected reports whether the key used for the request is the problem:
// rejected, out of quota or rate limited.
func (e *StatusError) CredentialRejected() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden ||
		e.StatusCode == http.StatusPaymentRequired ||
		e.StatusCode == http.StatusTooManyRequests
}

// NewStatusError builds a StatusError, body is cut to keep logs readable.
func NewStatusError(engine string, statusCode int, body []byte) *StatusError {
	text, _ := truncateForLog(body, errorBodyLimit)
	return &StatusError{Engine: engine, StatusCode: statusCode, Body: strings.TrimSpace(text)}
}

// AsStatusError extracts a StatusError from err.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// EngineFailure records why one engine gave up.
type EngineFailure struct {
	Engine   string
	Attempts int
	Err      error
}

// ExhaustedError is returned when every engine failed. It wraps ErrUnavailable.
type ExhaustedError struct {
	Failures []EngineFailure
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	details := make([]string, 0, len(e.Failures))
	attempts := 0
	for _, f := range e.Failures {
		attempts += f.Attempts
		details = append(details, fmt.Sprintf("%s: %v", f.Engine, f.Err))
	}
	if len(details) == 0 {
		return "search manager could not locate a usable engine"
	}
	return fmt.Sprintf("search manager exhausted engines after %d attempt(s): %s", attempts, strings.Join(details, "; "))
}

// Unwrap makes errors.Is(err, ErrUnavailable) hold.
func (e *ExhaustedError) Unwrap() error {
	return ErrUnavailable
}

const (
	// logBodyLimit caps the number of response bytes logged for debugging.
	logBodyLimit   = 4096
	errorBodyLimit = 512
)

// TruncateForLog limits the payload logged for debugging and reports whether truncation occurred.
func TruncateForLog(body []byte) (string, bool) {
	return truncateForLog(body, logBodyLimit)
}

func truncateForLog(body []byte, limit int) (string, bool) {
	if len(body) <= limit {
		return string(body), false
	}
	return string(body[:limit]), true
}
