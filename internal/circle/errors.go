package circle

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure classes of upstream calls. APIError.Kind is always one of these.
var (
	ErrNotConfigured     = errors.New("circle service credential is not configured")
	ErrMemberNotFound    = errors.New("member not found in community")
	ErrUnauthorized      = errors.New("circle rejected the credential")
	ErrMalformedResponse = errors.New("circle returned a malformed response")
	ErrUpstream          = errors.New("circle request failed")
)

// maxErrorBody bounds how much of an upstream body is kept for diagnostics.
const maxErrorBody = 500

// APIError describes a failed upstream call.
type APIError struct {
	Kind       error
	Endpoint   string
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsTokenRejected reports whether err is a 401 from a call made with a member
// access token, meaning the cached token was revoked or has expired early.
func IsTokenRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == ErrUpstream && apiErr.StatusCode == http.StatusUnauthorized
}
