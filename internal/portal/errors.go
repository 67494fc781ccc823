package portal

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is fatal for the session: the access token was rejected
// and silent refresh failed (or the replay failed again). Callers must route
// the user back to login; nothing is retried automatically.
var ErrSessionExpired = errors.New("session_expired")

// ErrNotFound maps the API's 404 responses.
var ErrNotFound = errors.New("not_found")

// NetworkError wraps transport failures and timeouts. They are safe to retry
// manually; the portal never retries them on its own.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
