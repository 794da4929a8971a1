package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotAuthenticated means there is no stored token. The user needs to log
// in with credentials first.
var ErrNotAuthenticated = errors.New("not logged in")

// An AuthError means logging in failed: the credentials were rejected, the
// account is locked out, or the remote store could not be reached.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// An ExpiredError means the session token expired and could not be
// refreshed. It will not go away without logging in again.
type ExpiredError struct {
	Err error
}

func (e *ExpiredError) Error() string {
	if e.Err != nil {
		return "session expired: " + e.Err.Error()
	}
	return "session expired"
}

func (e *ExpiredError) Unwrap() error { return e.Err }
