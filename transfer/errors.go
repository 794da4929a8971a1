package transfer

import (
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means the remote store has nothing at the requested URL.
	ErrNotFound = errors.New("remote item not found")

	// ErrUnauthorized means the remote store refused our credentials.
	ErrUnauthorized = errors.New("remote store refused credentials")

	// ErrRangeNotSatisfiable means a ranged request started past the end of
	// the remote file.
	ErrRangeNotSatisfiable = errors.New("requested range not satisfiable")

	// ErrCircuitOpen means too many recent requests to a host failed, and
	// requests to it are being held off for a while.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// A TransientError is a failure which may go away if the request is tried
// again: network problems, timeouts, rate limiting, and server errors.
type TransientError struct {
	URL    string
	Status int // HTTP status, or 0 if no response was received
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient error fetching %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transient error fetching %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// isNetworkError reports whether err came from the network rather than from
// something layered on the transport.
func isNetworkError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
