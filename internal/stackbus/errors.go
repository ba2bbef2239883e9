package stackbus

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the stack does not answer a request in time.
	ErrTimeout = errors.New("stackbus: request timed out")

	// ErrClosed is returned for requests on a closed client.
	ErrClosed = errors.New("stackbus: client closed")

	// ErrNotStarted is returned for requests before Start subscribed to
	// responses.
	ErrNotStarted = errors.New("stackbus: client not started")

	// ErrBadMessage is returned for payloads that cannot be decoded.
	ErrBadMessage = errors.New("stackbus: malformed message")
)

// RemoteError is a failure reported by the stack daemon.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("stackbus: %s failed: %s: %s", e.Op, e.Code, e.Message)
}
