package fdms

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected matches gateway responses with a non-2xx status.
	ErrRejected = errors.New("fdms rejected request")
	// ErrUnreachable matches transport failures, timeouts included.
	ErrUnreachable = errors.New("fdms unreachable")
	// ErrTimeout matches calls that ran out of time before a response arrived.
	ErrTimeout = errors.New("fdms call timed out")
)

// Error describes one failed gateway call.
type Error struct {
	Op         string
	StatusCode int // 0 when no HTTP response was received
	Raw        string
	Normalized NormalizedError
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Normalized.Message
	if e.Normalized.Code != "" {
		msg = fmt.Sprintf("[%s] %s", e.Normalized.Code, msg)
	}
	switch {
	case e.Timeout:
		return fmt.Sprintf("fdms %s: timeout: %s", e.Op, msg)
	case e.StatusCode == 0:
		return fmt.Sprintf("fdms %s: unreachable: %s", e.Op, msg)
	default:
		return fmt.Sprintf("fdms %s: status %d: %s", e.Op, e.StatusCode, msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.StatusCode != 0
	case ErrUnreachable:
		return e.StatusCode == 0
	case ErrTimeout:
		return e.Timeout
	}
	return false
}

// Kind names the failure class for audit details.
func (e *Error) Kind() string {
	switch {
	case e.Timeout:
		return "timeout"
	case e.StatusCode == 0:
		return "unreachable"
	default:
		return "rejected"
	}
}
