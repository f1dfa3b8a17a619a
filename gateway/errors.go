package gateway

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/rpccache/wire"
)

var (
	// ErrTooMuchData is returned when the engine (or transport) refuses a
	// response for exceeding its size ceiling. Never retried.
	ErrTooMuchData = errors.New("rpccache: too much data requested")

	// ErrInterrupted is returned when the caller's context ends while the
	// gateway is waiting (backoff sleep or bulk barrier).
	ErrInterrupted = errors.New("rpccache: interrupted")

	ErrClosed = errors.New("rpccache: closed")

	// Transports wrap their failures in these so the gateway can classify them.
	ErrTransport        = errors.New("rpccache: transport failure")
	ErrResponseTooLarge = errors.New("rpccache: response exceeds transport limit")
)

// CallError is returned once a call has exhausted its attempts (or, for
// bulk members, failed its single attempt). Err is the last failure.
type CallError struct {
	Op       string
	Key      string // set for bulk members
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("rpccache: %s %q failed after %d attempt(s): %v", e.Op, e.Key, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rpccache: %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// RejectedError is a non-success engine status other than oversized.
type RejectedError struct {
	Status       wire.Status
	StatusString string
}

func (e *RejectedError) Error() string {
	if e.StatusString == "" {
		return fmt.Sprintf("rpccache: engine returned %s", e.Status)
	}
	return fmt.Sprintf("rpccache: engine returned %s: %s", e.Status, e.StatusString)
}

// retryable reports whether another attempt may succeed.
// Only oversized responses are final; everything else is worth retrying.
func retryable(err error) bool {
	return !errors.Is(err, ErrTooMuchData)
}
