package rpccache

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/param"
	"github.com/unkn0wn-root/rpccache/wire"
)

// Local validation failures. No request is sent when one is returned.
var (
	ErrEmptyKey       = errors.New("rpccache: empty key")
	ErrNilValue       = errors.New("rpccache: value encodes to nil")
	ErrEmptyProcessor = errors.New("rpccache: empty processor name")
)

var (
	ErrListenerRegistered = errors.New("rpccache: listener already registered")
	ErrEventsUnavailable  = errors.New("rpccache: no event log configured")
)

// Re-exported so callers need not import the lower layers.
var (
	ErrClosed                  = gateway.ErrClosed
	ErrTooMuchData             = gateway.ErrTooMuchData
	ErrInterrupted             = gateway.ErrInterrupted
	ErrUnsupportedArgumentType = param.ErrUnsupportedArgumentType
)

// InvokeError is a processor invocation that the engine reported as failed.
// Diagnostic holds the engine's ERROR_LINE rows (message, then stack).
type InvokeError struct {
	Key        string
	Processor  string
	Status     wire.InvokeStatus
	Diagnostic []string
}

func (e *InvokeError) Error() string {
	msg := ""
	if len(e.Diagnostic) > 0 {
		msg = ": " + e.Diagnostic[0]
	}
	return fmt.Sprintf("rpccache: invoke %q on %q: %s%s", e.Processor, e.Key, e.Status, msg)
}

// IsConfigError reports a resolution or construction failure, i.e. a
// deployment problem rather than a problem with this entry.
func (e *InvokeError) IsConfigError() bool { return e.Status.IsConfigError() }

// IsProcessorError reports a failure raised while the processor ran.
func (e *InvokeError) IsProcessorError() bool { return e.Status.IsProcessorError() }
