package rpccache

import (
	"time"

	"github.com/unkn0wn-root/rpccache/cdc"
	"github.com/unkn0wn-root/rpccache/gateway"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths and on the listener goroutine.
type Hooks interface {
	gateway.Hooks
	cdc.Hooks

	// A change record's value did not decode with the cache codec.
	// The event is dropped.
	ListenerDecodeError(namespace, key string, err error)
}

var _ Hooks = NopHooks{}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) RetryScheduled(string, int, time.Duration, error) {}
func (NopHooks) CallFailed(string, int, error)                    {}
func (NopHooks) TooMuchData(string)                               {}
func (NopHooks) BulkFailed(string, int, error)                    {}
func (NopHooks) RecordUndecodable([]byte, error)                  {}
func (NopHooks) PollError(error)                                  {}
func (NopHooks) HandlerPanic(cdc.Kind, string, any)               {}
func (NopHooks) ListenerDecodeError(string, string, error)        {}
