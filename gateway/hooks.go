package gateway

import "time"

// Hooks are callbacks for high-signal gateway events.
// Implementations MUST be cheap and non-blocking.
type Hooks interface {
	// A failed attempt will be retried after delay.
	RetryScheduled(op string, attempt int, delay time.Duration, err error)

	// A call gave up (attempts exhausted or non-retryable error).
	CallFailed(op string, attempts int, err error)

	// The engine refused a response for exceeding its ceiling.
	TooMuchData(op string)

	// A bulk call surfaced its first member failure.
	BulkFailed(op string, requested int, err error)
}

type NopHooks struct{}

func (NopHooks) RetryScheduled(string, int, time.Duration, error) {}
func (NopHooks) CallFailed(string, int, error)                    {}
func (NopHooks) TooMuchData(string)                               {}
func (NopHooks) BulkFailed(string, int, error)                    {}
