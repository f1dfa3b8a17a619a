package cdc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/logging"
)

const (
	defaultPollTimeout = 100 * time.Millisecond
	defaultBatchSize   = 256
	defaultErrorPause  = time.Second
)

// Handlers is the capability set of a listener. Nil handlers are skipped.
type Handlers struct {
	OnCreated func(Record)
	OnUpdated func(Record)
	OnRemoved func(Record)
	OnExpired func(Record)
}

func (h Handlers) handler(k Kind) func(Record) {
	switch k {
	case Created:
		return h.OnCreated
	case Updated:
		return h.OnUpdated
	case Removed:
		return h.OnRemoved
	case Expired:
		return h.OnExpired
	}
	return nil
}

// Filter decides whether a record reaches the handlers.
type Filter func(Record) bool

// PrefixFilter accepts records whose key starts with prefix.
func PrefixFilter(prefix string) Filter {
	return func(r Record) bool { return strings.HasPrefix(r.Key, prefix) }
}

// Hooks are callbacks for consumer trouble. MUST be cheap and non-blocking.
type Hooks interface {
	// A payload could not be decoded and was skipped.
	RecordUndecodable(payload []byte, err error)

	// Polling the log failed; the consumer pauses and retries.
	PollError(err error)

	// A handler panicked; the record is considered delivered.
	HandlerPanic(kind Kind, key string, recovered any)
}

type NopHooks struct{}

func (NopHooks) RecordUndecodable([]byte, error) {}
func (NopHooks) PollError(error)                 {}
func (NopHooks) HandlerPanic(Kind, string, any)  {}

type ConsumerOptions struct {
	// Required
	Log       Log
	Namespace string

	Filter      Filter
	Handlers    Handlers
	PollTimeout time.Duration  // 0 => 100ms
	BatchSize   int            // 0 => 256
	ErrorPause  time.Duration  // pause after a poll error; 0 => 1s
	Logger      logging.Logger // nil => logging.Nop
	Hooks       Hooks          // nil => NopHooks
}

// Consumer follows a Log from its tail and dispatches the records of one
// namespace to Handlers on a single goroutine.
type Consumer struct {
	opts ConsumerOptions
	log  logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	dispatching atomic.Bool
}

func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	if opts.Log == nil {
		return nil, errors.New("cdc: log is required")
	}
	if opts.Namespace == "" {
		return nil, errors.New("cdc: namespace is required")
	}
	opts.PollTimeout = util.Coalesce(opts.PollTimeout, defaultPollTimeout)
	opts.BatchSize = util.Coalesce(opts.BatchSize, defaultBatchSize)
	opts.ErrorPause = util.Coalesce(opts.ErrorPause, defaultErrorPause)
	if opts.Hooks == nil {
		opts.Hooks = NopHooks{}
	}
	return &Consumer{opts: opts, log: logging.With(opts.Logger, logging.Fields{"ns": opts.Namespace})}, nil
}

// Start positions the consumer at the log tail and launches the poll loop.
// Records committed after Start returns are guaranteed to be observed.
// ctx bounds only the tail lookup; use Stop to end the loop.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("cdc: consumer already started")
	}
	pos, err := c.opts.Log.Tail(ctx)
	if err != nil {
		return fmt.Errorf("cdc: tail: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go c.run(runCtx, pos)
	c.log.Info("cdc consumer started", logging.Fields{"pos": pos})
	return nil
}

// Stop ends the loop and waits for it. No handler starts after Stop
// returns. While a handler is running Stop only cancels, so a handler may
// stop its own consumer; that handler still runs to completion.
// Safe to call more than once.
func (c *Consumer) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if c.dispatching.Load() {
		return
	}
	<-done
}

func (c *Consumer) run(ctx context.Context, pos string) {
	defer close(c.done)
	for ctx.Err() == nil {
		entries, err := c.opts.Log.Poll(ctx, pos, c.opts.PollTimeout, c.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.opts.Hooks.PollError(err)
			c.log.Warn("cdc poll failed", logging.Fields{"err": err})
			select {
			case <-time.After(c.opts.ErrorPause):
			case <-ctx.Done():
				return
			}
			continue
		}
		for _, e := range entries {
			if ctx.Err() != nil {
				return
			}
			c.deliver(e.Payload)
			pos = e.ID
		}
	}
}

func (c *Consumer) deliver(payload []byte) {
	r, err := DecodeRecord(payload)
	if err != nil {
		c.opts.Hooks.RecordUndecodable(payload, err)
		c.log.Warn("cdc record skipped", logging.Fields{"err": err})
		return
	}
	if r.Namespace != c.opts.Namespace {
		return
	}
	if c.opts.Filter != nil && !c.opts.Filter(r) {
		return
	}
	h := c.opts.Handlers.handler(r.Kind)
	if h == nil {
		return
	}
	c.dispatching.Store(true)
	defer func() {
		c.dispatching.Store(false)
		if p := recover(); p != nil {
			c.opts.Hooks.HandlerPanic(r.Kind, r.Key, p)
			c.log.Error("cdc handler panicked", logging.Fields{"kind": r.Kind.String(), "panic": p})
		}
	}()
	h(r)
}
