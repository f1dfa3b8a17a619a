// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/rpccache"
//	"github.com/unkn0wn-root/rpccache/codec"
//	"github.com/unkn0wn-root/rpccache/hooks/async"
//	"github.com/unkn0wn-root/rpccache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    RetryEvery:     10, // sample logs: ~every 10th retry
//	    PollErrorEvery: 5,
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := rpccache.New[User](ctx, rpccache.Options[User]{
//	    Namespace: "users",
//	    Conn:      conn,
//	    Codec:     codec.JSON[User]{},
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/rpccache"
	"github.com/unkn0wn-root/rpccache/cdc"
)

// Hooks forwards every callback to inner on a bounded worker pool. When the
// queue is full the event is dropped and counted.
type Hooks struct {
	inner   rpccache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64

	mu     sync.RWMutex // guards closed against sends on a closed queue
	closed bool
}

var _ rpccache.Hooks = (*Hooks)(nil)

func New(inner rpccache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Callbacks after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue or a closed pool.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) RetryScheduled(op string, attempt int, d time.Duration, err error) {
	h.try(func() { h.inner.RetryScheduled(op, attempt, d, err) })
}
func (h *Hooks) CallFailed(op string, n int, err error) { h.try(func() { h.inner.CallFailed(op, n, err) }) }
func (h *Hooks) TooMuchData(op string)                  { h.try(func() { h.inner.TooMuchData(op) }) }
func (h *Hooks) BulkFailed(op string, n int, err error) { h.try(func() { h.inner.BulkFailed(op, n, err) }) }
func (h *Hooks) RecordUndecodable(p []byte, err error) {
	h.try(func() { h.inner.RecordUndecodable(p, err) })
}
func (h *Hooks) PollError(err error) { h.try(func() { h.inner.PollError(err) }) }
func (h *Hooks) HandlerPanic(k cdc.Kind, key string, p any) {
	h.try(func() { h.inner.HandlerPanic(k, key, p) })
}
func (h *Hooks) ListenerDecodeError(ns, key string, err error) {
	h.try(func() { h.inner.ListenerDecodeError(ns, key, err) })
}
