// Package gateway issues engine calls over a Conn: single calls with bounded
// retry and quadratic backoff, and fan-out bulk calls with one attempt per
// key behind a completion barrier.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/logging"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

const defaultRetryAttempts = 3

// Conn is a request/response connection to the engine.
// Implementations must be safe for concurrent use.
type Conn interface {
	Call(ctx context.Context, req *wire.Request) (*wire.Response, error)
	Close(ctx context.Context) error
}

type Options struct {
	RetryAttempts   int                            // total attempts per single call; 0 => 3
	Backoff         func(attempt int) time.Duration // delay after failed attempt i (0-based); nil => Backoff
	BulkConcurrency int                            // max in-flight bulk members; 0 => unbounded
	Logger          logging.Logger                 // nil => logging.Nop
	Hooks           Hooks                          // nil => NopHooks

	// Sleep waits d or until ctx ends. nil => timer based.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Backoff is the default schedule: 1s x (attempt+1)^2.
func Backoff(attempt int) time.Duration {
	n := time.Duration(attempt + 1)
	return n * n * time.Second
}

// Result is a successful response plus the table the operation designates
// as its answer (nil when the response carries fewer tables).
type Result struct {
	Response *wire.Response
	Table    *table.Table
}

// Scalar is column 0 of row 0 of the answer table.
func (r Result) Scalar() (table.Value, bool) { return r.Table.Scalar() }

type Gateway struct {
	conn      Conn
	attempts  int
	backoff   func(int) time.Duration
	sleep     func(context.Context, time.Duration) error
	bulkLimit int
	log       logging.Logger
	hooks     Hooks

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func New(conn Conn, opts Options) (*Gateway, error) {
	if conn == nil {
		return nil, fmt.Errorf("rpccache: conn is required")
	}
	if opts.RetryAttempts < 0 {
		return nil, fmt.Errorf("rpccache: retry attempts must be >= 0, got %d", opts.RetryAttempts)
	}
	g := &Gateway{
		conn:      conn,
		attempts:  util.Coalesce(opts.RetryAttempts, defaultRetryAttempts),
		backoff:   opts.Backoff,
		sleep:     opts.Sleep,
		bulkLimit: opts.BulkConcurrency,
		log:       logging.OrNop(opts.Logger),
		hooks:     opts.Hooks,
	}
	if g.backoff == nil {
		g.backoff = Backoff
	}
	if g.sleep == nil {
		g.sleep = sleepCtx
	}
	if g.hooks == nil {
		g.hooks = NopHooks{}
	}
	return g, nil
}

func (g *Gateway) enter() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ErrClosed
	}
	g.inflight.Add(1)
	return nil
}

// Call sends req, retrying failed attempts per the backoff schedule.
// offset selects the answer table counted from the end (1 = last).
func (g *Gateway) Call(ctx context.Context, req *wire.Request, offset int) (Result, error) {
	if err := g.enter(); err != nil {
		return Result{}, err
	}
	defer g.inflight.Done()

	var last error
	for i := 0; i < g.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		resp, err := g.once(ctx, req)
		if err == nil {
			return Result{Response: resp, Table: resp.Result(offset)}, nil
		}
		last = err
		if !retryable(err) {
			g.hooks.TooMuchData(req.Op)
			g.hooks.CallFailed(req.Op, i+1, err)
			g.log.Warn("call not retryable", logging.Fields{"op": req.Op, "attempt": i + 1, "err": err})
			return Result{}, err
		}
		if i == g.attempts-1 {
			break // no sleep after the final attempt
		}
		d := g.backoff(i)
		g.hooks.RetryScheduled(req.Op, i+1, d, err)
		g.log.Debug("call failed, retrying", logging.Fields{"op": req.Op, "attempt": i + 1, "delay": d, "err": err})
		if err := g.sleep(ctx, d); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
	}

	err := &CallError{Op: req.Op, Attempts: g.attempts, Err: last}
	g.hooks.CallFailed(req.Op, g.attempts, last)
	g.log.Error("call failed", logging.Fields{"op": req.Op, "attempts": g.attempts, "err": last})
	return Result{}, err
}

// Bulk sends build(k) for every distinct key concurrently, one attempt
// each. A member failure does not cancel its siblings; once every member
// has finished the successful results are returned with the first failure.
// If ctx ends first the wait is abandoned with ErrInterrupted and no
// results are returned.
func (g *Gateway) Bulk(ctx context.Context, keys []string, build func(key string) *wire.Request, offset int) (map[string]Result, error) {
	keys = dedupe(keys)
	if len(keys) == 0 {
		return map[string]Result{}, nil
	}
	if err := g.enter(); err != nil {
		return nil, err
	}

	reqs := make([]*wire.Request, len(keys))
	for i, k := range keys {
		reqs[i] = build(k)
	}
	op := reqs[0].Op

	var (
		mu  sync.Mutex
		out = make(map[string]Result, len(keys))
		eg  errgroup.Group
	)
	if g.bulkLimit > 0 {
		eg.SetLimit(g.bulkLimit)
	}

	done := make(chan error, 1)
	go func() {
		defer g.inflight.Done()
		for i, k := range keys {
			req := reqs[i]
			eg.Go(func() error {
				resp, err := g.once(ctx, req)
				if err != nil {
					return &CallError{Op: req.Op, Key: k, Attempts: 1, Err: err}
				}
				mu.Lock()
				out[k] = Result{Response: resp, Table: resp.Result(offset)}
				mu.Unlock()
				return nil
			})
		}
		done <- eg.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			g.hooks.BulkFailed(op, len(keys), err)
			g.log.Warn("bulk call failed", logging.Fields{"op": op, "requested": len(keys), "succeeded": len(out), "err": err})
			return out, err
		}
		return out, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}

func (g *Gateway) once(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	resp, err := g.conn.Call(ctx, req)
	if err != nil {
		if errors.Is(err, ErrResponseTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrTooMuchData, err)
		}
		return nil, err
	}
	switch resp.Status {
	case wire.StatusSuccess:
		return resp, nil
	case wire.StatusOversized:
		return nil, fmt.Errorf("%w: %s", ErrTooMuchData, resp.StatusString)
	default:
		return nil, &RejectedError{Status: resp.Status, StatusString: resp.StatusString}
	}
}

// Closed reports whether Close has been called.
func (g *Gateway) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// Close rejects new calls, waits for in-flight ones (bounded by ctx) and
// closes the connection. Repeated calls are no-ops.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(drained)
	}()
	var drainErr error
	select {
	case <-drained:
	case <-ctx.Done():
		drainErr = fmt.Errorf("rpccache: drain: %w", ctx.Err())
		g.log.Warn("closing with calls still in flight", logging.Fields{"err": ctx.Err()})
	}
	return errors.Join(drainErr, g.conn.Close(ctx))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
