package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

// scriptConn answers with a per-call function; counts every request.
type scriptConn struct {
	calls  atomic.Int64
	fn     func(n int64, req *wire.Request) (*wire.Response, error)
	closed atomic.Bool
}

func (c *scriptConn) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	n := c.calls.Add(1)
	return c.fn(n, req)
}

func (c *scriptConn) Close(context.Context) error { c.closed.Store(true); return nil }

func ok(v table.Value) *wire.Response {
	return &wire.Response{Status: wire.StatusSuccess, Tables: []table.Table{*table.Of(wire.ColValue, v)}}
}

type sleepRec struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRec) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func newTestGateway(t *testing.T, conn Conn, opt func(*Options)) (*Gateway, *sleepRec) {
	t.Helper()
	rec := &sleepRec{}
	o := Options{Sleep: rec.sleep}
	if opt != nil {
		opt(&o)
	}
	g, err := New(conn, o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g, rec
}

// ==============================
// Single calls
// ==============================

func TestBackoffSchedule(t *testing.T) {
	want := []time.Duration{time.Second, 4 * time.Second, 9 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := Backoff(i); got != w {
			t.Fatalf("Backoff(%d)=%v want %v", i, got, w)
		}
	}
}

func TestCallSucceedsFirstTry(t *testing.T) {
	conn := &scriptConn{fn: func(int64, *wire.Request) (*wire.Response, error) {
		return ok(table.Text("v")), nil
	}}
	g, rec := newTestGateway(t, conn, nil)

	res, err := g.Call(context.Background(), &wire.Request{Op: wire.OpGet}, 1)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v, ok := res.Scalar(); !ok || !v.Equal(table.Text("v")) {
		t.Fatalf("Scalar=%v ok=%v", v, ok)
	}
	if conn.calls.Load() != 1 || len(rec.delays) != 0 {
		t.Fatalf("calls=%d sleeps=%d", conn.calls.Load(), len(rec.delays))
	}
}

func TestCallRetriesTransportThenSucceeds(t *testing.T) {
	conn := &scriptConn{fn: func(n int64, _ *wire.Request) (*wire.Response, error) {
		if n < 3 {
			return nil, fmt.Errorf("%w: connection reset", ErrTransport)
		}
		return ok(table.Int(1)), nil
	}}
	g, rec := newTestGateway(t, conn, nil)

	if _, err := g.Call(context.Background(), &wire.Request{Op: wire.OpPut}, 1); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if conn.calls.Load() != 3 {
		t.Fatalf("calls=%d want 3", conn.calls.Load())
	}
	if len(rec.delays) != 2 || rec.delays[0] != time.Second || rec.delays[1] != 4*time.Second {
		t.Fatalf("delays=%v want [1s 4s]", rec.delays)
	}
}

func TestCallExhaustsAttemptsWithoutTrailingSleep(t *testing.T) {
	conn := &scriptConn{fn: func(int64, *wire.Request) (*wire.Response, error) {
		return &wire.Response{Status: wire.StatusRejected, StatusString: "busy"}, nil
	}}
	g, rec := newTestGateway(t, conn, func(o *Options) { o.RetryAttempts = 4 })

	_, err := g.Call(context.Background(), &wire.Request{Op: wire.OpReplace}, 1)
	var ce *CallError
	if !errors.As(err, &ce) {
		t.Fatalf("want *CallError, got %v", err)
	}
	if ce.Attempts != 4 || ce.Op != wire.OpReplace {
		t.Fatalf("CallError=%+v", ce)
	}
	var re *RejectedError
	if !errors.As(err, &re) || re.StatusString != "busy" {
		t.Fatalf("want wrapped RejectedError, got %v", err)
	}
	if conn.calls.Load() != 4 {
		t.Fatalf("calls=%d want 4", conn.calls.Load())
	}
	want := []time.Duration{time.Second, 4 * time.Second, 9 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays=%v want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("delays=%v want %v", rec.delays, want)
		}
	}
}

func TestCallTooMuchDataIsNotRetried(t *testing.T) {
	cases := map[string]func(int64, *wire.Request) (*wire.Response, error){
		"engine-status": func(int64, *wire.Request) (*wire.Response, error) {
			return &wire.Response{Status: wire.StatusOversized, StatusString: "overflowed output/network buffer"}, nil
		},
		"transport-limit": func(int64, *wire.Request) (*wire.Response, error) {
			return nil, fmt.Errorf("grpc: %w", ErrResponseTooLarge)
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			conn := &scriptConn{fn: fn}
			g, rec := newTestGateway(t, conn, nil)
			_, err := g.Call(context.Background(), &wire.Request{Op: wire.OpIterator}, 1)
			if !errors.Is(err, ErrTooMuchData) {
				t.Fatalf("want ErrTooMuchData, got %v", err)
			}
			if conn.calls.Load() != 1 || len(rec.delays) != 0 {
				t.Fatalf("calls=%d sleeps=%d", conn.calls.Load(), len(rec.delays))
			}
		})
	}
}

func TestCallInterruptedDuringBackoff(t *testing.T) {
	conn := &scriptConn{fn: func(int64, *wire.Request) (*wire.Response, error) {
		return nil, ErrTransport
	}}
	g, err := New(conn, Options{Backoff: func(int) time.Duration { return time.Hour }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = g.Call(ctx, &wire.Request{Op: wire.OpGet}, 1)
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("want ErrInterrupted wrapping Canceled, got %v", err)
	}
}

// ==============================
// Bulk
// ==============================

func TestBulkOneRequestPerKeyNoRetry(t *testing.T) {
	conn := &scriptConn{fn: func(_ int64, req *wire.Request) (*wire.Response, error) {
		k, _ := req.Params[0].AsText()
		return ok(table.Text("v-" + k)), nil
	}}
	g, _ := newTestGateway(t, conn, func(o *Options) { o.BulkConcurrency = 2 })

	keys := []string{"a", "b", "c", "d", "a"}
	out, err := g.Bulk(context.Background(), keys, func(k string) *wire.Request {
		return &wire.Request{Op: wire.OpGet, Params: []table.Value{table.Text(k)}}
	}, 1)
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	if conn.calls.Load() != 4 {
		t.Fatalf("calls=%d want 4 (distinct keys)", conn.calls.Load())
	}
	for _, k := range []string{"a", "b", "c", "d"} {
		v, ok := out[k].Scalar()
		if !ok || !v.Equal(table.Text("v-"+k)) {
			t.Fatalf("key %s: %v ok=%v", k, v, ok)
		}
	}
}

func TestBulkFailureDoesNotCancelSiblings(t *testing.T) {
	var finished atomic.Int64
	conn := &scriptConn{fn: func(_ int64, req *wire.Request) (*wire.Response, error) {
		k, _ := req.Params[0].AsText()
		if k == "bad" {
			return nil, ErrTransport
		}
		time.Sleep(10 * time.Millisecond)
		finished.Add(1)
		return ok(table.Int(1)), nil
	}}
	g, rec := newTestGateway(t, conn, nil)

	out, err := g.Bulk(context.Background(), []string{"x", "bad", "y", "z"}, func(k string) *wire.Request {
		return &wire.Request{Op: wire.OpPut, Params: []table.Value{table.Text(k)}}
	}, 1)
	var ce *CallError
	if !errors.As(err, &ce) || ce.Key != "bad" || ce.Attempts != 1 {
		t.Fatalf("want CallError for bad key, got %v", err)
	}
	if _, has := out["bad"]; has || len(out) != 3 {
		t.Fatalf("partial results=%v want the 3 successful keys", out)
	}
	if finished.Load() != 3 {
		t.Fatalf("siblings finished=%d want 3", finished.Load())
	}
	if conn.calls.Load() != 4 || len(rec.delays) != 0 {
		t.Fatalf("calls=%d sleeps=%d; bulk must not retry", conn.calls.Load(), len(rec.delays))
	}
}

func TestBulkInterruptedWait(t *testing.T) {
	release := make(chan struct{})
	conn := &scriptConn{fn: func(int64, *wire.Request) (*wire.Response, error) {
		<-release
		return ok(table.Int(1)), nil
	}}
	g, _ := newTestGateway(t, conn, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out, err := g.Bulk(ctx, []string{"a", "b"}, func(k string) *wire.Request {
		return &wire.Request{Op: wire.OpGet}
	}, 1)
	close(release)
	if !errors.Is(err, ErrInterrupted) || out != nil {
		t.Fatalf("want ErrInterrupted and no results, got %v %v", out, err)
	}
	if err := g.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// ==============================
// Lifecycle
// ==============================

func TestCloseDrainsInFlightThenClosesConn(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	conn := &scriptConn{fn: func(int64, *wire.Request) (*wire.Response, error) {
		close(started)
		<-release
		return ok(table.Int(1)), nil
	}}
	g, _ := newTestGateway(t, conn, nil)

	callErr := make(chan error, 1)
	go func() {
		_, err := g.Call(context.Background(), &wire.Request{Op: wire.OpPut}, 1)
		callErr <- err
	}()
	<-started

	closed := make(chan error, 1)
	go func() { closed <- g.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatalf("Close returned before in-flight call finished")
	case <-time.After(20 * time.Millisecond):
	}
	if conn.closed.Load() {
		t.Fatalf("conn closed while a call was in flight")
	}

	close(release)
	if err := <-callErr; err != nil {
		t.Fatalf("in-flight call: %v", err)
	}
	if err := <-closed; err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.closed.Load() {
		t.Fatalf("conn not closed")
	}

	if _, err := g.Call(context.Background(), &wire.Request{Op: wire.OpGet}, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed after Close, got %v", err)
	}
	if _, err := g.Bulk(context.Background(), []string{"a"}, func(string) *wire.Request { return &wire.Request{} }, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed for bulk after Close, got %v", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil conn")
	}
	if _, err := New(&scriptConn{}, Options{RetryAttempts: -1}); err == nil {
		t.Fatalf("expected error for negative attempts")
	}
}
