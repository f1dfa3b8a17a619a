package jsonrpc

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/logging"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

func newTestServer(t *testing.T, h wire.Handler) *httptest.Server {
	t.Helper()
	s, err := NewServer(h, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts
}

func opHandler(hits *atomic.Int64) wire.Handler {
	return wire.HandlerFunc(func(_ context.Context, req *wire.Request) *wire.Response {
		if hits != nil {
			hits.Add(1)
		}
		return &wire.Response{
			Status: wire.StatusSuccess,
			Tables: []table.Table{*table.Of("op", table.Text(req.Op))},
		}
	})
}

func TestCallOverHTTP(t *testing.T) {
	ts := newTestServer(t, opHandler(nil))
	c, err := Dial(Options{Hosts: []string{ts.URL}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	resp, err := c.Call(context.Background(), &wire.Request{Op: wire.OpContainsKey, Params: []table.Value{table.Text("k")}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v, _ := resp.Result(1).Scalar(); !v.Equal(table.Text(wire.OpContainsKey)) {
		t.Fatalf("op=%v", v)
	}
}

func TestCallRotatesHosts(t *testing.T) {
	var a, b atomic.Int64
	ta := newTestServer(t, opHandler(&a))
	tb := newTestServer(t, opHandler(&b))
	c, err := Dial(Options{Hosts: []string{ta.URL, tb.URL}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := c.Call(context.Background(), &wire.Request{Op: wire.OpGet}); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
	if a.Load() != 2 || b.Load() != 2 {
		t.Fatalf("hits a=%d b=%d want 2/2", a.Load(), b.Load())
	}
}

func TestCallTooLarge(t *testing.T) {
	payload := make([]byte, 8<<10)
	rand.New(rand.NewSource(1)).Read(payload)
	ts := newTestServer(t, wire.HandlerFunc(func(context.Context, *wire.Request) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Tables: []table.Table{*table.Of("v", table.Bytes(payload))}}
	}))
	c, _ := Dial(Options{Hosts: []string{ts.URL}, MaxResponseBytes: 1 << 10})
	if _, err := c.Call(context.Background(), &wire.Request{Op: wire.OpIterator}); !errors.Is(err, gateway.ErrResponseTooLarge) {
		t.Fatalf("err=%v want ErrResponseTooLarge", err)
	}
}

func TestCallHTTPErrorIsTransport(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(ts.Close)
	c, _ := Dial(Options{Hosts: []string{ts.URL}})
	if _, err := c.Call(context.Background(), &wire.Request{Op: wire.OpGet}); !errors.Is(err, gateway.ErrTransport) {
		t.Fatalf("err=%v want ErrTransport", err)
	}
}

func TestServiceRejectsCorruptFrame(t *testing.T) {
	s := &Service{h: opHandler(nil), log: logging.Nop{}}
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := s.Call(r, &Args{Frame: []byte("garbage")}, &Reply{}); err == nil {
		t.Fatalf("corrupt frame accepted")
	}
}

func TestDialValidates(t *testing.T) {
	if _, err := Dial(Options{}); err == nil {
		t.Fatalf("Dial without hosts succeeded")
	}
}
