package inproc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

func echo(ctx context.Context, req *wire.Request) *wire.Response {
	return &wire.Response{
		Status: wire.StatusSuccess,
		Tables: []table.Table{*table.Of("op", table.Text(req.Op))},
	}
}

func TestCallRoundTrips(t *testing.T) {
	c := New(wire.HandlerFunc(echo), Options{})
	resp, err := c.Call(context.Background(), &wire.Request{Op: wire.OpGet, Params: []table.Value{table.Text("k")}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if v, _ := resp.Result(1).Scalar(); !v.Equal(table.Text(wire.OpGet)) {
		t.Fatalf("echo=%v", v)
	}
}

func TestCallResponseTooLarge(t *testing.T) {
	big := wire.HandlerFunc(func(context.Context, *wire.Request) *wire.Response {
		return &wire.Response{
			Status: wire.StatusSuccess,
			Tables: []table.Table{*table.Of("v", table.Bytes(bytes.Repeat([]byte{7}, 1024)))},
		}
	})
	c := New(big, Options{MaxResponseBytes: 128})
	_, err := c.Call(context.Background(), &wire.Request{Op: wire.OpIterator})
	if !errors.Is(err, gateway.ErrResponseTooLarge) {
		t.Fatalf("err=%v want ErrResponseTooLarge", err)
	}
}

func TestCallAfterClose(t *testing.T) {
	c := New(wire.HandlerFunc(echo), Options{})
	_ = c.Close(context.Background())
	if _, err := c.Call(context.Background(), &wire.Request{Op: wire.OpGet}); !errors.Is(err, gateway.ErrTransport) {
		t.Fatalf("err=%v want ErrTransport", err)
	}
}

func TestCallCancelled(t *testing.T) {
	c := New(wire.HandlerFunc(echo), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Call(ctx, &wire.Request{Op: wire.OpGet}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}
