package grpc

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

func newTestConn(t *testing.T, h wire.Handler, opts Options, sopts ...grpc.ServerOption) *Conn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(h, sopts...)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	if opts.Hosts == nil {
		opts.Hosts = []string{"bufnet-a", "bufnet-b"}
	}
	opts.DialOptions = append(opts.DialOptions, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	c, err := Dial(opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func TestCallOverGRPC(t *testing.T) {
	h := wire.HandlerFunc(func(_ context.Context, req *wire.Request) *wire.Response {
		k, _ := req.Params[0].AsText()
		return &wire.Response{
			Status:          wire.StatusSuccess,
			AppStatusString: k,
			Tables:          []table.Table{*table.Of("op", table.Text(req.Op))},
		}
	})
	c := newTestConn(t, h, Options{})

	resp, err := c.Call(context.Background(), &wire.Request{Op: wire.OpGet, Params: []table.Value{table.Text("k1")}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.AppStatusString != "k1" {
		t.Fatalf("AppStatusString=%q", resp.AppStatusString)
	}
	if v, _ := resp.Result(1).Scalar(); !v.Equal(table.Text(wire.OpGet)) {
		t.Fatalf("op=%v", v)
	}
}

func TestInterceptorSeesCalls(t *testing.T) {
	var seen string
	icpt := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return next(ctx, req)
	}
	h := wire.HandlerFunc(func(context.Context, *wire.Request) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess}
	})
	c := newTestConn(t, h, Options{}, grpc.UnaryInterceptor(icpt))
	if _, err := c.Call(context.Background(), &wire.Request{Op: wire.OpClear}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if seen != FullMethod {
		t.Fatalf("interceptor saw %q", seen)
	}
}

func TestResponseOverCeilingIsTooLarge(t *testing.T) {
	// random bytes so frame compression cannot shrink the payload
	payload := make([]byte, 64<<10)
	rand.New(rand.NewSource(1)).Read(payload)
	h := wire.HandlerFunc(func(context.Context, *wire.Request) *wire.Response {
		return &wire.Response{
			Status: wire.StatusSuccess,
			Tables: []table.Table{*table.Of("v", table.Bytes(payload))},
		}
	})
	c := newTestConn(t, h, Options{MaxResponseBytes: 1 << 10})
	_, err := c.Call(context.Background(), &wire.Request{Op: wire.OpIterator})
	if !errors.Is(err, gateway.ErrResponseTooLarge) {
		t.Fatalf("err=%v want ErrResponseTooLarge", err)
	}
}

func TestCallErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		tooBig bool
	}{
		{"recv-limit", status.Error(codes.ResourceExhausted, "grpc: received message larger than max (5000 vs. 1024)"), true},
		{"send-limit", status.Error(codes.ResourceExhausted, "grpc: trying to send message larger than max (5000 vs. 1024)"), true},
		{"quota", status.Error(codes.ResourceExhausted, "rate limit exceeded"), false},
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), false},
	}
	for _, tc := range cases {
		err := callError(tc.err)
		if got := errors.Is(err, gateway.ErrResponseTooLarge); got != tc.tooBig {
			t.Fatalf("%s: too large=%v want %v (%v)", tc.name, got, tc.tooBig, err)
		}
		if !tc.tooBig && !errors.Is(err, gateway.ErrTransport) {
			t.Fatalf("%s: err=%v want ErrTransport", tc.name, err)
		}
	}
}

func TestDialValidates(t *testing.T) {
	if _, err := Dial(Options{}); err == nil {
		t.Fatalf("Dial without hosts succeeded")
	}
	if _, err := Dial(Options{Hosts: []string{""}}); err == nil {
		t.Fatalf("Dial with empty host succeeded")
	}
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	if _, err := (frameCodec{}).Marshal("nope"); err == nil {
		t.Fatalf("Marshal(string) succeeded")
	}
	var s string
	if err := (frameCodec{}).Unmarshal([]byte("x"), &s); err == nil {
		t.Fatalf("Unmarshal into *string succeeded")
	}
}
