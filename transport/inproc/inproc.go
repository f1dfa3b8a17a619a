// Package inproc connects a gateway to an engine in the same process. Every
// call still goes through the binary frame codec in both directions, so the
// connection behaves like a remote one apart from latency.
package inproc

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/wire"
)

type Options struct {
	// MaxResponseBytes rejects encoded responses above it with
	// gateway.ErrResponseTooLarge. 0 => unlimited.
	MaxResponseBytes int
}

type Conn struct {
	h      wire.Handler
	max    int
	closed atomic.Bool
}

func New(h wire.Handler, opts Options) *Conn {
	return &Conn{h: h, max: opts.MaxResponseBytes}
}

func (c *Conn) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("%w: connection closed", gateway.ErrTransport)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrTransport, err)
	}

	b, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	in, err := wire.DecodeRequest(b)
	if err != nil {
		return nil, err
	}

	out := c.h.Handle(ctx, in)
	if b, err = wire.EncodeResponse(out); err != nil {
		return nil, err
	}
	if c.max > 0 && len(b) > c.max {
		return nil, fmt.Errorf("%w: %d bytes > %d", gateway.ErrResponseTooLarge, len(b), c.max)
	}
	return wire.DecodeResponse(b)
}

func (c *Conn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}
