// Package jsonrpc carries engine calls as JSON-RPC 2.0 over HTTP using
// gorilla/rpc. The wire frame travels base64-encoded in the params and
// result objects of method "Engine.Call".
package jsonrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	gorpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/logging"
	"github.com/unkn0wn-root/rpccache/wire"
)

const (
	ServiceName = "Engine"
	Method      = ServiceName + ".Call"

	// DefaultMaxResponseBytes leaves room for base64 growth of a frame at
	// the engine's scan ceiling.
	DefaultMaxResponseBytes = 96 << 20

	defaultTimeout = 30 * time.Second
)

// Args and Reply are the JSON-RPC params and result objects.
type Args struct {
	Frame []byte `json:"frame"`
}

type Reply struct {
	Frame []byte `json:"frame"`
}

// ==============================
// Server
// ==============================

// Service is the gorilla/rpc receiver. Its exported Call method is the only
// RPC method.
type Service struct {
	h   wire.Handler
	log logging.Logger
}

func (s *Service) Call(r *http.Request, args *Args, reply *Reply) error {
	req, err := wire.DecodeRequest(args.Frame)
	if err != nil {
		s.log.Warn("jsonrpc: bad request frame", logging.Fields{"remote": r.RemoteAddr, "err": err})
		return &json2.Error{Code: json2.E_BAD_PARAMS, Message: err.Error()}
	}
	b, err := wire.EncodeResponse(s.h.Handle(r.Context(), req))
	if err != nil {
		return &json2.Error{Code: json2.E_SERVER, Message: err.Error()}
	}
	reply.Frame = b
	return nil
}

// NewServer returns an http.Handler serving h at whatever path it is
// mounted on.
func NewServer(h wire.Handler, logger logging.Logger) (*gorpc.Server, error) {
	s := gorpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	if err := s.RegisterService(&Service{h: h, log: logging.OrNop(logger)}, ServiceName); err != nil {
		return nil, err
	}
	return s, nil
}

// ==============================
// Client
// ==============================

type Options struct {
	// Required. Full endpoint URLs, e.g. http://10.0.0.1:8080/rpc.
	Hosts []string

	HTTPClient       *http.Client // nil => client with a 30s timeout
	MaxResponseBytes int64        // 0 => DefaultMaxResponseBytes
}

// Conn is a gateway.Conn that rotates calls across its hosts.
type Conn struct {
	urls []string
	hc   *http.Client
	max  int64
	next atomic.Uint64
}

func Dial(opts Options) (*Conn, error) {
	if len(opts.Hosts) == 0 {
		return nil, fmt.Errorf("rpccache/jsonrpc: at least one host is required")
	}
	for _, h := range opts.Hosts {
		if h == "" {
			return nil, fmt.Errorf("rpccache/jsonrpc: empty host")
		}
	}
	c := &Conn{
		urls: append([]string(nil), opts.Hosts...),
		hc:   opts.HTTPClient,
		max:  util.Coalesce(opts.MaxResponseBytes, DefaultMaxResponseBytes),
	}
	if c.hc == nil {
		c.hc = &http.Client{Timeout: defaultTimeout}
	}
	return c, nil
}

func (c *Conn) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	frame, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json2.EncodeClientRequest(Method, &Args{Frame: frame})
	if err != nil {
		return nil, err
	}

	url := c.urls[(c.next.Add(1)-1)%uint64(len(c.urls))]
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrTransport, err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := c.hc.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrTransport, err)
	}
	defer closeBody(hresp.Body)
	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", gateway.ErrTransport, url, hresp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(hresp.Body, c.max+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrTransport, err)
	}
	if int64(len(data)) > c.max {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", gateway.ErrResponseTooLarge, c.max)
	}

	var reply Reply
	if err := json2.DecodeClientResponse(bytes.NewReader(data), &reply); err != nil {
		return nil, fmt.Errorf("%w: %w", gateway.ErrTransport, err)
	}
	return wire.DecodeResponse(reply.Frame)
}

func (c *Conn) Close(context.Context) error {
	c.hc.CloseIdleConnections()
	return nil
}

// closeBody drains before closing so the connection can be reused.
func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
