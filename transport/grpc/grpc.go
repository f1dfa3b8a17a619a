// Package grpc carries engine calls over gRPC. Requests and responses travel
// as wire frames through a registered codec, so no protobuf schema is
// involved; the service descriptor is declared by hand.
//
// Clients spread calls across every configured host with round_robin
// balancing. A message above a size ceiling surfaces as
// gateway.ErrResponseTooLarge; every other failure wraps
// gateway.ErrTransport.
package grpc

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/resolver"
	"google.golang.org/grpc/resolver/manual"
	"google.golang.org/grpc/status"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/wire"
)

const (
	CodecName   = "rpccache"
	ServiceName = "rpccache.Engine"
	FullMethod  = "/" + ServiceName + "/Call"

	// DefaultMaxResponseBytes sits above the engine's own scan ceiling so
	// that oversized scans are normally reported by the engine itself.
	DefaultMaxResponseBytes = 64 << 20

	resolverScheme = "rpccache"
	serviceConfig  = `{"loadBalancingConfig":[{"round_robin":{}}]}`
)

func init() { encoding.RegisterCodec(frameCodec{}) }

// frameCodec marshals *wire.Request and *wire.Response as wire frames.
type frameCodec struct{}

func (frameCodec) Name() string { return CodecName }

func (frameCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *wire.Request:
		return wire.EncodeRequest(m)
	case *wire.Response:
		return wire.EncodeResponse(m)
	default:
		return nil, fmt.Errorf("rpccache codec: cannot marshal %T", v)
	}
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *wire.Request:
		r, err := wire.DecodeRequest(data)
		if err != nil {
			return err
		}
		*m = *r
	case *wire.Response:
		r, err := wire.DecodeResponse(data)
		if err != nil {
			return err
		}
		*m = *r
	default:
		return fmt.Errorf("rpccache codec: cannot unmarshal into %T", v)
	}
	return nil
}

// ==============================
// Server
// ==============================

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*wire.Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpccache/engine",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	h := srv.(wire.Handler)
	if interceptor == nil {
		return h.Handle(ctx, in), nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return h.Handle(ctx, req.(*wire.Request)), nil
	})
}

// Register exposes h on s.
func Register(s grpc.ServiceRegistrar, h wire.Handler) {
	s.RegisterService(&serviceDesc, h)
}

// NewServer returns a grpc.Server serving h.
func NewServer(h wire.Handler, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	Register(s, h)
	return s
}

// ==============================
// Client
// ==============================

type Options struct {
	// Required
	Hosts []string

	MaxResponseBytes int               // 0 => DefaultMaxResponseBytes
	DialOptions      []grpc.DialOption // appended after the defaults (e.g. credentials)
}

// Conn is a gateway.Conn over a gRPC client connection.
type Conn struct {
	cc *grpc.ClientConn
}

// Dial prepares a connection to opts.Hosts. Like grpc.NewClient it does not
// block; the first call establishes the transports.
func Dial(opts Options) (*Conn, error) {
	if len(opts.Hosts) == 0 {
		return nil, fmt.Errorf("rpccache/grpc: at least one host is required")
	}
	addrs := make([]resolver.Address, 0, len(opts.Hosts))
	for _, h := range opts.Hosts {
		if h == "" {
			return nil, fmt.Errorf("rpccache/grpc: empty host")
		}
		addrs = append(addrs, resolver.Address{Addr: h})
	}
	r := manual.NewBuilderWithScheme(resolverScheme)
	r.InitialState(resolver.State{Addresses: addrs})

	dopts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithResolvers(r),
		grpc.WithDefaultServiceConfig(serviceConfig),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(util.Coalesce(opts.MaxResponseBytes, DefaultMaxResponseBytes)),
		),
	}
	cc, err := grpc.NewClient(resolverScheme+":///engine", append(dopts, opts.DialOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("rpccache/grpc: %w", err)
	}
	return &Conn{cc: cc}, nil
}

func (c *Conn) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	resp := new(wire.Response)
	if err := c.cc.Invoke(ctx, FullMethod, req, resp); err != nil {
		return nil, callError(err)
	}
	return resp, nil
}

// callError classifies an Invoke failure. Only message-size rejections
// count as too large; other ResourceExhausted codes (quota, flow control)
// stay retryable transport errors.
func callError(err error) error {
	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted &&
		strings.Contains(st.Message(), "larger than max") {
		return fmt.Errorf("%w: %w", gateway.ErrResponseTooLarge, err)
	}
	return fmt.Errorf("%w: %w", gateway.ErrTransport, err)
}

func (c *Conn) Close(context.Context) error { return c.cc.Close() }
