package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/unkn0wn-root/rpccache/logging"
	"github.com/unkn0wn-root/rpccache/wire"
)

type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpccache",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Engine requests by operation and status.",
		}, []string{"op", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpccache",
			Subsystem: "engine",
			Name:      "request_duration_seconds",
			Help:      "Engine request latency by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// instrument counts and times every request h serves. Unknown operation
// names share one label value.
func (m *metrics) instrument(h wire.Handler) wire.Handler {
	return wire.HandlerFunc(func(ctx context.Context, req *wire.Request) *wire.Response {
		start := time.Now()
		resp := h.Handle(ctx, req)
		op := "unknown"
		if req != nil && resp.Status != wire.StatusUnknownOp {
			op = req.Op
		}
		m.requests.WithLabelValues(op, resp.Status.String()).Inc()
		m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
		return resp
	})
}

func recoverUnary(log logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc handler panic", logging.Fields{"method": info.FullMethod, "panic": r})
				err = status.Errorf(codes.Internal, "panic: %v", r)
			}
		}()
		return handler(ctx, req)
	}
}
