// Command rpccache-engine serves a cache engine over gRPC and JSON-RPC.
//
//	rpccache-engine -config engine.toml
//
// HTTP routes: POST /rpc (JSON-RPC), GET /metrics, GET /healthz.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/unkn0wn-root/rpccache/engine"
	"github.com/unkn0wn-root/rpccache/internal/config"
	"github.com/unkn0wn-root/rpccache/logging"
	zaplog "github.com/unkn0wn-root/rpccache/logging/zap"
	"github.com/unkn0wn-root/rpccache/processor/builtin"
	"github.com/unkn0wn-root/rpccache/store"
	"github.com/unkn0wn-root/rpccache/store/memory"
	"github.com/unkn0wn-root/rpccache/store/postgres"
	"github.com/unkn0wn-root/rpccache/store/redis"
	rpcgrpc "github.com/unkn0wn-root/rpccache/transport/grpc"
	"github.com/unkn0wn-root/rpccache/transport/jsonrpc"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "TOML config file (optional)")
		envFile = flag.String("env", ".env", "dotenv file loaded before the environment is read (optional)")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	zl, err := newZap(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zaplog.New(zl)); err != nil {
		zl.Error("engine stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newZap(c config.Log) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(c.Level))
	if err != nil {
		return nil, err
	}
	zc.Level = lvl
	return zc.Build()
}

func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			log.Warn("store close failed", logging.Fields{"err": err})
		}
	}()

	reg := engine.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return err
	}
	eng, err := engine.New(engine.Options{
		Store:            st,
		Registry:         reg,
		MaxResponseBytes: cfg.Engine.MaxResponseBytes,
		Logger:           log,
	})
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := newMetrics(promReg)
	if err != nil {
		return err
	}
	h := m.instrument(eng)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Listen.GRPC != "" {
		lis, err := net.Listen("tcp", cfg.Listen.GRPC)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		opts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(recoverUnary(log))}
		if cfg.Engine.MaxRecvBytes > 0 {
			opts = append(opts, grpc.MaxRecvMsgSize(cfg.Engine.MaxRecvBytes))
		}
		srv := rpcgrpc.NewServer(h, opts...)
		g.Go(func() error {
			log.Info("grpc listening", logging.Fields{"addr": lis.Addr().String()})
			return srv.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			stopGRPC(srv, cfg.Listen.ShutdownTimeout.Duration)
			return nil
		})
	}
	if cfg.Listen.HTTP != "" {
		rpc, err := jsonrpc.NewServer(h, log)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.Listen.HTTP,
			Handler:           newRouter(rpc, promReg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("http listening", logging.Fields{"addr": srv.Addr})
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Listen.ShutdownTimeout.Duration)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	log.Info("engine started", logging.Fields{"store": cfg.Store.Kind, "processors": reg.Names()})
	err = g.Wait()
	log.Info("engine shut down", nil)
	return err
}

func newRouter(rpc http.Handler, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/rpc", rpc).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}

// stopGRPC drains in-flight calls, forcing the stop after timeout.
func stopGRPC(srv *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		srv.Stop()
	}
}

func openStore(ctx context.Context, c config.Store) (store.Store, error) {
	switch c.Kind {
	case config.StoreRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    c.Redis.Addrs,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redis.New(redis.Config{
			Client:       client,
			Prefix:       c.Redis.Prefix,
			StreamMaxLen: c.Redis.StreamMaxLen,
			CloseClient:  true,
		})
	case config.StorePostgres:
		return postgres.Open(ctx, c.Postgres.DSN)
	default:
		return memory.New(memory.Config{})
	}
}
