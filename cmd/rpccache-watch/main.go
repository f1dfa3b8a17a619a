// Command rpccache-watch follows the change records of one or more
// namespaces and prints each as "namespace,key,value,kind" on stdout.
//
//	rpccache-watch -config engine.toml -ns users,orders
//
// The store section of the engine config selects the change log (redis
// streams or the postgres kv_deltas table).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/rpccache/cdc"
	cdcpg "github.com/unkn0wn-root/rpccache/cdc/postgres"
	cdcredis "github.com/unkn0wn-root/rpccache/cdc/redis"
	"github.com/unkn0wn-root/rpccache/internal/config"
	"github.com/unkn0wn-root/rpccache/logging"
	logruslog "github.com/unkn0wn-root/rpccache/logging/logrus"
)

var errNoChangeLog = errors.New("the memory store has no change log visible to other processes")

func main() {
	var (
		cfgPath = flag.String("config", "", "TOML config file (optional)")
		envFile = flag.String("env", ".env", "dotenv file (optional)")
		nsList  = flag.String("ns", "", "comma-separated namespaces to follow (required)")
		prefix  = flag.String("prefix", "", "only print keys with this prefix")
		jsonLog = flag.Bool("json", false, "log as JSON")
	)
	flag.Parse()

	lg := logrus.New()
	lg.SetOutput(os.Stderr)
	if *jsonLog {
		lg.SetFormatter(&logrus.JSONFormatter{})
	}

	namespaces := splitNamespaces(*nsList)
	if len(namespaces) == 0 {
		lg.Fatal("-ns is required")
	}
	cfg, err := config.Load(*cfgPath, *envFile)
	if err != nil {
		lg.WithError(err).Fatal("load config")
	}
	if lvl, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		lg.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logs, closeLogs, err := openLogs(ctx, cfg.Store, namespaces)
	if err != nil {
		lg.WithError(err).Fatal("open change log")
	}
	defer closeLogs()

	w := &watcher{out: os.Stdout, log: logruslog.New(lg)}
	if *prefix != "" {
		w.filter = cdc.PrefixFilter(*prefix)
	}
	consumers, err := w.start(ctx, logs)
	if err != nil {
		lg.WithError(err).Fatal("start watchers")
	}
	lg.WithField("namespaces", namespaces).Info("watching")
	<-ctx.Done()
	for _, c := range consumers {
		c.Stop()
	}
}

func splitNamespaces(s string) []string {
	var out []string
	for _, ns := range strings.Split(s, ",") {
		if ns = strings.TrimSpace(ns); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}

// openLogs returns one change log per namespace.
func openLogs(ctx context.Context, c config.Store, namespaces []string) (map[string]cdc.Log, func(), error) {
	logs := make(map[string]cdc.Log, len(namespaces))
	switch c.Kind {
	case config.StoreRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    c.Redis.Addrs,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		for _, ns := range namespaces {
			logs[ns] = cdcredis.New(client, c.Redis.Prefix, ns)
		}
		return logs, func() { _ = client.Close() }, nil
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, c.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		// kv_deltas holds every namespace; each consumer filters its own.
		for _, ns := range namespaces {
			logs[ns] = cdcpg.New(pool, c.Postgres.PollInterval.Duration)
		}
		return logs, pool.Close, nil
	default:
		return nil, nil, errNoChangeLog
	}
}

type watcher struct {
	out    io.Writer
	log    logging.Logger
	filter cdc.Filter

	mu sync.Mutex
}

func (w *watcher) start(ctx context.Context, logs map[string]cdc.Log) ([]*cdc.Consumer, error) {
	var started []*cdc.Consumer
	stopAll := func() {
		for _, c := range started {
			c.Stop()
		}
	}
	emit := w.print
	for ns, l := range logs {
		c, err := cdc.NewConsumer(cdc.ConsumerOptions{
			Log:       l,
			Namespace: ns,
			Filter:    w.filter,
			Handlers:  cdc.Handlers{OnCreated: emit, OnUpdated: emit, OnRemoved: emit, OnExpired: emit},
			Logger:    w.log,
		})
		if err != nil {
			stopAll()
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			stopAll()
			return nil, fmt.Errorf("%s: %w", ns, err)
		}
		started = append(started, c)
	}
	return started, nil
}

func (w *watcher) print(r cdc.Record) {
	line, err := cdc.EncodeRecord(r)
	if err != nil {
		w.log.Warn("record not printable", logging.Fields{"ns": r.Namespace, "err": err})
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintf(w.out, "%s\n", line)
}
