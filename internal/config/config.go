// Package config loads the settings of the rpccache binaries: a TOML file,
// optionally preceded by .env files, then RPCCACHE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	Listen Listen `toml:"listen"`
	Engine Engine `toml:"engine"`
	Store  Store  `toml:"store"`
	Log    Log    `toml:"log"`
}

type Listen struct {
	GRPC            string   `toml:"grpc"`
	HTTP            string   `toml:"http"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

type Engine struct {
	MaxResponseBytes int `toml:"max_response_bytes"`
	// MaxRecvBytes bounds incoming gRPC frames.
	MaxRecvBytes int `toml:"max_recv_bytes"`
}

type Store struct {
	Kind     string   `toml:"kind"`
	Redis    Redis    `toml:"redis"`
	Postgres Postgres `toml:"postgres"`
}

type Redis struct {
	Addrs        []string `toml:"addrs"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	Prefix       string   `toml:"prefix"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

type Postgres struct {
	DSN          string   `toml:"dsn"`
	PollInterval Duration `toml:"poll_interval"`
}

type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Duration accepts "1.5s" style strings in TOML.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func Default() Config {
	return Config{
		Listen: Listen{
			GRPC:            ":7400",
			HTTP:            ":7401",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Engine: Engine{
			MaxResponseBytes: 50 << 20,
			MaxRecvBytes:     64 << 20,
		},
		Store: Store{Kind: StoreMemory},
		Log:   Log{Level: "info"},
	}
}

// Load returns Default overlaid by path (skipped when empty) and the
// environment. envFiles are loaded into the process environment first;
// missing ones are ignored and variables already set win.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return cfg, fmt.Errorf("config: unknown key %q in %s", undec[0].String(), path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	str("RPCCACHE_GRPC_ADDR", &c.Listen.GRPC)
	str("RPCCACHE_HTTP_ADDR", &c.Listen.HTTP)
	str("RPCCACHE_STORE", &c.Store.Kind)
	str("RPCCACHE_REDIS_PASSWORD", &c.Store.Redis.Password)
	str("RPCCACHE_REDIS_PREFIX", &c.Store.Redis.Prefix)
	str("RPCCACHE_POSTGRES_DSN", &c.Store.Postgres.DSN)
	str("RPCCACHE_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("RPCCACHE_REDIS_ADDRS"); ok {
		c.Store.Redis.Addrs = splitList(v)
	}
	if v, ok := lookup("RPCCACHE_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RPCCACHE_REDIS_DB: %w", err)
		}
		c.Store.Redis.DB = n
	}
	if v, ok := lookup("RPCCACHE_MAX_RESPONSE_BYTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: RPCCACHE_MAX_RESPONSE_BYTES: %w", err)
		}
		c.Engine.MaxResponseBytes = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	if c.Listen.GRPC == "" && c.Listen.HTTP == "" {
		errs = append(errs, errors.New("listen: at least one of grpc, http is required"))
	}
	if c.Engine.MaxResponseBytes <= 0 {
		errs = append(errs, errors.New("engine: max_response_bytes must be positive"))
	}
	if c.Engine.MaxRecvBytes < 0 {
		errs = append(errs, errors.New("engine: max_recv_bytes must not be negative"))
	}
	switch c.Store.Kind {
	case StoreMemory:
	case StoreRedis:
		if len(c.Store.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("store.redis: addrs is required"))
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres: dsn is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown kind %q", c.Store.Kind))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log: unknown level %q", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
