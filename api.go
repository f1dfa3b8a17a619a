package rpccache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/rpccache/cdc"
	c "github.com/unkn0wn-root/rpccache/codec"
	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/logging"
)

type (
	Logger = logging.Logger
	Fields = logging.Fields
)

// Cache is the key/value contract over one engine namespace.
// V is the caller's value type; values cross the wire as Codec[V] bytes.
// Safe for concurrent use.
type Cache[V any] interface {
	Name() string
	IsClosed() bool
	Close(context.Context) error

	// Single
	Get(ctx context.Context, key string) (v V, ok bool, err error)
	ContainsKey(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, value V) error
	PutIfAbsent(ctx context.Context, key string, value V) (stored bool, err error)
	GetAndPut(ctx context.Context, key string, value V) (prev V, existed bool, err error)
	Replace(ctx context.Context, key string, value V) (replaced bool, err error)
	// CompareAndReplace stores value iff the stored bytes equal the encoding
	// of expected at the time the engine checks. Needs a deterministic codec.
	CompareAndReplace(ctx context.Context, key string, expected, value V) (replaced bool, err error)
	GetAndReplace(ctx context.Context, key string, value V) (prev V, existed bool, err error)
	Remove(ctx context.Context, key string) (removed bool, err error)
	RemoveIfEquals(ctx context.Context, key string, expected V) (removed bool, err error)
	GetAndRemove(ctx context.Context, key string) (prev V, existed bool, err error)

	// Bulk (one request per distinct key, no retries)
	GetAll(ctx context.Context, keys []string) (map[string]V, error)
	PutAll(ctx context.Context, items map[string]V) error
	RemoveKeys(ctx context.Context, keys []string) error

	// Namespace-wide
	RemoveAll(ctx context.Context) (removed int64, err error)
	Clear(ctx context.Context) error
	Iterator(ctx context.Context) ([]Entry[V], error)

	// Server-side processors
	Invoke(ctx context.Context, key, processor string, args ...any) (*InvokeResult, error)
	InvokeAll(ctx context.Context, keys []string, processor string, args ...any) (map[string]*InvokeResult, error)

	// Change notification
	RegisterListener(ctx context.Context, l Listener[V], cfg ListenerConfig[V]) error
	DeregisterListener(ctx context.Context) error
	EventsEnabled() bool
	SetEventsEnabled(ctx context.Context, enabled bool) error
}

// Entry is one key/value pair of an Iterator scan.
type Entry[V any] struct {
	Key   string
	Value V
}

// Options configure a Cache.
// Only Namespace, Conn and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string       // engine namespace; must not contain a comma
	Conn      gateway.Conn // e.g. transport/grpc, transport/jsonrpc, transport/inproc
	Codec     c.Codec[V]

	Events          cdc.Log                         // change log for listeners; nil => RegisterListener fails
	Logger          Logger                          // if nil, logging.Nop is used
	Hooks           Hooks                           // if nil, NopHooks is used
	RetryAttempts   int                             // total attempts per single-key call; 0 => 3
	Backoff         func(attempt int) time.Duration // nil => gateway.Backoff (1s x (attempt+1)^2)
	BulkConcurrency int                             // max in-flight bulk requests; 0 => unbounded
	PollTimeout     time.Duration                   // listener poll timeout; 0 => 100ms
}

// New builds a Cache and reads the namespace's events flag once, best
// effort, bounded by ctx.
func New[V any](ctx context.Context, opts Options[V]) (Cache[V], error) {
	return newCache[V](ctx, opts)
}
