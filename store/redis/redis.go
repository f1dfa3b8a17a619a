// Package redis is a Store on Redis. A namespace lives in three keys sharing
// one hash slot:
//
//	<prefix>:{<ns>}:kv      hash   key -> value
//	<prefix>:{<ns>}:param   hash   name -> int
//	<prefix>:{<ns>}:deltas  stream field "record" = encoded cdc.Record
//
// Units run under WATCH on the kv and param hashes and commit with
// MULTI/EXEC, so data, parameters and change records land together.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/store"
)

const (
	defaultMaxRetries = 16

	// StreamField is the stream entry field holding the encoded record.
	StreamField = "record"
)

var (
	ErrNilClient = errors.New("redis store: nil client")
	ErrConflict  = errors.New("redis store: too many concurrent modifications")
)

type Config struct {
	Client       goredis.UniversalClient
	Prefix       string // 0 => "rpccache"
	StreamMaxLen int64  // approximate stream trim; 0 disables trimming
	MaxRetries   int    // optimistic retries per unit; 0 => 16
	CloseClient  bool   // set true only if this store exclusively owns the client
}

type Store struct {
	rdb         goredis.UniversalClient
	prefix      string
	maxLen      int64
	maxRetries  int
	closeClient bool
}

var _ store.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{
		rdb:         cfg.Client,
		prefix:      util.Coalesce(cfg.Prefix, util.DefaultPrefix),
		maxLen:      cfg.StreamMaxLen,
		maxRetries:  util.Coalesce(cfg.MaxRetries, defaultMaxRetries),
		closeClient: cfg.CloseClient,
	}, nil
}

// StreamKey is the change stream of ns; pass it to cdc/redis.
func (s *Store) StreamKey(ns string) string { return util.RedisKey(s.prefix, ns, "deltas") }

func (s *Store) Update(ctx context.Context, ns string, fn func(store.Tx) error) error {
	if ns == "" {
		return store.ErrNamespace
	}
	kvKey := util.RedisKey(s.prefix, ns, "kv")
	paramKey := util.RedisKey(s.prefix, ns, "param")
	streamKey := s.StreamKey(ns)

	for i := 0; i < s.maxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			ov := store.NewOverlay(ns, reader{tx: tx, kvKey: kvKey, paramKey: paramKey})
			if err := fn(ov); err != nil {
				return err
			}
			b := ov.Batch()
			if b.Empty() {
				return nil
			}
			payloads, err := b.EncodeEvents()
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				if len(b.Puts) > 0 {
					p.HSet(ctx, kvKey, pairs(b.Puts)...)
				}
				if len(b.Deletes) > 0 {
					p.HDel(ctx, kvKey, b.Deletes...)
				}
				if len(b.Params) > 0 {
					p.HSet(ctx, paramKey, pairs(b.Params)...)
				}
				for _, pl := range payloads {
					p.XAdd(ctx, &goredis.XAddArgs{
						Stream: streamKey,
						MaxLen: s.maxLen,
						Approx: s.maxLen > 0,
						Values: []any{StreamField, pl},
					})
				}
				return nil
			})
			return err
		}, kvKey, paramKey)
		if errors.Is(err, goredis.TxFailedErr) {
			continue // a watched key changed; rerun the unit
		}
		return err
	}
	return fmt.Errorf("%w: namespace %q", ErrConflict, ns)
}

// pairs flattens a map into HSET field/value arguments in key order.
func pairs[V any](m map[string]V) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, 2*len(m))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}

// Close releases the underlying redis client only when this store owns it.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type reader struct {
	tx       *goredis.Tx
	kvKey    string
	paramKey string
}

func (r reader) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.tx.HGet(ctx, r.kvKey, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (r reader) Scan(ctx context.Context) ([]store.KV, error) {
	m, err := r.tx.HGetAll(ctx, r.kvKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]store.KV, 0, len(m))
	for k, v := range m {
		out = append(out, store.KV{Key: k, Value: []byte(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r reader) Param(ctx context.Context, name string) (int64, bool, error) {
	v, err := r.tx.HGet(ctx, r.paramKey, name).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
