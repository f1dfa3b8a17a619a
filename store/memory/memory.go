// Package memory is an in-process Store backed by bigcache, with CDC records
// appended to a cdc.MemoryLog. It is the engine's default and test backend.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/rpccache/cdc"
	"github.com/unkn0wn-root/rpccache/store"
)

// entries never expire; bigcache only evicts on LifeWindow or HardMaxCacheSize.
const lifeWindow = 100 * 365 * 24 * time.Hour

type Config struct {
	Shards             int       // power of two; 0 => 64
	MaxEntriesInWindow int       // sizing hint; 0 => 4096
	MaxEntrySize       int       // sizing hint in bytes; 0 => 512
	Hasher             bc.Hasher // nil => xxhash
	Log                *cdc.MemoryLog
}

// Store keeps values in bigcache under "<ns>\x00<key>" and tracks the key
// set per namespace for ordered scans. One mutex serializes units.
//
// bigcache holds one entry per 64-bit hash and overwrites on collision.
// owner records which storage key occupies each hash; a key whose hash is
// taken by another live key is kept in spill instead.
type Store struct {
	mu     sync.Mutex
	c      *bc.BigCache
	keys   map[string]map[string]struct{}
	params map[string]map[string]int64
	log    *cdc.MemoryLog
	hasher bc.Hasher
	owner  map[uint64]string
	spill  map[string][]byte
}

type xxHasher struct{}

func (xxHasher) Sum64(s string) uint64 { return xxhash.Sum64String(s) }

var _ store.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	conf := bc.DefaultConfig(lifeWindow)
	conf.CleanWindow = 0
	conf.Shards = 64
	conf.MaxEntriesInWindow = 4096
	conf.MaxEntrySize = 512
	conf.HardMaxCacheSize = 0
	conf.Verbose = false
	conf.Hasher = xxHasher{}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.Hasher != nil {
		conf.Hasher = cfg.Hasher
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	log := cfg.Log
	if log == nil {
		log = cdc.NewMemoryLog()
	}
	return &Store{
		c:      c,
		keys:   make(map[string]map[string]struct{}),
		params: make(map[string]map[string]int64),
		log:    log,
		hasher: conf.Hasher,
		owner:  make(map[uint64]string),
		spill:  make(map[string][]byte),
	}, nil
}

// Log is the change log this store appends to.
func (s *Store) Log() *cdc.MemoryLog { return s.log }

func storageKey(ns, key string) string { return ns + "\x00" + key }

func (s *Store) Update(ctx context.Context, ns string, fn func(store.Tx) error) error {
	if ns == "" {
		return store.ErrNamespace
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ov := store.NewOverlay(ns, reader{s: s, ns: ns})
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

	keys := s.keys[ns]
	if keys == nil {
		keys = make(map[string]struct{})
		s.keys[ns] = keys
	}
	for k, v := range b.Puts {
		if err := s.set(storageKey(ns, k), v); err != nil {
			return err
		}
		keys[k] = struct{}{}
	}
	for _, k := range b.Deletes {
		if err := s.delete(storageKey(ns, k)); err != nil {
			return err
		}
		delete(keys, k)
	}
	if len(b.Params) > 0 {
		ps := s.params[ns]
		if ps == nil {
			ps = make(map[string]int64)
			s.params[ns] = ps
		}
		for n, v := range b.Params {
			ps[n] = v
		}
	}
	s.log.Append(payloads...)
	return nil
}

// set, delete and get require s.mu.
func (s *Store) set(sk string, v []byte) error {
	h := s.hasher.Sum64(sk)
	if o, ok := s.owner[h]; ok && o != sk {
		s.spill[sk] = append([]byte(nil), v...)
		return nil
	}
	if err := s.c.Set(sk, v); err != nil {
		return err
	}
	s.owner[h] = sk
	delete(s.spill, sk)
	return nil
}

func (s *Store) delete(sk string) error {
	if _, ok := s.spill[sk]; ok {
		delete(s.spill, sk)
		return nil
	}
	h := s.hasher.Sum64(sk)
	if s.owner[h] != sk {
		return nil
	}
	delete(s.owner, h)
	if err := s.c.Delete(sk); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (s *Store) get(sk string) ([]byte, bool, error) {
	if v, ok := s.spill[sk]; ok {
		return append([]byte(nil), v...), true, nil
	}
	b, err := s.c.Get(sk)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Close(context.Context) error {
	return s.c.Close()
}

// reader sees committed state; callers hold s.mu.
type reader struct {
	s  *Store
	ns string
}

func (r reader) Get(_ context.Context, key string) ([]byte, bool, error) {
	if _, ok := r.s.keys[r.ns][key]; !ok {
		return nil, false, nil
	}
	return r.s.get(storageKey(r.ns, key))
}

func (r reader) Scan(ctx context.Context) ([]store.KV, error) {
	keys := make([]string, 0, len(r.s.keys[r.ns]))
	for k := range r.s.keys[r.ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]store.KV, 0, len(keys))
	for _, k := range keys {
		v, ok, err := r.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, store.KV{Key: k, Value: v})
		}
	}
	return out, nil
}

func (r reader) Param(_ context.Context, name string) (int64, bool, error) {
	v, ok := r.s.params[r.ns][name]
	return v, ok, nil
}
