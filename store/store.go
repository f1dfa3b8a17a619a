// Package store is the engine's storage contract. A Store runs a function
// against one namespace as a single atomic unit: reads observe the unit's
// own writes, and writes, parameter changes and CDC records become visible
// together or not at all.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/unkn0wn-root/rpccache/cdc"
)

var ErrNamespace = errors.New("store: namespace is required")

// KV is one entry returned by Scan.
type KV struct {
	Key   string
	Value []byte
}

// Tx is the view of one namespace inside an atomic unit.
type Tx interface {
	Namespace() string
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Scan returns every entry in key order.
	Scan(ctx context.Context) ([]KV, error)
	Param(ctx context.Context, name string) (int64, bool, error)
	SetParam(ctx context.Context, name string, v int64) error
	// Emit queues a change record for the log; it is appended on commit.
	Emit(rec cdc.Record)
}

type Store interface {
	// Update runs fn atomically. If fn returns an error nothing is applied
	// and the error is returned unchanged. fn may be invoked more than once
	// when the backend retries a conflicting unit, so it must not leak
	// state between invocations.
	Update(ctx context.Context, ns string, fn func(Tx) error) error
	Close(ctx context.Context) error
}

// Reader exposes committed state to an Overlay.
type Reader interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Scan(ctx context.Context) ([]KV, error)
	Param(ctx context.Context, name string) (int64, bool, error)
}

// Batch is everything an Overlay buffered, ready to apply.
type Batch struct {
	Puts    map[string][]byte
	Deletes []string
	Params  map[string]int64
	Events  []cdc.Record
}

func (b Batch) Empty() bool {
	return len(b.Puts) == 0 && len(b.Deletes) == 0 && len(b.Params) == 0 && len(b.Events) == 0
}

// Overlay is a Tx that buffers writes over a Reader. Backends build one per
// unit, hand it to fn, then apply Batch() atomically.
type Overlay struct {
	ns     string
	r      Reader
	puts   map[string][]byte
	dels   map[string]struct{}
	params map[string]int64
	events []cdc.Record
}

var _ Tx = (*Overlay)(nil)

func NewOverlay(ns string, r Reader) *Overlay {
	return &Overlay{
		ns:     ns,
		r:      r,
		puts:   make(map[string][]byte),
		dels:   make(map[string]struct{}),
		params: make(map[string]int64),
	}
}

func (o *Overlay) Namespace() string { return o.ns }

func (o *Overlay) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok := o.puts[key]; ok {
		return v, true, nil
	}
	if _, ok := o.dels[key]; ok {
		return nil, false, nil
	}
	return o.r.Get(ctx, key)
}

func (o *Overlay) Put(_ context.Context, key string, value []byte) error {
	delete(o.dels, key)
	o.puts[key] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Delete(_ context.Context, key string) error {
	delete(o.puts, key)
	o.dels[key] = struct{}{}
	return nil
}

func (o *Overlay) Scan(ctx context.Context) ([]KV, error) {
	base, err := o.r.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KV, 0, len(base)+len(o.puts))
	for _, kv := range base {
		if _, gone := o.dels[kv.Key]; gone {
			continue
		}
		if _, shadowed := o.puts[kv.Key]; shadowed {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range o.puts {
		out = append(out, KV{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (o *Overlay) Param(ctx context.Context, name string) (int64, bool, error) {
	if v, ok := o.params[name]; ok {
		return v, true, nil
	}
	return o.r.Param(ctx, name)
}

func (o *Overlay) SetParam(_ context.Context, name string, v int64) error {
	o.params[name] = v
	return nil
}

func (o *Overlay) Emit(rec cdc.Record) { o.events = append(o.events, rec) }

func (o *Overlay) Batch() Batch {
	dels := make([]string, 0, len(o.dels))
	for k := range o.dels {
		dels = append(dels, k)
	}
	sort.Strings(dels)
	return Batch{Puts: o.puts, Deletes: dels, Params: o.params, Events: o.events}
}

// EncodeEvents renders the batch's records in order.
func (b Batch) EncodeEvents() ([][]byte, error) {
	out := make([][]byte, 0, len(b.Events))
	for _, r := range b.Events {
		p, err := cdc.EncodeRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
