package rpccache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	c "github.com/unkn0wn-root/rpccache/codec"
	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/logging"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

// Answer table offsets counted from the last result table.
const (
	answerLast   = 1
	answerSecond = 2
)

type cache[V any] struct {
	ns    string
	gw    *gateway.Gateway
	codec c.Codec[V]
	log   Logger
	hooks Hooks
	opts  Options[V]

	events atomic.Bool // last known ENABLE_EVENTS value

	lmu      sync.Mutex
	listener *listenerReg
}

func newCache[V any](ctx context.Context, opts Options[V]) (*cache[V], error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("rpccache: conn is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("rpccache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("rpccache: namespace is required")
	}
	if strings.ContainsRune(opts.Namespace, ',') {
		return nil, fmt.Errorf("rpccache: namespace %q must not contain a comma", opts.Namespace)
	}

	cc := &cache[V]{
		ns:    opts.Namespace,
		codec: opts.Codec,
		log:   logging.OrNop(opts.Logger),
		hooks: util.Coalesce[Hooks](opts.Hooks, NopHooks{}),
		opts:  opts,
	}
	gw, err := gateway.New(opts.Conn, gateway.Options{
		RetryAttempts:   opts.RetryAttempts,
		Backoff:         opts.Backoff,
		BulkConcurrency: opts.BulkConcurrency,
		Logger:          cc.log,
		Hooks:           cc.hooks,
	})
	if err != nil {
		return nil, err
	}
	cc.gw = gw

	// Single attempt; a down engine must not stall construction for the
	// whole retry schedule.
	resp, err := opts.Conn.Call(ctx, cc.req(wire.OpGetParam, table.Text(cc.ns), table.Text(wire.ParamEnableEvents)))
	switch {
	case err != nil:
		cc.log.Warn("events flag read failed", Fields{"ns": cc.ns, "err": err})
	case resp.Status != wire.StatusSuccess:
		cc.log.Warn("events flag read rejected", Fields{"ns": cc.ns, "status": resp.Status.String(), "msg": resp.StatusString})
	default:
		v, _ := resp.Result(answerLast).Scalar()
		n, _ := v.AsInt()
		cc.events.Store(n == 1)
	}
	return cc, nil
}

func (cc *cache[V]) req(op string, params ...table.Value) *wire.Request {
	return &wire.Request{Op: op, Params: params}
}

// keyReq builds a (key, namespace, extra...) request.
func (cc *cache[V]) keyReq(op, key string, extra ...table.Value) *wire.Request {
	params := make([]table.Value, 0, 2+len(extra))
	params = append(params, table.Text(key), table.Text(cc.ns))
	return &wire.Request{Op: op, Params: append(params, extra...)}
}

// ready fails locally when the cache is closed or key is empty.
func (cc *cache[V]) ready(key string) error {
	if cc.gw.Closed() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}

func (cc *cache[V]) encode(v V) (table.Value, error) {
	b, err := cc.codec.Encode(v)
	if err != nil {
		return table.Value{}, err
	}
	if b == nil {
		return table.Value{}, ErrNilValue
	}
	return table.Bytes(b), nil
}

// decodeScalar decodes the bytes in column 0 of row 0, if any.
func (cc *cache[V]) decodeScalar(t *table.Table) (V, bool, error) {
	var zero V
	v, ok := t.Scalar()
	if !ok || v.IsNull() {
		return zero, false, nil
	}
	b, ok := v.AsBytes()
	if !ok {
		return zero, false, fmt.Errorf("rpccache: expected bytes, engine returned %s", v.Kind())
	}
	out, err := cc.codec.Decode(b)
	if err != nil {
		return zero, false, err
	}
	return out, true, nil
}

func modifiedOne(r gateway.Result) bool {
	v, _ := r.Scalar()
	n, _ := v.AsInt()
	return n > 0
}

func (cc *cache[V]) Name() string   { return cc.ns }
func (cc *cache[V]) IsClosed() bool { return cc.gw.Closed() }

// Close stops the listener, drains in-flight calls and closes the
// connection. The events flag is left as is.
func (cc *cache[V]) Close(ctx context.Context) error {
	cc.lmu.Lock()
	reg := cc.listener
	cc.listener = nil
	cc.lmu.Unlock()
	if reg != nil {
		reg.consumer.Stop()
	}
	return cc.gw.Close(ctx)
}

// ==============================
// Single-entry operations
// ==============================

func (cc *cache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if err := cc.ready(key); err != nil {
		return zero, false, err
	}
	r, err := cc.gw.Call(ctx, cc.keyReq(wire.OpGet, key), answerLast)
	if err != nil {
		return zero, false, err
	}
	return cc.decodeScalar(r.Table)
}

func (cc *cache[V]) ContainsKey(ctx context.Context, key string) (bool, error) {
	if err := cc.ready(key); err != nil {
		return false, err
	}
	r, err := cc.gw.Call(ctx, cc.keyReq(wire.OpContainsKey, key), answerLast)
	if err != nil {
		return false, err
	}
	_, ok := r.Scalar()
	return ok, nil
}

func (cc *cache[V]) Put(ctx context.Context, key string, value V) error {
	_, err := cc.write(ctx, wire.OpPut, key, value)
	return err
}

func (cc *cache[V]) PutIfAbsent(ctx context.Context, key string, value V) (bool, error) {
	r, err := cc.write(ctx, wire.OpPutIfAbsent, key, value)
	return err == nil && modifiedOne(r), err
}

func (cc *cache[V]) Replace(ctx context.Context, key string, value V) (bool, error) {
	r, err := cc.write(ctx, wire.OpReplace, key, value)
	return err == nil && modifiedOne(r), err
}

func (cc *cache[V]) CompareAndReplace(ctx context.Context, key string, expected, value V) (bool, error) {
	if err := cc.ready(key); err != nil {
		return false, err
	}
	old, err := cc.encode(expected)
	if err != nil {
		return false, err
	}
	nv, err := cc.encode(value)
	if err != nil {
		return false, err
	}
	r, err := cc.gw.Call(ctx, cc.keyReq(wire.OpReplaceKeyValuePair, key, old, nv), answerLast)
	if err != nil {
		return false, err
	}
	return modifiedOne(r), nil
}

func (cc *cache[V]) Remove(ctx context.Context, key string) (bool, error) {
	if err := cc.ready(key); err != nil {
		return false, err
	}
	r, err := cc.gw.Call(ctx, cc.keyReq(wire.OpRemove, key), answerLast)
	if err != nil {
		return false, err
	}
	return modifiedOne(r), nil
}

func (cc *cache[V]) RemoveIfEquals(ctx context.Context, key string, expected V) (bool, error) {
	r, err := cc.write(ctx, wire.OpRemoveKeyValuePair, key, expected)
	return err == nil && modifiedOne(r), err
}

func (cc *cache[V]) GetAndPut(ctx context.Context, key string, value V) (V, bool, error) {
	return cc.swap(ctx, wire.OpGetAndPut, key, &value)
}

func (cc *cache[V]) GetAndReplace(ctx context.Context, key string, value V) (V, bool, error) {
	return cc.swap(ctx, wire.OpGetAndReplace, key, &value)
}

func (cc *cache[V]) GetAndRemove(ctx context.Context, key string) (V, bool, error) {
	return cc.swap(ctx, wire.OpGetAndRemove, key, nil)
}

// write sends (key, ns, encoded value) and returns the modified-count answer.
func (cc *cache[V]) write(ctx context.Context, op, key string, value V) (gateway.Result, error) {
	if err := cc.ready(key); err != nil {
		return gateway.Result{}, err
	}
	v, err := cc.encode(value)
	if err != nil {
		return gateway.Result{}, err
	}
	return cc.gw.Call(ctx, cc.keyReq(op, key, v), answerLast)
}

// swap runs a GetAnd* operation; the previous value is the second-to-last table.
func (cc *cache[V]) swap(ctx context.Context, op, key string, value *V) (V, bool, error) {
	var zero V
	if err := cc.ready(key); err != nil {
		return zero, false, err
	}
	var extra []table.Value
	if value != nil {
		v, err := cc.encode(*value)
		if err != nil {
			return zero, false, err
		}
		extra = append(extra, v)
	}
	r, err := cc.gw.Call(ctx, cc.keyReq(op, key, extra...), answerSecond)
	if err != nil {
		return zero, false, err
	}
	return cc.decodeScalar(r.Table)
}

// ==============================
// Bulk operations
// ==============================

func (cc *cache[V]) readyKeys(keys []string) error {
	if cc.gw.Closed() {
		return ErrClosed
	}
	for _, k := range keys {
		if k == "" {
			return ErrEmptyKey
		}
	}
	return nil
}

// GetAll returns the keys that exist. On a member failure the keys that
// were read are returned with the error.
func (cc *cache[V]) GetAll(ctx context.Context, keys []string) (map[string]V, error) {
	if err := cc.readyKeys(keys); err != nil {
		return nil, err
	}
	res, berr := cc.gw.Bulk(ctx, keys, func(k string) *wire.Request {
		return cc.keyReq(wire.OpGetKV, k)
	}, answerLast)
	if res == nil {
		return nil, berr
	}
	out := make(map[string]V, len(res))
	for k, r := range res {
		if r.Table == nil || r.Table.Len() == 0 {
			continue
		}
		b, ok := r.Table.Rows[0][1].AsBytes()
		if !ok {
			return nil, fmt.Errorf("rpccache: GetKV %q: expected bytes, got %s", k, r.Table.Rows[0][1].Kind())
		}
		v, err := cc.codec.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("rpccache: decode %q: %w", k, err)
		}
		out[k] = v
	}
	return out, berr
}

// PutAll encodes every value before sending anything, so a bad value
// fails the whole call locally.
func (cc *cache[V]) PutAll(ctx context.Context, items map[string]V) error {
	if cc.gw.Closed() {
		return ErrClosed
	}
	keys := make([]string, 0, len(items))
	enc := make(map[string]table.Value, len(items))
	for k, v := range items {
		if k == "" {
			return ErrEmptyKey
		}
		b, err := cc.encode(v)
		if err != nil {
			return fmt.Errorf("rpccache: encode %q: %w", k, err)
		}
		keys = append(keys, k)
		enc[k] = b
	}
	_, err := cc.gw.Bulk(ctx, keys, func(k string) *wire.Request {
		return cc.keyReq(wire.OpPut, k, enc[k])
	}, answerLast)
	return err
}

func (cc *cache[V]) RemoveKeys(ctx context.Context, keys []string) error {
	if err := cc.readyKeys(keys); err != nil {
		return err
	}
	_, err := cc.gw.Bulk(ctx, keys, func(k string) *wire.Request {
		return cc.keyReq(wire.OpRemove, k)
	}, answerLast)
	return err
}

// ==============================
// Namespace-wide operations
// ==============================

// RemoveAll deletes every entry, emitting a REMOVED change per key.
func (cc *cache[V]) RemoveAll(ctx context.Context) (int64, error) {
	if cc.gw.Closed() {
		return 0, ErrClosed
	}
	r, err := cc.gw.Call(ctx, cc.req(wire.OpRemoveAll, table.Text(cc.ns)), answerLast)
	if err != nil {
		return 0, err
	}
	v, _ := r.Scalar()
	n, _ := v.AsInt()
	return n, nil
}

// Clear deletes every entry without change records.
func (cc *cache[V]) Clear(ctx context.Context) error {
	if cc.gw.Closed() {
		return ErrClosed
	}
	_, err := cc.gw.Call(ctx, cc.req(wire.OpClear, table.Text(cc.ns)), answerLast)
	return err
}

// Iterator returns the whole namespace in key order. A namespace too large
// for one response fails with ErrTooMuchData.
func (cc *cache[V]) Iterator(ctx context.Context) ([]Entry[V], error) {
	if cc.gw.Closed() {
		return nil, ErrClosed
	}
	r, err := cc.gw.Call(ctx, cc.req(wire.OpIterator, table.Text(cc.ns)), answerLast)
	if err != nil {
		return nil, err
	}
	if r.Table == nil {
		return nil, nil
	}
	out := make([]Entry[V], 0, r.Table.Len())
	for _, row := range r.Table.Rows {
		k, _ := row[0].AsText()
		b, _ := row[1].AsBytes()
		v, err := cc.codec.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("rpccache: decode %q: %w", k, err)
		}
		out = append(out, Entry[V]{Key: k, Value: v})
	}
	return out, nil
}

// ==============================
// Events flag
// ==============================

// EventsEnabled is the flag as last read or written by this cache. Other
// clients may have changed it since; concurrent toggles are last write wins.
func (cc *cache[V]) EventsEnabled() bool { return cc.events.Load() }

func (cc *cache[V]) SetEventsEnabled(ctx context.Context, enabled bool) error {
	if cc.gw.Closed() {
		return ErrClosed
	}
	var v int64
	if enabled {
		v = 1
	}
	req := cc.req(wire.OpSetParam, table.Text(cc.ns), table.Text(wire.ParamEnableEvents), table.Int(v))
	if _, err := cc.gw.Call(ctx, req, answerLast); err != nil {
		return err
	}
	cc.events.Store(enabled)
	cc.log.Info("events flag set", Fields{"ns": cc.ns, "enabled": enabled})
	return nil
}
