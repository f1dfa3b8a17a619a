package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/unkn0wn-root/rpccache/cdc"
	"github.com/unkn0wn-root/rpccache/store"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

// oversizedMessage is the status string of a response over the ceiling.
const oversizedMessage = "overflowed output/network buffer"

// ==============================
// Argument and result helpers
// ==============================

func textArg(req *wire.Request, i int, name string) (string, error) {
	if i >= len(req.Params) {
		return "", fmt.Errorf("%s: missing %s", req.Op, name)
	}
	s, ok := req.Params[i].AsText()
	if !ok || s == "" {
		return "", fmt.Errorf("%s: %s must be non-empty text", req.Op, name)
	}
	return s, nil
}

func bytesArg(req *wire.Request, i int, name string) ([]byte, error) {
	if i >= len(req.Params) {
		return nil, fmt.Errorf("%s: missing %s", req.Op, name)
	}
	b, ok := req.Params[i].AsBytes()
	if !ok || b == nil {
		return nil, fmt.Errorf("%s: %s must be bytes", req.Op, name)
	}
	return b, nil
}

func intArg(req *wire.Request, i int, name string) (int64, error) {
	if i >= len(req.Params) {
		return 0, fmt.Errorf("%s: missing %s", req.Op, name)
	}
	v, ok := req.Params[i].AsInt()
	if !ok {
		return 0, fmt.Errorf("%s: %s must be int", req.Op, name)
	}
	return v, nil
}

// keyNS reads the (key, namespace) prefix shared by single-entry operations.
func keyNS(req *wire.Request) (string, string, error) {
	k, err := textArg(req, 0, "key")
	if err != nil {
		return "", "", err
	}
	ns, err := textArg(req, 1, "namespace")
	return k, ns, err
}

func success(tables ...*table.Table) *wire.Response {
	r := &wire.Response{Status: wire.StatusSuccess, Tables: make([]table.Table, len(tables))}
	for i, t := range tables {
		r.Tables[i] = *t
	}
	return r
}

func modified(n int64) *table.Table { return table.Of(wire.ColModified, table.Int(n)) }

func valueTable(v []byte, exists bool) *table.Table {
	t := table.New(table.Column{Name: wire.ColValue, Kind: table.KindBytes})
	if exists {
		t.Append(table.Bytes(v))
	}
	return t
}

func keyTable(k string, exists bool) *table.Table {
	t := table.New(table.Column{Name: wire.ColKey, Kind: table.KindText})
	if exists {
		t.Append(table.Text(k))
	}
	return t
}

func kvTable() *table.Table {
	return table.New(
		table.Column{Name: wire.ColKey, Kind: table.KindText},
		table.Column{Name: wire.ColValue, Kind: table.KindBytes},
	)
}

// ==============================
// Events
// ==============================

// eventsOn reads the namespace's events flag inside the unit.
func eventsOn(ctx context.Context, tx store.Tx) (bool, error) {
	v, _, err := tx.Param(ctx, wire.ParamEnableEvents)
	return v == 1, err
}

func emit(ctx context.Context, tx store.Tx, key string, v []byte, kind cdc.Kind) error {
	on, err := eventsOn(ctx, tx)
	if err != nil || !on {
		return err
	}
	if kind == cdc.Removed {
		v = nil
	}
	tx.Emit(cdc.Record{Namespace: tx.Namespace(), Key: key, Value: v, Kind: kind})
	return nil
}

// upsert writes v and emits CREATED or UPDATED depending on prior existence.
func upsert(ctx context.Context, tx store.Tx, key string, v []byte, existed bool) error {
	if err := tx.Put(ctx, key, v); err != nil {
		return err
	}
	kind := cdc.Created
	if existed {
		kind = cdc.Updated
	}
	return emit(ctx, tx, key, v, kind)
}

func del(ctx context.Context, tx store.Tx, key string) error {
	if err := tx.Delete(ctx, key); err != nil {
		return err
	}
	return emit(ctx, tx, key, nil, cdc.Removed)
}

// ==============================
// Reads
// ==============================

func (e *Engine) read(ctx context.Context, req *wire.Request, build func(k string, v []byte, ok bool) *wire.Response) (*wire.Response, error) {
	k, ns, err := keyNS(req)
	if err != nil {
		return nil, err
	}
	var resp *wire.Response
	err = e.st.Update(ctx, ns, func(tx store.Tx) error {
		v, found, err := tx.Get(ctx, k)
		if err != nil {
			return err
		}
		resp = build(k, v, found)
		return nil
	})
	return resp, err
}

func (e *Engine) get(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return e.read(ctx, req, func(_ string, v []byte, found bool) *wire.Response {
		return success(valueTable(v, found))
	})
}

func (e *Engine) getKV(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return e.read(ctx, req, func(k string, v []byte, found bool) *wire.Response {
		t := kvTable()
		if found {
			t.Append(table.Text(k), table.Bytes(v))
		}
		return success(t)
	})
}

func (e *Engine) containsKey(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return e.read(ctx, req, func(k string, _ []byte, found bool) *wire.Response {
		return success(keyTable(k, found))
	})
}

// ==============================
// Single-entry writes
// ==============================

// write runs fn over the current value of the request's key.
func (e *Engine) write(ctx context.Context, req *wire.Request, fn func(tx store.Tx, k string, cur []byte, found bool) (*wire.Response, error)) (*wire.Response, error) {
	k, ns, err := keyNS(req)
	if err != nil {
		return nil, err
	}
	var resp *wire.Response
	err = e.st.Update(ctx, ns, func(tx store.Tx) error {
		cur, found, err := tx.Get(ctx, k)
		if err != nil {
			return err
		}
		resp, err = fn(tx, k, cur, found)
		return err
	})
	return resp, err
}

func (e *Engine) put(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	v, err := bytesArg(req, 2, "value")
	if err != nil {
		return nil, err
	}
	return e.write(ctx, req, func(tx store.Tx, k string, _ []byte, found bool) (*wire.Response, error) {
		if err := upsert(ctx, tx, k, v, found); err != nil {
			return nil, err
		}
		return success(modified(1)), nil
	})
}

func (e *Engine) putIfAbsent(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	v, err := bytesArg(req, 2, "value")
	if err != nil {
		return nil, err
	}
	return e.write(ctx, req, func(tx store.Tx, k string, _ []byte, found bool) (*wire.Response, error) {
		if found {
			return success(keyTable(k, true), modified(0)), nil
		}
		if err := upsert(ctx, tx, k, v, false); err != nil {
			return nil, err
		}
		return success(keyTable(k, false), modified(1)), nil
	})
}

func (e *Engine) replace(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	v, err := bytesArg(req, 2, "value")
	if err != nil {
		return nil, err
	}
	return e.write(ctx, req, func(tx store.Tx, k string, _ []byte, found bool) (*wire.Response, error) {
		if !found {
			return success(modified(0)), nil
		}
		if err := upsert(ctx, tx, k, v, true); err != nil {
			return nil, err
		}
		return success(modified(1)), nil
	})
}

// replaceKeyValuePair swaps the value only if it currently equals old.
func (e *Engine) replaceKeyValuePair(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	old, err := bytesArg(req, 2, "old value")
	if err != nil {
		return nil, err
	}
	v, err := bytesArg(req, 3, "new value")
	if err != nil {
		return nil, err
	}
	return e.write(ctx, req, func(tx store.Tx, k string, cur []byte, found bool) (*wire.Response, error) {
		if !found || !bytes.Equal(cur, old) {
			return success(modified(0)), nil
		}
		if err := upsert(ctx, tx, k, v, true); err != nil {
			return nil, err
		}
		return success(modified(1)), nil
	})
}

func (e *Engine) remove(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return e.write(ctx, req, func(tx store.Tx, k string, _ []byte, found bool) (*wire.Response, error) {
		if !found {
			return success(modified(0)), nil
		}
		if err := del(ctx, tx, k); err != nil {
			return nil, err
		}
		return success(modified(1)), nil
	})
}

func (e *Engine) removeKeyValuePair(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	v, err := bytesArg(req, 2, "value")
	if err != nil {
		return nil, err
	}
	return e.write(ctx, req, func(tx store.Tx, k string, cur []byte, found bool) (*wire.Response, error) {
		if !found || !bytes.Equal(cur, v) {
			return success(modified(0)), nil
		}
		if err := del(ctx, tx, k); err != nil {
			return nil, err
		}
		return success(modified(1)), nil
	})
}

func (e *Engine) getAndPut(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	v, err := bytesArg(req, 2, "value")
	if err != nil {
		return nil, err
	}
	return e.write(ctx, req, func(tx store.Tx, k string, cur []byte, found bool) (*wire.Response, error) {
		if err := upsert(ctx, tx, k, v, found); err != nil {
			return nil, err
		}
		return success(valueTable(cur, found), modified(1)), nil
	})
}

func (e *Engine) getAndRemove(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return e.write(ctx, req, func(tx store.Tx, k string, cur []byte, found bool) (*wire.Response, error) {
		if !found {
			return success(valueTable(nil, false), modified(0)), nil
		}
		if err := del(ctx, tx, k); err != nil {
			return nil, err
		}
		return success(valueTable(cur, true), modified(1)), nil
	})
}

func (e *Engine) getAndReplace(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	v, err := bytesArg(req, 2, "value")
	if err != nil {
		return nil, err
	}
	return e.write(ctx, req, func(tx store.Tx, k string, cur []byte, found bool) (*wire.Response, error) {
		if !found {
			return success(valueTable(nil, false), modified(0)), nil
		}
		if err := upsert(ctx, tx, k, v, true); err != nil {
			return nil, err
		}
		return success(valueTable(cur, true), modified(1)), nil
	})
}

// ==============================
// Namespace-wide operations
// ==============================

func (e *Engine) iterator(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	ns, err := textArg(req, 0, "namespace")
	if err != nil {
		return nil, err
	}
	var resp *wire.Response
	err = e.st.Update(ctx, ns, func(tx store.Tx) error {
		kvs, err := tx.Scan(ctx)
		if err != nil {
			return err
		}
		size := 0
		for _, kv := range kvs {
			size += len(kv.Key) + len(kv.Value) + 16
		}
		if size > e.maxResp {
			resp = &wire.Response{Status: wire.StatusOversized, StatusString: oversizedMessage}
			return nil
		}
		t := kvTable()
		t.Rows = make([][]table.Value, 0, len(kvs))
		for _, kv := range kvs {
			t.Append(table.Text(kv.Key), table.Bytes(kv.Value))
		}
		resp = success(t)
		return nil
	})
	return resp, err
}

// removeAll deletes every entry, emitting one REMOVED record per key in key order.
func (e *Engine) removeAll(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return e.wipe(ctx, req, true)
}

// clear deletes every entry without change records.
func (e *Engine) clear(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return e.wipe(ctx, req, false)
}

func (e *Engine) wipe(ctx context.Context, req *wire.Request, track bool) (*wire.Response, error) {
	ns, err := textArg(req, 0, "namespace")
	if err != nil {
		return nil, err
	}
	var n int64
	err = e.st.Update(ctx, ns, func(tx store.Tx) error {
		n = 0
		kvs, err := tx.Scan(ctx)
		if err != nil {
			return err
		}
		on := false
		if track {
			if on, err = eventsOn(ctx, tx); err != nil {
				return err
			}
		}
		for _, kv := range kvs {
			if err := tx.Delete(ctx, kv.Key); err != nil {
				return err
			}
			if on {
				tx.Emit(cdc.Record{Namespace: ns, Key: kv.Key, Kind: cdc.Removed})
			}
			n++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return success(modified(n)), nil
}

func (e *Engine) getParam(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	ns, err := textArg(req, 0, "namespace")
	if err != nil {
		return nil, err
	}
	name, err := textArg(req, 1, "parameter name")
	if err != nil {
		return nil, err
	}
	var resp *wire.Response
	err = e.st.Update(ctx, ns, func(tx store.Tx) error {
		v, found, err := tx.Param(ctx, name)
		if err != nil {
			return err
		}
		t := table.New(table.Column{Name: wire.ColParamValue, Kind: table.KindInt})
		if found {
			t.Append(table.Int(v))
		}
		resp = success(t)
		return nil
	})
	return resp, err
}

func (e *Engine) setParam(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	ns, err := textArg(req, 0, "namespace")
	if err != nil {
		return nil, err
	}
	name, err := textArg(req, 1, "parameter name")
	if err != nil {
		return nil, err
	}
	v, err := intArg(req, 2, "parameter value")
	if err != nil {
		return nil, err
	}
	err = e.st.Update(ctx, ns, func(tx store.Tx) error {
		return tx.SetParam(ctx, name, v)
	})
	if err != nil {
		return nil, err
	}
	return success(modified(1)), nil
}
