package store

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/rpccache/cdc"
)

type mapReader struct {
	kv     map[string][]byte
	params map[string]int64
}

func (m mapReader) Get(_ context.Context, k string) ([]byte, bool, error) {
	v, ok := m.kv[k]
	return v, ok, nil
}

func (m mapReader) Scan(context.Context) ([]KV, error) {
	out := make([]KV, 0, len(m.kv))
	for k, v := range m.kv {
		out = append(out, KV{k, v})
	}
	return out, nil
}

func (m mapReader) Param(_ context.Context, n string) (int64, bool, error) {
	v, ok := m.params[n]
	return v, ok, nil
}

func TestOverlayReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	r := mapReader{
		kv:     map[string][]byte{"a": []byte("1"), "b": []byte("2"), "c": []byte("3")},
		params: map[string]int64{"P": 1},
	}
	o := NewOverlay("ns", r)

	_ = o.Put(ctx, "b", []byte("22"))
	_ = o.Delete(ctx, "c")
	_ = o.Put(ctx, "d", []byte("4"))
	_ = o.SetParam(ctx, "P", 0)

	if v, ok, _ := o.Get(ctx, "b"); !ok || string(v) != "22" {
		t.Fatalf("Get(b)=%q,%v", v, ok)
	}
	if _, ok, _ := o.Get(ctx, "c"); ok {
		t.Fatalf("deleted key visible")
	}
	if v, ok, _ := o.Param(ctx, "P"); !ok || v != 0 {
		t.Fatalf("Param=%d,%v", v, ok)
	}

	kvs, err := o.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []string{"a=1", "b=22", "d=4"}
	if len(kvs) != len(want) {
		t.Fatalf("Scan=%v", kvs)
	}
	for i, kv := range kvs {
		if kv.Key+"="+string(kv.Value) != want[i] {
			t.Fatalf("Scan[%d]=%s=%s want %s", i, kv.Key, kv.Value, want[i])
		}
	}

	// delete after put, put after delete
	_ = o.Delete(ctx, "d")
	_ = o.Put(ctx, "c", []byte("33"))
	o.Emit(cdc.Record{Namespace: "ns", Key: "c", Kind: cdc.Created})
	b := o.Batch()
	if _, ok := b.Puts["d"]; ok {
		t.Fatalf("d should not be put")
	}
	if len(b.Deletes) != 1 || b.Deletes[0] != "d" {
		t.Fatalf("Deletes=%v", b.Deletes)
	}
	if string(b.Puts["c"]) != "33" || len(b.Events) != 1 {
		t.Fatalf("batch=%+v", b)
	}
	if b.Empty() {
		t.Fatalf("batch should not be empty")
	}
	if (Batch{}).Empty() != true {
		t.Fatalf("zero batch should be empty")
	}
}

func TestOverlayPutCopiesValue(t *testing.T) {
	o := NewOverlay("ns", mapReader{})
	v := []byte("abc")
	_ = o.Put(context.Background(), "k", v)
	v[0] = 'X'
	got, _, _ := o.Get(context.Background(), "k")
	if string(got) != "abc" {
		t.Fatalf("overlay aliased caller buffer: %q", got)
	}
}
