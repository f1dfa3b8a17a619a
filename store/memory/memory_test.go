package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/unkn0wn-root/rpccache/cdc"
	"github.com/unkn0wn-root/rpccache/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestUpdateCommitsAndAppendsLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Update(ctx, "ns", func(tx store.Tx) error {
		if err := tx.Put(ctx, "b", []byte("2")); err != nil {
			return err
		}
		if err := tx.Put(ctx, "a", []byte("1")); err != nil {
			return err
		}
		tx.Emit(cdc.Record{Namespace: "ns", Key: "a", Value: []byte("1"), Kind: cdc.Created})
		return tx.SetParam(ctx, "P", 7)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	_ = s.Update(ctx, "ns", func(tx store.Tx) error {
		kvs, err := tx.Scan(ctx)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		if len(kvs) != 2 || kvs[0].Key != "a" || kvs[1].Key != "b" {
			t.Fatalf("Scan=%v", kvs)
		}
		if p, ok, _ := tx.Param(ctx, "P"); !ok || p != 7 {
			t.Fatalf("Param=%d,%v", p, ok)
		}
		return nil
	})
	if s.Log().Len() != 1 {
		t.Fatalf("log len=%d want 1", s.Log().Len())
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.Update(ctx, "ns", func(tx store.Tx) error {
		_ = tx.Put(ctx, "k", []byte("v"))
		tx.Emit(cdc.Record{Namespace: "ns", Key: "k", Value: []byte("v"), Kind: cdc.Created})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	_ = s.Update(ctx, "ns", func(tx store.Tx) error {
		if _, ok, _ := tx.Get(ctx, "k"); ok {
			t.Fatalf("rolled back write is visible")
		}
		return nil
	})
	if s.Log().Len() != 0 {
		t.Fatalf("rolled back unit emitted %d records", s.Log().Len())
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	put := func(ns, k, v string) {
		if err := s.Update(ctx, ns, func(tx store.Tx) error { return tx.Put(ctx, k, []byte(v)) }); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	put("n1", "k", "one")
	put("n2", "k", "two")
	_ = s.Update(ctx, "n2", func(tx store.Tx) error { return tx.Delete(ctx, "k") })

	_ = s.Update(ctx, "n1", func(tx store.Tx) error {
		v, ok, _ := tx.Get(ctx, "k")
		if !ok || string(v) != "one" {
			t.Fatalf("n1 k=%q,%v", v, ok)
		}
		return nil
	})
	_ = s.Update(ctx, "n2", func(tx store.Tx) error {
		if _, ok, _ := tx.Get(ctx, "k"); ok {
			t.Fatalf("n2 k should be gone")
		}
		return nil
	})
	if err := s.Update(ctx, "", func(store.Tx) error { return nil }); !errors.Is(err, store.ErrNamespace) {
		t.Fatalf("want ErrNamespace, got %v", err)
	}
}

func TestUpdateRejectsBadRecord(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	err := s.Update(ctx, "ns", func(tx store.Tx) error {
		_ = tx.Put(ctx, "k", []byte("v"))
		tx.Emit(cdc.Record{Namespace: "ns", Key: "", Kind: cdc.Created})
		return nil
	})
	if !errors.Is(err, cdc.ErrMalformedRecord) {
		t.Fatalf("want ErrMalformedRecord, got %v", err)
	}
	_ = s.Update(ctx, "ns", func(tx store.Tx) error {
		if _, ok, _ := tx.Get(ctx, "k"); ok {
			t.Fatalf("unit with bad record must not commit")
		}
		return nil
	})
}

type constHasher struct{}

func (constHasher) Sum64(string) uint64 { return 42 }

func TestHashCollisionsKeepBothKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Hasher: constHasher{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	update := func(fn func(tx store.Tx) error) {
		t.Helper()
		if err := s.Update(ctx, "ns", fn); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	expect := func(want map[string]string) {
		t.Helper()
		update(func(tx store.Tx) error {
			for k, w := range want {
				v, ok, err := tx.Get(ctx, k)
				if w == "" {
					if ok {
						t.Fatalf("%s=%q, want missing", k, v)
					}
					continue
				}
				if err != nil || !ok || string(v) != w {
					t.Fatalf("%s=%q ok=%v err=%v want %q", k, v, ok, err, w)
				}
			}
			return nil
		})
	}

	update(func(tx store.Tx) error { return tx.Put(ctx, "a", []byte("1")) })
	update(func(tx store.Tx) error { return tx.Put(ctx, "b", []byte("2")) })
	expect(map[string]string{"a": "1", "b": "2"})

	update(func(tx store.Tx) error { return tx.Delete(ctx, "a") })
	expect(map[string]string{"a": "", "b": "2"})

	update(func(tx store.Tx) error { return tx.Put(ctx, "b", []byte("3")) })
	update(func(tx store.Tx) error { return tx.Put(ctx, "a", []byte("4")) })
	expect(map[string]string{"a": "4", "b": "3"})

	update(func(tx store.Tx) error { return tx.Delete(ctx, "b") })
	update(func(tx store.Tx) error { return tx.Put(ctx, "c", []byte("5")) })
	expect(map[string]string{"a": "4", "b": "", "c": "5"})
}
