package codec

import (
	"bytes"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Msgpack serializes values with vmihailenco/msgpack/v5. Integers use
// their compact form and every map, at any depth, is written with its
// entries ordered by encoded key, so equal values encode to equal bytes.
// The zero value is ready to use.
//
// Use `msgpack:"name"` tags for explicit field names.
type Msgpack[V any] struct{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// SetSortMapKeys only covers a few map[string]T shapes.
	return canonicalMsgpack(msgpack.NewDecoder(&buf))
}

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

// canonicalMsgpack re-emits the next value from dec with map entries
// sorted by their canonical key bytes.
func canonicalMsgpack(dec *msgpack.Decoder) ([]byte, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	switch {
	case msgpcode.IsFixedMap(c) || c == msgpcode.Map16 || c == msgpcode.Map32:
		return canonicalMap(dec)
	case msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32:
		return canonicalArray(dec)
	default:
		return dec.DecodeRaw()
	}
}

func canonicalMap(dec *msgpack.Decoder) ([]byte, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	type entry struct{ k, v []byte }
	entries := make([]entry, n)
	for i := range entries {
		if entries[i].k, err = canonicalMsgpack(dec); err != nil {
			return nil, err
		}
		if entries[i].v, err = canonicalMsgpack(dec); err != nil {
			return nil, err
		}
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].k, entries[j].k) < 0 })

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(n); err != nil {
		return nil, err
	}
	for _, e := range entries {
		buf.Write(e.k)
		buf.Write(e.v)
	}
	return buf.Bytes(), nil
}

func canonicalArray(dec *msgpack.Decoder) ([]byte, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeArrayLen(n); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		b, err := canonicalMsgpack(dec)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}
