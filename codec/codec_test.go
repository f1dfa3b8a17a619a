package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type user struct {
	ID   string `json:"id" cbor:"id" msgpack:"id"`
	Name string `json:"name" cbor:"name" msgpack:"name"`
}

func roundTrip[V comparable](t *testing.T, name string, cd Codec[V], v V) []byte {
	t.Helper()
	b, err := cd.Encode(v)
	if err != nil {
		t.Fatalf("%s Encode: %v", name, err)
	}
	got, err := cd.Decode(b)
	if err != nil {
		t.Fatalf("%s Decode: %v", name, err)
	}
	if got != v {
		t.Fatalf("%s round trip: got %+v want %+v", name, got, v)
	}
	return b
}

func TestStructCodecs(t *testing.T) {
	u := user{ID: "1", Name: "Ada"}
	roundTrip[user](t, "json", JSON[user]{}, u)
	roundTrip[user](t, "cbor", MustCBOR[user](true), u)
	roundTrip[user](t, "cbor-unsorted", MustCBOR[user](false), u)
	roundTrip[user](t, "msgpack", Msgpack[user]{}, u)
	roundTrip[string](t, "string", String{}, "héllo")
}

func TestDeterministicCBORIsStable(t *testing.T) {
	cd := MustCBOR[map[string]int](true)
	m := map[string]int{"b": 2, "a": 1, "c": 3}
	first, err := cd.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 20; i++ {
		b, _ := cd.Encode(m)
		if !bytes.Equal(b, first) {
			t.Fatalf("deterministic CBOR produced different bytes on run %d", i)
		}
	}
}

func TestBytesIdentity(t *testing.T) {
	in := []byte("raw")
	b, _ := Bytes{}.Encode(in)
	out, _ := Bytes{}.Decode(b)
	if !bytes.Equal(out, in) {
		t.Fatalf("Bytes changed the payload: %q", out)
	}
}

func TestProtobuf(t *testing.T) {
	cd := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := cd.Encode(wrapperspb.String("payload"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := cd.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.GetValue() != "payload" {
		t.Fatalf("Decode=%q", got.GetValue())
	}
	if _, err := cd.Decode([]byte{0xff, 0xff}); err == nil {
		t.Fatalf("Decode of garbage succeeded")
	}
}

func TestLimitCodec(t *testing.T) {
	cd := LimitCodec[string]{Inner: String{}, MaxEncode: 6, MaxDecode: 4}
	_, err := cd.Decode([]byte("12345"))
	var se *SizeError
	if !errors.As(err, &se) || se.Op != "decode" || se.Size != 5 || !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("want decode SizeError, got %v", err)
	}
	if v, err := cd.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("Decode=%q err=%v", v, err)
	}
	if b, err := cd.Encode("123456"); err != nil || string(b) != "123456" {
		t.Fatalf("Encode at the limit=%q err=%v", b, err)
	}
	if _, err := cd.Encode("1234567"); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("Encode over the limit err=%v", err)
	}
	if _, err := (LimitCodec[string]{Inner: String{}}).Encode(strings.Repeat("x", 1<<16)); err != nil {
		t.Fatalf("zero limits must be disabled: %v", err)
	}
}

func TestMsgpackSortsMapKeys(t *testing.T) {
	cd := Msgpack[map[string]int]{}
	m := make(map[string]int)
	for i := 0; i < 32; i++ {
		m[fmt.Sprintf("k%02d", i)] = i
	}
	first, err := cd.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 20; i++ {
		b, _ := cd.Encode(m)
		if !bytes.Equal(b, first) {
			t.Fatalf("msgpack produced different bytes on run %d", i)
		}
	}
}

func TestMsgpackSortsNestedMaps(t *testing.T) {
	type doc struct {
		Tags  map[int]string            `msgpack:"tags"`
		Items []map[string]int          `msgpack:"items"`
		Deep  map[string]map[string]int `msgpack:"deep"`
	}
	build := func(rev bool) doc {
		d := doc{Tags: map[int]string{}, Deep: map[string]map[string]int{}}
		for j := 0; j < 16; j++ {
			i := j
			if rev {
				i = 15 - j
			}
			d.Tags[i] = fmt.Sprint(i)
			d.Deep[fmt.Sprint("d", i)] = map[string]int{"x": i, "y": -i}
		}
		d.Items = []map[string]int{{"b": 2, "a": 1}, nil}
		return d
	}
	cd := Msgpack[doc]{}
	a, err := cd.Encode(build(false))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 20; i++ {
		b, _ := cd.Encode(build(true))
		if !bytes.Equal(a, b) {
			t.Fatalf("nested maps produced different bytes on run %d", i)
		}
	}
	got, err := cd.Decode(a)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Tags[7] != "7" || got.Deep["d3"]["y"] != -3 || got.Items[0]["b"] != 2 || got.Items[1] != nil {
		t.Fatalf("Decode=%+v", got)
	}
}

func TestCBORRejectsDuplicateKeys(t *testing.T) {
	// {"a": 1, "a": 2}
	dup := []byte{0xa2, 0x61, 'a', 0x01, 0x61, 'a', 0x02}
	if _, err := MustCBOR[map[string]int](true).Decode(dup); err == nil {
		t.Fatalf("duplicate map keys decoded")
	}
}
