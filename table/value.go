// Package table holds the typed scalar and tabular values exchanged with the
// engine: RPC parameters, result sets, processor outputs and diagnostics.
package table

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindTime
	KindText
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a closed union of the scalar kinds the engine understands.
// The zero Value is Null.
type Value struct {
	kind Kind
	i    int64
	f    float64
	t    time.Time
	s    string
	b    []byte
}

func Null() Value               { return Value{} }
func Int(v int64) Value         { return Value{kind: KindInt, i: v} }
func Float(v float64) Value     { return Value{kind: KindFloat, f: v} }
func Time(v time.Time) Value    { return Value{kind: KindTime, t: v} }
func Text(v string) Value       { return Value{kind: KindText, s: v} }
func Bytes(v []byte) Value      { return Value{kind: KindBytes, b: v} }
func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) String() string  { return fmt.Sprintf("%s(%v)", v.kind, v.Any()) }
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) AsFloat() (float64, bool) {
	return v.f, v.kind == KindFloat
}

func (v Value) AsTime() (time.Time, bool) {
	return v.t, v.kind == KindTime
}

func (v Value) AsText() (string, bool) {
	return v.s, v.kind == KindText
}

func (v Value) AsBytes() ([]byte, bool) {
	return v.b, v.kind == KindBytes
}

// Any returns the held scalar as a plain Go value (nil for Null).
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindTime:
		return v.t
	case KindText:
		return v.s
	case KindBytes:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether both values hold the same kind and payload.
// Times compare by instant, floats bitwise (so NaN equals NaN), bytes by content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return math.Float64bits(v.f) == math.Float64bits(o.f)
	case KindTime:
		return v.t.Equal(o.t)
	case KindText:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.b, o.b)
	}
	return false
}

// valueWire is the serialized shape of a Value. Times travel as unix
// seconds plus nanoseconds so that the full time.Time range survives.
// Floats travel as IEEE bits, which keeps -0 and NaN payloads.
type valueWire struct {
	K  Kind    `cbor:"1,keyasint"`
	I  int64   `cbor:"2,keyasint,omitempty"`
	F  uint64  `cbor:"3,keyasint,omitempty"`
	TS int64   `cbor:"4,keyasint,omitempty"`
	TN int64   `cbor:"5,keyasint,omitempty"`
	S  string  `cbor:"6,keyasint,omitempty"`
	B  []byte  `cbor:"7,keyasint"`
}

func (v Value) MarshalCBOR() ([]byte, error) {
	w := valueWire{K: v.kind}
	switch v.kind {
	case KindInt:
		w.I = v.i
	case KindFloat:
		w.F = math.Float64bits(v.f)
	case KindTime:
		w.TS, w.TN = v.t.Unix(), int64(v.t.Nanosecond())
	case KindText:
		w.S = v.s
	case KindBytes:
		w.B = v.b
	}
	return cbor.Marshal(w)
}

func (v *Value) UnmarshalCBOR(b []byte) error {
	var w valueWire
	if err := cbor.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.K {
	case KindNull:
		*v = Null()
	case KindInt:
		*v = Int(w.I)
	case KindFloat:
		*v = Float(math.Float64frombits(w.F))
	case KindTime:
		*v = Time(time.Unix(w.TS, w.TN).UTC())
	case KindText:
		*v = Text(w.S)
	case KindBytes:
		*v = Bytes(w.B)
	default:
		return fmt.Errorf("table: unknown value kind %d", w.K)
	}
	return nil
}
