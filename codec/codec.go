// Package codec turns cache values into the bytes stored by the engine.
//
// The engine compares stored bytes for CompareAndReplace and
// RemoveIfEquals, so a codec used with those must be deterministic: equal
// values must encode to equal bytes. Every codec here is, except CBOR
// built with deterministic=false.
package codec

import (
	"errors"
	"fmt"
)

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

var ErrPayloadTooLarge = errors.New("codec: payload too large")

// SizeError reports a payload over a LimitCodec bound. It matches
// ErrPayloadTooLarge with errors.Is.
type SizeError struct {
	Op    string // "encode" or "decode"
	Size  int
	Limit int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("codec: %s payload too large: %d > %d", e.Op, e.Size, e.Limit)
}

func (e *SizeError) Is(target error) bool { return target == ErrPayloadTooLarge }
