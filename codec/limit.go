package codec

// LimitCodec bounds payload sizes around Inner. A limit <= 0 is disabled.
//
// MaxEncode rejects values before they reach the engine, which keeps one
// oversized Put from failing late on the transport. MaxDecode bounds what
// records written by other clients can make this process allocate.
type LimitCodec[V any] struct {
	// Required
	Inner Codec[V]

	MaxEncode int
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, &SizeError{Op: "encode", Size: len(b), Limit: c.MaxEncode}
	}
	return b, nil
}

func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, &SizeError{Op: "decode", Size: len(b), Limit: c.MaxDecode}
	}
	return c.Inner.Decode(b)
}
