package wire

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
)

const (
	version      byte = 1
	kindRequest  byte = 1
	kindResponse byte = 2

	flagSnappy byte = 1 << 0

	hdrLen = 4 + 1 + 1 + 1 + 4

	// CompressThreshold is the body size above which frames are snappy-compressed.
	CompressThreshold = 4 << 10
)

var (
	ErrCorrupt = errors.New("rpccache: corrupt frame")
	magic4     = [...]byte{'R', 'P', 'C', 'C'}
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

func EncodeRequest(r *Request) ([]byte, error)   { return encode(kindRequest, r) }
func EncodeResponse(r *Response) ([]byte, error) { return encode(kindResponse, r) }

func DecodeRequest(b []byte) (*Request, error) {
	var r Request
	if err := decode(b, kindRequest, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func DecodeResponse(b []byte) (*Response, error) {
	var r Response
	if err := decode(b, kindResponse, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Frame: magic(4) | ver(1) | kind(1) | flags(1) | blen(u32 be) | body(blen)
// body is CBOR, snappy block-compressed when flags has flagSnappy.
func encode(kind byte, v any) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	var flags byte
	if len(body) > CompressThreshold {
		body = snappy.Encode(nil, body)
		flags |= flagSnappy
	}

	var buf bytes.Buffer
	buf.Grow(hdrLen + len(body))
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)
	buf.WriteByte(flags)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(body)))
	buf.Write(u4[:])
	buf.Write(body)
	return buf.Bytes(), nil
}

func decode(b []byte, kind byte, v any) error {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version || b[5] != kind {
		return ErrCorrupt
	}
	flags := b[6]
	if flags&^flagSnappy != 0 {
		return ErrCorrupt
	}
	blen := int(binary.BigEndian.Uint32(b[7:hdrLen]))
	if blen < 0 || blen != len(b)-hdrLen { // exact: no truncation, no trailing bytes
		return ErrCorrupt
	}
	body := b[hdrLen:]
	if flags&flagSnappy != 0 {
		var err error
		if body, err = snappy.Decode(nil, body); err != nil {
			return ErrCorrupt
		}
	}
	if err := decMode.Unmarshal(body, v); err != nil {
		return errors.Join(ErrCorrupt, err)
	}
	return nil
}
