// Package cdc defines change-data-capture records, the append-only log they
// travel through, and the consumer that turns them into listener callbacks.
package cdc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Kind is the change type of a record.
type Kind byte

const (
	Created Kind = 'C'
	Updated Kind = 'U'
	Removed Kind = 'D'
	Expired Kind = 'X'
)

func (k Kind) Valid() bool {
	switch k {
	case Created, Updated, Removed, Expired:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case Created:
		return "CREATED"
	case Updated:
		return "UPDATED"
	case Removed:
		return "REMOVED"
	case Expired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("Kind(%q)", byte(k))
	}
}

// Record is one committed change. Value is empty for Removed.
type Record struct {
	Namespace string
	Key       string
	Value     []byte
	Kind      Kind
}

// emptyValue marks an absent or empty value in the text encoding.
const emptyValue = `\N`

var ErrMalformedRecord = errors.New("cdc: malformed record")

// EncodeRecord renders r as "namespace,key,value,kind" where value is
// lowercase hex or \N when empty. The namespace must not contain a comma;
// the key may.
func EncodeRecord(r Record) ([]byte, error) {
	if r.Namespace == "" || strings.ContainsRune(r.Namespace, ',') {
		return nil, fmt.Errorf("%w: invalid namespace %q", ErrMalformedRecord, r.Namespace)
	}
	if r.Key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrMalformedRecord)
	}
	if !r.Kind.Valid() {
		return nil, fmt.Errorf("%w: invalid kind %v", ErrMalformedRecord, r.Kind)
	}
	val := emptyValue
	if len(r.Value) > 0 {
		val = hex.EncodeToString(r.Value)
	}
	var b strings.Builder
	b.Grow(len(r.Namespace) + len(r.Key) + len(val) + 4)
	b.WriteString(r.Namespace)
	b.WriteByte(',')
	b.WriteString(r.Key)
	b.WriteByte(',')
	b.WriteString(val)
	b.WriteByte(',')
	b.WriteByte(byte(r.Kind))
	return []byte(b.String()), nil
}

// DecodeRecord parses the EncodeRecord format. The namespace ends at the
// first comma; kind and value are the last two fields, so keys may contain
// commas. The \N sentinel decodes to an empty, non-nil value.
func DecodeRecord(b []byte) (Record, error) {
	s := string(b)
	first := strings.IndexByte(s, ',')
	last := strings.LastIndexByte(s, ',')
	if first <= 0 || last <= first {
		return Record{}, ErrMalformedRecord
	}
	kind := s[last+1:]
	if len(kind) != 1 || !Kind(kind[0]).Valid() {
		return Record{}, fmt.Errorf("%w: kind %q", ErrMalformedRecord, kind)
	}
	rest := s[first+1 : last] // key,value
	mid := strings.LastIndexByte(rest, ',')
	if mid <= 0 {
		return Record{}, fmt.Errorf("%w: missing key or value", ErrMalformedRecord)
	}
	r := Record{
		Namespace: s[:first],
		Key:       rest[:mid],
		Kind:      Kind(kind[0]),
	}
	if val := rest[mid+1:]; val == emptyValue {
		r.Value = []byte{}
	} else {
		v, err := hex.DecodeString(val)
		if err != nil || len(v) == 0 {
			return Record{}, fmt.Errorf("%w: value %q", ErrMalformedRecord, val)
		}
		r.Value = v
	}
	return r, nil
}
