package cdc

import (
	"bytes"
	"errors"
	"testing"
)

func TestRecordEncodeFormat(t *testing.T) {
	cases := []struct {
		name string
		in   Record
		want string
	}{
		{"created", Record{"ns", "k1", []byte{0xab, 0x01}, Created}, "ns,k1,ab01,C"},
		{"removed-empty", Record{"ns", "k1", nil, Removed}, `ns,k1,\N,D`},
		{"comma-key", Record{"ns", "a,b", []byte("x"), Updated}, "ns,a,b,78,U"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeRecord(tc.in)
			if err != nil {
				t.Fatalf("EncodeRecord: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestRecordRoundTrip(t *testing.T) {
	in := []Record{
		{"orders", "o:1", []byte("payload"), Created},
		{"orders", "k,with,commas", []byte{0}, Updated},
		{"orders", "gone", []byte{}, Removed},
		{"orders", "ttl", []byte{1, 2}, Expired},
	}
	for _, r := range in {
		b, err := EncodeRecord(r)
		if err != nil {
			t.Fatalf("EncodeRecord(%+v): %v", r, err)
		}
		out, err := DecodeRecord(b)
		if err != nil {
			t.Fatalf("DecodeRecord(%q): %v", b, err)
		}
		if out.Namespace != r.Namespace || out.Key != r.Key || out.Kind != r.Kind || !bytes.Equal(out.Value, r.Value) {
			t.Fatalf("got %+v want %+v", out, r)
		}
	}
}

func TestDecodeSentinelIsEmptyNonNil(t *testing.T) {
	r, err := DecodeRecord([]byte(`ns,k,\N,D`))
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if r.Value == nil || len(r.Value) != 0 {
		t.Fatalf("want empty non-nil value, got %#v", r.Value)
	}
}

func TestEncodeRejects(t *testing.T) {
	bad := []Record{
		{"", "k", nil, Created},
		{"a,b", "k", nil, Created},
		{"ns", "", nil, Created},
		{"ns", "k", nil, Kind('Z')},
	}
	for _, r := range bad {
		if _, err := EncodeRecord(r); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("EncodeRecord(%+v): want ErrMalformedRecord, got %v", r, err)
		}
	}
}

func TestDecodeRejects(t *testing.T) {
	bad := []string{
		"",
		"ns",
		"ns,k,C",
		",k,00,C",
		"ns,,00,C",
		"ns,k,00,Q",
		"ns,k,00,CC",
		"ns,k,zz,C",
		"ns,k,,C",
	}
	for _, s := range bad {
		if _, err := DecodeRecord([]byte(s)); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("DecodeRecord(%q): want ErrMalformedRecord, got %v", s, err)
		}
	}
}
