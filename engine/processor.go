package engine

import (
	"context"
	"fmt"
	"io"

	pkgerrors "github.com/pkg/errors"

	"github.com/unkn0wn-root/rpccache/table"
)

// MutableEntry is a processor's view of one entry. Changes are persisted
// only if the processor returns without error.
type MutableEntry struct {
	key    string
	exists bool
	value  []byte
}

func NewMutableEntry(key string, value []byte, exists bool) *MutableEntry {
	return &MutableEntry{key: key, exists: exists, value: value}
}

func (e *MutableEntry) Key() string  { return e.key }
func (e *MutableEntry) Exists() bool { return e.exists }

// Value is the current value, nil when the entry does not exist.
func (e *MutableEntry) Value() []byte {
	if !e.exists {
		return nil
	}
	return e.value
}

// SetValue stores v and marks the entry as existing.
func (e *MutableEntry) SetValue(v []byte) {
	if v == nil {
		v = []byte{}
	}
	e.value = v
	e.exists = true
}

func (e *MutableEntry) Remove() {
	e.value = nil
	e.exists = false
}

// Processor runs against one entry with caller-supplied arguments and may
// return result tables. One instance per (namespace, name) serves every
// invocation, so implementations must be safe for concurrent use.
type Processor interface {
	Process(ctx context.Context, e *MutableEntry, args []table.Value) ([]table.Table, error)
}

type ProcessorFunc func(ctx context.Context, e *MutableEntry, args []table.Value) ([]table.Table, error)

func (f ProcessorFunc) Process(ctx context.Context, e *MutableEntry, args []table.Value) ([]table.Table, error) {
	return f(ctx, e, args)
}

// ProcessorError is a failure the processor declares on purpose, e.g. an
// argument it cannot accept. Any other error or panic is a runtime error.
type ProcessorError struct {
	err error
}

// Fail marks err as a declared processor failure.
func Fail(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessorError{err: pkgerrors.WithStack(err)}
}

func Failf(format string, args ...any) error {
	return &ProcessorError{err: pkgerrors.Errorf(format, args...)}
}

func (e *ProcessorError) Error() string { return e.err.Error() }
func (e *ProcessorError) Unwrap() error { return e.err }

// Format delegates so that %+v prints the captured stack.
func (e *ProcessorError) Format(s fmt.State, verb rune) {
	if f, ok := e.err.(fmt.Formatter); ok {
		f.Format(s, verb)
		return
	}
	_, _ = io.WriteString(s, e.Error())
}
