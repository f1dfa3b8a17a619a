// Package builtin holds small processors that ship with the engine.
package builtin

import (
	"bytes"
	"context"

	"github.com/unkn0wn-root/rpccache/engine"
	"github.com/unkn0wn-root/rpccache/table"
)

const (
	AppendName = "append"
	SwapName   = "swap"

	ColOld = "OLD_COL"
	ColNew = "NEW_COL"
)

// Register adds every builtin to r.
func Register(r *engine.Registry) error {
	if err := r.Register(AppendName, func() (engine.Processor, error) { return Append{}, nil }); err != nil {
		return err
	}
	return r.Register(SwapName, func() (engine.Processor, error) { return Swap{}, nil })
}

// Append appends its single text argument to the value, creating the entry
// if needed.
type Append struct{}

func (Append) Process(_ context.Context, e *engine.MutableEntry, args []table.Value) ([]table.Table, error) {
	if len(args) != 1 {
		return nil, engine.Failf("append: want 1 argument, got %d", len(args))
	}
	s, ok := args[0].AsText()
	if !ok {
		return nil, engine.Failf("append: argument must be text, got %s", args[0].Kind())
	}
	v := append(append([]byte(nil), e.Value()...), s...)
	e.SetValue(v)
	return nil, nil
}

// Swap replaces every occurrence of its first text argument with its second
// and reports the pair as an OLD_COL/NEW_COL table.
type Swap struct{}

func (Swap) Process(_ context.Context, e *engine.MutableEntry, args []table.Value) ([]table.Table, error) {
	if len(args) != 2 {
		return nil, engine.Failf("swap: want 2 arguments, got %d", len(args))
	}
	old, ok1 := args[0].AsText()
	repl, ok2 := args[1].AsText()
	if !ok1 || !ok2 {
		return nil, engine.Failf("swap: arguments must be text")
	}
	if !e.Exists() {
		return nil, nil
	}
	e.SetValue(bytes.ReplaceAll(e.Value(), []byte(old), []byte(repl)))

	t := table.New(table.Column{Name: ColOld, Kind: table.KindText}, table.Column{Name: ColNew, Kind: table.KindText})
	t.Append(table.Text(old), table.Text(repl))
	return []table.Table{*t}, nil
}
