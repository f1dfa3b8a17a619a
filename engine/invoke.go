package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/unkn0wn-root/rpccache/logging"
	"github.com/unkn0wn-root/rpccache/param"
	"github.com/unkn0wn-root/rpccache/store"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

// fault is an invocation failure headed for the client as a status code and
// diagnostic lines.
type fault struct {
	status wire.InvokeStatus
	err    error
	stack  []byte // recovered panic stack, if any
}

func (f *fault) Error() string { return fmt.Sprintf("%s: %v", f.status, f.err) }
func (f *fault) Unwrap() error { return f.err }

// diagnostic renders the ERROR_LINE table: the error (with its stack when
// it carries one) followed by the panic stack, one line per row.
func (f *fault) diagnostic() *table.Table {
	t := table.New(table.Column{Name: wire.ColErrorLine, Kind: table.KindText})
	add := func(s string) {
		for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
			t.Append(table.Text(strings.TrimRight(line, "\r")))
		}
	}
	add(fmt.Sprintf("%+v", f.err))
	if len(f.stack) > 0 {
		add(string(f.stack))
	}
	return t
}

// invoke params: key, namespace, processor name; Table holds the encoded
// processor arguments.
func (e *Engine) invoke(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	k, ns, err := keyNS(req)
	if err != nil {
		return nil, err
	}
	name, err := textArg(req, 2, "processor name")
	if err != nil {
		return nil, err
	}
	args, err := param.Decode(req.Table)
	if err != nil {
		return nil, err
	}

	proc, f := e.resolve(ns, name)
	if f != nil {
		return e.invokeFailed(k, ns, name, f), nil
	}

	var (
		results []table.Table
		status  wire.InvokeStatus
	)
	err = e.st.Update(ctx, ns, func(tx store.Tx) error {
		results, status = nil, wire.InvokeOK

		cur, found, err := tx.Get(ctx, k)
		if err != nil {
			return err
		}
		entry := NewMutableEntry(k, cur, found)
		out, err := apply(ctx, proc, entry, args)
		if err != nil {
			return err
		}

		switch {
		case entry.Exists():
			if err := upsert(ctx, tx, k, entry.Value(), found); err != nil {
				return err
			}
		case found:
			if err := del(ctx, tx, k); err != nil {
				return err
			}
		default:
			status = wire.InvokeOKButNotFound
		}
		results = out
		return nil
	})
	if err != nil {
		var fl *fault
		if errors.As(err, &fl) {
			return e.invokeFailed(k, ns, name, fl), nil
		}
		return nil, err
	}
	return &wire.Response{
		Status:          wire.StatusSuccess,
		AppStatus:       int8(status),
		AppStatusString: k,
		Tables:          results,
	}, nil
}

func (e *Engine) invokeFailed(k, ns, name string, f *fault) *wire.Response {
	e.log.Warn("invoke failed", logging.Fields{"ns": ns, "processor": name, "status": f.status.String(), "err": f.err})
	return &wire.Response{
		Status:          wire.StatusSuccess,
		AppStatus:       int8(f.status),
		AppStatusString: k,
		Tables:          []table.Table{*f.diagnostic()},
	}
}

// apply runs the processor and classifies its failure.
func apply(ctx context.Context, p Processor, entry *MutableEntry, args []table.Value) (out []table.Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &fault{status: wire.InvokeProcessorRuntimeError, err: fmt.Errorf("processor panic: %v", r), stack: debug.Stack()}
		}
	}()
	out, err = p.Process(ctx, entry, args)
	if err == nil {
		return out, nil
	}
	var pe *ProcessorError
	if errors.As(err, &pe) {
		return nil, &fault{status: wire.InvokeProcessorFailed, err: pe}
	}
	return nil, &fault{status: wire.InvokeProcessorRuntimeError, err: pkgerrors.WithStack(err)}
}

// resolve returns the cached processor for (ns, name), constructing it at
// most once at a time. Failed constructions are not cached.
func (e *Engine) resolve(ns, name string) (Processor, *fault) {
	key := procKey{ns: ns, name: name}
	if p, ok := e.cached(key); ok {
		return p, nil
	}
	v, err, _ := e.sf.Do(ns+"\x00"+name, func() (any, error) {
		if p, ok := e.cached(key); ok {
			return p, nil
		}
		p, f := e.construct(name)
		if f != nil {
			return nil, f
		}
		e.procMu.Lock()
		e.procs[key] = p
		e.procMu.Unlock()
		e.log.Info("processor constructed", logging.Fields{"ns": ns, "processor": name})
		return p, nil
	})
	if err != nil {
		var f *fault
		if errors.As(err, &f) {
			return nil, f
		}
		return nil, &fault{status: wire.InvokeConstructorFailed, err: pkgerrors.WithStack(err)}
	}
	return v.(Processor), nil
}

func (e *Engine) cached(key procKey) (Processor, bool) {
	e.procMu.RLock()
	defer e.procMu.RUnlock()
	p, ok := e.procs[key]
	return p, ok
}

func (e *Engine) construct(name string) (p Processor, f *fault) {
	ctor, registered := e.reg.Lookup(name)
	if !registered {
		return nil, &fault{status: wire.InvokeBadProcessorName, err: pkgerrors.Errorf("no processor registered as %q", name)}
	}
	if ctor == nil {
		return nil, &fault{status: wire.InvokeBadConstructor, err: pkgerrors.Errorf("processor %q has no constructor", name)}
	}
	defer func() {
		if r := recover(); r != nil {
			p = nil
			f = &fault{status: wire.InvokeConstructorFailed, err: fmt.Errorf("constructor %q panicked: %v", name, r), stack: debug.Stack()}
		}
	}()
	p, err := ctor()
	switch {
	case errors.Is(err, ErrConstructorDenied):
		return nil, &fault{status: wire.InvokeConstructorDenied, err: pkgerrors.WithStack(err)}
	case errors.Is(err, ErrConstructorArgument):
		return nil, &fault{status: wire.InvokeConstructorArgument, err: pkgerrors.WithStack(err)}
	case err != nil:
		return nil, &fault{status: wire.InvokeConstructorFailed, err: pkgerrors.WithStack(err)}
	case p == nil:
		return nil, &fault{status: wire.InvokeConstructorNil, err: pkgerrors.Errorf("constructor %q returned no processor", name)}
	}
	return p, nil
}
