// Package engine executes rpccache requests against a store.Store. Every
// mutating operation runs as one atomic unit that reads the namespace's
// events flag and appends change records alongside the data it writes.
//
// Invoke resolves a named processor from a Registry, keeps one instance per
// (namespace, name), applies it to a MutableEntry and persists the outcome:
//
//	resolve -> read -> apply -> persist -> emit
//
// Failures never cross the wire as raw errors; they become an app status
// plus an ERROR_LINE diagnostic table.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/rpccache/internal/util"
	"github.com/unkn0wn-root/rpccache/logging"
	"github.com/unkn0wn-root/rpccache/store"
	"github.com/unkn0wn-root/rpccache/wire"
)

// DefaultMaxResponseBytes bounds full-scan responses.
const DefaultMaxResponseBytes = 50 << 20

type Options struct {
	// Required
	Store store.Store

	Registry         *Registry      // nil => empty registry
	MaxResponseBytes int            // 0 => DefaultMaxResponseBytes
	Logger           logging.Logger // nil => logging.Nop
}

type handlerFunc func(ctx context.Context, req *wire.Request) (*wire.Response, error)

type procKey struct{ ns, name string }

type Engine struct {
	st      store.Store
	reg     *Registry
	maxResp int
	log     logging.Logger
	ops     map[string]handlerFunc

	procMu sync.RWMutex
	procs  map[procKey]Processor
	sf     singleflight.Group
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	e := &Engine{
		st:      opts.Store,
		reg:     opts.Registry,
		maxResp: util.Coalesce(opts.MaxResponseBytes, DefaultMaxResponseBytes),
		log:     logging.OrNop(opts.Logger),
		procs:   make(map[procKey]Processor),
	}
	if e.reg == nil {
		e.reg = NewRegistry()
	}
	e.ops = map[string]handlerFunc{
		wire.OpGet:                 e.get,
		wire.OpGetKV:               e.getKV,
		wire.OpContainsKey:         e.containsKey,
		wire.OpPut:                 e.put,
		wire.OpPutIfAbsent:         e.putIfAbsent,
		wire.OpReplace:             e.replace,
		wire.OpReplaceKeyValuePair: e.replaceKeyValuePair,
		wire.OpRemove:              e.remove,
		wire.OpRemoveKeyValuePair:  e.removeKeyValuePair,
		wire.OpGetAndPut:           e.getAndPut,
		wire.OpGetAndRemove:        e.getAndRemove,
		wire.OpGetAndReplace:       e.getAndReplace,
		wire.OpIterator:            e.iterator,
		wire.OpRemoveAll:           e.removeAll,
		wire.OpClear:               e.clear,
		wire.OpInvoke:              e.invoke,
		wire.OpGetParam:            e.getParam,
		wire.OpSetParam:            e.setParam,
	}
	return e, nil
}

func (e *Engine) Registry() *Registry { return e.reg }

// Handle serves one request. It never returns nil and never panics.
func (e *Engine) Handle(ctx context.Context, req *wire.Request) (resp *wire.Response) {
	if req == nil {
		return &wire.Response{Status: wire.StatusRejected, StatusString: "nil request"}
	}
	h, ok := e.ops[req.Op]
	if !ok {
		return &wire.Response{Status: wire.StatusUnknownOp, StatusString: fmt.Sprintf("unknown operation %q", req.Op)}
	}
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("engine operation panicked", logging.Fields{"op": req.Op, "panic": p, "stack": string(debug.Stack())})
			resp = &wire.Response{Status: wire.StatusRejected, StatusString: fmt.Sprintf("engine fault: %v", p)}
		}
	}()
	resp, err := h(ctx, req)
	if err != nil {
		e.log.Warn("engine operation rejected", logging.Fields{"op": req.Op, "err": err})
		return &wire.Response{Status: wire.StatusRejected, StatusString: err.Error()}
	}
	return resp
}
