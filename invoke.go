package rpccache

import (
	"context"

	"github.com/unkn0wn-root/rpccache/gateway"
	"github.com/unkn0wn-root/rpccache/param"
	"github.com/unkn0wn-root/rpccache/table"
	"github.com/unkn0wn-root/rpccache/wire"
)

// InvokeResult is the outcome of one processor invocation.
type InvokeResult struct {
	Key    string
	Status wire.InvokeStatus

	// Tables are the processor's result tables (nil on failure).
	Tables []table.Table

	// Diagnostic lines from the engine when Status is a failure.
	Diagnostic []string

	// Err is set for failed members of InvokeAll: an *InvokeError or a
	// transport failure.
	Err error
}

// Found reports whether the entry existed before or after the processor ran.
func (r *InvokeResult) Found() bool { return r.Status == wire.InvokeOK }

// Invoke runs the named processor against key on the engine. args are
// converted with param.FromAny; unsupported types fail locally with
// ErrUnsupportedArgumentType. A failed invocation returns both the result
// (with its diagnostic) and an *InvokeError.
func (cc *cache[V]) Invoke(ctx context.Context, key, processor string, args ...any) (*InvokeResult, error) {
	if err := cc.ready(key); err != nil {
		return nil, err
	}
	pt, err := cc.invokeParams(processor, args)
	if err != nil {
		return nil, err
	}
	r, err := cc.gw.Call(ctx, cc.invokeReq(key, processor, pt), answerLast)
	if err != nil {
		return nil, err
	}
	res := invokeResult(key, processor, r)
	return res, res.Err
}

// InvokeAll runs the processor once per distinct key concurrently, without
// retries. Every key that got an engine answer is in the map; processor
// failures are reported per key in Err. The returned error is the first
// transport-level member failure, if any.
func (cc *cache[V]) InvokeAll(ctx context.Context, keys []string, processor string, args ...any) (map[string]*InvokeResult, error) {
	if err := cc.readyKeys(keys); err != nil {
		return nil, err
	}
	pt, err := cc.invokeParams(processor, args)
	if err != nil {
		return nil, err
	}
	res, berr := cc.gw.Bulk(ctx, keys, func(k string) *wire.Request {
		return cc.invokeReq(k, processor, pt)
	}, answerLast)
	if res == nil {
		return nil, berr
	}
	out := make(map[string]*InvokeResult, len(res))
	for k, r := range res {
		out[k] = invokeResult(k, processor, r)
	}
	return out, berr
}

func (cc *cache[V]) invokeParams(processor string, args []any) (*table.Table, error) {
	if processor == "" {
		return nil, ErrEmptyProcessor
	}
	vals, err := param.FromAny(args...)
	if err != nil {
		return nil, err
	}
	return param.Encode(vals), nil
}

func (cc *cache[V]) invokeReq(key, processor string, pt *table.Table) *wire.Request {
	req := cc.keyReq(wire.OpInvoke, key, table.Text(processor))
	req.Table = pt
	return req
}

func invokeResult(key, processor string, r gateway.Result) *InvokeResult {
	resp := r.Response
	st := wire.InvokeStatus(resp.AppStatus)
	res := &InvokeResult{Key: key, Status: st}
	if resp.AppStatusString != "" {
		res.Key = resp.AppStatusString
	}
	if st.OK() {
		res.Tables = resp.Tables
		return res
	}
	res.Diagnostic = r.Table.Strings()
	res.Err = &InvokeError{Key: res.Key, Processor: processor, Status: st, Diagnostic: res.Diagnostic}
	return res
}
