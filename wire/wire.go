// Package wire defines the request/response envelope exchanged with the
// engine and its framed binary encoding.
package wire

import (
	"context"

	"github.com/unkn0wn-root/rpccache/table"
)

// Engine-level response status.
type Status int8

const (
	StatusSuccess   Status = 1
	StatusRejected  Status = -1 // engine refused or aborted the operation; safe to retry
	StatusOversized Status = -2 // result exceeds the response ceiling; never retried
	StatusUnknownOp Status = -3
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusRejected:
		return "REJECTED"
	case StatusOversized:
		return "OVERSIZED"
	case StatusUnknownOp:
		return "UNKNOWN_OPERATION"
	default:
		return "UNKNOWN"
	}
}

// Operation names understood by the engine.
const (
	OpGet                 = "Get"
	OpGetKV               = "GetKV"
	OpContainsKey         = "ContainsKey"
	OpPut                 = "Put"
	OpPutIfAbsent         = "PutIfAbsent"
	OpReplace             = "Replace"
	OpReplaceKeyValuePair = "ReplaceKeyValuePair"
	OpRemove              = "Remove"
	OpRemoveKeyValuePair  = "RemoveKeyValuePair"
	OpGetAndPut           = "GetAndPut"
	OpGetAndRemove        = "GetAndRemove"
	OpGetAndReplace       = "GetAndReplace"
	OpIterator            = "Iterator"
	OpRemoveAll           = "RemoveAll"
	OpClear               = "Clear"
	OpInvoke              = "Invoke"
	OpGetParam            = "GetParam"
	OpSetParam            = "SetParam"
)

// Result column names.
const (
	ColKey        = "k"
	ColValue      = "v"
	ColModified   = "modified_tuples"
	ColParamValue = "param_value"
	ColErrorLine  = "ERROR_LINE"
)

// ParamEnableEvents is the per-namespace register that turns CDC on (1) or off (0).
const ParamEnableEvents = "ENABLE_EVENTS"

// Request is one engine call. Params are positional; Table carries the
// encoded processor arguments for Invoke.
type Request struct {
	Op     string        `cbor:"1,keyasint"`
	Params []table.Value `cbor:"2,keyasint,omitempty"`
	Table  *table.Table  `cbor:"3,keyasint,omitempty"`
}

// Response is the engine's answer. AppStatus/AppStatusString are set by
// Invoke; Tables hold the result sets in operation-defined order.
type Response struct {
	Status          Status        `cbor:"1,keyasint"`
	StatusString    string        `cbor:"2,keyasint,omitempty"`
	AppStatus       int8          `cbor:"3,keyasint,omitempty"`
	AppStatusString string        `cbor:"4,keyasint,omitempty"`
	Tables          []table.Table `cbor:"5,keyasint,omitempty"`
}

// Result returns the table at offset from the end (1 = last,
// 2 = second to last) or nil when there are not that many tables.
func (r *Response) Result(offsetFromLast int) *table.Table {
	if r == nil || offsetFromLast <= 0 || offsetFromLast > len(r.Tables) {
		return nil
	}
	return &r.Tables[len(r.Tables)-offsetFromLast]
}

// Handler serves requests on the engine side. Implementations report every
// failure through the response status and never return nil.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

type HandlerFunc func(ctx context.Context, req *Request) *Response

func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response { return f(ctx, req) }
