package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/rpccache"
	"github.com/unkn0wn-root/rpccache/cdc"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	RetryEvery     uint64
	PollErrorEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	retryCtr     atomic.Uint64
	pollErrorCtr atomic.Uint64
}

var _ rpccache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) RetryScheduled(op string, attempt int, delay time.Duration, err error) {
	if h.l == nil || !sample(h.opts.RetryEvery, &h.retryCtr) {
		return
	}
	h.l.Debug("rpccache.retry_scheduled",
		"op", op,
		"attempt", attempt,
		"delay", delay,
		"err", err)
}

func (h *Hooks) CallFailed(op string, attempts int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("rpccache.call_failed",
		"op", op,
		"attempts", attempts,
		"err", err)
}

func (h *Hooks) TooMuchData(op string) {
	if h.l == nil {
		return
	}
	h.l.Warn("rpccache.too_much_data", "op", op)
}

func (h *Hooks) BulkFailed(op string, requested int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("rpccache.bulk_failed",
		"op", op,
		"requested", requested,
		"err", err)
}

func (h *Hooks) RecordUndecodable(payload []byte, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("rpccache.record_undecodable",
		"bytes", len(payload),
		"err", err)
}

func (h *Hooks) PollError(err error) {
	if h.l == nil || !sample(h.opts.PollErrorEvery, &h.pollErrorCtr) {
		return
	}
	h.l.Warn("rpccache.poll_error", "err", err)
}

func (h *Hooks) HandlerPanic(kind cdc.Kind, key string, recovered any) {
	if h.l == nil {
		return
	}
	h.l.Error("rpccache.handler_panic",
		"kind", kind.String(),
		"key", h.redact(key),
		"panic", recovered)
}

func (h *Hooks) ListenerDecodeError(namespace, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("rpccache.listener_decode_error",
		"ns", namespace,
		"key", h.redact(key),
		"err", err)
}
