// Package logging is the tiny leveled logger every rpccache component
// accepts. Adapters for zap, logrus and log/slog live in subpackages.
package logging

import "sort"

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Logger is a tiny leveled logger. Provide an adapter around your logging stack.
// A nil Logger in any Options disables logging.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type Nop struct{}

func (Nop) Debug(string, Fields) {}
func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

// With returns a Logger that adds base to every entry. Per-call fields win
// on conflict.
func With(l Logger, base Fields) Logger {
	l = OrNop(l)
	if _, ok := l.(Nop); ok || len(base) == 0 {
		return l
	}
	if w, ok := l.(with); ok {
		return with{l: w.l, base: merge(w.base, base)}
	}
	return with{l: l, base: base}
}

type with struct {
	l    Logger
	base Fields
}

func (w with) Debug(msg string, f Fields) { w.l.Debug(msg, merge(w.base, f)) }
func (w with) Info(msg string, f Fields)  { w.l.Info(msg, merge(w.base, f)) }
func (w with) Warn(msg string, f Fields)  { w.l.Warn(msg, merge(w.base, f)) }
func (w with) Error(msg string, f Fields) { w.l.Error(msg, merge(w.base, f)) }

func merge(a, b Fields) Fields {
	if len(b) == 0 {
		return a
	}
	out := make(Fields, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
