// Package zap adapts go.uber.org/zap to logging.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/unkn0wn-root/rpccache/logging"
)

var _ logging.Logger = Logger{}

// Logger adapts a *zap.Logger.
type Logger struct{ L *zap.Logger }

// New wraps l; nil => zap.NewNop().
func New(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return Logger{L: l}
}

func (z Logger) Debug(msg string, f logging.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f logging.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f logging.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f logging.Fields) { z.L.Error(msg, fields(f)...) }

// fields converts f in key order. error values keep zap's error encoding.
func fields(f logging.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for _, k := range f.Keys() {
		switch v := f[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		case []byte:
			out = append(out, zap.Binary(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
