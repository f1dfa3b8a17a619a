package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/rpccache/logging"
)

func TestLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", nil)
	l.Info("i", logging.Fields{"b": 2, "a": 1})
	l.Warn("w", logging.Fields{"err": errors.New("boom")})
	l.Error("e", logging.Fields{"raw": []byte{1, 2}})

	all := logs.All()
	if len(all) != 4 {
		t.Fatalf("entries=%d", len(all))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range all {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level=%v", i, e.Level)
		}
	}
	if f := all[1].Context; len(f) != 2 || f[0].Key != "a" || f[1].Key != "b" {
		t.Fatalf("fields not in key order: %+v", f)
	}
	if got := all[2].ContextMap()["err"]; got != "boom" {
		t.Fatalf("err=%v", got)
	}
	if all[3].Context[0].Type != zapcore.BinaryType {
		t.Fatalf("[]byte field type=%v", all[3].Context[0].Type)
	}
}

func TestNewNil(t *testing.T) {
	New(nil).Info("dropped", logging.Fields{"k": "v"})
}
