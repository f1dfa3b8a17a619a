package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/rpccache/logging"
)

func newTestLogger(t *testing.T, lvl stdslog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: lvl})
	return New(stdslog.New(h)), &buf
}

func TestFieldsInKeyOrder(t *testing.T) {
	l, buf := newTestLogger(t, stdslog.LevelDebug)
	l.Info("hello", logging.Fields{"zeta": 1, "alpha": "a"})

	line := buf.String()
	if strings.Index(line, `"alpha"`) > strings.Index(line, `"zeta"`) {
		t.Fatalf("attrs not sorted: %s", line)
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["msg"] != "hello" || rec["level"] != "INFO" || rec["alpha"] != "a" {
		t.Fatalf("record=%v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, stdslog.LevelWarn)
	l.Debug("d", nil)
	l.Info("i", nil)
	l.Warn("w", nil)
	l.Error("e", nil)
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("lines=%d: %s", n, buf.String())
	}
}
