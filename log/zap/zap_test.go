package zap

import (
	"errors"
	"testing"

	"github.com/unkn0wn-root/entcache"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("d", nil)
	l.Info("i", entcache.Fields{"key": "smw:query:1"})
	l.Warn("w", entcache.Fields{"err": errors.New("boom")})
	l.Error("e", entcache.Fields{"b": 2, "a": 1})

	entries := logs.AllUntimed()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Fatalf("entry %d level = %v want %v", i, e.Level, wantLevels[i])
		}
		if e.LoggerName != "entcache" {
			t.Fatalf("entry %d logger name = %q", i, e.LoggerName)
		}
	}
	if got := entries[1].ContextMap()["key"]; got != "smw:query:1" {
		t.Fatalf("key field = %v", got)
	}
	if got := entries[2].ContextMap()["err"]; got != "boom" {
		t.Fatalf("err field = %v", got)
	}
	if ctx := entries[3].Context; ctx[0].Key != "a" || ctx[1].Key != "b" {
		t.Fatalf("fields not sorted: %v", ctx)
	}
}

func TestNilLoggerIsNop(t *testing.T) {
	New(nil).Info("nothing", entcache.Fields{"k": "v"})
}
