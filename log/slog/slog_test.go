package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/entcache"
)

func TestGroupedSortedAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))

	l.Debug("hidden", entcache.Fields{"x": 1})
	l.Info("flushed", entcache.Fields{"b": 2, "a": 1})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, "entcache.a=1 entcache.b=2") {
		t.Fatalf("expected grouped sorted attrs, got %s", out)
	}
}
