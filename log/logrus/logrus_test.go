package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/unkn0wn-root/entcache"
)

func TestFieldsAndLevels(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Debug("debug", nil)
	l.Warn("container read failed", entcache.Fields{"key": "k1", "err": errors.New("timeout")})

	if n := len(hook.AllEntries()); n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	e := hook.LastEntry()
	if e.Level != logrus.WarnLevel || e.Message != "container read failed" {
		t.Fatalf("unexpected entry: %v %q", e.Level, e.Message)
	}
	if e.Data["component"] != "entcache" || e.Data["key"] != "k1" {
		t.Fatalf("missing fields: %v", e.Data)
	}
	if err, ok := e.Data[logrus.ErrorKey].(error); !ok || err.Error() != "timeout" {
		t.Fatalf("err should map to logrus.ErrorKey: %v", e.Data)
	}
}
