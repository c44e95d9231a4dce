package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	tp "github.com/unkn0wn-root/tilepyramid"
)

func TestEntries(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.InfoLevel)
	l := New(base, "loader")

	l.Debug("dropped", nil)
	l.Warn("payload cache write failed", tp.Fields{"tile": "1/0/0", "err": errors.New("boom")})

	if len(hook.AllEntries()) != 1 {
		t.Fatalf("entries got=%d want=1", len(hook.AllEntries()))
	}
	e := hook.LastEntry()
	if e.Level != logrus.WarnLevel || e.Message != "payload cache write failed" {
		t.Fatalf("entry got=%v %q", e.Level, e.Message)
	}
	if e.Data["component"] != "loader" || e.Data["tile"] != "1/0/0" {
		t.Fatalf("data got=%v", e.Data)
	}
	if err, _ := e.Data[logrus.ErrorKey].(error); err == nil || err.Error() != "boom" {
		t.Fatalf("error key got=%v", e.Data)
	}
}
