package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	tp "github.com/unkn0wn-root/tilepyramid"
)

func TestLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(zap.New(core), "pyramid")

	l.Debug("dropped", tp.Fields{"a": 1})
	l.Info("update", tp.Fields{"tile": "3/4/2", "retained": 7})
	l.Error("load", tp.Fields{"err": errors.New("boom")})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("entries got=%d want=2", len(entries))
	}
	if entries[0].LoggerName != "tilepyramid.pyramid" {
		t.Fatalf("logger name got=%q", entries[0].LoggerName)
	}
	ctx := entries[0].ContextMap()
	if ctx["tile"] != "3/4/2" || ctx["retained"] != int64(7) {
		t.Fatalf("fields got=%v", ctx)
	}
	if got := entries[0].Context[0].Key; got != "retained" {
		t.Fatalf("fields not sorted, first=%q", got)
	}
	if entries[1].ContextMap()["err"] != "boom" {
		t.Fatalf("error field got=%v", entries[1].ContextMap())
	}
}
