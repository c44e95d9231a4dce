package bolt

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestProvider(t *testing.T, clk clock.Clock) *Provider {
	t.Helper()
	p, err := New(Config{Path: filepath.Join(t.TempDir(), "tiles.db"), Clock: clk})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestRequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without Path")
	}
}

func TestSetGetDel(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, clock.NewMock())

	if _, ok, err := p.Get(ctx, "tile:t:4/3/2"); ok || err != nil {
		t.Fatalf("miss expected, ok=%v err=%v", ok, err)
	}
	want := []byte("pbf")
	if ok, err := p.Set(ctx, "tile:t:4/3/2", want, 0, 0); !ok || err != nil {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "tile:t:4/3/2")
	if !ok || err != nil || !bytes.Equal(got, want) {
		t.Fatalf("got=%q ok=%v err=%v want=%q", got, ok, err, want)
	}
	if err := p.Del(ctx, "tile:t:4/3/2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "tile:t:4/3/2"); ok {
		t.Fatalf("expected miss after Del")
	}
}

func TestEmptyValueIsHit(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t, clock.NewMock())
	if _, err := p.Set(ctx, "k", nil, 0, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := p.Get(ctx, "k")
	if !ok || err != nil || len(got) != 0 {
		t.Fatalf("got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	p := newTestProvider(t, clk)

	_, _ = p.Set(ctx, "short", []byte("a"), 0, time.Minute)
	_, _ = p.Set(ctx, "long", []byte("b"), 0, time.Hour)
	_, _ = p.Set(ctx, "forever", []byte("c"), 0, 0)

	clk.Add(2 * time.Minute)
	if _, ok, _ := p.Get(ctx, "short"); ok {
		t.Fatalf("expired value must miss")
	}
	if _, ok, _ := p.Get(ctx, "long"); !ok {
		t.Fatalf("long-lived value must hit")
	}

	clk.Add(2 * time.Hour)
	n, err := p.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Sweep: n=%d err=%v want=1", n, err)
	}
	if _, ok, _ := p.Get(ctx, "forever"); !ok {
		t.Fatalf("no-expiry value swept")
	}
}

func TestReopenKeepsValues(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tiles.db")
	p, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _ = p.Set(ctx, "k", []byte("v"), 0, time.Hour)
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	p2, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close(ctx)
	if got, ok, _ := p2.Get(ctx, "k"); !ok || string(got) != "v" {
		t.Fatalf("after reopen got=%q ok=%v", got, ok)
	}
}
