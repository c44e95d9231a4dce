package asynchook

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	tp "github.com/unkn0wn-root/tilepyramid"
	"github.com/unkn0wn-root/tilepyramid/payload"
	"github.com/unkn0wn-root/tilepyramid/tileid"
)

type (
	tileNopHooks    = tp.NopHooks
	payloadNopHooks = payload.NopHooks
)

type countHooks struct {
	tileNopHooks
	payloadNopHooks
	requested atomic.Int32
	heals     atomic.Int32
	block     chan struct{}
}

func (h *countHooks) TileRequested(tileid.ID) {
	if h.block != nil {
		<-h.block
	}
	h.requested.Add(1)
}
func (h *countHooks) SelfHeal(string, string) { h.heals.Add(1) }

func TestDeliversBeforeClose(t *testing.T) {
	q := NewQueue(2, 16)
	inner := &countHooks{}
	th := Tiles(q, inner)
	ph := Payload(q, inner)

	for i := 0; i < 5; i++ {
		th.TileRequested(tileid.MustNew(0, 0, 0, 0, 0))
		ph.SelfHeal("k", payload.HealCorrupt)
	}
	q.Close()
	if inner.requested.Load() != 5 || inner.heals.Load() != 5 {
		t.Fatalf("got requested=%d heals=%d want=5/5", inner.requested.Load(), inner.heals.Load())
	}
	if q.Dropped() != 0 {
		t.Fatalf("dropped got=%d want=0", q.Dropped())
	}
}

func TestDropsWhenFullAndAfterClose(t *testing.T) {
	q := NewQueue(1, 1)
	inner := &countHooks{block: make(chan struct{})}
	th := Tiles(q, inner)
	id := tileid.MustNew(0, 0, 0, 0, 0)

	var once sync.Once
	release := func() { once.Do(func() { close(inner.block) }) }
	defer release()

	// worker takes the first event and blocks; wait until the queue slot is free again
	th.TileRequested(id)
	for len(q.q) != 0 {
		runtime.Gosched()
	}
	th.TileRequested(id) // queued
	th.TileRequested(id) // dropped
	if q.Dropped() != 1 {
		t.Fatalf("dropped got=%d want=1", q.Dropped())
	}

	release()
	q.Close()
	q.Close()
	th.TileRequested(id)
	if q.Dropped() != 2 {
		t.Fatalf("dropped after close got=%d want=2", q.Dropped())
	}
	if inner.requested.Load() != 2 {
		t.Fatalf("delivered got=%d want=2", inner.requested.Load())
	}
}
