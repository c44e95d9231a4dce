// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{RequestEvery: 10})
//
//	q := asynchook.NewQueue(1, 1000) // 1 worker; queue 1000 events
//	defer q.Close()
//
//	p, _ := tilepyramid.New(tilepyramid.Options{
//	    Loader: l,
//	    Source: src,
//	    Hooks:  asynchook.Tiles(q, raw), // or `raw` if you don't want async
//	})
//	cache, _ := payload.New[loader.Response](payload.Options[loader.Response]{
//	    ...
//	    Hooks: asynchook.Payload(q, raw),
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	tp "github.com/unkn0wn-root/tilepyramid"
	"github.com/unkn0wn-root/tilepyramid/payload"
	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// Queue is a bounded event queue drained by a fixed worker pool. Events that do not
// fit are dropped and counted.
type Queue struct {
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewQueue(workers, qlen int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Queue{q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Later events are dropped.
func (h *Queue) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Queue) Dropped() uint64 { return h.dropped.Load() }

func (h *Queue) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

// Tiles forwards tilepyramid events through q.
func Tiles(q *Queue, inner tp.Hooks) tp.Hooks { return &tileHooks{q: q, inner: inner} }

// Payload forwards payload cache events through q.
func Payload(q *Queue, inner payload.Hooks) payload.Hooks { return &payloadHooks{q: q, inner: inner} }

type tileHooks struct {
	q     *Queue
	inner tp.Hooks
}

func (h *tileHooks) TileRequested(id tileid.ID) { h.q.try(func() { h.inner.TileRequested(id) }) }
func (h *tileHooks) TileReused(id tileid.ID)    { h.q.try(func() { h.inner.TileReused(id) }) }
func (h *tileHooks) TileCached(id tileid.ID)    { h.q.try(func() { h.inner.TileCached(id) }) }
func (h *tileHooks) TileExpired(id tileid.ID)   { h.q.try(func() { h.inner.TileExpired(id) }) }
func (h *tileHooks) StaleCompletion(id tileid.ID) {
	h.q.try(func() { h.inner.StaleCompletion(id) })
}
func (h *tileHooks) TileDestroyed(id tileid.ID, reason string) {
	h.q.try(func() { h.inner.TileDestroyed(id, reason) })
}
func (h *tileHooks) TileLoadFailed(id tileid.ID, err error) {
	h.q.try(func() { h.inner.TileLoadFailed(id, err) })
}
func (h *tileHooks) CacheResized(n int) { h.q.try(func() { h.inner.CacheResized(n) }) }

type payloadHooks struct {
	q     *Queue
	inner payload.Hooks
}

func (h *payloadHooks) SelfHeal(k, r string)             { h.q.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *payloadHooks) ProviderSetRejected(k string)     { h.q.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *payloadHooks) GenBumpError(k string, err error) { h.q.try(func() { h.inner.GenBumpError(k, err) }) }
func (h *payloadHooks) GenSnapshotError(k string, err error) {
	h.q.try(func() { h.inner.GenSnapshotError(k, err) })
}
func (h *payloadHooks) InvalidateOutage(k string, be, de error) {
	h.q.try(func() { h.inner.InvalidateOutage(k, be, de) })
}
