package tilepyramid

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

type disposal struct {
	id     tileid.ID
	reason string
}

type disposeRecorder struct{ got []disposal }

func (r *disposeRecorder) fn(t *Tile, reason string) {
	r.got = append(r.got, disposal{id: t.ID(), reason: reason})
}

func (r *disposeRecorder) count(id tileid.ID) int {
	n := 0
	for _, d := range r.got {
		if d.id == id {
			n++
		}
	}
	return n
}

func loadedTile(id tileid.ID) *Tile {
	t := newTile(id, clock.New())
	t.state = StateLoaded
	return t
}

func cacheIDs(n int) []tileid.ID {
	out := make([]tileid.ID, n)
	for i := range out {
		out[i] = tileid.MustNew(4, 0, 4, uint32(i), 0)
	}
	return out
}

func TestTileCacheLRUEviction(t *testing.T) {
	var rec disposeRecorder
	c := NewTileCache(2, rec.fn)
	ids := cacheIDs(3)
	for _, id := range ids {
		c.Add(id, loadedTile(id), 0)
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d want=2", c.Len())
	}
	if c.Has(ids[0]) {
		t.Fatalf("oldest entry should be evicted")
	}
	if len(rec.got) != 1 || rec.got[0].id != ids[0] || rec.got[0].reason != ReasonEvicted {
		t.Fatalf("disposals=%v", rec.got)
	}
	keys := c.Keys()
	if len(keys) != 2 || keys[0] != ids[1] || keys[1] != ids[2] {
		t.Fatalf("keys=%v", keys)
	}
}

func TestTileCacheGetReclaimsWithoutDisposal(t *testing.T) {
	var rec disposeRecorder
	c := NewTileCache(4, rec.fn)
	id := cacheIDs(1)[0]
	tile := loadedTile(id)
	c.Add(id, tile, 0)

	got, ok := c.Get(id)
	if !ok || got != tile {
		t.Fatalf("Get: ok=%v tile=%p want %p", ok, got, tile)
	}
	if c.Has(id) || c.Len() != 0 {
		t.Fatalf("entry must be removed after Get")
	}
	if len(rec.got) != 0 {
		t.Fatalf("Get must not dispose: %v", rec.got)
	}
	if _, ok := c.Get(id); ok {
		t.Fatalf("second Get must miss")
	}
}

func TestTileCachePeekDoesNotRemove(t *testing.T) {
	c := NewTileCache(2, nil)
	ids := cacheIDs(3)
	c.Add(ids[0], loadedTile(ids[0]), 0)
	c.Add(ids[1], loadedTile(ids[1]), 0)
	if _, ok := c.Peek(ids[0]); !ok {
		t.Fatalf("peek miss")
	}
	// Peek does not promote, so ids[0] is still the eviction candidate.
	c.Add(ids[2], loadedTile(ids[2]), 0)
	if c.Has(ids[0]) {
		t.Fatalf("ids[0] should have been evicted")
	}
}

func TestTileCacheAddRejectsUsedTile(t *testing.T) {
	c := NewTileCache(2, nil)
	id := cacheIDs(1)[0]
	tile := loadedTile(id)
	tile.uses = 1

	defer func() {
		r := recover()
		var ie *InvariantError
		err, _ := r.(error)
		if !errors.As(err, &ie) {
			t.Fatalf("recover=%v want *InvariantError", r)
		}
		if ie.Uses != 1 || ie.Key != id.Key() {
			t.Fatalf("err=%+v", ie)
		}
	}()
	c.Add(id, tile, 0)
}

func TestTileCacheReplaceDisposesPrevious(t *testing.T) {
	var rec disposeRecorder
	c := NewTileCache(4, rec.fn)
	id := cacheIDs(1)[0]
	c.Add(id, loadedTile(id), 0)
	second := loadedTile(id)
	c.Add(id, second, 0)

	if len(rec.got) != 1 || rec.got[0].reason != ReasonReplaced {
		t.Fatalf("disposals=%v", rec.got)
	}
	if got, _ := c.Peek(id); got != second {
		t.Fatalf("cache should hold the replacement")
	}
}

func TestTileCacheZeroCapacity(t *testing.T) {
	var rec disposeRecorder
	c := NewTileCache(0, rec.fn)
	id := cacheIDs(1)[0]
	if c.Add(id, loadedTile(id), 0) {
		t.Fatalf("Add got=true want=false")
	}
	if c.Len() != 0 || rec.count(id) != 1 {
		t.Fatalf("len=%d disposals=%v", c.Len(), rec.got)
	}
}

func TestTileCacheSetCapacityShrinks(t *testing.T) {
	var rec disposeRecorder
	c := NewTileCache(5, rec.fn)
	ids := cacheIDs(5)
	for _, id := range ids {
		c.Add(id, loadedTile(id), 0)
	}
	c.SetCapacity(2)
	if c.Len() != 2 || c.Capacity() != 2 {
		t.Fatalf("len=%d cap=%d", c.Len(), c.Capacity())
	}
	for _, id := range ids[:3] {
		if rec.count(id) != 1 {
			t.Fatalf("%s disposed %d times", id, rec.count(id))
		}
	}

	c.SetCapacity(0)
	if c.Len() != 0 || len(rec.got) != 5 {
		t.Fatalf("len=%d disposals=%d", c.Len(), len(rec.got))
	}
	c.SetCapacity(3)
	if !c.Add(ids[0], loadedTile(ids[0]), 0) {
		t.Fatalf("Add after regrow got=false want=true")
	}
	if c.Len() != 1 {
		t.Fatalf("cache unusable after regrow")
	}
}

func TestTileCacheClearAndFilter(t *testing.T) {
	var rec disposeRecorder
	c := NewTileCache(8, rec.fn)
	ids := cacheIDs(4)
	for _, id := range ids {
		c.Add(id, loadedTile(id), 0)
	}
	c.Filter(func(t *Tile) bool { return t.ID().Canonical.X%2 == 0 })
	if c.Len() != 2 || c.Has(ids[1]) || c.Has(ids[3]) {
		t.Fatalf("filter kept %v", c.Keys())
	}
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len after clear=%d", c.Len())
	}
	reasons := map[string]int{}
	for _, d := range rec.got {
		reasons[d.reason]++
	}
	if reasons[ReasonFiltered] != 2 || reasons[ReasonCleared] != 2 {
		t.Fatalf("reasons=%v", reasons)
	}
}

func TestTileCacheExpiryTimerDisposesOnce(t *testing.T) {
	var rec disposeRecorder
	mc := clock.NewMock()
	c := NewTileCache(4, rec.fn)
	c.clock = mc
	fired := make(chan func(), 4)
	c.schedule = func(fn func()) { fired <- fn }

	ids := cacheIDs(2)
	c.Add(ids[0], loadedTile(ids[0]), time.Minute)
	c.Add(ids[1], loadedTile(ids[1]), time.Hour)

	mc.Add(time.Minute)
	select {
	case fn := <-fired:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatalf("expiry timer did not fire")
	}
	if c.Has(ids[0]) || !c.Has(ids[1]) {
		t.Fatalf("keys=%v", c.Keys())
	}
	if rec.count(ids[0]) != 1 || rec.got[0].reason != ReasonExpired {
		t.Fatalf("disposals=%v", rec.got)
	}

	// a reclaimed entry's timer is stopped
	got, ok := c.Get(ids[1])
	if !ok {
		t.Fatalf("reclaim miss")
	}
	mc.Add(2 * time.Hour)
	select {
	case <-fired:
		t.Fatalf("timer of reclaimed tile fired")
	case <-time.After(50 * time.Millisecond):
	}
	if rec.count(got.ID()) != 0 {
		t.Fatalf("reclaimed tile disposed")
	}
}

func TestCacheCapacity(t *testing.T) {
	tests := []struct {
		w, h    float64
		ts, max int
		want    int
	}{
		{1024, 768, 512, 0, (2 + 1) * (2 + 1) * 5},
		{1000, 1000, 256, 0, (4 + 1) * (4 + 1) * 5},
		{1000, 1000, 256, 50, 50},
		{0, 1000, 256, 0, 0},
		{512, 512, 0, 0, 0},
	}
	for _, tt := range tests {
		if got := CacheCapacity(tt.w, tt.h, tt.ts, tt.max); got != tt.want {
			t.Fatalf("CacheCapacity(%v,%v,%d,%d)=%d want=%d", tt.w, tt.h, tt.ts, tt.max, got, tt.want)
		}
	}
}
