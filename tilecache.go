package tilepyramid

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// DisposeFunc releases a tile that left the cache for good.
type DisposeFunc func(t *Tile, reason string)

// TileCache is a bounded LRU of tiles that left the working set but still hold data.
// Entries are keyed by tileid.ID.Key(). It is not safe for concurrent use; the Pyramid
// serializes access.
type TileCache struct {
	lru      *simplelru.LRU[uint64, *cacheEntry]
	capacity int
	dispose  DisposeFunc

	clock clock.Clock
	// schedule runs expiry work. The Pyramid points it at its serial queue.
	schedule func(func())

	taking bool   // set while Get removes an entry; suppresses disposal
	reason string // reason reported to dispose for the current mutation
}

type cacheEntry struct {
	tile  *Tile
	timer *clock.Timer
}

// NewTileCache creates a cache holding at most capacity tiles. dispose may be nil.
func NewTileCache(capacity int, dispose DisposeFunc) *TileCache {
	c := &TileCache{
		capacity: max(capacity, 0),
		dispose:  dispose,
		clock:    clock.New(),
		schedule: func(fn func()) { fn() },
		reason:   ReasonEvicted,
	}
	// simplelru rejects size 0; capacity 0 is handled before touching the list.
	lru, err := simplelru.NewLRU[uint64, *cacheEntry](max(capacity, 1), c.evicted)
	if err != nil {
		panic(err)
	}
	c.lru = lru
	return c
}

func (c *TileCache) evicted(_ uint64, e *cacheEntry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if c.taking || c.dispose == nil {
		return
	}
	c.dispose(e.tile, c.reason)
}

func (c *TileCache) withReason(reason string, fn func()) {
	prev := c.reason
	c.reason = reason
	fn()
	c.reason = prev
}

// Add stores t under id and reports whether it was kept; a zero-capacity cache
// disposes t at once. An existing entry for the key is disposed. When expiry > 0
// the entry is removed and disposed once it elapses.
func (c *TileCache) Add(id tileid.ID, t *Tile, expiry time.Duration) bool {
	if t.uses != 0 {
		panic(&InvariantError{Op: "cache add", Key: id.Key(), Uses: t.uses})
	}
	k := id.Key()
	if old, ok := c.lru.Peek(k); ok {
		if old.tile == t {
			c.take(k)
		} else {
			c.withReason(ReasonReplaced, func() { c.lru.Remove(k) })
		}
	}
	if c.capacity == 0 {
		if c.dispose != nil {
			c.dispose(t, ReasonEvicted)
		}
		return false
	}

	e := &cacheEntry{tile: t}
	if expiry > 0 {
		e.timer = c.clock.AfterFunc(expiry, func() {
			c.schedule(func() { c.expire(k, e) })
		})
	}
	c.lru.Add(k, e)
	return true
}

func (c *TileCache) expire(k uint64, e *cacheEntry) {
	cur, ok := c.lru.Peek(k)
	if !ok || cur != e {
		return
	}
	c.withReason(ReasonExpired, func() { c.lru.Remove(k) })
}

func (c *TileCache) take(k uint64) {
	c.taking = true
	c.lru.Remove(k)
	c.taking = false
}

// Get removes and returns the tile for id. The tile is handed back to the caller
// rather than disposed.
func (c *TileCache) Get(id tileid.ID) (*Tile, bool) {
	k := id.Key()
	e, ok := c.lru.Peek(k)
	if !ok {
		return nil, false
	}
	c.take(k)
	return e.tile, true
}

// Peek returns the tile for id without removing it or touching recency.
func (c *TileCache) Peek(id tileid.ID) (*Tile, bool) {
	e, ok := c.lru.Peek(id.Key())
	if !ok {
		return nil, false
	}
	return e.tile, true
}

func (c *TileCache) Has(id tileid.ID) bool { return c.lru.Contains(id.Key()) }
func (c *TileCache) Len() int              { return c.lru.Len() }
func (c *TileCache) Capacity() int         { return c.capacity }

// Keys returns cached ids, least recently added first.
func (c *TileCache) Keys() []tileid.ID {
	keys := c.lru.Keys()
	out := make([]tileid.ID, len(keys))
	for i, k := range keys {
		out[i] = tileid.FromKey(k)
	}
	return out
}

// SetCapacity changes the bound, evicting least recently added entries as needed.
func (c *TileCache) SetCapacity(n int) {
	n = max(n, 0)
	c.capacity = n
	if n == 0 {
		c.Clear()
		return
	}
	c.lru.Resize(n)
}

// Clear disposes every entry.
func (c *TileCache) Clear() {
	c.withReason(ReasonCleared, c.lru.Purge)
}

// Filter disposes every entry for which keep returns false.
func (c *TileCache) Filter(keep func(*Tile) bool) {
	c.withReason(ReasonFiltered, func() {
		for _, k := range c.lru.Keys() {
			e, ok := c.lru.Peek(k)
			if ok && !keep(e.tile) {
				c.lru.Remove(k)
			}
		}
	})
}

// CacheCapacity sizes the reuse cache for a viewport: five screens worth of tiles
// (one tile of margin on each axis), capped by maxSize when it is positive.
func CacheCapacity(viewportW, viewportH float64, tileSize, maxSize int) int {
	if tileSize <= 0 || viewportW <= 0 || viewportH <= 0 {
		return 0
	}
	ts := float64(tileSize)
	w := int(math.Ceil(viewportW/ts)) + 1
	h := int(math.Ceil(viewportH/ts)) + 1
	n := w * h * 5
	if maxSize > 0 {
		n = min(n, maxSize)
	}
	return n
}
