package tilepyramid

import "github.com/unkn0wn-root/tilepyramid/tileid"

// Destroy reasons passed to Hooks.TileDestroyed.
const (
	ReasonRemoved  = "removed"  // dropped from the working set without data worth caching
	ReasonEvicted  = "evicted"  // pushed out of the reuse cache by capacity
	ReasonExpired  = "expired"  // payload expired while cached
	ReasonReplaced = "replaced" // another tile was cached under the same key
	ReasonCleared  = "cleared"  // ClearTiles, Reload or Close
	ReasonFiltered = "filtered" // TileCache.Filter
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// They are called while the pyramid holds its lock; calling back into the Pyramid deadlocks.
type Hooks interface {
	// A new Tile was created and handed to the loader.
	TileRequested(id tileid.ID)
	// A Tile was pulled back out of the reuse cache instead of being fetched again.
	TileReused(id tileid.ID)
	// A Tile left the working set and was parked in the reuse cache.
	TileCached(id tileid.ID)
	// A Tile was unloaded. reason is one of the Reason* constants.
	TileDestroyed(id tileid.ID, reason string)
	// Loader reported an error. The tile stays resident in StateErrored.
	TileLoadFailed(id tileid.ID, err error)
	// Reload timer fired and a refresh was issued.
	TileExpired(id tileid.ID)
	// A completion arrived for an aborted or superseded load and was dropped.
	StaleCompletion(id tileid.ID)
	// Reuse cache capacity changed.
	CacheResized(capacity int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) TileRequested(tileid.ID)         {}
func (NopHooks) TileReused(tileid.ID)            {}
func (NopHooks) TileCached(tileid.ID)            {}
func (NopHooks) TileDestroyed(tileid.ID, string) {}
func (NopHooks) TileLoadFailed(tileid.ID, error) {}
func (NopHooks) TileExpired(tileid.ID)           {}
func (NopHooks) StaleCompletion(tileid.ID)       {}
func (NopHooks) CacheResized(int)                {}
