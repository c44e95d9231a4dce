package tilepyramid

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// LoadResult is what a Loader reports for one load.
type LoadResult struct {
	// Payload is owned by the Tile from here on. If it implements io.Closer it is
	// closed when the tile is destroyed or the completion turns out to be stale.
	Payload any
	Expiry  Expiry
	Err     error
}

// Loader fetches and parses tile payloads. The pyramid never does I/O itself.
//
// Load must return promptly and call done exactly once, from any goroutine (including
// synchronously from within Load). ctx is cancelled when the tile is aborted.
// Abort and Unload are called with the pyramid lock held and must not block.
type Loader interface {
	Load(ctx context.Context, t *Tile, done func(LoadResult))
	Abort(t *Tile)
	Unload(t *Tile)
}

// TileChecker is implemented by loaders that know a source's bounds.
// Ideal tiles for which HasTile is false are never requested.
type TileChecker interface {
	HasTile(id tileid.ID) bool
}

// SourceMetadata describes the zoom range and tiling of a source.
type SourceMetadata struct {
	MinZoom           uint8
	MaxZoom           uint8
	TileSize          int // pixels; 0 => 512
	ReparseOverscaled bool
}

func (m SourceMetadata) validate() error {
	if m.MinZoom > m.MaxZoom {
		return fmt.Errorf("tilepyramid: min zoom %d above max zoom %d", m.MinZoom, m.MaxZoom)
	}
	if m.MaxZoom > tileid.MaxCanonicalZoom {
		return fmt.Errorf("tilepyramid: max zoom %d exceeds %d", m.MaxZoom, tileid.MaxCanonicalZoom)
	}
	if m.TileSize < 0 {
		return fmt.Errorf("tilepyramid: negative tile size %d", m.TileSize)
	}
	return nil
}

// Source supplies metadata. ok is false until the source has loaded it; Update is a
// no-op until then.
type Source interface {
	Metadata() (meta SourceMetadata, ok bool)
}

// StaticSource is a Source whose metadata is known up front.
type StaticSource SourceMetadata

func (s StaticSource) Metadata() (SourceMetadata, bool) { return SourceMetadata(s), true }

// Coverage computes the ideal tile set for the current camera. Sync uses it.
type Coverage interface {
	IdealTiles() []tileid.ID
}

// CoverageFunc adapts a function to Coverage.
type CoverageFunc func() []tileid.ID

func (f CoverageFunc) IdealTiles() []tileid.ID { return f() }

// LoadOutcome is the result of one finished load, drained by Update or Outcomes.
type LoadOutcome struct {
	ID tileid.ID
	// Refreshed is set when the load replaced data of an expired or reloading tile.
	Refreshed bool
	Err       error
}

// UpdateResult reports what one Update did.
type UpdateResult struct {
	// MetadataReady is false when the source had no metadata yet; nothing else is set then.
	MetadataReady bool
	Paused        bool

	Retained  []tileid.ID // working set after the update, ascending
	Requested []tileid.ID // new tiles handed to the loader
	Reused    []tileid.ID // tiles pulled back from the cache
	Removed   []tileid.ID // tiles that left the working set
	Cached    []tileid.ID // subset of Removed kept for reuse
	Destroyed []tileid.ID // tiles unloaded during the update (removed or evicted)

	Completed []LoadOutcome
	Errored   []LoadOutcome
}
