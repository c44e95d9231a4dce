package tilepyramid

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/paulmach/orb"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// Pyramid manages the working set of tiles for one source: which tiles to request,
// which loaded ancestors and descendants stand in while they load, and which tiles go
// to the bounded reuse cache. All methods are safe for concurrent use.
//
// The *Tile values returned by AddTile, FindLoadedParent and Tile stay owned by the
// Pyramid and their accessors are not synchronized: loader completions and timers
// update them under the Pyramid's lock. Use TileInfo (or TileHit.Tile) to read tile
// state from other goroutines.
type Pyramid interface {
	// Working set
	Update(ideal []tileid.ID) UpdateResult
	Sync() UpdateResult // ideal set from Options.Coverage
	AddTile(id tileid.ID) *Tile
	RemoveTile(key uint64)
	FindLoadedParent(id tileid.ID, minZoom uint8) (*Tile, bool)
	ClearTiles()
	Reload()

	// Lifecycle
	Pause()
	Resume()
	SetViewport(width, height float64)
	Close(ctx context.Context) error

	// Introspection
	TilesIn(q Query) []TileHit
	ResidentIDs() []tileid.ID
	RenderableIDs() []tileid.ID
	State(id tileid.ID) (State, bool)
	Tile(id tileid.ID) (*Tile, bool)
	TileInfo(id tileid.ID) (TileInfo, bool)
	Loaded() bool
	CacheLen() int
	Outcomes() []LoadOutcome
}

// Query is a rendered-feature query in world space.
type Query struct {
	// Geometry in mercator world coordinates: the unit square, x growing east and
	// y growing south. Points left or right of the square address other wraps.
	Geometry []orb.Point
	// Zoom is the fractional camera zoom the query was issued at.
	Zoom float64
	// PaddingPixels overrides Options.QueryPadding when positive. Zero and negative
	// values fall back to Options.QueryPadding.
	PaddingPixels float64
}

// TileHit is one tile intersecting a Query.
type TileHit struct {
	ID   tileid.ID
	Tile TileInfo // taken while the query held the lock
	// Geometry is the query geometry in this tile's extent space.
	Geometry []orb.Point
	// Bounds is the query bound clipped to the padded tile extent.
	Bounds orb.Bound
	// Scale is 2^(zoom - overscaled zoom).
	Scale float64
}

// Options configure a Pyramid.
// Only Loader and Source are required; others have sensible defaults.
type Options struct {
	// Required
	Loader Loader
	Source Source

	Coverage         Coverage      // required by Sync only
	Namespace        string        // label for logs; "" => "tiles"
	Logger           Logger        // if nil, NopLogger is used
	Hooks            Hooks         // if nil, NopHooks is used
	Clock            clock.Clock   // nil => wall clock
	FadeDuration     time.Duration // 0 => no fade retention
	MaxOverzooming   uint8         // 0 => 10
	MaxTileCacheSize int           // 0 => viewport formula only
	QueryPadding     float64       // pixels added around queried tiles
}

func New(opts Options) (Pyramid, error) {
	return newPyramid(opts)
}
