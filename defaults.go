package tilepyramid

import "time"

const (
	defaultNamespace      = "tiles"
	defaultMaxOverzooming = 10
	defaultTileSize       = 512
	// cache capacity before the first SetViewport
	defaultCacheSize = 100
)

// DefaultFadeDuration matches the raster fade used by most styles.
const DefaultFadeDuration = 300 * time.Millisecond

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
