package tilepyramid

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// TilesIn returns every renderable tile whose padded extent intersects the query,
// with the geometry transformed into that tile's extent space. Fade holdovers are
// skipped so a feature is reported by the tile that actually shows it.
func (p *pyramid) TilesIn(q Query) []TileHit {
	p.lock()
	defer p.unlock()
	if len(q.Geometry) == 0 || !p.metaReady {
		return nil
	}

	padPx := p.queryPadding
	if q.PaddingPixels > 0 {
		padPx = q.PaddingPixels
	}
	world := orb.MultiPoint(q.Geometry).Bound()

	var hits []TileHit
	for _, id := range p.residentIDs() {
		t := p.tiles[id.Key()]
		if !t.HasData() || t.covered {
			continue
		}
		scale := math.Exp2(q.Zoom - float64(id.OverscaledZ))
		tileSize := float64(p.meta.TileSize) * float64(id.OverscaleFactor())
		pad := padPx * tileid.Extent / tileSize / scale

		qb := orb.Bound{Min: id.TilePoint(world.Min), Max: id.TilePoint(world.Max)}
		ext := orb.Bound{Max: orb.Point{tileid.Extent, tileid.Extent}}.Pad(pad)
		if !qb.Intersects(ext) {
			continue
		}

		geom := make([]orb.Point, len(q.Geometry))
		for i, pt := range q.Geometry {
			geom[i] = id.TilePoint(pt)
		}
		hits = append(hits, TileHit{
			ID:       id,
			Tile:     t.Info(),
			Geometry: geom,
			Bounds:   clip(qb, ext),
			Scale:    scale,
		})
	}
	return hits
}

func clip(a, b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
}
