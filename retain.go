package tilepyramid

import "github.com/unkn0wn-root/tilepyramid/tileid"

// TileLookup is the read-only view of resident and cached tiles the resolver probes.
type TileLookup interface {
	// ResidentLoaded reports whether a resident tile for id holds data. Ideal tiles and
	// their children are probed with it; cached tiles never stand in for them.
	ResidentLoaded(id tileid.ID) bool
	// Exists reports whether any resident tile (in any state) or cached tile exists for id.
	Exists(id tileid.ID) bool
	// AncestorLoaded reports whether a resident or cached tile for id holds data. It is
	// called at most once per key and pass.
	AncestorLoaded(id tileid.ID) bool
}

// RetainParams is the input of ResolveRetained.
type RetainParams struct {
	Ideal             []tileid.ID
	MinZoom           uint8
	MaxZoom           uint8
	ReparseOverscaled bool
	// MaxOverzooming bounds how many levels the ancestor search climbs. 0 means no bound
	// other than MinZoom.
	MaxOverzooming uint8
}

// ResolveRetained computes the set of tiles to keep resident for an ideal set:
// every ideal tile (unless already covered by loaded children), each missing tile's
// loaded children and its nearest loaded ancestor. The result is keyed by ID.Key().
func ResolveRetained(p RetainParams, look TileLookup) map[uint64]tileid.ID {
	ideal := make([]tileid.ID, 0, len(p.Ideal))
	seen := make(map[uint64]struct{}, len(p.Ideal))
	deepest := uint8(0)
	for _, raw := range p.Ideal {
		id, ok := normalizeIdeal(raw, p)
		if !ok {
			continue
		}
		if _, dup := seen[id.Key()]; dup {
			continue
		}
		seen[id.Key()] = struct{}{}
		ideal = append(ideal, id)
		deepest = max(deepest, id.OverscaledZ)
	}

	// one floor per pass: the memo below is shared by every ideal tile
	floor := uint8(0)
	if p.MaxOverzooming > 0 && deepest > p.MaxOverzooming {
		floor = deepest - p.MaxOverzooming
	}

	retain := make(map[uint64]tileid.ID, len(ideal)*2)
	checked := make(map[uint64]struct{})
	for _, id := range ideal {
		k := id.Key()
		if look.ResidentLoaded(id) {
			retain[k] = id
			continue
		}

		kids := id.Children(p.MaxZoom)
		loaded := 0
		for _, c := range kids {
			if look.ResidentLoaded(c) {
				retain[c.Key()] = c
				loaded++
			}
		}
		if len(kids) > 0 && loaded == len(kids) {
			// fully covered; keep an existing tile but don't request a new one
			if look.Exists(id) {
				retain[k] = id
			}
			continue
		}

		retain[k] = id
		retainAncestor(id, p.MinZoom, floor, look, retain, checked)
	}
	return retain
}

func retainAncestor(id tileid.ID, minZoom, floor uint8, look TileLookup, retain map[uint64]tileid.ID, checked map[uint64]struct{}) {
	for parent, ok := id.Parent(); ok; parent, ok = parent.Parent() {
		if parent.Z() < minZoom || parent.OverscaledZ < floor {
			return
		}
		pk := parent.Key()
		if _, done := checked[pk]; done {
			// an earlier ideal tile already walked this chain
			return
		}
		checked[pk] = struct{}{}
		if look.AncestorLoaded(parent) {
			retain[pk] = parent
			return
		}
	}
}

// normalizeIdeal drops tiles below the source range and maps tiles above it onto the
// deepest canonical zoom the source serves. Without reparsing, overscaled levels
// collapse onto MaxZoom as well.
func normalizeIdeal(id tileid.ID, p RetainParams) (tileid.ID, bool) {
	if id.Z() < p.MinZoom {
		return id, false
	}
	if id.Z() > p.MaxZoom {
		id = tileid.ID{
			OverscaledZ: id.OverscaledZ,
			Wrap:        id.Wrap,
			Canonical:   id.ScaledTo(p.MaxZoom).Canonical,
		}
	}
	if !p.ReparseOverscaled && id.OverscaledZ > p.MaxZoom {
		id = id.ScaledTo(p.MaxZoom)
	}
	return id, true
}
