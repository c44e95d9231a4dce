// Package tileid models quadtree tile coordinates as requested by a viewport.
//
// An ID pairs the canonical cell (the real z/x/y of the source pyramid) with the
// requested detail level (OverscaledZ, which may exceed the source maxzoom) and the
// world copy it is drawn in (Wrap, the number of antimeridian crossings).
//
// Two IDs name the same tile iff every field matches. Key packs the tuple into a
// uint64 that is unique for the ranges New accepts:
//
//	key = ((zigzag(wrap)*2^z + y)*2^z + x)*32 + z)*64 + overscaledZ
//
// so zigzag(wrap) must stay below 2^(53-2z): any int32 wrap up to z10, |wrap| <= 16
// at z24 (see MaxWrap). Children of a tile near that bound may leave it.
package tileid

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	// MaxCanonicalZoom bounds the canonical level so keys stay collision free.
	MaxCanonicalZoom = 24
	// MaxOverscaledZoom is the deepest level a viewport may request.
	MaxOverscaledZoom = 63

	// Extent is the tile-space size of one tile edge.
	Extent = 8192
)

// ID is an immutable tile coordinate.
type ID struct {
	OverscaledZ uint8
	Wrap        int32
	Canonical   maptile.Tile
}

// MaxWrap returns the largest |wrap| whose keys stay collision free at canonical
// zoom z. Negative wraps reach -MaxWrap(z), positive ones MaxWrap(z)-1.
func MaxWrap(z uint8) int64 {
	bits := 53 - 2*int(min(z, MaxCanonicalZoom))
	if bits > 32 {
		return 1 << 31
	}
	return 1 << (bits - 1)
}

// New validates and returns the coordinate.
func New(overscaledZ uint8, wrap int32, z uint8, x, y uint32) (ID, error) {
	if z > MaxCanonicalZoom {
		return ID{}, fmt.Errorf("tileid: canonical zoom %d exceeds %d", z, MaxCanonicalZoom)
	}
	if overscaledZ > MaxOverscaledZoom {
		return ID{}, fmt.Errorf("tileid: overscaled zoom %d exceeds %d", overscaledZ, MaxOverscaledZoom)
	}
	if z > overscaledZ {
		return ID{}, fmt.Errorf("tileid: canonical zoom %d above overscaled zoom %d", z, overscaledZ)
	}
	t := maptile.New(x, y, maptile.Zoom(z))
	if !t.Valid() {
		return ID{}, fmt.Errorf("tileid: %d/%d out of range at zoom %d", x, y, z)
	}
	if w, lim := int64(wrap), MaxWrap(z); w < -lim || w >= lim {
		return ID{}, fmt.Errorf("tileid: wrap %d out of range at zoom %d", wrap, z)
	}
	return ID{OverscaledZ: overscaledZ, Wrap: wrap, Canonical: t}, nil
}

// MustNew is like New but panics on invalid input. Handy in tests and tables.
func MustNew(overscaledZ uint8, wrap int32, z uint8, x, y uint32) ID {
	id, err := New(overscaledZ, wrap, z, x, y)
	if err != nil {
		panic(err)
	}
	return id
}

// FromTile returns the non-overscaled coordinate for a canonical cell.
func FromTile(t maptile.Tile, wrap int32) ID {
	return ID{OverscaledZ: uint8(t.Z), Wrap: wrap, Canonical: t}
}

// Z returns the canonical zoom.
func (id ID) Z() uint8 { return uint8(id.Canonical.Z) }

func zigzag(w int32) uint64 {
	if w < 0 {
		return uint64(-int64(w))*2 - 1
	}
	return uint64(w) * 2
}

func unzigzag(u uint64) int32 {
	if u%2 == 1 {
		return -int32((u + 1) / 2)
	}
	return int32(u / 2)
}

// Key is the integer lookup key of the coordinate.
func (id ID) Key() uint64 {
	z := uint64(id.Canonical.Z)
	dim := uint64(1) << z
	xy := (zigzag(id.Wrap)*dim+uint64(id.Canonical.Y))*dim + uint64(id.Canonical.X)
	return (xy*32+z)*64 + uint64(id.OverscaledZ)
}

// FromKey inverts Key.
func FromKey(k uint64) ID {
	oz := uint8(k % 64)
	k /= 64
	z := k % 32
	xy := k / 32
	dim := uint64(1) << z
	x := xy % dim
	y := (xy / dim) % dim
	w := xy / dim / dim
	return ID{
		OverscaledZ: oz,
		Wrap:        unzigzag(w),
		Canonical:   maptile.New(uint32(x), uint32(y), maptile.Zoom(z)),
	}
}

func (id ID) String() string {
	s := fmt.Sprintf("%d/%d/%d", id.Canonical.Z, id.Canonical.X, id.Canonical.Y)
	if id.OverscaledZ != uint8(id.Canonical.Z) {
		s += fmt.Sprintf("@%d", id.OverscaledZ)
	}
	if id.Wrap != 0 {
		s += fmt.Sprintf("w%d", id.Wrap)
	}
	return s
}

// Equal reports tile identity, wrap included.
func (id ID) Equal(o ID) bool { return id == o }

// OverscaleFactor is 2^(OverscaledZ - canonical z).
func (id ID) OverscaleFactor() uint32 {
	return uint32(1) << (id.OverscaledZ - id.Z())
}

// IsOverscaled reports whether the request is deeper than the canonical cell.
func (id ID) IsOverscaled() bool { return id.OverscaledZ > id.Z() }

// ScaledTo returns the coordinate at level z. Below the canonical zoom this is an
// ancestor cell; above it the canonical cell is kept and only the requested level moves.
func (id ID) ScaledTo(z uint8) ID {
	cz := id.Z()
	if z > cz {
		return ID{OverscaledZ: z, Wrap: id.Wrap, Canonical: id.Canonical}
	}
	d := cz - z
	return ID{
		OverscaledZ: z,
		Wrap:        id.Wrap,
		Canonical:   maptile.New(id.Canonical.X>>d, id.Canonical.Y>>d, maptile.Zoom(z)),
	}
}

// Parent is ScaledTo(OverscaledZ-1). Overscale unwinds before the canonical zoom drops.
// ok is false at level 0.
func (id ID) Parent() (ID, bool) {
	if id.OverscaledZ == 0 {
		return ID{}, false
	}
	return id.ScaledTo(id.OverscaledZ - 1), true
}

// Children returns the four canonical children one level deeper, or a single overscaled
// child once the request is at or beyond sourceMaxZoom. It returns nil at MaxOverscaledZoom.
func (id ID) Children(sourceMaxZoom uint8) []ID {
	if id.OverscaledZ >= MaxOverscaledZoom {
		return nil
	}
	if id.OverscaledZ >= sourceMaxZoom {
		return []ID{{OverscaledZ: id.OverscaledZ + 1, Wrap: id.Wrap, Canonical: id.Canonical}}
	}
	kids := id.Canonical.Children()
	out := make([]ID, 0, len(kids))
	for _, k := range kids {
		out = append(out, ID{OverscaledZ: id.OverscaledZ + 1, Wrap: id.Wrap, Canonical: k})
	}
	return out
}

// IsChildOf reports whether id lies under parent's canonical cell at a deeper requested
// level. Wrap is ignored: this is a coverage comparison, not identity.
func (id ID) IsChildOf(parent ID) bool {
	if parent.OverscaledZ >= id.OverscaledZ || parent.Z() > id.Z() {
		return false
	}
	d := id.Z() - parent.Z()
	return id.Canonical.X>>d == parent.Canonical.X && id.Canonical.Y>>d == parent.Canonical.Y
}

// Unwrapped returns the same tile in the primary world copy.
func (id ID) Unwrapped() ID {
	id.Wrap = 0
	return id
}

// TilePoint maps a mercator world coordinate (unit square, x shifted by whole worlds for
// wrapped copies) into this tile's [0, Extent] space.
func (id ID) TilePoint(p orb.Point) orb.Point {
	n := float64(uint64(1) << id.Canonical.Z)
	return orb.Point{
		((p[0]-float64(id.Wrap))*n - float64(id.Canonical.X)) * Extent,
		(p[1]*n - float64(id.Canonical.Y)) * Extent,
	}
}

// Compare orders by requested zoom, then wrap, canonical zoom, row and column.
func Compare(a, b ID) int {
	if c := cmp.Compare(a.OverscaledZ, b.OverscaledZ); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Wrap, b.Wrap); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Canonical.Z, b.Canonical.Z); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Canonical.Y, b.Canonical.Y); c != 0 {
		return c
	}
	return cmp.Compare(a.Canonical.X, b.Canonical.X)
}

// Sort sorts ids in place by Compare.
func Sort(ids []ID) { slices.SortFunc(ids, Compare) }
