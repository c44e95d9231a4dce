package tilepyramid

import (
	"testing"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// ====================================================================
// Fake lookup
// ====================================================================

type fakeLookup struct {
	loaded   map[uint64]bool // resident with data
	cached   map[uint64]bool // in the reuse cache with data
	exists   map[uint64]bool
	ancestor map[uint64]int // AncestorLoaded calls per key
}

var _ TileLookup = (*fakeLookup)(nil)

func newFakeLookup(loaded ...tileid.ID) *fakeLookup {
	l := &fakeLookup{
		loaded:   map[uint64]bool{},
		cached:   map[uint64]bool{},
		exists:   map[uint64]bool{},
		ancestor: map[uint64]int{},
	}
	for _, id := range loaded {
		l.loaded[id.Key()] = true
		l.exists[id.Key()] = true
	}
	return l
}

func (l *fakeLookup) cache(ids ...tileid.ID) *fakeLookup {
	for _, id := range ids {
		l.cached[id.Key()] = true
		l.exists[id.Key()] = true
	}
	return l
}

func (l *fakeLookup) ResidentLoaded(id tileid.ID) bool { return l.loaded[id.Key()] }
func (l *fakeLookup) Exists(id tileid.ID) bool         { return l.exists[id.Key()] }
func (l *fakeLookup) AncestorLoaded(id tileid.ID) bool {
	l.ancestor[id.Key()]++
	return l.loaded[id.Key()] || l.cached[id.Key()]
}

func params(ideal ...tileid.ID) RetainParams {
	return RetainParams{Ideal: ideal, MinZoom: 0, MaxZoom: 14, MaxOverzooming: 10}
}

func assertRetained(t *testing.T, got map[uint64]tileid.ID, want ...tileid.ID) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("retained %d tiles %v, want %v", len(got), got, want)
	}
	for _, id := range want {
		if _, ok := got[id.Key()]; !ok {
			t.Fatalf("missing %s in %v", id, got)
		}
	}
}

// ====================================================================
// Tests
// ====================================================================

func TestResolveAllLoadedRetainsExactlyIdeal(t *testing.T) {
	a := tileid.MustNew(5, 0, 5, 10, 10)
	b := tileid.MustNew(5, 0, 5, 11, 10)
	// a loaded parent must not be pulled in
	parent, _ := a.Parent()
	look := newFakeLookup(a, b, parent)

	got := ResolveRetained(params(a, b), look)
	assertRetained(t, got, a, b)
	if len(look.ancestor) != 0 {
		t.Fatalf("no ancestor probes expected, got %v", look.ancestor)
	}
}

func TestResolveMissingTileUsesLoadedAncestor(t *testing.T) {
	id := tileid.MustNew(6, 0, 6, 20, 20)
	grand := id.ScaledTo(4)
	look := newFakeLookup(grand)

	got := ResolveRetained(params(id), look)
	assertRetained(t, got, id, grand)
}

func TestResolveFullyCoveredByChildren(t *testing.T) {
	id := tileid.MustNew(3, 0, 3, 2, 2)
	kids := id.Children(14)
	look := newFakeLookup(kids...)

	got := ResolveRetained(params(id), look)
	assertRetained(t, got, kids...)

	// an existing (loading) ideal tile stays resident
	look.exists[id.Key()] = true
	got = ResolveRetained(params(id), look)
	assertRetained(t, got, append([]tileid.ID{id}, kids...)...)
}

func TestResolveCachedChildrenDoNotCover(t *testing.T) {
	id := tileid.MustNew(3, 0, 3, 2, 2)
	kids := id.Children(14)
	look := newFakeLookup().cache(kids...)

	got := ResolveRetained(params(id), look)
	assertRetained(t, got, id)
}

func TestResolveCachedAncestorStandsIn(t *testing.T) {
	id := tileid.MustNew(6, 0, 6, 20, 20)
	parent, _ := id.Parent()
	look := newFakeLookup().cache(parent)

	got := ResolveRetained(params(id), look)
	assertRetained(t, got, id, parent)
}

func TestResolveCachedIdealIsRetained(t *testing.T) {
	id := tileid.MustNew(4, 0, 4, 3, 3)
	look := newFakeLookup().cache(id)

	got := ResolveRetained(params(id), look)
	assertRetained(t, got, id)
}

func TestResolvePartialChildrenAndAncestor(t *testing.T) {
	id := tileid.MustNew(3, 0, 3, 2, 2)
	kids := id.Children(14)
	parent, _ := id.Parent()
	look := newFakeLookup(kids[0], kids[3], parent)

	got := ResolveRetained(params(id), look)
	assertRetained(t, got, id, kids[0], kids[3], parent)
}

func TestResolveAncestorProbedOncePerKey(t *testing.T) {
	// Sixteen z4 tiles under one z2 tile; nothing loaded.
	var ideal []tileid.ID
	for x := uint32(0); x < 4; x++ {
		for y := uint32(0); y < 4; y++ {
			ideal = append(ideal, tileid.MustNew(4, 0, 4, x, y))
		}
	}
	look := newFakeLookup()
	got := ResolveRetained(params(ideal...), look)
	assertRetained(t, got, ideal...)

	for k, n := range look.ancestor {
		if n != 1 {
			t.Fatalf("ancestor %s probed %d times", tileid.FromKey(k), n)
		}
	}
	// z3 parents (4) + z2, z1, z0 ancestor
	if len(look.ancestor) != 7 {
		t.Fatalf("probed %d ancestors, want 7", len(look.ancestor))
	}
}

func TestResolveMinZoom(t *testing.T) {
	p := params()
	p.MinZoom = 3

	low := tileid.MustNew(2, 0, 2, 1, 1)
	atMin := tileid.MustNew(3, 0, 3, 1, 1)
	p.Ideal = []tileid.ID{low, atMin}
	look := newFakeLookup(tileid.MustNew(2, 0, 2, 0, 0))

	got := ResolveRetained(p, look)
	assertRetained(t, got, atMin)
	if len(look.ancestor) != 0 {
		t.Fatalf("must not probe below min zoom: %v", look.ancestor)
	}
}

func TestResolveClampsAboveMaxZoom(t *testing.T) {
	p := params()
	p.MaxZoom = 4
	deep := tileid.MustNew(6, 0, 6, 40, 40)
	p.Ideal = []tileid.ID{deep}

	got := ResolveRetained(p, newFakeLookup())
	want := deep.ScaledTo(4)
	assertRetained(t, got, want)

	p.ReparseOverscaled = true
	got = ResolveRetained(p, newFakeLookup())
	over := tileid.ID{OverscaledZ: 6, Canonical: deep.ScaledTo(4).Canonical}
	assertRetained(t, got, over)
}

func TestResolveOverscaledChildProbe(t *testing.T) {
	p := params()
	p.MaxZoom = 4
	p.ReparseOverscaled = true
	id := tileid.MustNew(4, 0, 4, 3, 3)
	child := tileid.ID{OverscaledZ: 5, Canonical: id.Canonical}
	p.Ideal = []tileid.ID{id}

	got := ResolveRetained(p, newFakeLookup(child))
	assertRetained(t, got, child)
}

func TestResolveMaxOverzooming(t *testing.T) {
	p := params()
	p.MaxOverzooming = 2
	id := tileid.MustNew(10, 0, 10, 500, 500)
	far := id.ScaledTo(7)
	p.Ideal = []tileid.ID{id}
	look := newFakeLookup(far)

	got := ResolveRetained(p, look)
	assertRetained(t, got, id)
	if len(look.ancestor) != 2 {
		t.Fatalf("probed %d levels want 2", len(look.ancestor))
	}
}

func TestResolveMaxOverzoomingFloorSharedAcrossPass(t *testing.T) {
	p := params()
	p.MaxOverzooming = 2
	// the floor comes from the deepest ideal tile, so the shallow tile stops at z4 too
	shallow := tileid.MustNew(5, 0, 5, 0, 0)
	deep := tileid.MustNew(6, 0, 6, 0, 0)
	far := deep.ScaledTo(3)
	p.Ideal = []tileid.ID{shallow, deep}
	look := newFakeLookup(far)

	got := ResolveRetained(p, look)
	assertRetained(t, got, shallow, deep)

	if look.ancestor[far.Key()] != 0 {
		t.Fatalf("probed %s below the pass floor", far)
	}
	if look.ancestor[deep.ScaledTo(4).Key()] != 1 {
		t.Fatalf("4/0/0 probes got=%d want=1", look.ancestor[deep.ScaledTo(4).Key()])
	}
}

func TestResolveDeduplicatesAndKeepsWraps(t *testing.T) {
	a := tileid.MustNew(2, 0, 2, 1, 1)
	aw := tileid.MustNew(2, 1, 2, 1, 1)
	got := ResolveRetained(params(a, a, aw), newFakeLookup(a, aw))
	assertRetained(t, got, a, aw)
}
