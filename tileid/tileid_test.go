package tileid

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New(2, 0, 3, 0, 0); err == nil {
		t.Fatalf("expected error when canonical zoom exceeds overscaled zoom")
	}
	if _, err := New(1, 0, 1, 2, 0); err == nil {
		t.Fatalf("expected error for x out of range")
	}
	if _, err := New(30, 0, 25, 0, 0); err == nil {
		t.Fatalf("expected error above MaxCanonicalZoom")
	}
	if _, err := New(64, 0, 3, 0, 0); err == nil {
		t.Fatalf("expected error above MaxOverscaledZoom")
	}
}

func TestNewBoundsWrapByZoom(t *testing.T) {
	if MaxWrap(0) != 1<<31 || MaxWrap(10) != 1<<31 || MaxWrap(24) != 16 {
		t.Fatalf("MaxWrap z0=%d z10=%d z24=%d", MaxWrap(0), MaxWrap(10), MaxWrap(24))
	}
	if _, err := New(0, math.MaxInt32, 0, 0, 0); err != nil {
		t.Fatalf("z0 accepts any wrap: %v", err)
	}
	for _, wrap := range []int32{16, -17, 1000} {
		if _, err := New(24, wrap, 24, 0, 0); err == nil {
			t.Fatalf("wrap %d accepted at z24", wrap)
		}
	}

	last := uint32(1<<24 - 1)
	seen := make(map[uint64]ID)
	for _, wrap := range []int32{-16, -1, 0, 15} {
		for _, xy := range []uint32{0, last} {
			id, err := New(24, wrap, 24, xy, xy)
			if err != nil {
				t.Fatalf("wrap %d: %v", wrap, err)
			}
			if prev, dup := seen[id.Key()]; dup {
				t.Fatalf("key collision %s vs %s", id, prev)
			}
			seen[id.Key()] = id
			if back := FromKey(id.Key()); back != id {
				t.Fatalf("FromKey got=%s want=%s", back, id)
			}
		}
	}
}

func TestKeyInvertsAndDistinguishesWrap(t *testing.T) {
	seen := make(map[uint64]ID)
	for _, wrap := range []int32{-3, -1, 0, 1, 2} {
		for z := uint8(0); z <= 3; z++ {
			dim := uint32(1) << z
			for x := uint32(0); x < dim; x++ {
				for y := uint32(0); y < dim; y++ {
					for _, oz := range []uint8{z, z + 1, z + 4} {
						id := MustNew(oz, wrap, z, x, y)
						k := id.Key()
						if prev, dup := seen[k]; dup {
							t.Fatalf("key collision: %v and %v -> %d", prev, id, k)
						}
						seen[k] = id
						if back := FromKey(k); back != id {
							t.Fatalf("FromKey(%d)=%v want %v", k, back, id)
						}
					}
				}
			}
		}
	}
}

func TestKeyDeepZoom(t *testing.T) {
	id := MustNew(30, -2, 24, 1<<24-1, 1<<24-1)
	if back := FromKey(id.Key()); back != id {
		t.Fatalf("FromKey=%v want %v", back, id)
	}
}

func TestParentUnwindsOverscaleFirst(t *testing.T) {
	id := MustNew(6, 0, 4, 5, 9)

	p, ok := id.Parent()
	if !ok || p != MustNew(5, 0, 4, 5, 9) {
		t.Fatalf("parent=%v ok=%v", p, ok)
	}
	p, _ = p.Parent()
	if p != MustNew(4, 0, 4, 5, 9) {
		t.Fatalf("second parent=%v", p)
	}
	p, _ = p.Parent()
	if p != MustNew(3, 0, 3, 2, 4) {
		t.Fatalf("third parent=%v", p)
	}

	root := MustNew(0, 1, 0, 0, 0)
	if _, ok := root.Parent(); ok {
		t.Fatalf("zoom 0 must not have a parent")
	}
}

func TestParentKeepsWrap(t *testing.T) {
	p, _ := MustNew(2, -1, 2, 3, 1).Parent()
	if p.Wrap != -1 {
		t.Fatalf("wrap=%d want -1", p.Wrap)
	}
}

func TestChildren(t *testing.T) {
	kids := MustNew(1, 0, 1, 1, 0).Children(10)
	if len(kids) != 4 {
		t.Fatalf("len=%d want 4", len(kids))
	}
	want := map[ID]bool{
		MustNew(2, 0, 2, 2, 0): true,
		MustNew(2, 0, 2, 3, 0): true,
		MustNew(2, 0, 2, 2, 1): true,
		MustNew(2, 0, 2, 3, 1): true,
	}
	for _, k := range kids {
		if !want[k] {
			t.Fatalf("unexpected child %v", k)
		}
	}

	over := MustNew(10, 2, 10, 7, 7).Children(10)
	if len(over) != 1 || over[0] != MustNew(11, 2, 10, 7, 7) {
		t.Fatalf("overscaled children=%v", over)
	}
}

func TestIsChildOfIgnoresWrap(t *testing.T) {
	parent := MustNew(1, 0, 1, 1, 1)
	child := MustNew(3, 2, 3, 6, 5)
	if !child.IsChildOf(parent) {
		t.Fatalf("%v should be child of %v", child, parent)
	}
	if parent.IsChildOf(child) {
		t.Fatalf("parent cannot be child of its descendant")
	}
	if MustNew(3, 0, 3, 0, 0).IsChildOf(parent) {
		t.Fatalf("different cell must not match")
	}
	if !MustNew(5, 0, 3, 6, 5).IsChildOf(MustNew(4, 0, 3, 6, 5)) {
		t.Fatalf("overscaled request is a child of the shallower request of the same cell")
	}
}

func TestSortAscendingZoom(t *testing.T) {
	ids := []ID{
		MustNew(3, 0, 3, 1, 1),
		MustNew(1, 0, 1, 1, 0),
		MustNew(1, -1, 1, 0, 0),
		MustNew(2, 0, 2, 0, 1),
		MustNew(2, 0, 2, 1, 0),
	}
	Sort(ids)
	want := []ID{
		MustNew(1, -1, 1, 0, 0),
		MustNew(1, 0, 1, 1, 0),
		MustNew(2, 0, 2, 1, 0),
		MustNew(2, 0, 2, 0, 1),
		MustNew(3, 0, 3, 1, 1),
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("pos %d: got=%v want=%v", i, ids[i], want[i])
		}
	}
}

func TestTilePoint(t *testing.T) {
	id := MustNew(1, 1, 1, 1, 0)
	got := id.TilePoint(orb.Point{1.75, 0.25})
	if math.Abs(got[0]-Extent/2) > 1e-9 || math.Abs(got[1]-Extent/2) > 1e-9 {
		t.Fatalf("got=%v want center of tile", got)
	}
}

func TestString(t *testing.T) {
	if s := MustNew(5, -1, 3, 2, 1).String(); s != "3/2/1@5w-1" {
		t.Fatalf("got=%q", s)
	}
	if s := MustNew(3, 0, 3, 2, 1).String(); s != "3/2/1" {
		t.Fatalf("got=%q", s)
	}
}
