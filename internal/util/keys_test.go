package util

import (
	"strings"
	"testing"
)

func TestEntryKeyShortVerbatim(t *testing.T) {
	if got := EntryKey("tile", "osm", "3/1/2"); got != "tile:osm:3/1/2" {
		t.Fatalf("got=%q", got)
	}
}

func TestEntryKeyHashesLongKeys(t *testing.T) {
	long := "https://tiles.example.com/3/1/2.pbf?access_token=" + strings.Repeat("x", 200)
	a := EntryKey("tile", "osm", long)
	b := EntryKey("tile", "osm", long)
	if a != b {
		t.Fatalf("hash not deterministic: %q vs %q", a, b)
	}
	if len(a) != len("tile:osm:")+1+24 {
		t.Fatalf("unexpected hashed key %q", a)
	}
	if a == EntryKey("tile", "osm", long+"y") {
		t.Fatalf("different keys collided")
	}
	if EntryKey("tile", "osm", "a b") == "tile:osm:a b" {
		t.Fatalf("whitespace keys must be hashed")
	}
}

func TestTileKey(t *testing.T) {
	if got := TileKey(14, 8192, 5461); got != "14/8192/5461" {
		t.Fatalf("got=%q", got)
	}
}
