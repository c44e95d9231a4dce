package util

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// maxRawKey is the longest logical key stored verbatim. Longer keys (tile URLs with
// access tokens) are hashed.
const maxRawKey = 128

// EntryKey returns "<prefix>:<ns>:<key>", hashing key when it is long or contains
// whitespace.
func EntryKey(prefix, ns, key string) string {
	if len(key) > maxRawKey || strings.ContainsAny(key, " \t\r\n") {
		sum := sha256.Sum256([]byte(key))
		key = fmt.Sprintf("h%x", sum[:12])
	}
	return prefix + ":" + ns + ":" + key
}

// TileKey formats a tile address as "<z>/<x>/<y>".
func TileKey(z uint8, x, y uint32) string {
	return fmt.Sprintf("%d/%d/%d", z, x, y)
}
