package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindTomb  byte = 2

	hdrLen = 4 + 1 + 1 + 8 + 8 + 4
)

var (
	ErrCorrupt = errors.New("tilepyramid: corrupt cache entry")
	magic4     = [...]byte{'T', 'P', 'Y', 'R'}
)

// Entry is one framed payload.
type Entry struct {
	Gen       uint64
	ExpiresAt time.Time // zero => no expiry
	// Tombstone marks a remembered miss (the origin had no tile). Payload is empty.
	Tombstone bool
	Payload   []byte
}

// Expired reports whether the entry's own expiry has passed at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames an entry:
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | expires(i64 be, unix ms, 0=none) | vlen(u32 be) | payload(vlen)
func Encode(e Entry) []byte {
	var buf bytes.Buffer
	buf.Grow(hdrLen + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	if e.Tombstone {
		buf.WriteByte(kindTomb)
	} else {
		buf.WriteByte(kindEntry)
	}

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.Gen)
	buf.Write(u8[:])

	var exp int64
	if !e.ExpiresAt.IsZero() {
		exp = e.ExpiresAt.UnixMilli()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(exp))
	buf.Write(u8[:])

	payload := e.Payload
	if e.Tombstone {
		payload = nil
	}
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode parses a framed entry. Payload aliases b.
func Decode(b []byte) (Entry, error) {
	if len(b) < hdrLen || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	var e Entry
	switch b[5] {
	case kindEntry:
	case kindTomb:
		e.Tombstone = true
	default:
		return Entry{}, ErrCorrupt
	}

	off := 6
	e.Gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	if ms := int64(binary.BigEndian.Uint64(b[off : off+8])); ms != 0 {
		e.ExpiresAt = time.UnixMilli(ms)
	}
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // exact: trailing bytes are corruption
		return Entry{}, ErrCorrupt
	}
	if e.Tombstone && vlen != 0 {
		return Entry{}, ErrCorrupt
	}
	e.Payload = b[off : off+vlen]
	return e, nil
}
