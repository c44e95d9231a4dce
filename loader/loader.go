// Package loader provides a tilepyramid.Loader that serves tile responses from a
// payload cache before going to the network.
//
// The network itself stays outside: callers supply a Fetcher (HTTP, file, MBTiles)
// and optionally a Decoder that turns response bytes into the payload the renderer
// works with.
package loader

import (
	"context"
	"errors"
	"time"

	"github.com/paulmach/orb"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// ErrNoTile is returned by a Fetcher when the origin has no tile at the address
// (HTTP 404/204). The tile loads empty and the miss is cached.
var ErrNoTile = errors.New("loader: origin has no tile")

// Response is one fetched tile.
type Response struct {
	Body         []byte    `json:"body" cbor:"1,keyasint" msgpack:"body"`
	ContentType  string    `json:"content_type,omitempty" cbor:"2,keyasint,omitempty" msgpack:"content_type,omitempty"`
	CacheControl string    `json:"cache_control,omitempty" cbor:"3,keyasint,omitempty" msgpack:"cache_control,omitempty"`
	Expires      time.Time `json:"expires,omitempty" cbor:"4,keyasint,omitempty" msgpack:"expires,omitempty"`
	ETag         string    `json:"etag,omitempty" cbor:"5,keyasint,omitempty" msgpack:"etag,omitempty"`
}

// Fetcher performs the request for one canonical tile. Implementations must honor
// ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, id tileid.ID) (Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id tileid.ID) (Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, id tileid.ID) (Response, error) { return f(ctx, id) }

// Decoder turns a response into the tile payload. A payload implementing io.Closer is
// closed by the pyramid when the tile is destroyed.
type Decoder interface {
	Decode(ctx context.Context, id tileid.ID, r Response) (any, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, id tileid.ID, r Response) (any, error)

func (f DecoderFunc) Decode(ctx context.Context, id tileid.ID, r Response) (any, error) {
	return f(ctx, id, r)
}

// Stats are cumulative counters since New.
type Stats struct {
	Loads        uint64
	CacheHits    uint64
	NegativeHits uint64
	Fetches      uint64
	FetchErrors  uint64
	Aborts       uint64
	Bytes        uint64 // fetched body bytes
}

// boundsCheck reports whether a canonical tile touches b. A zero bound accepts all.
func boundsCheck(b orb.Bound, id tileid.ID) bool {
	if b == (orb.Bound{}) {
		return true
	}
	return b.Intersects(id.Canonical.Bound())
}
