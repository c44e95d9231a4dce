// Package payload is a generation-checked cache for fetched tile responses.
//
// Every entry is written with the generation observed before the fetch started
// (SnapshotGen, then SetWithGen). Invalidate bumps the generation, so a fetch that
// raced with an invalidation can never repopulate the cache with old bytes.
package payload

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	tp "github.com/unkn0wn-root/tilepyramid"
	c "github.com/unkn0wn-root/tilepyramid/codec"
	gen "github.com/unkn0wn-root/tilepyramid/genstore"
	pr "github.com/unkn0wn-root/tilepyramid/provider"
)

type SetCostFunc func(storageKey string, raw []byte) int64

// Item is one cache hit.
type Item[V any] struct {
	Value     V
	ExpiresAt time.Time // zero => no expiry recorded
	// Missing is a remembered "origin has no such tile"; Value is the zero V.
	Missing bool
}

// Cache is the provider-agnostic payload cache.
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	Get(ctx context.Context, key string) (Item[V], bool, error)
	SetWithGen(ctx context.Context, key string, value V, observedGen uint64, ttl time.Duration) error
	// SetMissingWithGen remembers that the origin has no tile for key.
	SetMissingWithGen(ctx context.Context, key string, observedGen uint64, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error

	SnapshotGen(key string) uint64
}

// Options tune the cache. Namespace, Provider and Codec are required.
type Options[V any] struct {
	Namespace string // e.g. tileset name; keeps tilesets sharing a provider apart
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger          tp.Logger     // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	Clock           clock.Clock   // nil => wall clock
	DefaultTTL      time.Duration // ttl == 0 on Set; 0 => 10m
	MissingTTL      time.Duration // ttl == 0 on SetMissing; 0 => 1m
	CleanupInterval time.Duration // 0 => 1h
	GenRetention    time.Duration // 0 => 30d
	Disabled        bool          // default false (enabled)
	ComputeSetCost  SetCostFunc   // default len(raw)
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process)
	OwnGenStore     bool          // Close also closes a supplied GenStore
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
