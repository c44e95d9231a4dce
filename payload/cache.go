package payload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	tp "github.com/unkn0wn-root/tilepyramid"
	c "github.com/unkn0wn-root/tilepyramid/codec"
	gen "github.com/unkn0wn-root/tilepyramid/genstore"
	"github.com/unkn0wn-root/tilepyramid/internal/util"
	"github.com/unkn0wn-root/tilepyramid/internal/wire"
	pr "github.com/unkn0wn-root/tilepyramid/provider"
)

const (
	keyPrefix           = "tile"
	defaultTTL          = 10 * time.Minute
	defaultMissingTTL   = time.Minute
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour
)

type cache[V any] struct {
	ns             string
	provider       pr.Provider
	codec          c.Codec[V]
	log            tp.Logger
	hooks          Hooks
	clock          clock.Clock
	enabled        bool
	defaultTTL     time.Duration
	missingTTL     time.Duration
	computeSetCost SetCostFunc
	gen            gen.GenStore
	ownsGen        bool
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("payload: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("payload: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("payload: namespace is required")
	}

	c := &cache[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
	}

	// defaults
	c.log = coalesce[tp.Logger](opts.Logger, tp.NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.clock = coalesce[clock.Clock](opts.Clock, clock.New())
	c.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	c.missingTTL = coalesce(opts.MissingTTL, defaultMissingTTL)

	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	} else {
		c.computeSetCost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}

	if opts.GenStore != nil {
		c.gen = opts.GenStore
		c.ownsGen = opts.OwnGenStore
	} else {
		// default to in-process generations with periodic cleanup
		c.gen = gen.NewLocalGenStoreWithClock(c.clock,
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention))
		c.ownsGen = true
	}

	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

// Close stops an owned gen store and closes the provider.
// A caller-supplied GenStore is left open unless Options.OwnGenStore is set.
func (c *cache[V]) Close(ctx context.Context) error {
	var genErr error
	if c.ownsGen {
		genErr = c.gen.Close(ctx)
	}
	return errors.Join(genErr, c.provider.Close(ctx))
}

func (c *cache[V]) Get(ctx context.Context, key string) (Item[V], bool, error) {
	var zero Item[V]
	if !c.enabled {
		return zero, false, nil
	}
	k := c.storageKey(key)
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil || !ok {
		return zero, false, err
	}
	e, err := wire.Decode(raw)
	if err != nil {
		c.heal(ctx, k, HealCorrupt)
		return zero, false, nil
	}
	if e.Expired(c.clock.Now()) {
		// the provider may not enforce per-entry TTLs (bigcache)
		c.heal(ctx, k, HealExpired)
		return zero, false, nil
	}
	g, ok := c.snapshotGen(ctx, k)
	if !ok {
		// keep the entry; it may still be valid once the gen store is back
		return zero, false, nil
	}
	if g != e.Gen {
		c.heal(ctx, k, HealGenMismatch)
		return zero, false, nil
	}
	if e.Tombstone {
		return Item[V]{ExpiresAt: e.ExpiresAt, Missing: true}, true, nil
	}
	v, err := c.codec.Decode(e.Payload)
	if err != nil {
		c.heal(ctx, k, HealDecode)
		return zero, false, nil
	}
	return Item[V]{Value: v, ExpiresAt: e.ExpiresAt}, true, nil
}

func (c *cache[V]) heal(ctx context.Context, storageKey, reason string) {
	_ = c.provider.Del(ctx, storageKey)
	c.hooks.SelfHeal(storageKey, reason)
}

func (c *cache[V]) SetWithGen(ctx context.Context, key string, value V, observedGen uint64, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return err
	}
	return c.set(ctx, key, wire.Entry{Gen: observedGen, Payload: payload}, coalesce(ttl, c.defaultTTL))
}

func (c *cache[V]) SetMissingWithGen(ctx context.Context, key string, observedGen uint64, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	return c.set(ctx, key, wire.Entry{Gen: observedGen, Tombstone: true}, coalesce(ttl, c.missingTTL))
}

// set writes e only while the key is still at e.Gen. ttl < 0 means no expiry.
func (c *cache[V]) set(ctx context.Context, key string, e wire.Entry, ttl time.Duration) error {
	k := c.storageKey(key)
	if g, ok := c.snapshotGen(ctx, k); !ok || g != e.Gen {
		// generation moved; skip stale write
		c.log.Debug("SetWithGen skipped (gen mismatch)", tp.Fields{"key": key, "obs": e.Gen})
		return nil
	}
	if ttl > 0 {
		e.ExpiresAt = c.clock.Now().Add(ttl)
	}
	wireb := wire.Encode(e)
	ok, err := c.provider.Set(ctx, k, wireb, c.computeSetCost(k, wireb), max(ttl, 0))
	if err != nil {
		return err
	}
	if !ok {
		c.hooks.ProviderSetRejected(k)
		c.log.Debug("SetWithGen rejected by provider (pressure)", tp.Fields{"key": key})
	}
	return nil
}

// Invalidate bumps the generation and deletes the stored entry. A failed delete
// alone is harmless (the entry no longer matches) and is only logged.
func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	k := c.storageKey(key)
	newGen, bumpErr := c.gen.Bump(ctx, k)
	if bumpErr != nil {
		c.hooks.GenBumpError(k, bumpErr)
	}
	delErr := c.provider.Del(ctx, k)

	switch {
	case bumpErr != nil && delErr != nil:
		c.hooks.InvalidateOutage(key, bumpErr, delErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	case bumpErr != nil:
		return &InvalidateError{Key: key, BumpErr: bumpErr}
	case delErr != nil:
		c.log.Warn("invalidate: delete failed", tp.Fields{"key": key, "err": delErr})
	}
	c.log.Debug("invalidated key (bumped gen + deleted entry)", tp.Fields{"key": key, "newGen": newGen})
	return nil
}

func (c *cache[V]) SnapshotGen(key string) uint64 {
	g, _ := c.snapshotGen(context.Background(), c.storageKey(key))
	return g
}

// snapshotGen reports ok=false when the gen store failed; callers then refuse both
// reads and writes for the key.
func (c *cache[V]) snapshotGen(ctx context.Context, storageKey string) (uint64, bool) {
	g, err := c.gen.Snapshot(ctx, storageKey)
	if err != nil {
		c.hooks.GenSnapshotError(storageKey, err)
		c.log.Warn("gen snapshot error", tp.Fields{"key": storageKey, "err": err})
		return 0, false
	}
	return g, true
}

func (c *cache[V]) storageKey(userKey string) string {
	return util.EntryKey(keyPrefix, c.ns, userKey)
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
