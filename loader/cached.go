package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/jellydator/ttlcache/v3"
	"github.com/paulmach/orb"

	tp "github.com/unkn0wn-root/tilepyramid"
	"github.com/unkn0wn-root/tilepyramid/internal/util"
	"github.com/unkn0wn-root/tilepyramid/payload"
	"github.com/unkn0wn-root/tilepyramid/tileid"
)

const (
	defaultWorkers    = 8
	defaultFailureTTL = 30 * time.Second
)

// ErrLoaderClosed is reported to loads started after Close.
var ErrLoaderClosed = errors.New("loader: closed")

// Options configure a Cached loader. Fetcher is required.
type Options struct {
	Fetcher Fetcher
	// Decoder builds the tile payload. nil => the payload is the Response itself.
	Decoder Decoder
	// Cache holds raw responses keyed by canonical tile. nil => always fetch.
	Cache payload.Cache[Response]

	Logger tp.Logger   // if nil, NopLogger is used
	Clock  clock.Clock // nil => wall clock

	// Bounds limits HasTile to tiles touching this lon/lat box. Zero => whole world.
	Bounds orb.Bound
	// FailureTTL is how long a failed fetch is answered from memory. 0 => 30s, <0 disables.
	FailureTTL time.Duration
	// Workers bounds concurrent fetches. 0 => 8.
	Workers int
}

// Cached is a tilepyramid.Loader backed by a payload cache, a negative cache of
// recent failures and a bounded pool of fetch goroutines.
type Cached struct {
	fetch   Fetcher
	decode  Decoder
	cache   payload.Cache[Response]
	log     tp.Logger
	clock   clock.Clock
	bounds  orb.Bound
	failed  *ttlcache.Cache[string, error]
	sem     chan struct{}
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	loads, cacheHits, negHits, fetches, fetchErrs, aborts, bytes atomic.Uint64
}

var (
	_ tp.Loader      = (*Cached)(nil)
	_ tp.TileChecker = (*Cached)(nil)
)

func New(opts Options) (*Cached, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("loader: fetcher is required")
	}
	l := &Cached{
		fetch:  opts.Fetcher,
		decode: opts.Decoder,
		cache:  opts.Cache,
		bounds: opts.Bounds,
	}
	if l.decode == nil {
		l.decode = DecoderFunc(func(_ context.Context, _ tileid.ID, r Response) (any, error) { return r, nil })
	}
	if opts.Logger != nil {
		l.log = opts.Logger
	} else {
		l.log = tp.NopLogger{}
	}
	if opts.Clock != nil {
		l.clock = opts.Clock
	} else {
		l.clock = clock.New()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	l.sem = make(chan struct{}, workers)

	ttl := opts.FailureTTL
	if ttl == 0 {
		ttl = defaultFailureTTL
	}
	if ttl > 0 {
		l.failed = ttlcache.New[string, error](
			ttlcache.WithTTL[string, error](ttl),
			ttlcache.WithDisableTouchOnHit[string, error](),
		)
		go l.failed.Start()
	}
	return l, nil
}

// cacheKey addresses source bytes: every wrap and overscaled copy of a canonical
// tile shares one response.
func cacheKey(id tileid.ID) string {
	c := id.Canonical
	return util.TileKey(uint8(c.Z), c.X, c.Y)
}

// HasTile reports whether id touches the configured bounds.
func (l *Cached) HasTile(id tileid.ID) bool { return boundsCheck(l.bounds, id) }

// Load is called with the pyramid lock held; all I/O happens on a worker goroutine.
func (l *Cached) Load(ctx context.Context, t *tp.Tile, done func(tp.LoadResult)) {
	l.loads.Add(1)
	id := t.ID()
	// an explicit Reload wants origin data, not our own copy
	fresh := t.State() == tp.StateReloading
	key := cacheKey(id)

	if l.failed != nil {
		if it := l.failed.Get(key); it != nil {
			l.negHits.Add(1)
			done(tp.LoadResult{Err: it.Value()})
			return
		}
	}

	l.closeMu.RLock()
	defer l.closeMu.RUnlock()
	if l.closed {
		done(tp.LoadResult{Err: ErrLoaderClosed})
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			done(tp.LoadResult{Err: ctx.Err()})
			return
		}
		defer func() { <-l.sem }()
		done(l.load(ctx, id, key, fresh))
	}()
}

func (l *Cached) load(ctx context.Context, id tileid.ID, key string, fresh bool) tp.LoadResult {
	if l.cache != nil && !fresh {
		it, ok, err := l.cache.Get(ctx, key)
		if err != nil {
			l.log.Warn("payload cache read failed", tp.Fields{"tile": key, "err": err})
		}
		if ok {
			l.cacheHits.Add(1)
			exp := tp.Expiry{Expires: it.ExpiresAt}
			if it.Missing {
				return tp.LoadResult{Expiry: exp}
			}
			return l.result(ctx, id, it.Value, exp)
		}
	}

	var gen uint64
	if l.cache != nil {
		gen = l.cache.SnapshotGen(key)
	}
	l.fetches.Add(1)
	resp, err := l.fetch.Fetch(ctx, id)
	if ctx.Err() != nil {
		return tp.LoadResult{Err: ctx.Err()}
	}

	now := l.clock.Now()
	if errors.Is(err, ErrNoTile) {
		exp := tp.Expiry{CacheControl: resp.CacheControl, Expires: resp.Expires}
		if ttl := ttlUntil(exp.At(now), now); l.cache != nil && ttl >= 0 {
			if err := l.cache.SetMissingWithGen(ctx, key, gen, ttl); err != nil {
				l.log.Warn("payload cache write failed", tp.Fields{"tile": key, "err": err})
			}
		}
		return tp.LoadResult{Expiry: exp}
	}
	if err != nil {
		l.fetchErrs.Add(1)
		if l.failed != nil {
			l.failed.Set(key, err, ttlcache.DefaultTTL)
		}
		return tp.LoadResult{Err: err}
	}

	l.bytes.Add(uint64(len(resp.Body)))
	exp := tp.Expiry{CacheControl: resp.CacheControl, Expires: resp.Expires}
	if l.cache != nil {
		if ttl := ttlUntil(exp.At(now), now); ttl >= 0 {
			if err := l.cache.SetWithGen(ctx, key, resp, gen, ttl); err != nil {
				l.log.Warn("payload cache write failed", tp.Fields{"tile": key, "err": err})
			}
		}
	}
	l.log.Debug("tile fetched", tp.Fields{"tile": key, "size": humanize.Bytes(uint64(len(resp.Body)))})
	return l.result(ctx, id, resp, exp)
}

func (l *Cached) result(ctx context.Context, id tileid.ID, r Response, exp tp.Expiry) tp.LoadResult {
	p, err := l.decode.Decode(ctx, id, r)
	if err != nil {
		return tp.LoadResult{Err: fmt.Errorf("decode %s: %w", cacheKey(id), err)}
	}
	return tp.LoadResult{Payload: p, Expiry: exp}
}

// ttlUntil maps an absolute expiry to a cache TTL: 0 (cache default) when unknown,
// -1 when already stale, so the caller skips the write.
func ttlUntil(at, now time.Time) time.Duration {
	switch {
	case at.IsZero():
		return 0
	case !at.After(now):
		return -1
	default:
		return at.Sub(now)
	}
}

// Abort only counts; the pyramid cancels the load's context itself.
func (l *Cached) Abort(*tp.Tile) { l.aborts.Add(1) }

// Unload is a no-op: payloads release themselves through io.Closer.
func (l *Cached) Unload(*tp.Tile) {}

// Invalidate drops the cached response and any remembered failure for the canonical
// tile behind id. Pyramids still holding the tile keep it until their next reload.
func (l *Cached) Invalidate(ctx context.Context, id tileid.ID) error {
	key := cacheKey(id)
	if l.failed != nil {
		l.failed.Delete(key)
	}
	if l.cache == nil {
		return nil
	}
	return l.cache.Invalidate(ctx, key)
}

func (l *Cached) Stats() Stats {
	return Stats{
		Loads:        l.loads.Load(),
		CacheHits:    l.cacheHits.Load(),
		NegativeHits: l.negHits.Load(),
		Fetches:      l.fetches.Load(),
		FetchErrors:  l.fetchErrs.Load(),
		Aborts:       l.aborts.Load(),
		Bytes:        l.bytes.Load(),
	}
}

// Close waits for in-flight loads (bounded by ctx), then closes the payload cache.
func (l *Cached) Close(ctx context.Context) error {
	l.closeMu.Lock()
	if l.closed {
		l.closeMu.Unlock()
		return nil
	}
	l.closed = true
	l.closeMu.Unlock()

	var errs *multierror.Error
	idle := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		errs = multierror.Append(errs, fmt.Errorf("loader: waiting for in-flight loads: %w", ctx.Err()))
	}

	if l.failed != nil {
		l.failed.Stop()
	}
	if l.cache != nil {
		if err := l.cache.Close(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	l.log.Info("loader closed", tp.Fields{"fetched": humanize.Bytes(l.bytes.Load()), "fetches": l.fetches.Load()})
	return errs.ErrorOrNil()
}
