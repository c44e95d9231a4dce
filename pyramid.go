package tilepyramid

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// maxUnderzooming is how many levels below a fading tile loaded descendants are kept.
const maxUnderzooming = 3

type pyramid struct {
	ns             string
	loader         Loader
	source         Source
	coverage       Coverage
	log            Logger
	hooks          Hooks
	clock          clock.Clock
	fadeDuration   time.Duration
	maxOverzooming uint8
	maxCacheSize   int
	queryPadding   float64

	// parent of every load context; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending queue

	tiles  map[uint64]*Tile
	parked map[uint64]*Tile // cached ancestors taken out by FindLoadedParent
	cache  *TileCache

	meta      SourceMetadata
	metaReady bool
	viewportW float64
	viewportH float64

	paused         bool
	reloadOnResume bool
	closed         bool

	outcomes    []LoadOutcome
	cur         *UpdateResult // non-nil while Update runs
	collecting  bool          // Close gathers release errors
	releaseErrs []error
}

func newPyramid(opts Options) (*pyramid, error) {
	if opts.Loader == nil {
		return nil, fmt.Errorf("tilepyramid: loader is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("tilepyramid: source is required")
	}
	if opts.FadeDuration < 0 {
		return nil, fmt.Errorf("tilepyramid: negative fade duration %v", opts.FadeDuration)
	}
	if opts.MaxTileCacheSize < 0 {
		return nil, fmt.Errorf("tilepyramid: negative max tile cache size %d", opts.MaxTileCacheSize)
	}

	p := &pyramid{
		loader:       opts.Loader,
		source:       opts.Source,
		coverage:     opts.Coverage,
		fadeDuration: opts.FadeDuration,
		maxCacheSize: opts.MaxTileCacheSize,
		queryPadding: max(opts.QueryPadding, 0),
		tiles:        make(map[uint64]*Tile),
		parked:       make(map[uint64]*Tile),
	}

	// defaults
	p.ns = coalesce(opts.Namespace, defaultNamespace)
	p.log = coalesce[Logger](opts.Logger, NopLogger{})
	p.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	p.clock = coalesce[clock.Clock](opts.Clock, clock.New())
	p.maxOverzooming = coalesce[uint8](opts.MaxOverzooming, defaultMaxOverzooming)

	initial := defaultCacheSize
	if p.maxCacheSize > 0 {
		initial = min(initial, p.maxCacheSize)
	}
	p.cache = NewTileCache(initial, p.destroy)
	p.cache.clock = p.clock
	p.cache.schedule = p.enqueue

	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// ====================================================================
// Update
// ====================================================================

func (p *pyramid) Update(ideal []tileid.ID) UpdateResult {
	p.lock()
	defer p.unlock()
	return p.update(ideal)
}

func (p *pyramid) Sync() UpdateResult {
	if p.coverage == nil {
		p.log.Warn("sync without coverage", Fields{"ns": p.ns})
		return UpdateResult{}
	}
	// coverage math runs outside the lock
	return p.Update(p.coverage.IdealTiles())
}

func (p *pyramid) update(ideal []tileid.ID) UpdateResult {
	var res UpdateResult
	if p.closed || !p.refreshMetadata() {
		return res
	}
	res.MetadataReady = true
	if p.paused {
		res.Paused = true
		return res
	}

	p.cur = &res
	defer func() { p.cur = nil }()

	if checker, ok := p.loader.(TileChecker); ok {
		kept := make([]tileid.ID, 0, len(ideal))
		for _, id := range ideal {
			if checker.HasTile(id) {
				kept = append(kept, id)
			}
		}
		ideal = kept
	}

	retain := ResolveRetained(RetainParams{
		Ideal:             ideal,
		MinZoom:           p.meta.MinZoom,
		MaxZoom:           p.meta.MaxZoom,
		ReparseOverscaled: p.meta.ReparseOverscaled,
		MaxOverzooming:    p.maxOverzooming,
	}, lookup{p})

	for _, id := range sortedIDs(retain) {
		p.addTile(id)
	}
	p.retainFading(retain)

	for _, id := range p.residentIDs() {
		if _, ok := retain[id.Key()]; !ok {
			p.removeTile(id.Key())
		}
	}
	p.restoreParked()

	res.Retained = sortedIDs(retain)
	p.drainOutcomes(&res)

	p.log.Debug("tiles updated", Fields{
		"ns":        p.ns,
		"ideal":     len(ideal),
		"retained":  len(res.Retained),
		"requested": len(res.Requested),
		"reused":    len(res.Reused),
		"removed":   len(res.Removed),
		"cached":    p.cache.Len(),
	})
	return res
}

func (p *pyramid) refreshMetadata() bool {
	meta, ok := p.source.Metadata()
	if !ok {
		return false
	}
	if err := meta.validate(); err != nil {
		p.log.Error("invalid source metadata", Fields{"ns": p.ns, "err": err})
		return false
	}
	meta.TileSize = coalesce(meta.TileSize, defaultTileSize)
	prevSize := p.meta.TileSize
	p.meta, p.metaReady = meta, true
	if meta.TileSize != prevSize {
		p.resizeCache()
	}
	return true
}

// retainFading keeps what a fading tile blends with: its nearest loaded ancestor
// (marked covered) and loaded descendants up to maxUnderzooming levels below.
func (p *pyramid) retainFading(retain map[uint64]tileid.ID) {
	for _, t := range p.tiles {
		t.covered = false
	}
	if p.fadeDuration <= 0 {
		return
	}

	now := p.clock.Now()
	fading := make(map[uint64]struct{})
	var parents []tileid.ID
	for _, id := range sortedIDs(retain) {
		t := p.tiles[id.Key()]
		if t == nil || !t.Fading(now) {
			continue
		}
		fading[id.Key()] = struct{}{}
		if pt, ok := p.findLoadedParent(id, p.meta.MinZoom); ok {
			parents = append(parents, pt.id)
		}
	}
	if len(fading) == 0 {
		return
	}

	for _, id := range p.residentIDs() {
		k := id.Key()
		if _, ok := retain[k]; ok || !p.tiles[k].HasData() {
			continue
		}
		for up, ok := id.Parent(); ok && id.OverscaledZ-up.OverscaledZ <= maxUnderzooming; up, ok = up.Parent() {
			if _, f := fading[up.Key()]; f {
				retain[k] = id
				break
			}
		}
	}

	for _, id := range parents {
		k := id.Key()
		if _, ok := retain[k]; ok {
			continue
		}
		p.addTile(id).covered = true
		retain[k] = id
	}
}

func (p *pyramid) drainOutcomes(res *UpdateResult) {
	for _, o := range p.outcomes {
		if o.Err != nil {
			res.Errored = append(res.Errored, o)
		} else {
			res.Completed = append(res.Completed, o)
		}
	}
	p.outcomes = nil
}

// ====================================================================
// Add / remove
// ====================================================================

func (p *pyramid) AddTile(id tileid.ID) *Tile {
	p.lock()
	defer p.unlock()
	if p.closed {
		return nil
	}
	return p.addTile(id)
}

func (p *pyramid) RemoveTile(key uint64) {
	p.lock()
	defer p.unlock()
	p.removeTile(key)
}

func (p *pyramid) addTile(id tileid.ID) *Tile {
	k := id.Key()
	if t, ok := p.tiles[k]; ok {
		return t
	}

	t, ok := p.parked[k]
	if ok {
		delete(p.parked, k)
	} else {
		t, ok = p.cache.Get(id)
	}

	if ok {
		p.setReloadTimer(t)
		p.hooks.TileReused(id)
		if p.cur != nil {
			p.cur.Reused = append(p.cur.Reused, id)
		}
	} else {
		t = newTile(id, p.clock)
		p.hooks.TileRequested(id)
		if p.cur != nil {
			p.cur.Requested = append(p.cur.Requested, id)
		}
		p.loadTile(t)
	}

	t.uses++
	p.tiles[k] = t
	return t
}

func (p *pyramid) removeTile(k uint64) {
	t, ok := p.tiles[k]
	if !ok {
		return
	}
	t.uses--
	delete(p.tiles, k)
	p.stopReloadTimer(t)
	if t.uses < 0 {
		panic(&InvariantError{Op: "remove tile", Key: k, Uses: t.uses})
	}
	if p.cur != nil {
		p.cur.Removed = append(p.cur.Removed, t.id)
	}
	if t.uses > 0 {
		return
	}
	t.covered = false

	if t.HasData() && t.state != StateReloading {
		// keep the data we have; a refresh in flight is dropped
		p.abortLoad(t)
		if p.cacheTile(t) {
			p.hooks.TileCached(t.id)
			if p.cur != nil {
				p.cur.Cached = append(p.cur.Cached, t.id)
			}
		}
		return
	}
	p.destroy(t, ReasonRemoved)
}

// cacheTile hands t to the reuse cache unless its data is already stale. It reports
// whether the cache kept t.
func (p *pyramid) cacheTile(t *Tile) bool {
	d, ok := t.ExpiryTimeout()
	if ok && d <= 0 {
		p.destroy(t, ReasonExpired)
		return false
	}
	return p.cache.Add(t.id, t, d)
}

func (p *pyramid) restoreParked() {
	if len(p.parked) == 0 {
		return
	}
	ids := make([]tileid.ID, 0, len(p.parked))
	for _, t := range p.parked {
		ids = append(ids, t.id)
	}
	tileid.Sort(ids)
	for _, id := range ids {
		t := p.parked[id.Key()]
		delete(p.parked, id.Key())
		p.cacheTile(t)
	}
}

// destroy unloads t for good. It is also the cache's dispose func.
func (p *pyramid) destroy(t *Tile, reason string) {
	if t.state == StateUnloaded {
		return
	}
	p.abortLoad(t)
	p.stopReloadTimer(t)
	p.loader.Unload(t)
	p.release(t.id, t.payload)
	t.payload = nil
	t.state = StateUnloaded

	p.hooks.TileDestroyed(t.id, reason)
	if p.cur != nil {
		p.cur.Destroyed = append(p.cur.Destroyed, t.id)
	}
	p.log.Debug("tile destroyed", Fields{"ns": p.ns, "tile": t.id.String(), "reason": reason})
}

func (p *pyramid) release(id tileid.ID, payload any) {
	c, ok := payload.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		p.log.Warn("payload release failed", Fields{"ns": p.ns, "tile": id.String(), "err": err})
		if p.collecting {
			p.releaseErrs = append(p.releaseErrs, fmt.Errorf("release %s: %w", id, err))
		}
	}
}

// ====================================================================
// Loading and timers
// ====================================================================

func (p *pyramid) loadTile(t *Tile) {
	p.abortLoad(t)
	t.seq++
	seq := t.seq
	ctx, cancel := context.WithCancel(p.ctx)
	t.cancel = cancel

	var once sync.Once
	p.loader.Load(ctx, t, func(res LoadResult) {
		once.Do(func() {
			p.enqueue(func() { p.loadDone(t, seq, res) })
		})
	})
}

func (p *pyramid) abortLoad(t *Tile) {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.cancel = nil
	t.seq++
	p.loader.Abort(t)
}

func (p *pyramid) loadDone(t *Tile, seq uint64, res LoadResult) {
	if p.closed || t.seq != seq || t.state == StateUnloaded {
		p.hooks.StaleCompletion(t.id)
		p.log.Debug("stale load completion dropped", Fields{"ns": p.ns, "tile": t.id.String()})
		p.release(t.id, res.Payload)
		return
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}

	prev := t.state
	if res.Err != nil {
		p.release(t.id, res.Payload)
		p.release(t.id, t.payload)
		t.payload = nil
		t.state = StateErrored
		p.outcomes = append(p.outcomes, LoadOutcome{ID: t.id, Err: &LoadError{ID: t.id, Err: res.Err}})
		p.hooks.TileLoadFailed(t.id, res.Err)
		p.log.Warn("tile load failed", Fields{"ns": p.ns, "tile": t.id.String(), "err": res.Err})
		return
	}

	if t.payload != nil && !samePayload(t.payload, res.Payload) {
		p.release(t.id, t.payload)
	}
	t.payload = res.Payload
	t.state = StateLoaded
	t.SetExpiry(res.Expiry)
	if p.fadeDuration > 0 {
		t.RegisterFadeDuration(p.fadeDuration)
	}
	if p.tiles[t.id.Key()] == t {
		p.setReloadTimer(t)
	}
	p.outcomes = append(p.outcomes, LoadOutcome{
		ID:        t.id,
		Refreshed: prev == StateExpired || prev == StateReloading,
	})
}

func samePayload(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() || va.Type() != vb.Type() || !va.Comparable() {
		return false
	}
	return va.Equal(vb)
}

func (p *pyramid) setReloadTimer(t *Tile) {
	p.stopReloadTimer(t)
	d, ok := t.ExpiryTimeout()
	if !ok {
		return
	}
	gen := t.timerGen
	t.timer = p.clock.AfterFunc(max(d, 0), func() {
		p.enqueue(func() { p.reloadExpired(t, gen) })
	})
}

func (p *pyramid) stopReloadTimer(t *Tile) {
	t.timerGen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (p *pyramid) reloadExpired(t *Tile, gen uint64) {
	if p.closed || t.timerGen != gen || p.tiles[t.id.Key()] != t {
		return
	}
	t.timer = nil
	p.hooks.TileExpired(t.id)
	p.log.Debug("tile expired, reloading", Fields{"ns": p.ns, "tile": t.id.String()})
	p.reloadTile(t, StateExpired)
}

func (p *pyramid) reloadTile(t *Tile, s State) {
	if t.state != StateLoading {
		t.state = s
	}
	p.loadTile(t)
}

// ====================================================================
// Lifecycle
// ====================================================================

func (p *pyramid) Reload() {
	p.lock()
	defer p.unlock()
	if p.closed {
		return
	}
	if p.paused {
		p.reloadOnResume = true
		return
	}
	p.reload()
}

func (p *pyramid) reload() {
	p.cache.Clear()
	p.destroyParked()
	for _, id := range p.residentIDs() {
		t := p.tiles[id.Key()]
		if t.state != StateErrored {
			p.reloadTile(t, StateReloading)
		}
	}
}

func (p *pyramid) Pause() {
	p.lock()
	defer p.unlock()
	p.paused = true
}

func (p *pyramid) Resume() {
	p.lock()
	defer p.unlock()
	if !p.paused {
		return
	}
	p.paused = false
	if p.reloadOnResume && !p.closed {
		p.reloadOnResume = false
		p.reload()
	}
}

func (p *pyramid) ClearTiles() {
	p.lock()
	defer p.unlock()
	p.clearTiles()
}

func (p *pyramid) clearTiles() {
	for _, id := range p.residentIDs() {
		t := p.tiles[id.Key()]
		delete(p.tiles, id.Key())
		t.uses = 0
		t.covered = false
		p.destroy(t, ReasonCleared)
	}
	p.destroyParked()
	p.cache.Clear()
}

func (p *pyramid) destroyParked() {
	for k, t := range p.parked {
		delete(p.parked, k)
		p.destroy(t, ReasonCleared)
	}
}

func (p *pyramid) SetViewport(width, height float64) {
	p.lock()
	defer p.unlock()
	p.viewportW, p.viewportH = width, height
	p.resizeCache()
}

func (p *pyramid) resizeCache() {
	if !p.metaReady || p.viewportW <= 0 || p.viewportH <= 0 {
		return
	}
	n := CacheCapacity(p.viewportW, p.viewportH, p.meta.TileSize, p.maxCacheSize)
	if n == p.cache.Capacity() {
		return
	}
	p.cache.SetCapacity(n)
	p.hooks.CacheResized(n)
	p.log.Debug("tile cache resized", Fields{"ns": p.ns, "capacity": n})
}

type loaderCloser interface {
	Close(ctx context.Context) error
}

// Close destroys every tile and cancels in-flight loads. If the Loader has a
// Close(context.Context) error method it is called last. Closing twice returns ErrClosed.
func (p *pyramid) Close(ctx context.Context) error {
	p.lock()
	if p.closed {
		p.unlock()
		return ErrClosed
	}
	p.collecting = true
	p.clearTiles()
	p.collecting = false
	p.closed = true
	p.cancel()
	errs := p.releaseErrs
	p.releaseErrs = nil
	p.unlock()

	var loaderErr error
	if c, ok := p.loader.(loaderCloser); ok {
		loaderErr = c.Close(ctx)
	}
	if len(errs) > 0 || loaderErr != nil {
		return &CloseError{ReleaseErrs: errs, LoaderErr: loaderErr}
	}
	return nil
}

// ====================================================================
// Introspection
// ====================================================================

func (p *pyramid) FindLoadedParent(id tileid.ID, minZoom uint8) (*Tile, bool) {
	p.lock()
	defer p.unlock()
	return p.findLoadedParent(id, minZoom)
}

// findLoadedParent searches resident tiles, then the cache. A cached hit is parked so
// the next Update can retain it; unretained parked tiles go back to the cache.
func (p *pyramid) findLoadedParent(id tileid.ID, minZoom uint8) (*Tile, bool) {
	for parent, ok := id.Parent(); ok && parent.OverscaledZ >= minZoom; parent, ok = parent.Parent() {
		k := parent.Key()
		if t := p.tiles[k]; t != nil && t.HasData() {
			return t, true
		}
		if t := p.parked[k]; t != nil {
			return t, true
		}
		if t, hit := p.cache.Get(parent); hit {
			p.parked[k] = t
			return t, true
		}
	}
	return nil, false
}

func (p *pyramid) ResidentIDs() []tileid.ID {
	p.lock()
	defer p.unlock()
	return p.residentIDs()
}

// RenderableIDs returns resident tiles with data, ascending zoom. Fade holdovers are
// included; Tile.Covered tells them apart.
func (p *pyramid) RenderableIDs() []tileid.ID {
	p.lock()
	defer p.unlock()
	ids := make([]tileid.ID, 0, len(p.tiles))
	for _, t := range p.tiles {
		if t.HasData() {
			ids = append(ids, t.id)
		}
	}
	tileid.Sort(ids)
	return ids
}

func (p *pyramid) State(id tileid.ID) (State, bool) {
	p.lock()
	defer p.unlock()
	t, ok := p.tiles[id.Key()]
	if !ok {
		return 0, false
	}
	return t.state, true
}

func (p *pyramid) Tile(id tileid.ID) (*Tile, bool) {
	p.lock()
	defer p.unlock()
	t, ok := p.tiles[id.Key()]
	return t, ok
}

// TileInfo snapshots a resident tile under the lock.
func (p *pyramid) TileInfo(id tileid.ID) (TileInfo, bool) {
	p.lock()
	defer p.unlock()
	t, ok := p.tiles[id.Key()]
	if !ok {
		return TileInfo{}, false
	}
	return t.Info(), true
}

// Loaded reports whether metadata is available and no resident tile is waiting on
// its loader.
func (p *pyramid) Loaded() bool {
	p.lock()
	defer p.unlock()
	if _, ok := p.source.Metadata(); !ok {
		return false
	}
	for _, t := range p.tiles {
		if t.state != StateLoaded && t.state != StateErrored {
			return false
		}
	}
	return true
}

func (p *pyramid) CacheLen() int {
	p.lock()
	defer p.unlock()
	return p.cache.Len()
}

func (p *pyramid) Outcomes() []LoadOutcome {
	p.lock()
	defer p.unlock()
	out := p.outcomes
	p.outcomes = nil
	return out
}

func (p *pyramid) residentIDs() []tileid.ID {
	ids := make([]tileid.ID, 0, len(p.tiles))
	for _, t := range p.tiles {
		ids = append(ids, t.id)
	}
	tileid.Sort(ids)
	return ids
}

func sortedIDs(m map[uint64]tileid.ID) []tileid.ID {
	ids := make([]tileid.ID, 0, len(m))
	for _, id := range m {
		ids = append(ids, id)
	}
	tileid.Sort(ids)
	return ids
}

// lookup is the resolver's view of resident, parked and cached tiles.
type lookup struct{ p *pyramid }

func (l lookup) ResidentLoaded(id tileid.ID) bool {
	t := l.p.tiles[id.Key()]
	return t != nil && t.HasData()
}

func (l lookup) AncestorLoaded(id tileid.ID) bool {
	k := id.Key()
	if t := l.p.tiles[k]; t != nil {
		return t.HasData()
	}
	if _, ok := l.p.parked[k]; ok {
		return true
	}
	return l.p.cache.Has(id)
}

func (l lookup) Exists(id tileid.ID) bool {
	k := id.Key()
	if _, ok := l.p.tiles[k]; ok {
		return true
	}
	if _, ok := l.p.parked[k]; ok {
		return true
	}
	return l.p.cache.Has(id)
}
