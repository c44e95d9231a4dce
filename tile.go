package tilepyramid

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/unkn0wn-root/tilepyramid/tileid"
)

// State is the lifecycle state of a Tile.
type State uint8

const (
	StateLoading State = iota
	StateLoaded
	StateErrored
	StateReloading
	StateExpired
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateErrored:
		return "errored"
	case StateReloading:
		return "reloading"
	case StateExpired:
		return "expired"
	case StateUnloaded:
		return "unloaded"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

const (
	// clockSkewRetry is the minimum refresh delay when the server keeps handing out
	// expiration dates that are already in the past from our point of view.
	clockSkewRetry = 30 * time.Second
	// maxExpiryTimeout caps timer delays at 2^31-1 ms.
	maxExpiryTimeout = time.Duration(1<<31-1) * time.Millisecond
)

// Expiry is the freshness metadata a loader reports with a payload.
// A max-age directive in CacheControl wins over Expires.
type Expiry struct {
	CacheControl string
	Expires      time.Time
}

// At returns the absolute expiration relative to now, or the zero time when e
// carries no freshness information.
func (e Expiry) At(now time.Time) time.Time {
	if age, ok := parseMaxAge(e.CacheControl); ok {
		return now.Add(age)
	}
	return e.Expires
}

// Tile is one fetched, loading or cached map unit.
//
// A Tile is owned by the Pyramid that created it. Loaders may read ID and Payload and
// may populate the payload only through the LoadResult they pass to done.
type Tile struct {
	id    tileid.ID
	clock clock.Clock

	state           State
	timeAdded       time.Time
	fadeEnd         time.Time // zero => no fade registered
	expiresAt       time.Time // zero => no expiry known
	expiredRequests int
	uses            int
	payload         any
	covered         bool // retained only to cross-fade with a descendant

	seq      uint64             // bumped per load and on abort; stale completions compare it
	cancel   context.CancelFunc // non-nil while a load is in flight
	timer    *clock.Timer
	timerGen uint64
}

// TileInfo is a copy of a Tile's state at one instant.
type TileInfo struct {
	ID        tileid.ID
	State     State
	Uses      int
	Payload   any
	Covered   bool
	ExpiresAt time.Time
	FadeEnd   time.Time
}

// HasData mirrors Tile.HasData for the captured state.
func (i TileInfo) HasData() bool {
	return i.State == StateLoaded || i.State == StateReloading || i.State == StateExpired
}

// Info copies t. Callers outside the owning Pyramid must hold its lock, which
// Pyramid.TileInfo does for them.
func (t *Tile) Info() TileInfo {
	return TileInfo{
		ID:        t.id,
		State:     t.state,
		Uses:      t.uses,
		Payload:   t.payload,
		Covered:   t.covered,
		ExpiresAt: t.expiresAt,
		FadeEnd:   t.fadeEnd,
	}
}

func newTile(id tileid.ID, clk clock.Clock) *Tile {
	return &Tile{id: id, clock: clk, state: StateLoading, timeAdded: clk.Now()}
}

// NewTile returns a detached Tile in StateLoading, for driving a Loader outside a
// Pyramid. clk may be nil.
func NewTile(id tileid.ID, clk clock.Clock) *Tile {
	if clk == nil {
		clk = clock.New()
	}
	return newTile(id, clk)
}

func (t *Tile) ID() tileid.ID          { return t.id }
func (t *Tile) State() State           { return t.state }
func (t *Tile) SetState(s State)       { t.state = s }
func (t *Tile) Uses() int              { return t.uses }
func (t *Tile) Payload() any           { return t.payload }
func (t *Tile) TimeAdded() time.Time   { return t.timeAdded }
func (t *Tile) ExpiresAt() time.Time   { return t.expiresAt }
func (t *Tile) Covered() bool          { return t.covered }
func (t *Tile) loading() bool          { return t.cancel != nil }
func (t *Tile) FadeEndTime() time.Time { return t.fadeEnd }

// HasData reports whether the tile holds a renderable payload. Loading and errored
// tiles have none; expired and reloading tiles keep their previous payload.
func (t *Tile) HasData() bool {
	return t.state == StateLoaded || t.state == StateReloading || t.state == StateExpired
}

// RegisterFadeDuration starts the fade window. Only the first call has an effect.
func (t *Tile) RegisterFadeDuration(d time.Duration) {
	if !t.fadeEnd.IsZero() {
		return
	}
	t.fadeEnd = t.clock.Now().Add(d)
}

// Fading reports whether the tile has not finished fading in at now.
// A tile with no registered fade has not started and counts as fading.
func (t *Tile) Fading(now time.Time) bool {
	return t.fadeEnd.IsZero() || now.Before(t.fadeEnd)
}

// SetExpiry derives the expiration time from loader metadata.
//
// An expiration that is already past (or moving backwards) marks the tile expired and
// switches ExpiryTimeout to exponential backoff. A past expiration that still moved
// forward is treated as clock skew and re-based on the local clock.
func (t *Tile) SetExpiry(e Expiry) {
	prior := t.expiresAt
	now := t.clock.Now()

	if at := e.At(now); !at.IsZero() {
		t.expiresAt = at
	}
	if t.expiresAt.IsZero() {
		return
	}

	expired := false
	switch {
	case t.expiresAt.After(now):
	case prior.IsZero():
		expired = true
	case t.expiresAt.Before(prior):
		expired = true
	default:
		delta := t.expiresAt.Sub(prior)
		if delta == 0 {
			expired = true
		} else {
			t.expiresAt = now.Add(max(delta, clockSkewRetry))
		}
	}

	if expired {
		t.expiredRequests++
		t.state = StateExpired
	} else {
		t.expiredRequests = 0
	}
}

// ExpiryTimeout returns the delay until the tile should be refreshed. ok is false when
// no expiry is known. The delay may be zero or negative for data that is already stale.
func (t *Tile) ExpiryTimeout() (d time.Duration, ok bool) {
	if t.expiresAt.IsZero() {
		return 0, false
	}
	if t.expiredRequests > 0 {
		d = time.Second << min(t.expiredRequests-1, 31)
	} else {
		d = t.expiresAt.Sub(t.clock.Now())
	}
	return min(d, maxExpiryTimeout), true
}

func parseMaxAge(cc string) (time.Duration, bool) {
	for _, part := range strings.Split(cc, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(k), "max-age") {
			continue
		}
		n, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(v), `"`), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(min(n, int64(maxExpiryTimeout/time.Second))) * time.Second, true
	}
	return 0, false
}
