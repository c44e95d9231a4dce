// Package promhooks exports pyramid and payload cache events as Prometheus metrics.
// One *Metrics satisfies both tilepyramid.Hooks and payload.Hooks.
package promhooks

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	tp "github.com/unkn0wn-root/tilepyramid"
	"github.com/unkn0wn-root/tilepyramid/payload"
	"github.com/unkn0wn-root/tilepyramid/tileid"
)

type Metrics struct {
	requested *prometheus.CounterVec
	reused    prometheus.Counter
	cached    prometheus.Counter
	destroyed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	expired   prometheus.Counter
	stale     prometheus.Counter
	capacity  prometheus.Gauge

	selfHeal    *prometheus.CounterVec
	setRejected prometheus.Counter
	genErrors   *prometheus.CounterVec
	outages     prometheus.Counter
}

var (
	_ tp.Hooks      = (*Metrics)(nil)
	_ payload.Hooks = (*Metrics)(nil)
)

// New registers the metrics with reg (nil => prometheus.DefaultRegisterer).
// namespace prefixes every metric name, e.g. "mapsvc".
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		requested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_requested_total",
			Help:      "Tiles handed to the loader, by zoom",
		}, []string{"zoom"}),
		reused: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_reused_total",
			Help:      "Tiles pulled back from the reuse cache",
		}),
		cached: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_cached_total",
			Help:      "Tiles parked in the reuse cache",
		}),
		destroyed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_destroyed_total",
			Help:      "Tiles unloaded, by reason",
		}, []string{"reason"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_load_errors_total",
			Help:      "Loader failures, by zoom",
		}, []string{"zoom"}),
		expired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_expired_total",
			Help:      "Reloads triggered by expiry timers",
		}),
		stale: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_stale_completions_total",
			Help:      "Completions dropped because their load was aborted or superseded",
		}),
		capacity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tile_cache_capacity",
			Help:      "Current reuse cache capacity in tiles",
		}),
		selfHeal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_self_heal_total",
			Help:      "Payload entries deleted on read, by reason",
		}, []string{"reason"}),
		setRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_set_rejected_total",
			Help:      "Payload writes refused by the provider",
		}),
		genErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_gen_errors_total",
			Help:      "Generation store errors, by operation",
		}, []string{"op"}),
		outages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_invalidate_outages_total",
			Help:      "Invalidations where both gen bump and delete failed",
		}),
	}
}

func zoomLabel(id tileid.ID) string { return zooms[min(int(id.OverscaledZ), len(zooms)-1)] }

// precomputed to keep label formatting off the hot path
var zooms = func() []string {
	z := make([]string, tileid.MaxOverscaledZoom+1)
	for i := range z {
		z[i] = strconv.Itoa(i)
	}
	return z
}()

func (m *Metrics) TileRequested(id tileid.ID) { m.requested.WithLabelValues(zoomLabel(id)).Inc() }
func (m *Metrics) TileReused(tileid.ID)       { m.reused.Inc() }
func (m *Metrics) TileCached(tileid.ID)       { m.cached.Inc() }
func (m *Metrics) TileExpired(tileid.ID)      { m.expired.Inc() }
func (m *Metrics) StaleCompletion(tileid.ID)  { m.stale.Inc() }
func (m *Metrics) CacheResized(capacity int)  { m.capacity.Set(float64(capacity)) }
func (m *Metrics) TileLoadFailed(id tileid.ID, _ error) {
	m.failed.WithLabelValues(zoomLabel(id)).Inc()
}
func (m *Metrics) TileDestroyed(_ tileid.ID, reason string) {
	m.destroyed.WithLabelValues(reason).Inc()
}

func (m *Metrics) SelfHeal(_, reason string)             { m.selfHeal.WithLabelValues(reason).Inc() }
func (m *Metrics) ProviderSetRejected(string)            { m.setRejected.Inc() }
func (m *Metrics) GenSnapshotError(string, error)        { m.genErrors.WithLabelValues("snapshot").Inc() }
func (m *Metrics) GenBumpError(string, error)            { m.genErrors.WithLabelValues("bump").Inc() }
func (m *Metrics) InvalidateOutage(string, error, error) { m.outages.Inc() }
