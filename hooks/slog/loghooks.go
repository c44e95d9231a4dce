// Package sloghooks logs pyramid and payload cache events with log/slog.
// One *Hooks satisfies both tilepyramid.Hooks and payload.Hooks.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	tp "github.com/unkn0wn-root/tilepyramid"
	"github.com/unkn0wn-root/tilepyramid/payload"
	"github.com/unkn0wn-root/tilepyramid/tileid"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	RequestEvery  uint64 // TileRequested / TileReused / TileCached
	SelfHealEvery uint64
	// Optional storage key redactor (keys may embed access tokens). Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	requestCtr  atomic.Uint64
	selfHealCtr atomic.Uint64
}

var (
	_ tp.Hooks      = (*Hooks)(nil)
	_ payload.Hooks = (*Hooks)(nil)
)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) tile(msg string, id tileid.ID, args ...any) {
	if h.l == nil {
		return
	}
	h.l.Debug(msg, append([]any{"tile", id.String()}, args...)...)
}

// ====================================================================
// tilepyramid.Hooks
// ====================================================================

func (h *Hooks) TileRequested(id tileid.ID) {
	if sample(h.opts.RequestEvery, &h.requestCtr) {
		h.tile("tilepyramid.tile_requested", id)
	}
}

func (h *Hooks) TileReused(id tileid.ID) {
	if sample(h.opts.RequestEvery, &h.requestCtr) {
		h.tile("tilepyramid.tile_reused", id)
	}
}

func (h *Hooks) TileCached(id tileid.ID) {
	if sample(h.opts.RequestEvery, &h.requestCtr) {
		h.tile("tilepyramid.tile_cached", id)
	}
}

func (h *Hooks) TileDestroyed(id tileid.ID, reason string) {
	h.tile("tilepyramid.tile_destroyed", id, "reason", reason)
}

func (h *Hooks) TileLoadFailed(id tileid.ID, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("tilepyramid.tile_load_failed", "tile", id.String(), "err", err)
}

func (h *Hooks) TileExpired(id tileid.ID) { h.tile("tilepyramid.tile_expired", id) }

func (h *Hooks) StaleCompletion(id tileid.ID) { h.tile("tilepyramid.stale_completion", id) }

func (h *Hooks) CacheResized(capacity int) {
	if h.l == nil {
		return
	}
	h.l.Info("tilepyramid.cache_resized", "capacity", capacity)
}

// ====================================================================
// payload.Hooks
// ====================================================================

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("payload.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("payload.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("payload.gen_snapshot_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("payload.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) InvalidateOutage(key string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("payload.invalidate_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"del_err", delErr)
}
