// Package tilepyramid manages the working set of map tiles for one tiled source.
//
// Given the ideal tiles for the current viewport, a Pyramid decides which tiles must be
// fetched, which already loaded ancestors or descendants stand in while they load, and
// which tiles leave the working set for a bounded reuse cache. Fetching and parsing are
// delegated to a Loader; coverage math to a Coverage; source limits to a Source.
//
// Components:
//   - tileid.ID: tile coordinate (canonical cell, overscaled zoom, world wrap) with a
//     collision-free uint64 key.
//   - Tile: lifecycle state, payload, expiry and fade bookkeeping.
//   - TileCache: LRU of tiles that still hold data but are no longer needed.
//   - ResolveRetained: pure retention algorithm over a TileLookup.
//   - Pyramid: owns tiles, cache, reload timers and load sequencing.
//
// Update cycle:
//
//	p.SetViewport(w, h)           // sizes the reuse cache
//	res := p.Update(ideal)        // requests, reuses, caches, destroys
//	for _, id := range p.RenderableIDs() { draw(id) }
//
// Loader completions and timer firings are queued and applied under the Pyramid's lock,
// so they never interleave with Update.
//
// Sub-packages: loader (a Loader that serves tile bytes from the payload cache before
// fetching), payload with provider, codec and genstore (generation-checked byte cache),
// config (environment driven wiring), log/* and hooks/* adapters.
package tilepyramid
