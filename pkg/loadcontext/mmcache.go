package loadcontext

import "sync/atomic"

// cacheBuckets is a small prime bucket count, keeping collisions well
// distributed without the cache ever needing to grow.
const cacheBuckets = 163

type cacheEntry struct {
	hash uint64
	mm   *MemoryManager
}

// internCache is a fixed-size, single-slot-per-bucket, best-effort cache
// from an ALC-set hash to the generic MM representing it. It is allowed to
// racefully miss (another write overwrote the slot, or the slot never
// matched) but must never produce a false hit: every candidate is checked
// for exact set-equality (and liveness) before being trusted.
type internCache struct {
	buckets [cacheBuckets]atomic.Pointer[cacheEntry]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

func (c *internCache) get(hash uint64, alcs []*ALC) (*MemoryManager, bool) {
	e := c.buckets[hash%cacheBuckets].Load()
	if e == nil || e.hash != hash {
		c.misses.Add(1)
		return nil, false
	}
	// A stale entry pointing at an MM mid-reclamation must never be
	// handed back as a hit, even if its ALC set still matches by value.
	if e.mm.freeing.Load() {
		c.misses.Add(1)
		return nil, false
	}
	if !sameALCSet(e.mm.alcs, alcs) {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.mm, true
}

func (c *internCache) add(hash uint64, mm *MemoryManager) {
	c.buckets[hash%cacheBuckets].Store(&cacheEntry{hash: hash, mm: mm})
}

// Hits and Misses report the cache's best-effort hit/miss counters, for
// diagnostics and tests.
func (c *internCache) Hits() uint64   { return c.hits.Load() }
func (c *internCache) Misses() uint64 { return c.misses.Load() }

// GetForALCs returns the unique memory manager representing the given set
// of ALCs, creating one if none yet exists: fast-path a singleton set
// through the per-ALC cache slot, else hash the set, consult the shared
// interning cache, fall back to an authoritative linear scan of the
// anchor ALC's generic MM list, and create one on a clean miss.
func (r *Registry) GetForALCs(alcs []*ALC) *MemoryManager {
	set := dedupeALCs(alcs)
	if len(set) == 0 {
		set = []*ALC{r.def}
	}

	if len(set) == 1 {
		if fp := set[0].genericFastPath.Load(); fp != nil {
			return fp
		}
	}

	hash := hashALCs(set)
	if mm, ok := r.cache.get(hash, set); ok {
		return mm
	}
	r.log.CacheMiss(hash)

	// The authoritative scan and the creation below run under the registry
	// lock (taken before any ALC's memory-managers lock), so concurrent
	// callers for the same set cannot each miss and create their own MM.
	r.mu.Lock()
	defer r.mu.Unlock()

	anchor := set[0]
	anchor.mmMu.Lock()
	for _, mm := range anchor.genericMMs {
		if sameALCSet(mm.alcs, set) {
			anchor.mmMu.Unlock()
			r.cache.add(hash, mm)
			return mm
		}
	}
	anchor.mmMu.Unlock()

	collectible := true
	for _, a := range set {
		if !a.collectible {
			collectible = false
			break
		}
	}

	mm := newGeneric(set, collectible, r.cfg, r.log)
	for _, a := range set {
		a.addGenericMM(mm)
	}
	r.cache.add(hash, mm)
	if len(set) == 1 {
		set[0].genericFastPath.Store(mm)
	}
	return mm
}

// Merge returns the unique memory manager representing the union of
// mm1's and mm2's ALC sets.
func (r *Registry) Merge(mm1, mm2 *MemoryManager) *MemoryManager {
	return r.GetForALCs(unionALCs(mm1.alcs, mm2.alcs))
}
