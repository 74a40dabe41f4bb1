package loadcontext

import (
	"sync"
	"sync/atomic"
	"weak"

	"golang.org/x/sync/singleflight"

	"github.com/vargaz/runtime/internal/coop"
	"github.com/vargaz/runtime/internal/debug"
	"github.com/vargaz/runtime/internal/rtlog"
	"github.com/vargaz/runtime/internal/xsync"
	"github.com/vargaz/runtime/pkg/codearena"
	"github.com/vargaz/runtime/pkg/lfa"
	"github.com/vargaz/runtime/pkg/mempool"
)

// LoaderAllocator is the managed loader-allocator sentinel: its
// reachability from managed code is what ultimately triggers reclamation
// of the memory manager it belongs to. The managed class itself is an
// external collaborator (out of scope); this type models just enough of
// it — a back-pointer to its memory manager — for the native side's
// strong/weak handle dance to make sense.
type LoaderAllocator struct {
	mm *MemoryManager
}

// VTableHandle is a native-side registration for a single managed vtable:
// the opaque vtable object itself, plus the hook that releases whatever GC
// root the reflection object cache (out of scope) holds for it on its
// behalf. RegisterVTable and DeleteObjects own only the registration and
// its eventual release; they know nothing about how that root is
// represented or looked up.
type VTableHandle struct {
	VTable         any
	UnregisterRoot func()
}

// MemoryManager owns the allocation backing stores (mempool, code arena,
// lock-free arena) and reflection caches attributed to either a single ALC
// (singleton) or a set of ALCs (generic).
type MemoryManager struct {
	cfg Config
	log rtlog.Logger

	collectible bool
	isGeneric   bool
	freeing     atomic.Bool
	frozen      atomic.Bool

	alc  *ALC   // set iff singleton
	alcs []*ALC // set iff generic

	mempool *mempool.Pool
	code    *codearena.Arena
	lfa     *lfa.Arena

	// lock is the MM's main recursive coop lock: code arena operations
	// and the reflection-cache and vtable registrations share it. The
	// loader-allocator double-check uses loaderAllocMu instead.
	lock *coop.Mutex
	// allocMu is the innermost allocation mutex, guarding mempool access.
	// Never held across anything that could invoke a managed callback.
	allocMu sync.Mutex

	// typeHash, objectHash and typeInitExnHash are the MM's three
	// reflection interning caches, keyed by whatever identity the caller
	// uses (a metadata token, a managed type handle, ...). The values
	// they cache, and how those values are constructed, belong to the
	// reflection object cache (out of scope); this package owns only the
	// storage and its release at DeleteObjects time.
	typeHash        *xsync.Map[any, any]
	objectHash      *xsync.Map[any, any]
	typeInitExnHash *xsync.Map[any, any]
	vtables         []VTableHandle

	loaderAllocMu     sync.Mutex
	loaderAllocStrong *LoaderAllocator
	loaderAllocWeak   weak.Pointer[LoaderAllocator]
	loaderAllocGroup  singleflight.Group

	loaderBytes atomic.Int64
}

func newMemoryManager(collectible bool, cfg Config, log rtlog.Logger) *MemoryManager {
	return &MemoryManager{
		cfg:             cfg,
		log:             log,
		collectible:     collectible,
		mempool:         mempool.New(),
		code:            codearena.New(),
		lfa:             lfa.New(),
		lock:            coop.New(),
		typeHash:        &xsync.Map[any, any]{},
		objectHash:      &xsync.Map[any, any]{},
		typeInitExnHash: &xsync.Map[any, any]{},
	}
}

// newSingleton creates a memory manager owned by exactly one ALC.
func newSingleton(alc *ALC, collectible bool, cfg Config, log rtlog.Logger) *MemoryManager {
	mm := newMemoryManager(collectible, cfg, log)
	mm.alc = alc
	return mm
}

// newGeneric creates a memory manager shared by a deduplicated set of
// ALCs. alcs must already be deduplicated by the caller (see the interning
// cache, the only intended caller).
func newGeneric(alcs []*ALC, collectible bool, cfg Config, log rtlog.Logger) *MemoryManager {
	mm := newMemoryManager(collectible, cfg, log)
	mm.isGeneric = true
	mm.alcs = append([]*ALC(nil), alcs...)
	return mm
}

// IsGeneric reports whether this MM is shared across a set of ALCs.
func (mm *MemoryManager) IsGeneric() bool { return mm.isGeneric }

// ALCs returns a snapshot of the ALC set this generic MM represents, or
// nil for a singleton MM.
func (mm *MemoryManager) ALCs() []*ALC {
	return append([]*ALC(nil), mm.alcs...)
}

// Collectible reports whether this MM may ever be reclaimed.
func (mm *MemoryManager) Collectible() bool { return mm.collectible }

// Frozen reports whether further allocation is disallowed.
func (mm *MemoryManager) Frozen() bool { return mm.frozen.Load() }

// Freeze disallows further allocation, for debugging post-unload.
func (mm *MemoryManager) Freeze() { mm.frozen.Store(true) }

func (mm *MemoryManager) checkAllocAllowed() {
	if mm.frozen.Load() {
		panic("loadcontext: alloc on a frozen memory manager")
	}
}

// Alloc serializes on the MM's allocation mutex and delegates to the
// mempool.
func (mm *MemoryManager) Alloc(size int) []byte {
	mm.checkAllocAllowed()
	mm.allocMu.Lock()
	defer mm.allocMu.Unlock()
	return mm.mempool.Alloc(size)
}

// AllocZeroed is equivalent to Alloc (mempool allocations are always
// zeroed).
func (mm *MemoryManager) AllocZeroed(size int) []byte {
	mm.checkAllocAllowed()
	mm.allocMu.Lock()
	defer mm.allocMu.Unlock()
	return mm.mempool.AllocZeroed(size)
}

// Strdup copies s into the mempool.
func (mm *MemoryManager) Strdup(s string) string {
	mm.checkAllocAllowed()
	mm.allocMu.Lock()
	defer mm.allocMu.Unlock()
	return mm.mempool.Strdup(s)
}

// AllocLockFree delegates to the lock-free arena. Never takes locks, and
// may be called from contexts that cannot take locks.
func (mm *MemoryManager) AllocLockFree(size int) []byte {
	mm.checkAllocAllowed()
	return mm.lfa.AllocZeroed(size)
}

// MempoolContains reports whether addr was allocated from this MM's
// mempool.
func (mm *MemoryManager) MempoolContains(addr []byte) bool {
	return mm.mempool.Contains(addr)
}

// CodeReserve serializes on the MM's main lock and delegates to the code
// arena.
func (mm *MemoryManager) CodeReserve(size, align int) *codearena.Region {
	mm.checkAllocAllowed()
	mm.lock.Lock()
	defer mm.lock.Unlock()
	return mm.code.Reserve(size, align)
}

// CodeCommit serializes on the MM's main lock and delegates to the code
// arena.
func (mm *MemoryManager) CodeCommit(r *codearena.Region, oldLen, newLen int) ([]byte, error) {
	mm.lock.Lock()
	defer mm.lock.Unlock()
	return mm.code.Commit(r, oldLen, newLen)
}

// CodeForEach serializes on the MM's main lock and delegates to the code
// arena. fn must not call back into anything that locks this MM.
func (mm *MemoryManager) CodeForEach(fn func(*codearena.Region) bool) {
	mm.lock.Lock()
	defer mm.lock.Unlock()
	mm.code.ForEach(fn)
}

// LoaderAlloc returns the memory manager's loader-allocator sentinel,
// allocating it on first use. Returns nil for non-collectible MMs.
//
// Concurrent first-callers are collapsed via singleflight, so only one
// goroutine ever constructs the sentinel even under a thundering herd of
// simultaneous first calls.
func (mm *MemoryManager) LoaderAlloc() *LoaderAllocator {
	if !mm.collectible {
		return nil
	}
	if v := mm.loaderAllocWeak.Value(); v != nil {
		return v
	}

	v, _, _ := mm.loaderAllocGroup.Do("", func() (any, error) {
		mm.loaderAllocMu.Lock()
		defer mm.loaderAllocMu.Unlock()

		if v := mm.loaderAllocWeak.Value(); v != nil {
			return v, nil
		}

		sentinel := &LoaderAllocator{mm: mm}
		// Strong handle first: keeps the sentinel alive through
		// construction and until prepare-unload explicitly releases it.
		mm.loaderAllocStrong = sentinel
		mm.loaderAllocWeak = weak.Make(sentinel)
		return sentinel, nil
	})
	return v.(*LoaderAllocator)
}

// releaseLoaderAllocStrong drops the strong handle, the step PrepareUnload
// performs on a singleton MM and on every generic MM an ALC participates
// in. The weak handle is left untouched; its becoming unreachable is what
// later triggers reclamation.
func (mm *MemoryManager) releaseLoaderAllocStrong() {
	mm.loaderAllocMu.Lock()
	defer mm.loaderAllocMu.Unlock()
	mm.loaderAllocStrong = nil
}

// loaderAllocTarget reports the loader allocator's current weak target,
// or nil if it has become unreachable (or was never realized).
func (mm *MemoryManager) loaderAllocTarget() *LoaderAllocator {
	return mm.loaderAllocWeak.Value()
}

// RegisterType interns the value make returns under key in the MM's
// reflection type hash, calling make only if key is not already present.
// If key is already registered, the existing entry is returned instead and
// make is not called.
//
// Held under the MM's main lock: make may itself recursively call
// RegisterType (or RegisterObject, RegisterTypeInitException,
// RegisterVTable) on this same MM while resolving a type that references
// others, which the lock's reentrancy accommodates.
func (mm *MemoryManager) RegisterType(key any, make func() any) any {
	mm.lock.Lock()
	defer mm.lock.Unlock()
	v, _ := mm.typeHash.LoadOrStore(key, make)
	return v
}

// LookupType returns the reflection type registered under key, if any.
func (mm *MemoryManager) LookupType(key any) (any, bool) {
	return mm.typeHash.Load(key)
}

// RegisterObject interns the value make returns under key in the MM's
// reflection object hash. See RegisterType for the intern-cache contract
// and locking rationale.
func (mm *MemoryManager) RegisterObject(key any, make func() any) any {
	mm.lock.Lock()
	defer mm.lock.Unlock()
	v, _ := mm.objectHash.LoadOrStore(key, make)
	return v
}

// LookupObject returns the reflection object registered under key, if any.
func (mm *MemoryManager) LookupObject(key any) (any, bool) {
	return mm.objectHash.Load(key)
}

// RegisterTypeInitException interns the value make returns under key in
// the MM's type-init exception hash. See RegisterType for the intern-cache
// contract and locking rationale.
func (mm *MemoryManager) RegisterTypeInitException(key any, make func() any) any {
	mm.lock.Lock()
	defer mm.lock.Unlock()
	v, _ := mm.typeInitExnHash.LoadOrStore(key, make)
	return v
}

// LookupTypeInitException returns the type-init exception registered under
// key, if any.
func (mm *MemoryManager) LookupTypeInitException(key any) (any, bool) {
	return mm.typeInitExnHash.Load(key)
}

// RegisterVTable registers v with this MM, to have its GC root released
// when DeleteObjects runs.
func (mm *MemoryManager) RegisterVTable(v VTableHandle) {
	mm.lock.Lock()
	defer mm.lock.Unlock()
	mm.vtables = append(mm.vtables, v)
}

// VTables returns a snapshot of the currently registered vtables, for
// tests and diagnostics.
func (mm *MemoryManager) VTables() []VTableHandle {
	mm.lock.Lock()
	defer mm.lock.Unlock()
	return append([]VTableHandle(nil), mm.vtables...)
}

// DeleteObjects unregisters each vtable's reflection-type GC root, then
// destroys the vtable array and the three reflection hashes. Idempotent: a
// call after freeing is already true is a no-op.
func (mm *MemoryManager) DeleteObjects() {
	if !mm.freeing.CompareAndSwap(false, true) {
		return
	}

	mm.lock.Lock()
	vtables := mm.vtables
	mm.vtables = nil
	mm.lock.Unlock()

	for _, v := range vtables {
		if v.UnregisterRoot != nil {
			v.UnregisterRoot()
		}
	}

	debug.Log(nil, "DeleteObjects", "unregistered %d vtables, generic=%v", len(vtables), mm.isGeneric)
	mm.typeHash = &xsync.Map[any, any]{}
	mm.objectHash = &xsync.Map[any, any]{}
	mm.typeInitExnHash = &xsync.Map[any, any]{}
}

// Delete fully deletes the memory manager: DeleteObjects is called if not
// already done, and then either the mempool/code arena are destroyed, or,
// under debug-unload configuration, merely invalidated (protected, but
// retained for post-mortem inspection).
func (mm *MemoryManager) Delete() {
	mm.DeleteObjects()

	if mm.cfg.DebugUnload {
		mm.mempool.Invalidate()
		mm.code.Invalidate()
		return
	}

	if mm.cfg.TrackLoaderBytes {
		mm.loaderBytes.Add(-int64(mm.mempool.Allocated()))
	}
	mm.mempool.Destroy()
	mm.code.Destroy()
}
