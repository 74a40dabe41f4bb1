package loadcontext

import (
	"fmt"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/vargaz/runtime/internal/debug"
	"github.com/vargaz/runtime/internal/rtlog"
)

// ManagedHandle stands in for the managed-side GC handle to an
// AssemblyLoadContext object. The managed class itself is an external
// collaborator (out of scope); this is just enough of a handle for the
// strong/weak lifecycle dance in PrepareUnload to operate on.
type ManagedHandle struct {
	// Target is whatever managed object this handle refers to. Opaque to
	// this package.
	Target any
}

// ALC is an Assembly Load Context: a unit of assembly isolation and
// unload granularity.
type ALC struct {
	registry *Registry

	name        string
	collectible bool
	unloading   atomic.Bool

	handleMu     sync.Mutex
	strongHandle *ManagedHandle
	weakHandle   weak.Pointer[ManagedHandle]

	assembliesMu sync.Mutex
	assemblies   []*Assembly
	images       map[string]struct{}
	pinvoke      map[string]any

	singleton *MemoryManager

	mmMu            sync.Mutex
	genericMMs      []*MemoryManager
	genericFastPath atomic.Pointer[MemoryManager]
}

func newALC(reg *Registry, name string, collectible bool, handle *ManagedHandle) *ALC {
	alc := &ALC{
		registry:    reg,
		name:        name,
		collectible: collectible,
		images:      make(map[string]struct{}),
		pinvoke:     make(map[string]any),
	}
	if collectible {
		alc.weakHandle = weak.Make(handle)
	} else {
		alc.strongHandle = handle
	}
	alc.singleton = newSingleton(alc, collectible, reg.cfg, reg.log)
	return alc
}

// Name returns the ALC's configured name, which may be empty.
func (a *ALC) Name() string { return a.name }

// Collectible reports whether this ALC's resources may ever be reclaimed.
func (a *ALC) Collectible() bool { return a.collectible }

// Unloading reports whether PrepareUnload has been called on this ALC.
func (a *ALC) Unloading() bool { return a.unloading.Load() }

// Singleton returns the ALC's own, 1:1-owned memory manager.
func (a *ALC) Singleton() *MemoryManager { return a.singleton }

// ManagedHandle returns the ALC's current managed handle target: strong
// while non-collectible or mid-unload, weak (possibly nil) once
// collectible and not yet prepared for unload.
func (a *ALC) ManagedHandle() *ManagedHandle {
	a.handleMu.Lock()
	defer a.handleMu.Unlock()
	if a.strongHandle != nil {
		return a.strongHandle
	}
	return a.weakHandle.Value()
}

// GenericMMs returns a snapshot of the generic memory managers this ALC
// currently participates in.
func (a *ALC) GenericMMs() []*MemoryManager {
	return a.snapshotGenericMMs()
}

// snapshotGenericMMs returns a copy of the ALC's generic MM list, safe to
// range over without holding mmMu.
func (a *ALC) snapshotGenericMMs() []*MemoryManager {
	a.mmMu.Lock()
	defer a.mmMu.Unlock()
	return append([]*MemoryManager(nil), a.genericMMs...)
}

func (a *ALC) addGenericMM(mm *MemoryManager) {
	a.mmMu.Lock()
	defer a.mmMu.Unlock()
	a.genericMMs = append(a.genericMMs, mm)
}

func (a *ALC) removeGenericMM(mm *MemoryManager) {
	a.mmMu.Lock()
	defer a.mmMu.Unlock()
	for i, m := range a.genericMMs {
		if m == mm {
			a.genericMMs = append(a.genericMMs[:i], a.genericMMs[i+1:]...)
			return
		}
	}
}

// AttachAssembly adds an assembly to this ALC's assembly set. Returns an
// error once the ALC has begun unloading: no new assembly may be attached
// past that point.
func (a *ALC) AttachAssembly(asm *Assembly) error {
	a.assembliesMu.Lock()
	defer a.assembliesMu.Unlock()
	if a.unloading.Load() {
		return fmt.Errorf("loadcontext: cannot attach assembly %q to an unloading ALC", asm.Name)
	}
	asm.alc = a
	a.assemblies = append(a.assemblies, asm)
	return nil
}

// PrepareUnload begins the two-phase unload protocol; FinalizeUnload
// performs the second phase.
//
// Precondition: the ALC must be collectible, must not already be
// unloading, and strong must be non-nil. Violating this is a programmer
// error, reported as an error here (a debug build additionally asserts via
// internal/debug, since panicking in a library is otherwise unacceptable).
func (a *ALC) PrepareUnload(strong *ManagedHandle) error {
	debug.Assert(a.collectible && !a.unloading.Load() && strong != nil,
		"PrepareUnload precondition violated on ALC %q", a.name)

	if !a.collectible {
		return fmt.Errorf("loadcontext: PrepareUnload called on a non-collectible ALC")
	}
	if a.unloading.Load() {
		return fmt.Errorf("loadcontext: PrepareUnload called twice on ALC %q", a.name)
	}
	if strong == nil {
		return fmt.Errorf("loadcontext: PrepareUnload requires a non-nil strong handle")
	}

	// unloading is set before the handle swap, matching the documented
	// ordering guarantee.
	a.unloading.Store(true)

	a.handleMu.Lock()
	a.strongHandle = strong
	a.handleMu.Unlock()

	a.singleton.releaseLoaderAllocStrong()
	for _, mm := range a.snapshotGenericMMs() {
		mm.releaseLoaderAllocStrong()
	}
	return nil
}

func (a *ALC) logger() rtlog.Logger { return a.registry.log }
