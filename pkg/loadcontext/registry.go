package loadcontext

import (
	"fmt"
	"sync"

	"github.com/vargaz/runtime/internal/rtlog"
)

// Registry is the process-wide ALC registry: the list of live ALCs, the
// distinguished default ALC, and the memory-manager interning cache shared
// across all of them.
type Registry struct {
	cfg Config
	log rtlog.Logger

	mu  sync.Mutex
	alc []*ALC
	def *ALC

	cache      internCache
	rootDomain *RootDomain
}

// NewRegistry constructs a Registry and creates the default, non-
// collectible ALC.
func NewRegistry(cfg Config, log rtlog.Logger) *Registry {
	r := &Registry{
		cfg:        cfg,
		log:        log,
		rootDomain: newRootDomain(),
	}
	r.def = newALC(r, "", false, &ManagedHandle{})
	r.alc = append(r.alc, r.def)
	return r
}

// Default returns the process's unique non-collectible default ALC.
func (r *Registry) Default() *ALC { return r.def }

// RootDomain returns the collaborator responsible for cross-ALC assembly
// bookkeeping, consulted by CleanupAssemblies.
func (r *Registry) RootDomain() *RootDomain { return r.rootDomain }

// InitializeNativeALC implements the managed entry point of the same
// name: if isDefault, it adopts the existing default ALC (attaching
// handle if unset); otherwise it creates and registers an individual ALC,
// eagerly realizing its loader-allocator sentinel when collectible.
func (r *Registry) InitializeNativeALC(handle *ManagedHandle, name string, isDefault, collectible bool) (*ALC, error) {
	if isDefault {
		r.def.handleMu.Lock()
		if r.def.strongHandle == nil {
			r.def.strongHandle = handle
		}
		r.def.handleMu.Unlock()
		return r.def, nil
	}
	return r.CreateIndividual(handle, name, collectible), nil
}

// CreateIndividual creates a new ALC and registers it in the process-wide
// list.
func (r *Registry) CreateIndividual(handle *ManagedHandle, name string, collectible bool) *ALC {
	alc := newALC(r, name, collectible, handle)

	r.mu.Lock()
	r.alc = append(r.alc, alc)
	r.mu.Unlock()

	if collectible {
		alc.singleton.LoaderAlloc()
	}
	return alc
}

// GetLoadContextForAssembly implements the managed entry point of the
// same name.
func (r *Registry) GetLoadContextForAssembly(asm *Assembly) (*ManagedHandle, error) {
	if asm.alc == nil {
		return nil, fmt.Errorf("loadcontext: assembly %q is not attached to an ALC", asm.Name)
	}
	return asm.alc.ManagedHandle(), nil
}

// remove drops alc from the process-wide list. Called once its singleton
// MM has been finalized.
func (r *Registry) remove(alc *ALC) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.alc {
		if a == alc {
			r.alc = append(r.alc[:i], r.alc[i+1:]...)
			return
		}
	}
}

// Live returns a snapshot of the currently registered ALCs.
func (r *Registry) Live() []*ALC {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ALC(nil), r.alc...)
}
