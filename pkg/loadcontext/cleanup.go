package loadcontext

import (
	"sync"
	"sync/atomic"
)

// Assembly is the minimal collaborator contract CleanupAssemblies needs:
// enough of an assembly's lifecycle to drive the staged teardown, without
// depending on the metadata loader (out of scope).
type Assembly struct {
	Name    string
	Dynamic bool

	alc       *ALC
	refCount  atomic.Int32
	imagePool *imagePool
}

type imagePool struct {
	closed bool
}

// NewAssembly returns an Assembly whose reference count starts at two: one
// reference held by its ALC and one by the root domain. CleanupAssemblies
// releases the root domain's reference.
func NewAssembly(name string, dynamic bool) *Assembly {
	a := &Assembly{Name: name, Dynamic: dynamic, imagePool: &imagePool{}}
	a.refCount.Store(2)
	return a
}

// release decrements the reference count and reports whether it reached
// zero (i.e. the assembly is now fully unreferenced).
func (a *Assembly) release() bool {
	return a.refCount.Add(-1) <= 0
}

// closeExceptImagePools is the first close step, which leaves the
// assembly's image pool open for dependents that may still use it. A no-op:
// this model holds no per-assembly state besides the image pool.
func (a *Assembly) closeExceptImagePools() {}

// closeFinish performs the final close pass once every assembly in the
// batch has had a chance to resurrect or release references to this one.
func (a *Assembly) closeFinish() {
	a.imagePool.closed = true
}

// releaseGCRoots drops whatever GC roots this assembly contributed. A
// no-op placeholder: the garbage collector's handle API is an external
// collaborator (out of scope).
func (a *Assembly) releaseGCRoots() {}

// RootDomain is the minimal collaborator standing in for the runtime's
// root AppDomain: it jointly owns every assembly alongside the ALC it was
// loaded into.
type RootDomain struct {
	mu         sync.Mutex
	assemblies map[*Assembly]struct{}
}

func newRootDomain() *RootDomain {
	return &RootDomain{assemblies: make(map[*Assembly]struct{})}
}

// Track registers an assembly with the root domain, e.g. alongside
// NewAssembly and ALC.AttachAssembly.
func (d *RootDomain) Track(a *Assembly) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assemblies[a] = struct{}{}
}

// detach removes a from the domain's bookkeeping and releases the
// domain's half of its reference count.
func (d *RootDomain) detach(a *Assembly) bool {
	d.mu.Lock()
	delete(d.assemblies, a)
	d.mu.Unlock()
	return a.release()
}

// CleanupAssemblies tears down every assembly attached to alc, staged to
// tolerate cross-references between dynamic and non-dynamic assemblies:
//
//  1. Under the root domain's lock, detach each assembly and drop the
//     domain's reference.
//  2. Release each assembly's GC roots.
//  3. First pass: close dynamic assemblies except their image pools; null
//     out any that reach zero references.
//  4. Second pass: same for non-dynamic assemblies.
//  5. Third pass: finish-close every assembly still present.
//  6. Drop the ALC's loaded-images table and its generic memory-manager
//     list.
//
// Ordering dynamic-first avoids a cycle where a non-dynamic assembly is
// freed while a dynamic one still holds a reference via its image pool.
func CleanupAssemblies(alc *ALC, domain *RootDomain) {
	alc.assembliesMu.Lock()
	batch := alc.assemblies
	alc.assemblies = nil
	alc.assembliesMu.Unlock()

	finished := make([]bool, len(batch))
	for i, a := range batch {
		finished[i] = domain.detach(a)
	}

	for _, a := range batch {
		a.releaseGCRoots()
	}

	for i, a := range batch {
		if !a.Dynamic {
			continue
		}
		a.closeExceptImagePools()
		if finished[i] {
			batch[i] = nil
		}
	}

	for i, a := range batch {
		if a == nil || a.Dynamic {
			continue
		}
		a.closeExceptImagePools()
		if finished[i] {
			batch[i] = nil
		}
	}

	for _, a := range batch {
		if a != nil {
			a.closeFinish()
		}
	}

	alc.images = nil

	alc.mmMu.Lock()
	alc.genericMMs = nil
	alc.mmMu.Unlock()
}
