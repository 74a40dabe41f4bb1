// Package codearena implements the JIT code backing store for a memory
// manager: reserve-then-commit regions, iterable via ForEach. Reservation
// and commit are distinct so a caller can reserve a generous range up
// front and commit only the bytes it actually emits.
//
// Arena is not internally synchronized: callers serialize access
// externally, mirroring the memory manager's main coop lock, which code
// arena operations are specified to share rather than acquiring a lock of
// their own (see the memory manager's CodeReserve/CodeCommit/CodeForEach).
package codearena

import (
	"fmt"

	"github.com/vargaz/runtime/internal/debug"
)

// Region is a single reserved range. Data holds the full reservation;
// Data[:Committed] is the portion the caller has actually written.
type Region struct {
	Data      []byte
	Committed int
}

// Arena is a code arena. The zero value is ready to use.
type Arena struct {
	regions   []*Region
	invalid   bool
	destroyed bool
}

// New returns an empty Arena.
func New() *Arena {
	return &Arena{}
}

func alignUp(n, to int) int {
	if to <= 1 {
		return n
	}
	return (n + to - 1) &^ (to - 1)
}

// Reserve reserves size bytes, rounded up to a multiple of align (a power
// of two; 0 or 1 leaves size unchanged), and returns the new Region
// uncommitted. The start address of Data is whatever the Go allocator
// returns; Reserve does not align it.
func (a *Arena) Reserve(size, align int) *Region {
	if a.destroyed {
		panic("codearena: reserve on a destroyed arena")
	}
	if a.invalid {
		panic("codearena: reserve on an invalidated arena")
	}
	debug.Assert(align == 0 || align&(align-1) == 0, "alignment %d is not a power of two", align)
	size = alignUp(size, align)
	r := &Region{Data: make([]byte, size)}
	a.regions = append(a.regions, r)
	debug.Log(nil, "Reserve", "reserved %d bytes aligned to %d", size, align)
	return r
}

// Commit grows r's committed prefix from oldLen to newLen and returns the
// newly committed slice r.Data[oldLen:newLen]. Commit can only grow the
// committed prefix; it never shrinks or moves it.
func (a *Arena) Commit(r *Region, oldLen, newLen int) ([]byte, error) {
	if a.invalid {
		return nil, fmt.Errorf("codearena: commit on an invalidated arena")
	}
	if oldLen != r.Committed {
		return nil, fmt.Errorf("codearena: commit oldLen %d does not match current committed length %d", oldLen, r.Committed)
	}
	if newLen < oldLen || newLen > len(r.Data) {
		return nil, fmt.Errorf("codearena: commit newLen %d out of range [%d, %d]", newLen, oldLen, len(r.Data))
	}
	r.Committed = newLen
	return r.Data[oldLen:newLen:newLen], nil
}

// ForEach calls fn for every region reserved in this arena, in reservation
// order, stopping early if fn returns false.
//
// fn must not call back into anything that locks the memory manager this
// arena belongs to: ForEach is typically invoked while that lock is
// already held.
func (a *Arena) ForEach(fn func(*Region) bool) {
	for _, r := range a.regions {
		if !fn(r) {
			return
		}
	}
}

// Invalidate marks the arena protected: further Reserve/Commit calls fail,
// but existing regions are retained for post-mortem inspection. Used under
// debug-unload mode instead of Destroy.
func (a *Arena) Invalidate() {
	a.invalid = true
}

// Destroy releases every region. Only safe once nothing can still execute
// code backed by this arena.
func (a *Arena) Destroy() {
	a.regions = nil
	a.destroyed = true
	a.invalid = true
}
