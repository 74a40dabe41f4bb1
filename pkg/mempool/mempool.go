// Package mempool implements the general-purpose allocation backing store
// used by a memory manager for metadata-shaped allocations: a chain of
// geometrically-growing blocks, always accessed under an external lock
// (the memory manager's allocation mutex), so the hot path needs no atomics
// of its own.
package mempool

import (
	"sync"
	"unsafe"

	"github.com/vargaz/runtime/internal/debug"
)

const minBlockSize = 4096

type block struct {
	data []byte
	used int
}

func (b *block) remaining() int { return len(b.data) - b.used }

// Pool is a growable bump allocator. The zero value is ready to use.
type Pool struct {
	mu       sync.Mutex
	blocks   []*block
	total    int // bytes handed out across the pool's lifetime
	invalid  bool
	nextSize int
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{nextSize: minBlockSize}
}

// Alloc returns size uninitialized bytes. Callers that need zeroed memory
// should use AllocZeroed; Go slices from make are already zeroed, so in
// practice the two behave identically here, but the explicit name matches
// the allocation API this pool backs.
func (p *Pool) Alloc(size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc(size)
}

// AllocZeroed is equivalent to Alloc: every block is sourced from make,
// which always zeroes.
func (p *Pool) AllocZeroed(size int) []byte {
	return p.Alloc(size)
}

// Strdup copies s into the pool and returns a new string backed by that
// copy, detaching it from whatever storage s originally lived in.
func (p *Pool) Strdup(s string) string {
	b := p.Alloc(len(s))
	copy(b, s)
	return unsafe.String(unsafe.SliceData(b), len(b))
}

func (p *Pool) alloc(size int) []byte {
	debug.Assert(size >= 0, "negative allocation size %d", size)
	if p.invalid {
		panic("mempool: alloc on an invalidated pool")
	}
	if size == 0 {
		return nil
	}

	if n := len(p.blocks); n > 0 {
		cur := p.blocks[n-1]
		if cur.remaining() >= size {
			b := cur.data[cur.used : cur.used+size : cur.used+size]
			cur.used += size
			p.total += size
			return b
		}
	}

	blockSize := p.nextSize
	if blockSize < size {
		blockSize = size
	}
	p.nextSize *= 2

	blk := &block{data: make([]byte, blockSize)}
	blk.used = size
	p.blocks = append(p.blocks, blk)
	p.total += size
	debug.Log(nil, "alloc", "grew pool with a new %d-byte block", blockSize)
	return blk.data[0:size:size]
}

// Contains reports whether b was allocated from this pool.
func (p *Pool) Contains(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, blk := range p.blocks {
		if len(blk.data) == 0 {
			continue
		}
		start := uintptr(unsafe.Pointer(unsafe.SliceData(blk.data)))
		end := start + uintptr(len(blk.data))
		if ptr >= start && ptr < end {
			return true
		}
	}
	return false
}

// Allocated returns the total number of bytes handed out by this pool.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Invalidate marks the pool as protected: further allocation attempts
// panic, but existing blocks are retained rather than released, so
// previously-returned addresses remain valid for post-mortem inspection.
// Used when a memory manager is deleted under debug-unload mode.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invalid = true
}

// Destroy releases every block, making previously-returned slices backed by
// freed memory. Only safe to call once nothing can still observe the pool's
// contents.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks = nil
	p.invalid = true
}
