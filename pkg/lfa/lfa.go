// Package lfa implements a lock-free, append-only arena: a bump allocator
// over a chunk stack that never blocks and is safe to call from contexts
// that cannot take locks, such as signal handlers or GC scan callbacks.
//
// Once returned, a slice's contents are never moved or reused for the
// lifetime of the Arena; the only shared mutable state is the write cursor
// of the currently active chunk and the chunk stack's head pointer, both of
// which are updated with atomics.
package lfa

import (
	"sync/atomic"

	"github.com/vargaz/runtime/internal/debug"
)

const (
	alignment = 8
	// minChunkSize mirrors a typical page size; chunks are sized to at
	// least this, or to the requested allocation size, whichever is larger.
	minChunkSize = 4096
)

type chunk struct {
	data []byte
	pos  atomic.Uint32
	// prev links to the chunk that was current before this one was
	// published, forming a stack rooted at Arena.current. Walking prev
	// from current visits every chunk the arena has ever allocated.
	prev *chunk
}

// Arena is a lock-free append-only arena.
//
// The zero value is ready to use; New returns one.
type Arena struct {
	current atomic.Pointer[chunk]
}

// New returns an empty Arena.
func New() *Arena {
	return &Arena{}
}

func alignUp(n, to uint32) uint32 {
	return (n + to - 1) &^ (to - 1)
}

// AllocZeroed reserves size zero-initialized bytes and returns them as a
// slice. The returned slice is stable for the lifetime of the Arena: it is
// never moved, reused, or overwritten by a later allocation.
//
// AllocZeroed never blocks. It may allocate a new chunk, which involves a
// CAS loop against concurrent allocators but no OS-level locking.
func (a *Arena) AllocZeroed(size int) []byte {
	debug.Assert(size >= 0, "negative allocation size %d", size)
	want := alignUp(uint32(size), alignment)

	for {
		cur := a.current.Load()
		if cur != nil {
			end := cur.pos.Add(want)
			start := end - want
			if end <= uint32(len(cur.data)) {
				return cur.data[start:end:end]
			}
			// Didn't fit; cur.pos has already been bumped past its
			// capacity by this goroutine's fetch-add, but that's fine:
			// the chunk is abandoned and no future allocator will be
			// misled, since len(cur.data) is checked against pos on
			// every attempt, not just this one.
		}

		chunkSize := uint32(minChunkSize)
		if want > chunkSize {
			chunkSize = want
		}

		next := &chunk{data: make([]byte, chunkSize), prev: cur}
		next.pos.Store(want)

		if a.current.CompareAndSwap(cur, next) {
			debug.Log(nil, "AllocZeroed", "published new chunk of %d bytes", chunkSize)
			return next.data[0:want:want]
		}
		// Lost the race to publish; some other goroutine's chunk is now
		// current. Retry against it; the freshly made chunk is simply
		// dropped and collected, since nothing observed it yet.
	}
}

// Chunks reports the number of chunks currently allocated by this arena.
// Intended for tests and diagnostics; not part of the hot allocation path.
func (a *Arena) Chunks() int {
	n := 0
	for c := a.current.Load(); c != nil; c = c.prev {
		n++
	}
	return n
}
