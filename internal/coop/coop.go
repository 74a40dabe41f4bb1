// Package coop implements the recursive "coop" mutex used throughout the
// memory manager and assembly load context: a mutex that tolerates
// re-entrant locking by the same goroutine, the way the reflection cache's
// self-recursive type lookups require (see the memory manager's main
// lock). Go's sync.Mutex has no notion of ownership, so reentrancy is
// detected using the calling goroutine's identity, the same way the
// internal/debug package tags trace lines with the calling goroutine.
package coop

import (
	"sync/atomic"

	"github.com/timandy/routine"
)

const unowned = 0

func goid() int64 { return routine.Goid() + 1 }

// Mutex is a recursive mutex keyed by goroutine identity.
//
// The zero value is not ready to use; construct one with New.
type Mutex struct {
	sem   chan struct{}
	owner atomic.Int64
	depth int // only ever touched by the owning goroutine
}

// New returns an unlocked Mutex.
func New() *Mutex {
	return &Mutex{sem: make(chan struct{}, 1)}
}

// Lock acquires the mutex. If the calling goroutine already holds it, Lock
// increments the recursion depth instead of blocking.
func (m *Mutex) Lock() {
	id := goid()
	if m.owner.Load() == id {
		m.depth++
		return
	}

	m.sem <- struct{}{}
	m.owner.Store(id)
	m.depth = 1
}

// Unlock releases one level of recursion. Once depth reaches zero, the
// underlying lock is released for other goroutines.
//
// Unlock panics if called by a goroutine that does not hold the mutex, the
// same way sync.Mutex panics on an unlock of an unlocked mutex.
func (m *Mutex) Unlock() {
	id := goid()
	if m.owner.Load() != id {
		panic("coop: unlock of a mutex not held by this goroutine")
	}

	m.depth--
	if m.depth > 0 {
		return
	}

	m.owner.Store(unowned)
	<-m.sem
}

// Locked reports whether the calling goroutine currently holds this mutex.
// Intended for assertions, not for synchronization decisions.
func (m *Mutex) Locked() bool {
	return m.owner.Load() == goid()
}
