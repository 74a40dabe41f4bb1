package loadcontext

import (
	"unsafe"

	"github.com/dolthub/maphash"
)

// ptrHasher computes a seeded, per-process hash of a pointer's bit
// pattern, used to build an order-independent hash over an ALC set:
// per-pointer hashes are summed rather than concatenated, so permutations
// of the same set hash identically.
var ptrHasher = maphash.NewHasher[uintptr]()

func mixHash(p *ALC) uint64 {
	return ptrHasher.Hash(uintptr(unsafe.Pointer(p)))
}

// hashALCs computes an order-independent hash over a set of ALCs: callers
// that pass the same set in a different order get the same hash.
func hashALCs(alcs []*ALC) uint64 {
	var h uint64
	for _, a := range alcs {
		h += mixHash(a)
	}
	return h
}

// dedupeALCs returns alcs with duplicates removed, preserving the order of
// first occurrence. The check is O(n^2), acceptable for what are expected
// to be small sets (a handful of ALCs per generic instantiation, not
// thousands).
func dedupeALCs(alcs []*ALC) []*ALC {
	out := make([]*ALC, 0, len(alcs))
outer:
	for _, a := range alcs {
		for _, seen := range out {
			if seen == a {
				continue outer
			}
		}
		out = append(out, a)
	}
	return out
}

// sameALCSet reports whether a and b represent the same set of ALCs,
// ignoring order and duplicates. This is the authoritative equality check
// the interning cache falls back on whenever its hashed fast paths miss.
func sameALCSet(a, b []*ALC) bool {
	if len(a) != len(b) {
		return false
	}
	matched := make([]bool, len(b))
outer:
	for _, x := range a {
		for j, y := range b {
			if !matched[j] && x == y {
				matched[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

// unionALCs returns the deduplicated union of a and b, used by Merge.
func unionALCs(a, b []*ALC) []*ALC {
	combined := make([]*ALC, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return dedupeALCs(combined)
}
