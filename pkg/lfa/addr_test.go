package lfa_test

import "unsafe"

// sliceAddr returns the address of a slice's backing array, used only to
// assert pointer distinctness between concurrently-returned allocations.
func sliceAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
