package loadcontext

// FinalizeUnload reclaims mm's resources.
//
//   - If mm is generic: mm is removed from every participating ALC's
//     generic MM list, then deleted.
//   - If mm is a singleton: its owning ALC is removed from the registry,
//     CleanupAssemblies runs on it, the singleton MM is deleted, and the
//     ALC's remaining state is dropped.
//
// FinalizeUnload does not re-check the loader-allocator weak handle; that
// check belongs to ScoutDestroy, the only intended caller.
func FinalizeUnload(mm *MemoryManager) {
	if mm.isGeneric {
		for _, alc := range mm.alcs {
			alc.removeGenericMM(mm)
		}
		mm.Delete()
		mm.log.Unloaded("generic")
		return
	}

	alc := mm.alc
	reg := alc.registry
	reg.remove(alc)
	CleanupAssemblies(alc, reg.rootDomain)
	mm.Delete()

	alc.handleMu.Lock()
	alc.strongHandle = nil
	alc.handleMu.Unlock()
	alc.pinvoke = nil
	alc.name = ""

	mm.log.Unloaded("singleton")
}

// ScoutDestroy is the native implementation of
// LoaderAllocatorScout.Destroy: invoked by the managed runtime once a
// loader-allocator sentinel is finalized. It re-validates before
// reclaiming: if the weak handle's target is non-nil, some other managed
// reference was discovered in the meantime and the destroy is aborted.
//
// For a generic MM, reclamation is additionally held back (conservatively)
// until every contributing ALC has independently reached unloading, so a
// shared allocator is never torn down while one of its ALCs is still live.
//
// Returns whether mm was actually freed.
func ScoutDestroy(mm *MemoryManager) bool {
	if mm.loaderAllocTarget() != nil {
		mm.log.UnloadAborted(mmKind(mm), "loader allocator sentinel still reachable")
		return false
	}

	if mm.isGeneric {
		for _, alc := range mm.alcs {
			if !alc.Unloading() {
				mm.log.UnloadAborted("generic", "not every contributing ALC has reached unloading")
				return false
			}
		}
	}

	FinalizeUnload(mm)
	return true
}

func mmKind(mm *MemoryManager) string {
	if mm.isGeneric {
		return "generic"
	}
	return "singleton"
}
