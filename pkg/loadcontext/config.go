package loadcontext

// Config carries the process-wide toggles for this subsystem: whether to
// skip invoking managed resolve callbacks, whether to retain freed
// allocator state for post-mortem inspection, and whether to track
// loader-allocated bytes. Threaded through an explicit struct rather than
// package-level mutable state; the zero value disables every toggle.
type Config struct {
	// NoExec short-circuits every managed resolve callback to "not
	// resolved" without invoking managed code.
	NoExec bool

	// DebugUnload causes memory manager deletion to invalidate (protect)
	// the mempool and code arena instead of releasing their backing
	// storage, retaining addresses for post-mortem inspection.
	DebugUnload bool

	// TrackLoaderBytes enables the loader-bytes perf counter: the number
	// of bytes a memory manager's mempool had allocated is subtracted from
	// that manager's counter when it is fully deleted. Allocation does not
	// add to the counter.
	TrackLoaderBytes bool
}
