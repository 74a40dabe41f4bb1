// Package rtlog provides the structured logging call sites this subsystem
// needs, wrapping github.com/rs/zerolog directly. Unlike the retrieval
// pack's logiface abstraction (which exists to let one log call target
// several backend implementations), this subsystem has exactly one logger
// shape, so the extra generic indirection buys nothing and is left out.
//
// rtlog is deliberately separate from internal/debug: rtlog carries
// structured, leveled events meant for a production log stream, while
// internal/debug traces bump-pointer/CAS-level allocator internals that
// have no place there.
package rtlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with the handful of events this subsystem
// emits.
type Logger struct {
	z zerolog.Logger
}

// New returns a Logger writing to w.
func New(w io.Writer) Logger {
	return Logger{z: zerolog.New(w).With().Timestamp().Logger()}
}

// Default returns a Logger writing to stderr.
func Default() Logger {
	return New(os.Stderr)
}

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() Logger {
	return Logger{z: zerolog.Nop()}
}

// ResolveFailed logs a failed managed resolution callback invocation,
// corresponding to a *NoFail wrapper swallowing an error.
func (l Logger) ResolveFailed(kind, alcName, assemblyName string, err error) {
	l.z.Debug().
		Str("kind", kind).
		Str("alc", alcName).
		Str("assembly", assemblyName).
		Err(err).
		Msg("managed resolve callback failed")
}

// UnloadAborted logs that a scout destroy call aborted because the loader
// allocator sentinel was still reachable, or because sibling ALCs in a
// generic memory manager's set have not all reached unloading yet.
func (l Logger) UnloadAborted(mmKind string, reason string) {
	l.z.Info().
		Str("mm", mmKind).
		Str("reason", reason).
		Msg("unload aborted: memory manager still referenced")
}

// CacheMiss logs a false miss in the memory-manager interning cache: the
// hashed bucket didn't resolve the query set, so the caller fell back to
// the authoritative per-ALC linear scan.
func (l Logger) CacheMiss(bucket uint64) {
	l.z.Debug().
		Uint64("bucket", bucket).
		Msg("interning cache miss, falling back to authoritative scan")
}

// ConcurrentResolve logs that two or more goroutines are resolving the
// same (kind, name) pair at once. Each caller still proceeds
// independently; this is diagnostic only.
func (l Logger) ConcurrentResolve(kind, name string) {
	l.z.Debug().
		Str("kind", kind).
		Str("name", name).
		Msg("concurrent resolution of the same assembly name")
}

// Unloaded logs a successful reclamation, generic or singleton.
func (l Logger) Unloaded(mmKind string) {
	l.z.Info().
		Str("mm", mmKind).
		Msg("memory manager reclaimed")
}
