package loadcontext

import (
	"context"
	"fmt"
	"sync"

	"github.com/vargaz/runtime/internal/rtlog"
	"github.com/vargaz/runtime/internal/xsync"
)

// ResolveKind identifies one of the three managed resolution entry
// points.
type ResolveKind int

const (
	ResolveLoad ResolveKind = iota
	ResolveResolving
	ResolveSatellite
)

func (k ResolveKind) String() string {
	switch k {
	case ResolveLoad:
		return "Load"
	case ResolveResolving:
		return "Resolving"
	case ResolveSatellite:
		return "ResolveSatellite"
	default:
		return "unknown"
	}
}

// ResolveFunc is a managed resolution entry point: given an ALC handle and
// a stringified assembly name, it returns a resolved assembly or nil.
type ResolveFunc func(ctx context.Context, alcHandle *ManagedHandle, name string) (*Assembly, error)

// Resolver invokes the three managed entry points (Load, Resolving,
// ResolveSatellite) on behalf of a failed native lookup, caching each
// resolved callback lazily and exactly once — resolution of the *callback
// itself* is idempotent and deterministic, never the per-call result.
type Resolver struct {
	cfg Config
	log rtlog.Logger

	mu    sync.Mutex
	funcs map[ResolveKind]ResolveFunc

	// inFlight tracks (kind, name) pairs currently being resolved, purely
	// for diagnostics: each caller still proceeds independently and races
	// to invoke its own copy of the callback rather than waiting on
	// another goroutine's in-flight resolution.
	inFlight xsync.Set[string]
}

// NewResolver returns a Resolver with no callbacks registered yet.
func NewResolver(cfg Config, log rtlog.Logger) *Resolver {
	return &Resolver{cfg: cfg, log: log, funcs: make(map[ResolveKind]ResolveFunc)}
}

// Register installs the managed entry point for kind, the first time it
// is looked up. A kind that already has a registered function is left
// untouched: multiple concurrent first-callers may redundantly resolve,
// but must all install the same function value in practice, since
// resolution of the entry point itself is deterministic.
func (r *Resolver) Register(kind ResolveKind, fn ResolveFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.funcs[kind]; !ok {
		r.funcs[kind] = fn
	}
}

func (r *Resolver) lookup(kind ResolveKind) (ResolveFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.funcs[kind]
	return fn, ok
}

// invoke dispatches to the registered callback for kind. required controls
// whether an unregistered callback is a hard error (Load, ResolveSatellite)
// or a silent "not resolved" (Resolving, which may be legitimately
// absent).
func (r *Resolver) invoke(ctx context.Context, kind ResolveKind, alcHandle *ManagedHandle, name string, required bool) (*Assembly, error) {
	if r.cfg.NoExec {
		return nil, nil
	}

	fn, ok := r.lookup(kind)
	if !ok {
		if required {
			return nil, fmt.Errorf("loadcontext: no %s callback registered", kind)
		}
		return nil, nil
	}

	key := kind.String() + "|" + name
	if r.inFlight.LoadOrStore(key) {
		r.log.ConcurrentResolve(kind.String(), name)
	}
	defer r.inFlight.Delete(key)

	return fn(ctx, alcHandle, name)
}

// InvokeLoad invokes the Load callback. Its absence is a programmer
// error, reported as a returned error: Load is required.
func (r *Resolver) InvokeLoad(ctx context.Context, alcHandle *ManagedHandle, name string) (*Assembly, error) {
	return r.invoke(ctx, ResolveLoad, alcHandle, name, true)
}

// InvokeResolving invokes the Resolving callback, which may legitimately
// be absent.
func (r *Resolver) InvokeResolving(ctx context.Context, alcHandle *ManagedHandle, name string) (*Assembly, error) {
	return r.invoke(ctx, ResolveResolving, alcHandle, name, false)
}

// InvokeResolveSatellite invokes the ResolveSatellite callback. Its
// absence is a programmer error, like Load.
func (r *Resolver) InvokeResolveSatellite(ctx context.Context, alcHandle *ManagedHandle, name string) (*Assembly, error) {
	return r.invoke(ctx, ResolveSatellite, alcHandle, name, true)
}

// noFail wraps an invocation, logging and discarding any error instead of
// propagating it.
func (r *Resolver) noFail(kind ResolveKind, alc *ALC, asm *Assembly, err error) *Assembly {
	if err != nil {
		r.log.ResolveFailed(kind.String(), alc.Name(), asmName(asm), err)
		return nil
	}
	return asm
}

func asmName(a *Assembly) string {
	if a == nil {
		return ""
	}
	return a.Name
}

// InvokeLoadNoFail is InvokeLoad, converting any error to nil-and-logged.
func (r *Resolver) InvokeLoadNoFail(ctx context.Context, alc *ALC, name string) *Assembly {
	asm, err := r.InvokeLoad(ctx, alc.ManagedHandle(), name)
	return r.noFail(ResolveLoad, alc, asm, err)
}

// InvokeResolvingNoFail is InvokeResolving, converting any error to
// nil-and-logged.
func (r *Resolver) InvokeResolvingNoFail(ctx context.Context, alc *ALC, name string) *Assembly {
	asm, err := r.InvokeResolving(ctx, alc.ManagedHandle(), name)
	return r.noFail(ResolveResolving, alc, asm, err)
}

// InvokeResolveSatelliteNoFail is InvokeResolveSatellite, converting any
// error to nil-and-logged.
func (r *Resolver) InvokeResolveSatelliteNoFail(ctx context.Context, alc *ALC, name string) *Assembly {
	asm, err := r.InvokeResolveSatellite(ctx, alc.ManagedHandle(), name)
	return r.noFail(ResolveSatellite, alc, asm, err)
}
