package afio

import (
	"sort"
	"sync"
)

// weakRef is a type-erased weak.Pointer[T] for some concrete Handle
// implementation T. Each concrete handle type constructs its own weakRef
// (handle_posix.go, handle_windows.go) over a weak.Pointer to itself, so
// the reference goes dangling exactly when the concrete struct backing
// the Handle interface value is collected — not when some unrelated copy
// of the interface value is.
type weakRef interface {
	// get returns the still-alive Handle, or nil once the last strong
	// reference to the concrete handle has been dropped.
	get() Handle
}

// HandleRegistry is a process-wide-shaped (here: per-Dispatcher) mapping
// from native handle identifier to a weak reference to its owning Handle.
// It enables crash-time diagnostics and external lookup without extending
// any Handle's lifetime.
//
// The registry never keeps a Handle alive: entries become dangling weak
// pointers once the last strong reference drops, and are lazily erased the
// next time the owning code calls Unregister (driven by the Handle's own
// close path, mirroring the C++ original's do_add_io_handle_to_parent /
// int_del_io_handle pair) or discovered stale during Lookup/Count.
// Snapshot skips stale entries without erasing them.
type HandleRegistry struct {
	mu      sync.Mutex
	entries map[uintptr]weakRef
}

// NewHandleRegistry returns an empty registry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{entries: make(map[uintptr]weakRef)}
}

// Register indexes h by its native identifier. Synthetic path-only handles
// (Native() == 0) are not registered: they own no native resource and
// there is nothing to look up or unregister.
func (r *HandleRegistry) Register(h Handle) {
	native := h.Native()
	if native == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[native] = h.newWeakRef()
}

// Unregister removes the entry for native, if present. Safe to call more
// than once.
func (r *HandleRegistry) Unregister(native uintptr) {
	if native == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, native)
}

// Lookup returns the live Handle registered under native, or nil if there
// is none or its strong reference has already been dropped.
func (r *HandleRegistry) Lookup(native uintptr) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	wr, ok := r.entries[native]
	if !ok {
		return nil
	}

	h := wr.get()
	if h == nil {
		delete(r.entries, native)
		return nil
	}

	return h
}

// Count returns the number of registry entries whose weak reference is
// still live. Stale (dangling) entries encountered along the way are
// lazily erased, keeping the registry count equal to the number of live
// handles at any quiescent moment.
func (r *HandleRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	live := 0

	for native, wr := range r.entries {
		if wr.get() != nil {
			live++
			continue
		}

		delete(r.entries, native)
	}

	return live
}

// Snapshot returns the native identifiers of every currently-live entry,
// sorted ascending. Intended for diagnostics only.
func (r *HandleRegistry) Snapshot() []uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]uintptr, 0, len(r.entries))

	for native, wr := range r.entries {
		if wr.get() != nil {
			ids = append(ids, native)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
