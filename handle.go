package afio

import "sync/atomic"

// Handle is an owning wrapper over a native file or directory resource.
// Concrete implementations are platform-specific (handle_posix.go,
// handle_windows.go); both satisfy this interface.
//
// A Handle is shared via strong reference among every future that yields
// it, and indexed (without extending its lifetime) by the process-wide
// [HandleRegistry].
type Handle interface {
	// Native returns the platform-native identifier: an fd on POSIX, a
	// HANDLE value on Windows. Synthetic path-only handles (produced by
	// dir-remove/file-remove and by dir-create without Read) and handles
	// whose native resource has been released return 0.
	Native() uintptr
	// Path returns the path this handle was opened against.
	Path() string
	// BytesWritten returns the cumulative number of bytes written through
	// this handle since it was opened.
	BytesWritten() uint64
	// BytesWrittenSinceSync returns bytes written since the last sync (or
	// since open, if never synced). Reset to 0 by a successful sync.
	BytesWrittenSinceSync() uint64
	// closeNative releases the native resource. Idempotent. Not exported to
	// callers directly: close flows through Dispatcher.Close to preserve
	// ordering against other operations against this handle.
	closeNative() error
	// syncNative flushes the native resource to storage.
	syncNative() error
	// newWeakRef returns a weakRef tracking the concrete struct backing
	// this Handle, for the HandleRegistry. Implemented per concrete type
	// (handle_posix.go, handle_windows.go) so the weak.Pointer wraps the
	// actual heap object every strong reference to this Handle points at,
	// not a throwaway copy of the interface value.
	newWeakRef() weakRef
}

// handleBase carries the fields and bookkeeping common to every backend's
// Handle: the byte counters (single-writer-per-handle discipline, updated
// without a lock), the path, and autoflush policy.
type handleBase struct {
	path      string
	autoflush bool

	// bytesWritten and syncedWatermark are maintained as a monotonic pair:
	// BytesWrittenSinceSync = bytesWritten - syncedWatermark. Using atomics
	// (rather than a plain counter) lets diagnostic/introspection callers
	// read them from any goroutine without racing the I/O goroutine, even
	// though writes themselves are single-writer by construction.
	bytesWritten    atomic.Uint64
	syncedWatermark atomic.Uint64
}

func (b *handleBase) Path() string { return b.path }

func (b *handleBase) BytesWritten() uint64 { return b.bytesWritten.Load() }

func (b *handleBase) BytesWrittenSinceSync() uint64 {
	return b.bytesWritten.Load() - b.syncedWatermark.Load()
}

// recordWrite increments the write counter by n, called after a successful
// write transfers n bytes: successful writes increment
// bytes-written-since-sync by the reported transfer count.
func (b *handleBase) recordWrite(n int) {
	if n > 0 {
		b.bytesWritten.Add(uint64(n))
	}
}

// markSynced advances the synced watermark to the current write count,
// zeroing BytesWrittenSinceSync.
func (b *handleBase) markSynced() {
	b.syncedWatermark.Store(b.bytesWritten.Load())
}

// needsSync reports whether autoflush-on-close should perform a sync
// first: autoflush is set and there are unsynced bytes. A handle that has
// never been written performs no sync even under autoflush.
func (b *handleBase) needsSync() bool {
	return b.autoflush && b.BytesWrittenSinceSync() > 0
}
