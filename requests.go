package afio

// Op is the descriptor handed back for every submitted operation. It
// carries its own future rather than relying on a table lookup so that a
// caller can use an Op as another request's Precondition even after the
// dispatcher has erased the underlying operation record on completion —
// mirroring the async_io_op of the original engine, which bundles its id
// with a shared_future<handle> for exactly this reason.
type Op struct {
	Dispatcher *Dispatcher
	ID         OpID
	Future     *Future[Handle]
}

// PathRequest names a filesystem path operation: dir-create, dir-remove,
// file-open, file-remove.
type PathRequest struct {
	// Precondition, if non-zero, must yield before this request runs.
	Precondition Op
	Path         string
	Flags        Flags
}

// DataRequest names a positional read or write against an already-open
// handle. Precondition is also the target: the handle it yields is the one
// read from or written to.
type DataRequest struct {
	Precondition Op
	Offset       int64
	// Buffers is a scatter/gather list. Reads fill them in order; writes
	// drain them in order. Most callers pass a single buffer. The Windows
	// backend accepts exactly one non-empty buffer and fails the request
	// otherwise.
	Buffers [][]byte
}

// CompletionRequest wraps an arbitrary user callback into the operation
// graph. Fn receives the precondition's yielded handle and returns the
// handle/error the completion's own future resolves to.
//
// If Deferred is false (the default), the completion's future resolves as
// soon as Fn returns. If Deferred is true, Fn is responsible for resolving
// the operation itself by calling the DeferredCompleter passed to it;
// Fn's own return value is ignored in that case. This lets a callback kick
// off work that finishes on some other goroutine (a timer, a callback from
// another subsystem) before the completion operation is considered done.
type CompletionRequest struct {
	Precondition Op
	Deferred     bool
	Fn           func(h Handle, complete DeferredCompleter) (Handle, error)
}

// DeferredCompleter resolves a deferred CompletionRequest exactly once.
// Calling it more than once has no effect after the first call.
type DeferredCompleter func(h Handle, err error)
