package afio

import "path/filepath"

// dirSyncNeeder is implemented by backend handles that can report whether
// closing them should also flush their containing directory's metadata.
// Only the POSIX/Linux backend implements it meaningfully; a handle that
// doesn't implement it (Windows, or a synthetic path-only handle) is
// treated as never needing it.
type dirSyncNeeder interface {
	needsDirectorySync() bool
}

// maybeChainDirectorySync implements the original engine's Linux-specific
// rule: closing a file that was ever fsynced does not, by itself,
// guarantee the directory entry pointing at it survives a crash, so the
// close transparently grows an appended open-dir/sync/close chain against
// the file's parent directory. On every other platform closing a file
// already guarantees its directory entry is durable, so this is a no-op
// passthrough.
//
// The decision needs original's yielded handle (to read Path() and the
// ever-fsynced bit), which isn't available until original's own future
// resolves. Rather than block the caller on that future -- the Dispatcher
// never blocks the calling goroutine -- this chains a deferred completion
// onto closed: the decision, and any further open/sync/close chain it
// grows, run on an executor goroutine, exactly like a native async
// completion callback would.
//
// original is the Op the caller submitted Close for; closed is the raw
// close Dispatcher.Close already chained onto it.
func maybeChainDirectorySync(d *Dispatcher, original, closed Op) Op {
	return d.Completion([]CompletionRequest{{
		Precondition: closed,
		Deferred:     true,
		Fn: func(_ Handle, complete DeferredCompleter) (Handle, error) {
			// closed has already completed -- it is this op's own
			// precondition -- so these Get calls return immediately.
			closedHandle, closedErr := closed.Future.Get()

			oh, err := original.Future.Get()
			if err != nil || oh == nil {
				complete(closedHandle, closedErr)
				return nil, nil
			}

			needer, ok := oh.(dirSyncNeeder)
			if !ok || !needer.needsDirectorySync() {
				complete(closedHandle, closedErr)
				return nil, nil
			}

			dir := filepath.Dir(oh.Path())

			opened := d.File([]PathRequest{{Precondition: closed, Path: dir, Flags: Read}})[0]
			synced := d.Sync([]Op{opened})[0]
			final := d.rawClose([]Op{synced})[0]

			go func() {
				v, e := final.Future.Get()
				complete(v, e)
			}()

			return nil, nil
		},
	}})[0]
}
