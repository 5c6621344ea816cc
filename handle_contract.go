package afio

// ============================================================================
// Internal backend contract
// ============================================================================
//
// Dispatcher (dispatcher.go) is written against a small set of unexported,
// platform-dependent functions. Each supported OS provides them via a
// build-tagged file:
//
//   - POSIX (everything but Windows): handle_posix.go
//   - Windows:                        handle_windows.go
//
// Optionally, on Linux, handle_uring_linux.go / handle_uring_other.go
// provide the io_uring submission loop used by handle_posix.go's read/write
// when WithLinuxIOUring is set; on non-Linux builds the "other" file is a
// stub that reports the feature unavailable.
//
// This file contains no runtime dispatch. It exists to document the
// required surface and let the compiler catch a backend file that drifts
// from it.
var (
	_ func(*Dispatcher, dispatcherOptions) (any, error) = newPlatformState
	_ func(*Dispatcher) error                           = shutdownPlatform

	_ func(*Dispatcher, OpID, Handle, PathRequest) (bool, Handle, error) = backendDirCreate
	_ func(*Dispatcher, OpID, Handle, PathRequest) (bool, Handle, error) = backendDirRemove
	_ func(*Dispatcher, OpID, Handle, PathRequest) (bool, Handle, error) = backendFileOpen
	_ func(*Dispatcher, OpID, Handle, PathRequest) (bool, Handle, error) = backendFileRemove
	_ func(*Dispatcher, OpID, Handle) (bool, Handle, error)              = backendSync
	_ func(*Dispatcher, OpID, Handle) (bool, Handle, error)              = backendClose
	_ func(*Dispatcher, OpID, Handle, DataRequest) (bool, Handle, error) = backendRead
	_ func(*Dispatcher, OpID, Handle, DataRequest) (bool, Handle, error) = backendWrite
)
