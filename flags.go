package afio

// Flags is the abstract, platform-independent flag set accepted by path and
// file-open requests. It is translated to native open parameters per
// backend (see handle_posix.go / handle_windows.go).
type Flags uint16

const (
	// Read requests read access.
	Read Flags = 1 << iota
	// Write requests write access.
	Write
	// Append opens the file for append-only writes.
	Append
	// Truncate truncates an existing file to zero length on open.
	Truncate
	// Create creates the file/directory if it does not already exist.
	// EEXIST / ERROR_ALREADY_EXISTS is tolerated.
	Create
	// CreateOnlyIfNotExist creates the file/directory and fails if it
	// already exists.
	CreateOnlyIfNotExist
	// AutoFlush syncs a handle before it is released if it has unsynced
	// writes. Only meaningful combined with Write.
	AutoFlush
	// OSSync requests synchronous (write-through) I/O from the OS, when
	// supported (O_SYNC / FILE_FLAG_WRITE_THROUGH).
	OSSync
	// OSDirect requests unbuffered I/O from the OS, when supported
	// (O_DIRECT / FILE_FLAG_NO_BUFFERING).
	OSDirect
	// WillBeSequentiallyAccessed hints sequential access to the OS
	// (FILE_FLAG_SEQUENTIAL_SCAN; a no-op on POSIX backends).
	WillBeSequentiallyAccessed
)

// Has reports whether all bits in want are set in f.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

// FileFlags applies the dispatcher's force/mask pair to flags:
// (flags &^ mask) | force.
//
// Exposed standalone (in addition to being applied internally by every
// operation) so callers can inspect what flags an operation will actually
// use before submitting it.
func (d *Dispatcher) FileFlags(flags Flags) Flags {
	return (flags &^ d.flagsMask) | d.flagsForce
}
