//go:build !windows

// handle_posix.go implements the internal backend contract (handle_contract.go)
// for POSIX platforms (Linux and the BSD/Darwin family) using
// golang.org/x/sys/unix. On Linux, read/write optionally route through an
// io_uring submission loop (handle_uring_linux.go) instead of the
// synchronous preadv(2)/pwritev(2) calls used here.
package afio

import (
	"errors"
	"io/fs"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/negrel/assert"
	"golang.org/x/sys/unix"
)

// posixHandle is the POSIX Handle implementation: a plain fd plus the
// autoflush bookkeeping shared with every backend. ioMu serializes
// concurrent synchronous positional reads/writes against this fd: rather
// than probing for a lock-free preadv/pwritev, every synchronous read/write
// here takes this per-handle mutex around the syscall (requests handed to
// the io_uring loop do not), which is correct on every POSIX target and
// costs nothing under the single-writer-per-handle discipline most
// callers already follow.
type posixHandle struct {
	handleBase

	fd          int
	ioMu        sync.Mutex
	everFsynced atomic.Bool
}

func (h *posixHandle) Native() uintptr {
	if h.fd < 0 {
		return 0
	}

	return uintptr(h.fd)
}

func (h *posixHandle) closeNative() error {
	if h.fd < 0 {
		return nil
	}

	err := unix.Close(h.fd)
	h.fd = -1

	return err
}

func (h *posixHandle) syncNative() error {
	if h.fd < 0 {
		return nil
	}

	err := unix.Fsync(h.fd)
	if err == nil {
		h.everFsynced.Store(true)
	}

	return err
}

// needsDirectorySync implements dirSyncNeeder (directory_sync.go). Only
// Linux needs the appended directory fsync; other POSIX systems already
// guarantee a fsynced file's directory entry survives a crash once the
// file itself is closed.
func (h *posixHandle) needsDirectorySync() bool {
	return runtime.GOOS == "linux" && h.everFsynced.Load()
}

// newWeakRef implements Handle. The weak.Pointer wraps h itself, the same
// pointer value every strong reference to this Handle carries, so it goes
// dangling exactly when the last such reference is dropped.
func (h *posixHandle) newWeakRef() weakRef {
	return posixWeakRef{wp: weak.Make(h)}
}

type posixWeakRef struct {
	wp weak.Pointer[posixHandle]
}

func (w posixWeakRef) get() Handle {
	p := w.wp.Value()
	if p == nil {
		return nil
	}

	return p
}

var _ Handle = (*posixHandle)(nil)
var _ dirSyncNeeder = (*posixHandle)(nil)
var _ weakRef = posixWeakRef{}

// posixPlatform is the extra state a POSIX Dispatcher carries: the
// io_uring loop, when enabled and available.
type posixPlatform struct {
	uring *uringLoop
}

func newPlatformState(d *Dispatcher, cfg dispatcherOptions) (any, error) {
	if !cfg.useIOUring {
		return &posixPlatform{}, nil
	}

	if runtime.GOOS != "linux" {
		d.logger.Warn("afio: WithLinuxIOUring set on a non-Linux platform, ignoring")
		return &posixPlatform{}, nil
	}

	loop, err := newURingLoop(d, cfg.uringEntries)
	if err != nil {
		d.logger.Warn("afio: io_uring unavailable, falling back to synchronous positional I/O", "err", err)
		return &posixPlatform{}, nil
	}

	return &posixPlatform{uring: loop}, nil
}

func shutdownPlatform(d *Dispatcher) error {
	pp := d.platform.(*posixPlatform)
	if pp.uring == nil {
		return nil
	}

	return pp.uring.close()
}

// openFlags translates abstract Flags into unix.Open flags, following the
// original engine's POSIX mapping: Append is additive rather than
// exclusive of Read/Write (unlike the Windows mapping in
// handle_windows.go).
func openFlags(f Flags) int {
	var flags int

	switch {
	case f.Has(Read) && f.Has(Write):
		flags |= unix.O_RDWR
	case f.Has(Write):
		flags |= unix.O_WRONLY
	default:
		flags |= unix.O_RDONLY
	}

	if f.Has(Append) {
		flags |= unix.O_APPEND
	}

	if f.Has(CreateOnlyIfNotExist) {
		flags |= unix.O_CREAT | unix.O_EXCL
	} else if f.Has(Create) {
		flags |= unix.O_CREAT
	}

	if f.Has(Truncate) {
		flags |= unix.O_TRUNC
	}

	flags |= platformOpenFlagExtras(f)

	return flags
}

func backendDirCreate(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	flags := d.FileFlags(req.Flags)

	if flags.Has(Create) {
		err := unix.Mkdir(req.Path, 0o770)
		if err != nil {
			if !errors.Is(err, fs.ErrExist) {
				return true, nil, &OpError{Op: "dir-create", Path: req.Path, Err: err}
			}

			if flags.Has(CreateOnlyIfNotExist) {
				return true, nil, &OpError{Op: "dir-create", Path: req.Path, Err: err}
			}
		}

		flags &^= Create | CreateOnlyIfNotExist
	}

	var st unix.Stat_t
	if err := unix.Stat(req.Path, &st); err == nil {
		if st.Mode&unix.S_IFMT != unix.S_IFDIR {
			return true, nil, &OpError{Op: "dir-create", Path: req.Path, Err: ErrNotADirectory}
		}
	}

	if flags.Has(Read) {
		return backendFileOpen(d, id, incoming, PathRequest{Path: req.Path, Flags: flags})
	}

	return true, &posixHandle{handleBase: handleBase{path: req.Path}, fd: -1}, nil
}

func backendDirRemove(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	if err := unix.Rmdir(req.Path); err != nil {
		return true, nil, &OpError{Op: "dir-remove", Path: req.Path, Err: err}
	}

	return true, &posixHandle{handleBase: handleBase{path: req.Path}, fd: -1}, nil
}

func backendFileOpen(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	flags := d.FileFlags(req.Flags)

	fd, err := unix.Open(req.Path, openFlags(flags), 0o660)
	if err != nil {
		return true, nil, &OpError{Op: "file-open", Path: req.Path, Err: err}
	}

	h := &posixHandle{
		handleBase: handleBase{path: req.Path, autoflush: flags.Has(AutoFlush)},
		fd:         fd,
	}

	d.registry.Register(h)

	return true, h, nil
}

func backendFileRemove(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	if err := unix.Unlink(req.Path); err != nil {
		return true, nil, &OpError{Op: "file-remove", Path: req.Path, Err: err}
	}

	return true, &posixHandle{handleBase: handleBase{path: req.Path}, fd: -1}, nil
}

func backendSync(d *Dispatcher, id OpID, incoming Handle) (bool, Handle, error) {
	h, ok := incoming.(*posixHandle)
	if !ok || h == nil {
		return true, incoming, &OpError{Op: "sync", Err: errors.New("no open handle to sync")}
	}

	if h.needsSync() || h.BytesWrittenSinceSync() > 0 {
		if err := h.syncNative(); err != nil {
			return true, incoming, &OpError{Op: "sync", Path: h.Path(), Err: err}
		}
	}

	h.markSynced()

	return true, incoming, nil
}

func backendClose(d *Dispatcher, id OpID, incoming Handle) (bool, Handle, error) {
	h, ok := incoming.(*posixHandle)
	if !ok || h == nil {
		return true, incoming, nil
	}

	native := h.Native()

	if h.needsSync() {
		if err := h.syncNative(); err != nil {
			d.logger.Warn("afio: autoflush sync before close failed", "path", h.Path(), "native", native, "err", err)
		}
	}

	d.registry.Unregister(native)

	if err := h.closeNative(); err != nil {
		return true, incoming, &OpError{Op: "close", Path: h.Path(), Err: err}
	}

	return true, incoming, nil
}

func backendRead(d *Dispatcher, id OpID, incoming Handle, req DataRequest) (bool, Handle, error) {
	assert.GreaterOrEqual(req.Offset, int64(0), "negative read offset")

	h, ok := incoming.(*posixHandle)
	if !ok || h == nil {
		return true, incoming, &OpError{Op: "read", Err: errors.New("no open handle to read")}
	}

	if pp := d.platform.(*posixPlatform); pp.uring != nil && len(req.Buffers) == 1 {
		if pp.uring.submitRead(id, h, req.Buffers[0], req.Offset) {
			return false, incoming, nil
		}
	}

	h.ioMu.Lock()
	_, err := unix.Preadv(h.fd, req.Buffers, req.Offset)
	h.ioMu.Unlock()

	if err != nil {
		return true, incoming, &OpError{Op: "read", Path: h.Path(), Err: err}
	}

	return true, incoming, nil
}

func backendWrite(d *Dispatcher, id OpID, incoming Handle, req DataRequest) (bool, Handle, error) {
	assert.GreaterOrEqual(req.Offset, int64(0), "negative write offset")

	h, ok := incoming.(*posixHandle)
	if !ok || h == nil {
		return true, incoming, &OpError{Op: "write", Err: errors.New("no open handle to write")}
	}

	if pp := d.platform.(*posixPlatform); pp.uring != nil && len(req.Buffers) == 1 {
		if pp.uring.submitWrite(id, h, req.Buffers[0], req.Offset) {
			return false, incoming, nil
		}
	}

	h.ioMu.Lock()
	n, err := unix.Pwritev(h.fd, req.Buffers, req.Offset)
	h.ioMu.Unlock()

	h.recordWrite(n)

	if err != nil {
		return true, incoming, &OpError{Op: "write", Path: h.Path(), Err: err}
	}

	return true, incoming, nil
}
