//go:build windows

// handle_windows.go implements the internal backend contract
// (handle_contract.go) for Windows using golang.org/x/sys/windows. Unlike
// the POSIX backend, reads and writes always go through an OVERLAPPED
// request completed on an I/O completion port: Windows is the platform
// the original engine designed its deferred-completion path around.
package afio

import (
	"errors"
	"sync"
	"weak"

	"golang.org/x/sys/windows"
)

// windowsHandle is the Windows Handle implementation.
type windowsHandle struct {
	handleBase

	h windows.Handle
}

func (wh *windowsHandle) Native() uintptr {
	if wh.h == windows.InvalidHandle {
		return 0
	}

	return uintptr(wh.h)
}

func (wh *windowsHandle) closeNative() error {
	if wh.h == windows.InvalidHandle || wh.h == 0 {
		return nil
	}

	err := windows.CloseHandle(wh.h)
	wh.h = windows.InvalidHandle

	return err
}

func (wh *windowsHandle) syncNative() error {
	if wh.h == windows.InvalidHandle || wh.h == 0 {
		return nil
	}

	return windows.FlushFileBuffers(wh.h)
}

// newWeakRef implements Handle. The weak.Pointer wraps wh itself, the
// same pointer value every strong reference to this Handle carries, so it
// goes dangling exactly when the last such reference is dropped.
func (wh *windowsHandle) newWeakRef() weakRef {
	return windowsWeakRef{wp: weak.Make(wh)}
}

type windowsWeakRef struct {
	wp weak.Pointer[windowsHandle]
}

func (w windowsWeakRef) get() Handle {
	p := w.wp.Value()
	if p == nil {
		return nil
	}

	return p
}

var _ Handle = (*windowsHandle)(nil)
var _ weakRef = windowsWeakRef{}

// windowsPlatform is the extra state a Windows Dispatcher carries: the
// completion port every file handle is associated with at open time, and
// the table used to recover a pending read/write's context from the
// OVERLAPPED pointer GetQueuedCompletionStatus hands back.
type windowsPlatform struct {
	iocp windows.Handle

	mu      sync.Mutex
	pending map[*windows.Overlapped]*windowsPendingIO
}

type windowsPendingIO struct {
	id     OpID
	handle *windowsHandle
	isRead bool
	ov     windows.Overlapped
}

func newPlatformState(d *Dispatcher, cfg dispatcherOptions) (any, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, cfg.iocpConcurrency)
	if err != nil {
		return nil, err
	}

	wp := &windowsPlatform{iocp: iocp, pending: make(map[*windows.Overlapped]*windowsPendingIO)}

	go wp.drain(d)

	return wp, nil
}

func shutdownPlatform(d *Dispatcher) error {
	wp := d.platform.(*windowsPlatform)
	return windows.CloseHandle(wp.iocp)
}

func (wp *windowsPlatform) drain(d *Dispatcher) {
	for {
		var bytes uint32
		var key uintptr
		var ov *windows.Overlapped

		err := windows.GetQueuedCompletionStatus(wp.iocp, &bytes, &key, &ov, windows.INFINITE)
		if ov == nil {
			// port closed (shutdownPlatform) or a spurious wakeup with no
			// associated request; nothing to complete.
			if err != nil {
				return
			}

			continue
		}

		wp.mu.Lock()
		pending, ok := wp.pending[ov]
		delete(wp.pending, ov)
		wp.mu.Unlock()

		if !ok {
			continue
		}

		var opErr error
		if err != nil {
			opErr = &OpError{Op: opName(pending.isRead), Path: pending.handle.Path(), Err: err}
		} else if !pending.isRead {
			pending.handle.recordWrite(int(bytes))
		}

		d.completeOp(pending.id, pending.handle, opErr)
	}
}

func opName(isRead bool) string {
	if isRead {
		return "read"
	}

	return "write"
}

// creationDisposition and accessMask translate abstract Flags into
// CreateFile's creation-disposition and access parameters. In accessMask,
// Append is treated as exclusive of Read/Write on Windows: FILE_APPEND_DATA
// replaces GENERIC_WRITE rather than combining with it, following the
// original engine's Windows mapping.
func creationDisposition(f Flags) uint32 {
	switch {
	case f.Has(CreateOnlyIfNotExist):
		return windows.CREATE_NEW
	case f.Has(Create) && f.Has(Truncate):
		return windows.CREATE_ALWAYS
	case f.Has(Create):
		return windows.OPEN_ALWAYS
	case f.Has(Truncate):
		return windows.TRUNCATE_EXISTING
	default:
		return windows.OPEN_EXISTING
	}
}

func accessMask(f Flags) uint32 {
	if f.Has(Append) {
		return windows.FILE_APPEND_DATA
	}

	var mask uint32
	if f.Has(Read) {
		mask |= windows.GENERIC_READ
	}

	if f.Has(Write) {
		mask |= windows.GENERIC_WRITE
	}

	return mask
}

func flagsAndAttributes(f Flags) uint32 {
	attrs := uint32(windows.FILE_ATTRIBUTE_NORMAL) | windows.FILE_FLAG_OVERLAPPED

	if f.Has(OSSync) {
		attrs |= windows.FILE_FLAG_WRITE_THROUGH
	}

	if f.Has(OSDirect) {
		attrs |= windows.FILE_FLAG_NO_BUFFERING
	}

	if f.Has(WillBeSequentiallyAccessed) {
		attrs |= windows.FILE_FLAG_SEQUENTIAL_SCAN
	}

	return attrs
}

func backendDirCreate(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	flags := d.FileFlags(req.Flags)

	if flags.Has(Create) {
		p, err := windows.UTF16PtrFromString(req.Path)
		if err != nil {
			return true, nil, &OpError{Op: "dir-create", Path: req.Path, Err: err}
		}

		if err := windows.CreateDirectory(p, nil); err != nil {
			if !errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
				return true, nil, &OpError{Op: "dir-create", Path: req.Path, Err: err}
			}

			if flags.Has(CreateOnlyIfNotExist) {
				return true, nil, &OpError{Op: "dir-create", Path: req.Path, Err: err}
			}
		}

		flags &^= Create | CreateOnlyIfNotExist
	}

	attrs, err := windows.GetFileAttributes(windows.StringToUTF16Ptr(req.Path))
	if err == nil && attrs&windows.FILE_ATTRIBUTE_DIRECTORY == 0 {
		return true, nil, &OpError{Op: "dir-create", Path: req.Path, Err: ErrNotADirectory}
	}

	if flags.Has(Read) {
		return backendFileOpen(d, id, incoming, PathRequest{Path: req.Path, Flags: flags})
	}

	return true, &windowsHandle{handleBase: handleBase{path: req.Path}, h: windows.InvalidHandle}, nil
}

func backendDirRemove(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	p, err := windows.UTF16PtrFromString(req.Path)
	if err != nil {
		return true, nil, &OpError{Op: "dir-remove", Path: req.Path, Err: err}
	}

	if err := windows.RemoveDirectory(p); err != nil {
		return true, nil, &OpError{Op: "dir-remove", Path: req.Path, Err: err}
	}

	return true, &windowsHandle{handleBase: handleBase{path: req.Path}, h: windows.InvalidHandle}, nil
}

func backendFileOpen(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	flags := d.FileFlags(req.Flags)

	p, err := windows.UTF16PtrFromString(req.Path)
	if err != nil {
		return true, nil, &OpError{Op: "file-open", Path: req.Path, Err: err}
	}

	share := uint32(windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE | windows.FILE_SHARE_DELETE)

	native, err := windows.CreateFile(p, accessMask(flags), share, nil,
		creationDisposition(flags), flagsAndAttributes(flags), 0)
	if err != nil {
		return true, nil, &OpError{Op: "file-open", Path: req.Path, Err: err}
	}

	wp := d.platform.(*windowsPlatform)
	if _, err := windows.CreateIoCompletionPort(native, wp.iocp, 0, 0); err != nil {
		windows.CloseHandle(native)
		return true, nil, &OpError{Op: "file-open", Path: req.Path, Err: err}
	}

	h := &windowsHandle{
		handleBase: handleBase{path: req.Path, autoflush: flags.Has(AutoFlush)},
		h:          native,
	}

	d.registry.Register(h)

	return true, h, nil
}

func backendFileRemove(d *Dispatcher, id OpID, incoming Handle, req PathRequest) (bool, Handle, error) {
	p, err := windows.UTF16PtrFromString(req.Path)
	if err != nil {
		return true, nil, &OpError{Op: "file-remove", Path: req.Path, Err: err}
	}

	if err := windows.DeleteFile(p); err != nil {
		return true, nil, &OpError{Op: "file-remove", Path: req.Path, Err: err}
	}

	return true, &windowsHandle{handleBase: handleBase{path: req.Path}, h: windows.InvalidHandle}, nil
}

func backendSync(d *Dispatcher, id OpID, incoming Handle) (bool, Handle, error) {
	wh, ok := incoming.(*windowsHandle)
	if !ok || wh == nil {
		return true, incoming, &OpError{Op: "sync", Err: errors.New("no open handle to sync")}
	}

	if wh.needsSync() || wh.BytesWrittenSinceSync() > 0 {
		if err := wh.syncNative(); err != nil {
			return true, incoming, &OpError{Op: "sync", Path: wh.Path(), Err: err}
		}
	}

	wh.markSynced()

	return true, incoming, nil
}

func backendClose(d *Dispatcher, id OpID, incoming Handle) (bool, Handle, error) {
	wh, ok := incoming.(*windowsHandle)
	if !ok || wh == nil {
		return true, incoming, nil
	}

	native := wh.Native()

	if wh.needsSync() {
		if err := wh.syncNative(); err != nil {
			d.logger.Warn("afio: autoflush sync before close failed", "path", wh.Path(), "native", native, "err", err)
		}
	}

	d.registry.Unregister(native)

	if err := wh.closeNative(); err != nil {
		return true, incoming, &OpError{Op: "close", Path: wh.Path(), Err: err}
	}

	// Windows guarantees a closed file's directory entry is durable once
	// the handle is released, so no directory_sync.go chaining is needed.
	return true, incoming, nil
}

func backendRead(d *Dispatcher, id OpID, incoming Handle, req DataRequest) (bool, Handle, error) {
	wh, ok := incoming.(*windowsHandle)
	if !ok || wh == nil {
		return true, incoming, &OpError{Op: "read", Err: errors.New("no open handle to read")}
	}

	if len(req.Buffers) != 1 || len(req.Buffers[0]) == 0 {
		return true, incoming, &OpError{Op: "read", Path: wh.Path(), Err: errors.New("windows backend requires exactly one non-empty buffer")}
	}

	submitOverlappedIO(d, id, wh, req.Buffers[0], req.Offset, true)

	return false, incoming, nil
}

func backendWrite(d *Dispatcher, id OpID, incoming Handle, req DataRequest) (bool, Handle, error) {
	wh, ok := incoming.(*windowsHandle)
	if !ok || wh == nil {
		return true, incoming, &OpError{Op: "write", Err: errors.New("no open handle to write")}
	}

	if len(req.Buffers) != 1 || len(req.Buffers[0]) == 0 {
		return true, incoming, &OpError{Op: "write", Path: wh.Path(), Err: errors.New("windows backend requires exactly one non-empty buffer")}
	}

	submitOverlappedIO(d, id, wh, req.Buffers[0], req.Offset, false)

	return false, incoming, nil
}

func submitOverlappedIO(d *Dispatcher, id OpID, wh *windowsHandle, buf []byte, offset int64, isRead bool) {
	pending := &windowsPendingIO{id: id, handle: wh, isRead: isRead}
	pending.ov.Offset = uint32(offset)
	pending.ov.OffsetHigh = uint32(offset >> 32)

	wp := d.platform.(*windowsPlatform)

	wp.mu.Lock()
	wp.pending[&pending.ov] = pending
	wp.mu.Unlock()

	var done uint32

	var err error
	if isRead {
		err = windows.ReadFile(wh.h, buf, &done, &pending.ov)
	} else {
		err = windows.WriteFile(wh.h, buf, &done, &pending.ov)
	}

	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) {
		wp.mu.Lock()
		delete(wp.pending, &pending.ov)
		wp.mu.Unlock()

		d.completeOp(id, wh, &OpError{Op: opName(isRead), Path: wh.Path(), Err: err})
	}
}
