//go:build !linux && !windows

package afio

import "errors"

// uringLoop is a stub on non-Linux POSIX platforms: io_uring does not
// exist there, so WithLinuxIOUring can never produce a working loop and
// newPlatformState (handle_posix.go) never actually calls newURingLoop
// with useIOUring set outside of Linux. This file only exists so
// posixPlatform's uring field type-checks on every POSIX build.
type uringLoop struct{}

func newURingLoop(d *Dispatcher, entries uint32) (*uringLoop, error) {
	return nil, errors.New("io_uring is only available on linux")
}

func (l *uringLoop) submitRead(id OpID, h *posixHandle, buf []byte, offset int64) bool { return false }

func (l *uringLoop) submitWrite(id OpID, h *posixHandle, buf []byte, offset int64) bool {
	return false
}

func (l *uringLoop) close() error { return nil }
