//go:build linux

package afio

import "golang.org/x/sys/unix"

// platformOpenFlagExtras maps the OSSync/OSDirect hints to their Linux
// open(2) flags.
func platformOpenFlagExtras(f Flags) int {
	var flags int

	if f.Has(OSSync) {
		flags |= unix.O_SYNC
	}

	if f.Has(OSDirect) {
		flags |= unix.O_DIRECT
	}

	return flags
}
