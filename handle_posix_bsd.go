//go:build unix && !linux

package afio

import "golang.org/x/sys/unix"

// platformOpenFlagExtras maps the OSSync hint to O_SYNC. OSDirect
// (O_DIRECT) has no portable equivalent on Darwin/BSD; it is silently
// ignored rather than failing the open, matching the original engine's
// treatment of unsupported hint flags as best-effort.
func platformOpenFlagExtras(f Flags) int {
	if f.Has(OSSync) {
		return unix.O_SYNC
	}

	return 0
}
