package vfs

import "golang.org/x/sys/unix"

// checkAccess evaluates the standard 3-class permission check (owner /
// group / other) of info.Mode against mask, scoped by ioc's uid/gid
// (grounded on the permission engine in spec §4.10).
func checkAccess(ioc *IOContext, info AccessInfo, mask AccessMask) error {
	if ioc.UID == 0 {
		if mask.Any(MaskExec) {
			if info.Mode&0111 == 0 {
				return unix.EACCES
			}
		}
		return nil
	}

	var bits uint32
	switch {
	case ioc.UID == info.UID:
		bits = (info.Mode >> 6) & 0x7
	case ioc.GID == info.GID:
		bits = (info.Mode >> 3) & 0x7
	default:
		bits = info.Mode & 0x7
	}

	var want uint32
	if mask.Any(MaskRead) {
		want |= 0x4
	}
	if mask.Any(MaskWrite) {
		want |= 0x2
	}
	if mask.Any(MaskExec) {
		want |= 0x1
	}
	if bits&want != want {
		return unix.EACCES
	}
	return nil
}

// Any reports whether any bit of mask is set in m.
func (m AccessMask) Any(mask AccessMask) bool { return m&mask != 0 }
