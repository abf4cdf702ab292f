package realdev

import "golang.org/x/sys/unix"

// errnoOf extracts the raw errno value netproto carries on the wire
// from a syscall error, defaulting to EIO for anything that isn't one.
func errnoOf(err error) uint16 {
	if errno, ok := err.(unix.Errno); ok {
		return uint16(errno)
	}
	return uint16(unix.EIO)
}
