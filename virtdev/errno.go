package virtdev

import "syscall"

// errnoInval is returned to the kernel whenever this side fails to
// decode something the wire protocol itself let through (a malformed
// ioctl argument, for instance) rather than something the remote
// device reported.
const errnoInval = syscall.EINVAL

// errnoFromWire converts the raw positive errno netproto carries in a
// failed response's header into the syscall.Errno cuseproto.SendError
// expects.
func errnoFromWire(e uint16) syscall.Errno {
	return syscall.Errno(e)
}
