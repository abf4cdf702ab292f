// Package cuseproto implements the north-side kernel char-device codec
// of spec.md §4.1: the CUSE/FUSE wire protocol as seen on an open
// /dev/cuse file descriptor. Layouts are native-endian, per spec.md §3.
package cuseproto

// Opcode identifies a message read from the kernel. Numeric values are
// fixed by the kernel's cuse/fuse ABI and must not be renumbered.
type Opcode uint32

const (
	OpCuseInit   Opcode = 4096
	OpOpen       Opcode = 14
	OpRelease    Opcode = 18
	OpRead       Opcode = 15
	OpWrite      Opcode = 16
	OpIoctl      Opcode = 39
	OpPoll       Opcode = 40
	OpInterrupt  Opcode = 36
	OpUnknown    Opcode = 0
)

func (op Opcode) String() string {
	switch op {
	case OpCuseInit:
		return "CuseInit"
	case OpOpen:
		return "Open"
	case OpRelease:
		return "Release"
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpIoctl:
		return "Ioctl"
	case OpPoll:
		return "Poll"
	case OpInterrupt:
		return "Interrupt"
	default:
		return "Unknown"
	}
}

// DecodeOpcode maps a raw kernel opcode to the subset this bridge
// understands, collapsing everything else to OpUnknown so a dispatcher
// can uniformly reply ENOSYS.
func DecodeOpcode(raw uint32) Opcode {
	switch Opcode(raw) {
	case OpCuseInit, OpOpen, OpRelease, OpRead, OpWrite, OpIoctl, OpPoll, OpInterrupt:
		return Opcode(raw)
	default:
		return OpUnknown
	}
}
