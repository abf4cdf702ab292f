// Package ioctlreg decodes Linux ioctl command words and carries the
// correction table and argument typing spec.md §4.2/§4.3 require for
// the tty ioctls this bridge forwards. Command word construction for
// the handful of commands whose historical encoding is already correct
// reuses github.com/daedaluz/goioctl, the same constructor Daedaluz's
// goserial uses for the modern termios2 commands.
package ioctlreg

import ioctl "github.com/daedaluz/goioctl"

// Direction bits of the Linux ioctl command word.
const (
	DirNone = 0
	DirW    = 1
	DirR    = 2
	DirRW   = 3
)

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14
	dirBits  = 2

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// Cmd wraps a 32-bit ioctl command word.
type Cmd uint32

// Dir returns the 2-bit direction field: DirNone, DirW, DirR or DirRW.
func (c Cmd) Dir() int { return int((uint32(c) >> dirShift) & 0x3) }

// Size returns the 14-bit argument-size field as advertised in the
// command word. Some historical commands advertise zero even though
// they transport a structure; see the correction table.
func (c Cmd) Size() int { return int((uint32(c) >> sizeShift) & 0x3fff) }

// Type returns the 8-bit ioctl "magic" type character.
func (c Cmd) Type() int { return int((uint32(c) >> typeShift) & 0xff) }

// Nr returns the 8-bit command number.
func (c Cmd) Nr() int { return int((uint32(c) >> nrShift) & 0xff) }

func buildCmd(dir, typ, nr, size int) Cmd {
	return Cmd(uint32(dir)<<dirShift | uint32(typ)<<typeShift | uint32(nr)<<nrShift | uint32(size)<<sizeShift)
}

// IOR, IOW, IOWR and IO delegate to daedaluz/goioctl's constructors,
// truncated to the 32-bit command word this protocol carries.
func IOR(typ, nr byte, size uintptr) Cmd  { return Cmd(ioctl.IOR(typ, nr, size)) }
func IOW(typ, nr byte, size uintptr) Cmd  { return Cmd(ioctl.IOW(typ, nr, size)) }
func IOWR(typ, nr byte, size uintptr) Cmd { return Cmd(ioctl.IOWR(typ, nr, size)) }
func IO(typ, nr byte) Cmd                 { return Cmd(ioctl.IO(typ, nr)) }
