package ioctlreg

import (
	"encoding/binary"

	"github.com/jacobsa/cuse2net/wireerr"
)

// Source distinguishes which side of the bridge is decoding an
// argument: the kernel's FUSE_IOCTL request (Kernel) or the remote
// device's ioctl(2) reply (Device). The same command decodes
// differently depending on which side produced the bytes — a read
// command carries no bytes from the kernel but does from the device,
// and vice versa for a write command.
type Source int

const (
	SourceKernel Source = iota
	SourceDevice
)

// IoctlArg is the sealed sum type spec.md §9 calls for in place of a
// Rust enum: a Go interface whose only implementations live in this
// file, discriminated by an unexported marker method.
type IoctlArg interface {
	isIoctlArg()
}

// ArgNone carries no data: the commanding side expects the other side
// to fill or already holds the value.
type ArgNone struct{}

// ArgOpaque is the raw 64-bit ioctl `arg` value, used when a command
// can't be typed any other way.
type ArgOpaque struct{ Value uint64 }

// ArgRaw is an untyped byte blob, used for unrecognized commands whose
// direction is known but whose structure isn't.
type ArgRaw struct{ Bytes []byte }

// ArgTyped also carries the raw 64-bit `arg` value, reserved for
// parity with the encoding's distinct "typed" and "opaque" codes; this
// bridge does not currently produce it but decodes it if received.
type ArgTyped struct{ Value uint64 }

// ArgTermios carries a termios/termios2 value in wire canonical form.
type ArgTermios struct{ Termios Termios }

// ArgWinsize carries a winsize value.
type ArgWinsize struct{ Winsize Winsize }

// ArgInt32 carries a signed 32-bit value (TIOCMSET/BIC/BIS family).
type ArgInt32 struct{ Value int32 }

// ArgUInt32 carries an unsigned 32-bit value.
type ArgUInt32 struct{ Value uint32 }

func (ArgNone) isIoctlArg()    {}
func (ArgOpaque) isIoctlArg()  {}
func (ArgRaw) isIoctlArg()     {}
func (ArgTyped) isIoctlArg()   {}
func (ArgTermios) isIoctlArg() {}
func (ArgWinsize) isIoctlArg() {}
func (ArgInt32) isIoctlArg()   {}
func (ArgUInt32) isIoctlArg()  {}

// hostOrder is the byte order struct termios/termios2/winsize are
// laid out in on the local host performing the ioctl(2) syscall.
var hostOrder = binary.NativeEndian

// DecodeArg implements spec.md §4.3 stage 2/3's decision table,
// grounded on original_source's src/proto/ioctl.rs Arg::decode: given
// a command and the bytes available from src, select the IoctlArg
// variant that reproduces what that side would have sent.
func DecodeArg(cmd Cmd, arg uint64, buf []byte, src Source) (IoctlArg, error) {
	switch cmd {
	case TIOCSLCKTRMIOS, TCSETSW, TCSETSF, TCSETS:
		if src == SourceDevice {
			return ArgNone{}, nil
		}
		t, ok := FromKernelTermios(buf, hostOrder)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgTermios{Termios: t}, nil

	case TCSETSW2, TCSETSF2, TCSETS2:
		if src == SourceDevice {
			return ArgNone{}, nil
		}
		t, ok := FromKernelTermios2(buf, hostOrder)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgTermios{Termios: t}, nil

	case TIOCSWINSZ:
		if src == SourceDevice {
			return ArgNone{}, nil
		}
		w, ok := FromKernelWinsize(buf, hostOrder)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgWinsize{Winsize: w}, nil

	case TIOCGWINSZ:
		if src == SourceKernel {
			return ArgNone{}, nil
		}
		w, ok := FromKernelWinsize(buf, hostOrder)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgWinsize{Winsize: w}, nil

	case TIOCGLCKTRMIOS, TCGETS:
		if src == SourceKernel {
			return ArgNone{}, nil
		}
		t, ok := FromKernelTermios(buf, hostOrder)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgTermios{Termios: t}, nil

	case TCGETS2:
		if src == SourceKernel {
			return ArgNone{}, nil
		}
		t, ok := FromKernelTermios2(buf, hostOrder)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgTermios{Termios: t}, nil

	case TIOCSSOFTCAR, TIOCMSET, TIOCMBIC, TIOCMBIS:
		if src == SourceDevice {
			return ArgNone{}, nil
		}
		if len(buf) < 4 {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgInt32{Value: int32(hostOrder.Uint32(buf[:4]))}, nil

	case TIOCMGET, TIOCGSOFTCAR:
		if src == SourceKernel {
			return ArgNone{}, nil
		}
		if len(buf) < 4 {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgInt32{Value: int32(hostOrder.Uint32(buf[:4]))}, nil
	}

	correction, ok := Correct(cmd)
	if !ok {
		return ArgOpaque{Value: arg}, nil
	}

	switch correction.Dir {
	case DirW:
		if src == SourceKernel {
			return ArgRaw{Bytes: append([]byte(nil), buf...)}, nil
		}
		return ArgNone{}, nil
	case DirR:
		if src == SourceKernel {
			return ArgNone{}, nil
		}
		return ArgRaw{Bytes: append([]byte(nil), buf...)}, nil
	default:
		return ArgOpaque{Value: arg}, nil
	}
}

// Encode re-renders arg into the host-native bytes of the command's
// argument structure, per original_source's Arg::encode. The server
// uses it to build the buffer handed to ioctl(2); package virtdev uses
// it to build the argument bytes that follow its fuse_ioctl_out header.
func Encode(cmd Cmd, arg IoctlArg) ([]byte, error) {
	switch a := arg.(type) {
	case ArgNone:
		// A read-direction command expects the performing side's
		// ioctl(2) to fill a buffer of the right size, not a NULL
		// pointer: allocate a zeroed one per original_source's
		// Arg::encode.
		if c, ok := Correct(cmd); ok && (c.Dir == DirR || c.Dir == DirRW) && c.Size > 0 {
			return make([]byte, c.Size), nil
		}
		return nil, nil
	case ArgRaw:
		return a.Bytes, nil
	case ArgInt32:
		buf := make([]byte, 4)
		hostOrder.PutUint32(buf, uint32(a.Value))
		return buf, nil
	case ArgUInt32:
		buf := make([]byte, 4)
		hostOrder.PutUint32(buf, a.Value)
		return buf, nil
	case ArgWinsize:
		return ToKernelWinsize(a.Winsize, hostOrder), nil
	case ArgTermios:
		switch cmd {
		case TCSETS2, TCSETSW2, TCSETSF2, TCGETS2:
			return ToKernelTermios2(a.Termios, hostOrder), nil
		default:
			return ToKernelTermios(a.Termios, hostOrder), nil
		}
	case ArgOpaque, ArgTyped:
		return nil, nil
	default:
		return nil, wireerr.ErrBadIoctlParam
	}
}

// Code returns the wire discriminant for arg, grounded on
// original_source's Arg::code: the single byte that lets the far side
// of netproto reconstruct which IoctlArg variant the accompanying
// bytes decode as.
func Code(arg IoctlArg) uint8 {
	switch arg.(type) {
	case ArgNone:
		return 0
	case ArgOpaque:
		return 1
	case ArgRaw:
		return 2
	case ArgTyped:
		return 3
	case ArgTermios:
		return 4
	case ArgInt32:
		return 5
	case ArgUInt32:
		return 6
	case ArgWinsize:
		return 7
	default:
		return 0
	}
}

// WireEncode renders arg into the bytes netproto carries alongside
// Code(arg): always big-endian, independent of either host's native
// struct layout, since the two ends of the TCP connection may not
// agree on either.
func WireEncode(arg IoctlArg) []byte {
	switch a := arg.(type) {
	case ArgNone:
		return nil
	case ArgOpaque:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, a.Value)
		return buf
	case ArgRaw:
		return a.Bytes
	case ArgTyped:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, a.Value)
		return buf
	case ArgTermios:
		return a.Termios.Encode()
	case ArgInt32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(a.Value))
		return buf
	case ArgUInt32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, a.Value)
		return buf
	case ArgWinsize:
		return a.Winsize.Encode()
	default:
		return nil
	}
}

// WireDecode is the inverse of WireEncode given the Code a peer sent.
func WireDecode(code uint8, buf []byte) (IoctlArg, error) {
	switch code {
	case 0:
		return ArgNone{}, nil
	case 1:
		if len(buf) < 8 {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgOpaque{Value: binary.BigEndian.Uint64(buf)}, nil
	case 2:
		return ArgRaw{Bytes: buf}, nil
	case 3:
		if len(buf) < 8 {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgTyped{Value: binary.BigEndian.Uint64(buf)}, nil
	case 4:
		t, ok := DecodeTermios(buf)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgTermios{Termios: t}, nil
	case 5:
		if len(buf) < 4 {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgInt32{Value: int32(binary.BigEndian.Uint32(buf))}, nil
	case 6:
		if len(buf) < 4 {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgUInt32{Value: binary.BigEndian.Uint32(buf)}, nil
	case 7:
		w, ok := DecodeWinsize(buf)
		if !ok {
			return nil, wireerr.ErrBadIoctlParam
		}
		return ArgWinsize{Winsize: w}, nil
	default:
		return nil, wireerr.ErrBadIoctlParam
	}
}
