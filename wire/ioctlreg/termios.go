package ioctlreg

import "encoding/binary"

// Termios is the wire canonical form of spec.md §4.3: because client
// and server hosts may disagree on field widths or byte order for
// termios/termios2, every termios-shaped ioctl argument crosses the
// wire in this fixed, big-endian, 64-byte layout instead of the local
// kernel's native struct layout.
type Termios struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   uint8
	Cc     [31]byte
	Ispeed uint32
	Ospeed uint32
}

// TermiosWireSize is the fixed size of the Termios wire encoding.
const TermiosWireSize = 4 + 4 + 4 + 4 + 1 + 31 + 4 + 4 + 8 // = 64

// Encode serializes t into its 64-byte wire form.
func (t Termios) Encode() []byte {
	buf := make([]byte, TermiosWireSize)
	binary.BigEndian.PutUint32(buf[0:4], t.Iflag)
	binary.BigEndian.PutUint32(buf[4:8], t.Oflag)
	binary.BigEndian.PutUint32(buf[8:12], t.Cflag)
	binary.BigEndian.PutUint32(buf[12:16], t.Lflag)
	buf[16] = t.Line
	copy(buf[17:48], t.Cc[:])
	binary.BigEndian.PutUint32(buf[48:52], t.Ispeed)
	binary.BigEndian.PutUint32(buf[52:56], t.Ospeed)
	// buf[56:64] is the reserved _pad, left zero.
	return buf
}

// DecodeTermios parses the 64-byte wire form.
func DecodeTermios(buf []byte) (Termios, bool) {
	if len(buf) != TermiosWireSize {
		return Termios{}, false
	}
	var t Termios
	t.Iflag = binary.BigEndian.Uint32(buf[0:4])
	t.Oflag = binary.BigEndian.Uint32(buf[4:8])
	t.Cflag = binary.BigEndian.Uint32(buf[8:12])
	t.Lflag = binary.BigEndian.Uint32(buf[12:16])
	t.Line = buf[16]
	copy(t.Cc[:], buf[17:48])
	t.Ispeed = binary.BigEndian.Uint32(buf[48:52])
	t.Ospeed = binary.BigEndian.Uint32(buf[52:56])
	return t, true
}

// kernelTermiosSize is sizeof(struct termios) on Linux: four 32-bit
// mode words, one line-discipline byte, NCCS (19) control characters.
// Field layout follows Daedaluz-goserial's Termios struct.
const kernelTermiosSize = 4*4 + 1 + 19

// kernelTermios2Size is sizeof(struct termios2): kernelTermiosSize
// plus ispeed/ospeed, following Daedaluz-goserial's Termios2 struct.
const kernelTermios2Size = kernelTermiosSize + 4 + 4

// FromKernelTermios parses a native-endian struct termios buffer (no
// ispeed/ospeed) into the wire canonical form.
func FromKernelTermios(buf []byte, order binary.ByteOrder) (Termios, bool) {
	if len(buf) < kernelTermiosSize {
		return Termios{}, false
	}
	var t Termios
	t.Iflag = order.Uint32(buf[0:4])
	t.Oflag = order.Uint32(buf[4:8])
	t.Cflag = order.Uint32(buf[8:12])
	t.Lflag = order.Uint32(buf[12:16])
	t.Line = buf[16]
	copy(t.Cc[:19], buf[17:36])
	return t, true
}

// ToKernelTermios serializes the wire canonical form back into a
// native-endian struct termios buffer, dropping ispeed/ospeed (the
// kernel encodes baud rate in cflag for the legacy struct).
func ToKernelTermios(t Termios, order binary.ByteOrder) []byte {
	buf := make([]byte, kernelTermiosSize)
	order.PutUint32(buf[0:4], t.Iflag)
	order.PutUint32(buf[4:8], t.Oflag)
	order.PutUint32(buf[8:12], t.Cflag)
	order.PutUint32(buf[12:16], t.Lflag)
	buf[16] = t.Line
	copy(buf[17:36], t.Cc[:19])
	return buf
}

// FromKernelTermios2 parses a native-endian struct termios2 buffer
// (with ispeed/ospeed) into the wire canonical form.
func FromKernelTermios2(buf []byte, order binary.ByteOrder) (Termios, bool) {
	if len(buf) < kernelTermios2Size {
		return Termios{}, false
	}
	t, ok := FromKernelTermios(buf, order)
	if !ok {
		return Termios{}, false
	}
	t.Ispeed = order.Uint32(buf[36:40])
	t.Ospeed = order.Uint32(buf[40:44])
	return t, true
}

// ToKernelTermios2 serializes the wire canonical form into a
// native-endian struct termios2 buffer.
func ToKernelTermios2(t Termios, order binary.ByteOrder) []byte {
	buf := make([]byte, kernelTermios2Size)
	copy(buf, ToKernelTermios(t, order))
	order.PutUint32(buf[36:40], t.Ispeed)
	order.PutUint32(buf[40:44], t.Ospeed)
	return buf
}

// Winsize is the wire form of struct winsize: this bridge completes
// spec.md §9's previously-unimplemented TIOCGWINSZ/TIOCSWINSZ path.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

const WinsizeWireSize = 8

func (w Winsize) Encode() []byte {
	buf := make([]byte, WinsizeWireSize)
	binary.BigEndian.PutUint16(buf[0:2], w.Row)
	binary.BigEndian.PutUint16(buf[2:4], w.Col)
	binary.BigEndian.PutUint16(buf[4:6], w.Xpixel)
	binary.BigEndian.PutUint16(buf[6:8], w.Ypixel)
	return buf
}

func DecodeWinsize(buf []byte) (Winsize, bool) {
	if len(buf) != WinsizeWireSize {
		return Winsize{}, false
	}
	return Winsize{
		Row:    binary.BigEndian.Uint16(buf[0:2]),
		Col:    binary.BigEndian.Uint16(buf[2:4]),
		Xpixel: binary.BigEndian.Uint16(buf[4:6]),
		Ypixel: binary.BigEndian.Uint16(buf[6:8]),
	}, true
}

// kernel winsize has the same four-uint16 layout natively, so the
// kernel-buffer helpers only need to swap byte order, not shape.
func FromKernelWinsize(buf []byte, order binary.ByteOrder) (Winsize, bool) {
	if len(buf) < 8 {
		return Winsize{}, false
	}
	return Winsize{
		Row:    order.Uint16(buf[0:2]),
		Col:    order.Uint16(buf[2:4]),
		Xpixel: order.Uint16(buf[4:6]),
		Ypixel: order.Uint16(buf[6:8]),
	}, true
}

func ToKernelWinsize(w Winsize, order binary.ByteOrder) []byte {
	buf := make([]byte, 8)
	order.PutUint16(buf[0:2], w.Row)
	order.PutUint16(buf[2:4], w.Col)
	order.PutUint16(buf[4:6], w.Xpixel)
	order.PutUint16(buf[6:8], w.Ypixel)
	return buf
}
