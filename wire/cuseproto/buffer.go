package cuseproto

import (
	"encoding/binary"

	"github.com/jacobsa/cuse2net/wireerr"
)

// MinReadBuf is the smallest permissible ReadBuf: the kernel's own
// minimum (8 KiB) plus headroom for a full write burst, per spec.md
// §4.1.
const MinReadBuf = 128*1024 + 4096

// InHeaderSize is the size of the leading fuse_in_header every kernel
// message begins with: {len, opcode uint32; unique, nodeid uint64;
// uid, gid, pid uint32; padding uint32}.
const InHeaderSize = 40

// OutHeaderSize is the size of the leading fuse_out_header every
// reply begins with: {len uint32; error int32; unique uint64}.
const OutHeaderSize = 16

// InHeader is the fixed header prefixing every message read from the
// kernel. Layout and field order mirror the kernel's fuse_in_header.
type InHeader struct {
	Len     uint32
	Opcode  uint32
	Unique  uint64
	Nodeid  uint64
	Uid     uint32
	Gid     uint32
	Pid     uint32
	Padding uint32
}

func decodeInHeader(b []byte) InHeader {
	return InHeader{
		Len:     binary.NativeEndian.Uint32(b[0:4]),
		Opcode:  binary.NativeEndian.Uint32(b[4:8]),
		Unique:  binary.NativeEndian.Uint64(b[8:16]),
		Nodeid:  binary.NativeEndian.Uint64(b[16:24]),
		Uid:     binary.NativeEndian.Uint32(b[24:28]),
		Gid:     binary.NativeEndian.Uint32(b[28:32]),
		Pid:     binary.NativeEndian.Uint32(b[32:36]),
		Padding: binary.NativeEndian.Uint32(b[36:40]),
	}
}

// ReadBuf is a reusable buffer refilled by exactly one read(2) per
// iteration, then walked by successive typed views. Each view consumes
// exactly sizeof(T) bytes off the front; the views decode field by field
// and do not check the alignment of the offset they read from. A
// Truncate clamps the view to a
// header-advertised length. This
// generalizes the teacher's internal/buffer "typed view over bytes"
// pattern (InMessage.Consume) to this protocol's opcode set, using an
// explicit byte-offset decoder in place of the teacher's unsafe pointer
// casts so the view logic stays architecture-independent.
type ReadBuf struct {
	buf    []byte
	length int
	pos    int
}

// NewReadBuf allocates a buffer of at least MinReadBuf bytes.
func NewReadBuf() *ReadBuf {
	return &ReadBuf{buf: make([]byte, MinReadBuf)}
}

// Raw returns the full backing array, for handing to read(2).
func (b *ReadBuf) Raw() []byte { return b.buf }

// SetLength records how many bytes the most recent read(2) filled, and
// resets the cursor to the start of the message.
func (b *ReadBuf) SetLength(n int) {
	b.length = n
	b.pos = 0
}

// Len reports how many bytes remain unconsumed.
func (b *ReadBuf) Len() int { return b.length - b.pos }

// Header decodes and consumes the leading InHeader.
func (b *ReadBuf) Header() (InHeader, error) {
	if b.Len() < InHeaderSize {
		return InHeader{}, wireerr.ErrSize
	}
	h := decodeInHeader(b.buf[b.pos : b.pos+InHeaderSize])
	b.pos += InHeaderSize
	return h, nil
}

// Truncate clamps the unconsumed region to n bytes, as when a header's
// advertised length is shorter than what a single read(2) returned
// (the next message, if any, follows immediately after).
func (b *ReadBuf) Truncate(n int) error {
	if n > b.Len() {
		return wireerr.ErrBadTruncate
	}
	b.length = b.pos + n
	return nil
}

// Consume returns the next n bytes without interpreting them, such as
// a write request's payload.
func (b *ReadBuf) Consume(n int) ([]byte, error) {
	if n > b.Len() {
		return nil, wireerr.ErrSize
	}
	p := b.buf[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

// ConsumeU32 reads and consumes one native-endian uint32.
func (b *ReadBuf) ConsumeU32() (uint32, error) {
	p, err := b.Consume(4)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint32(p), nil
}

// ConsumeU64 reads and consumes one native-endian uint64.
func (b *ReadBuf) ConsumeU64() (uint64, error) {
	p, err := b.Consume(8)
	if err != nil {
		return 0, err
	}
	return binary.NativeEndian.Uint64(p), nil
}
