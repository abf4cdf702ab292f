package netproto

import (
	"io"
	"time"

	"github.com/jacobsa/cuse2net/ioutil2"
	"github.com/jacobsa/cuse2net/wireerr"
)

// OpenRequest is the Open payload: {flags:u32} + 4 padding bytes.
type OpenRequest struct {
	Flags uint32
}

// ReadRequestBody is the Read payload: {offset:u64, size:u32, fh_flags:u32}.
type ReadRequestBody struct {
	Offset  uint64
	Size    uint32
	FhFlags uint32
}

// WriteRequestBody is the Write payload: {offset:u64, fh_flags:u32} + 4
// pad + the written bytes.
type WriteRequestBody struct {
	Offset  uint64
	FhFlags uint32
	Data    []byte
}

// IoctlRequestBody is the Ioctl payload: {cmd:u32, arg_code:u8} + 3 pad
// + the encoded argument bytes.
type IoctlRequestBody struct {
	Cmd     uint32
	ArgCode uint8
	Arg     []byte
}

// PollRequestBody is the Poll payload: {kh:u64, flags:u32, events:u32}.
type PollRequestBody struct {
	Kh     uint64
	Flags  uint32
	Events uint32
}

// Request is the tagged union of every south-side request kind,
// carrying the sequence from its header. Release and Interrupt have no
// payload; the corresponding fields are left at their zero value.
type Request struct {
	Op    RequestOp
	Seq   Sequence
	Open  OpenRequest
	Read  ReadRequestBody
	Write WriteRequestBody
	Ioctl IoctlRequestBody
	Poll  PollRequestBody
}

// RecvRequest reads one request from r, blocking indefinitely on the
// header (there is no outstanding work until one arrives) and applying
// FrameTimeout to the remainder once the header is committed.
func RecvRequest(r io.Reader) (Request, error) {
	if dl, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok {
		if err := dl.SetReadDeadline(time.Time{}); err != nil {
			return Request{}, err
		}
	}
	var hdrBuf [HeaderSize]byte
	if err := ioutil2.ReadFull(r, hdrBuf[:], time.Time{}); err != nil {
		return Request{}, err
	}
	hdr := UnmarshalRequestHeader(hdrBuf[:])

	switch hdr.Op {
	case OpOpen, OpRelease, OpWrite, OpRead, OpIoctl, OpPoll, OpInterrupt:
	default:
		return Request{}, &wireerr.BadOpError{Op: uint8(hdr.Op)}
	}

	fr, err := NewFrameReader(r, int(hdr.Len))
	if err != nil {
		return Request{}, err
	}

	req := Request{Op: hdr.Op, Seq: hdr.Seq}

	switch hdr.Op {
	case OpOpen:
		flags, err := fr.ReadU32()
		if err != nil {
			return Request{}, err
		}
		if err := fr.Skip(4); err != nil {
			return Request{}, err
		}
		req.Open = OpenRequest{Flags: flags}

	case OpRelease, OpInterrupt:
		// empty payload

	case OpRead:
		offset, err := fr.ReadU64()
		if err != nil {
			return Request{}, err
		}
		size, err := fr.ReadU32()
		if err != nil {
			return Request{}, err
		}
		fhFlags, err := fr.ReadU32()
		if err != nil {
			return Request{}, err
		}
		req.Read = ReadRequestBody{Offset: offset, Size: size, FhFlags: fhFlags}

	case OpWrite:
		offset, err := fr.ReadU64()
		if err != nil {
			return Request{}, err
		}
		fhFlags, err := fr.ReadU32()
		if err != nil {
			return Request{}, err
		}
		if err := fr.Skip(4); err != nil {
			return Request{}, err
		}
		data, err := fr.RestBytes()
		if err != nil {
			return Request{}, err
		}
		req.Write = WriteRequestBody{Offset: offset, FhFlags: fhFlags, Data: data}

	case OpIoctl:
		cmd, err := fr.ReadU32()
		if err != nil {
			return Request{}, err
		}
		argCode, err := fr.ReadU8()
		if err != nil {
			return Request{}, err
		}
		if err := fr.Skip(3); err != nil {
			return Request{}, err
		}
		arg, err := fr.RestBytes()
		if err != nil {
			return Request{}, err
		}
		req.Ioctl = IoctlRequestBody{Cmd: cmd, ArgCode: argCode, Arg: arg}

	case OpPoll:
		kh, err := fr.ReadU64()
		if err != nil {
			return Request{}, err
		}
		flags, err := fr.ReadU32()
		if err != nil {
			return Request{}, err
		}
		events, err := fr.ReadU32()
		if err != nil {
			return Request{}, err
		}
		req.Poll = PollRequestBody{Kh: kh, Flags: flags, Events: events}
	}

	if err := fr.Done(); err != nil {
		return Request{}, err
	}

	return req, nil
}

func sendFrame(w io.Writer, hdr RequestHeader, payload ...[]byte) error {
	iov := make([][]byte, 0, len(payload)+1)
	iov = append(iov, hdr.Marshal())
	iov = append(iov, payload...)
	return ioutil2.WriteGather(w, iov...)
}

func payloadLen(parts ...[]byte) uint32 {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return uint32(n)
}

// SendOpen writes an Open request with the given flags.
func SendOpen(w io.Writer, seq Sequence, flags uint32) error {
	payload := make([]byte, 8)
	be32(payload[0:4], flags)
	hdr := RequestHeader{Op: OpOpen, Len: payloadLen(payload), Seq: uint64(seq)}
	return sendFrame(w, hdr, payload)
}

// SendRelease writes a Release request (empty payload).
func SendRelease(w io.Writer, seq Sequence) error {
	hdr := RequestHeader{Op: OpRelease, Len: 0, Seq: uint64(seq)}
	return sendFrame(w, hdr)
}

// SendRead writes a Read request.
func SendRead(w io.Writer, seq Sequence, offset uint64, size, fhFlags uint32) error {
	payload := make([]byte, 16)
	be64(payload[0:8], offset)
	be32(payload[8:12], size)
	be32(payload[12:16], fhFlags)
	hdr := RequestHeader{Op: OpRead, Len: payloadLen(payload), Seq: uint64(seq)}
	return sendFrame(w, hdr, payload)
}

// SendWrite writes a Write request carrying data.
func SendWrite(w io.Writer, seq Sequence, offset uint64, fhFlags uint32, data []byte) error {
	head := make([]byte, 16)
	be64(head[0:8], offset)
	be32(head[8:12], fhFlags)
	hdr := RequestHeader{Op: OpWrite, Len: payloadLen(head, data), Seq: uint64(seq)}
	return sendFrame(w, hdr, head, data)
}

// SendIoctl writes an Ioctl request carrying the encoded argument.
func SendIoctl(w io.Writer, seq Sequence, cmd uint32, argCode uint8, arg []byte) error {
	head := make([]byte, 8)
	be32(head[0:4], cmd)
	head[4] = argCode
	hdr := RequestHeader{Op: OpIoctl, Len: payloadLen(head, arg), Seq: uint64(seq)}
	return sendFrame(w, hdr, head, arg)
}

// SendPoll writes a Poll request.
func SendPoll(w io.Writer, seq Sequence, kh uint64, flags, events uint32) error {
	payload := make([]byte, 16)
	be64(payload[0:8], kh)
	be32(payload[8:12], flags)
	be32(payload[12:16], events)
	hdr := RequestHeader{Op: OpPoll, Len: payloadLen(payload), Seq: uint64(seq)}
	return sendFrame(w, hdr, payload)
}

// SendInterrupt writes an Interrupt request; seq identifies the target
// request to abort, not a new pending request of its own.
func SendInterrupt(w io.Writer, seq Sequence) error {
	hdr := RequestHeader{Op: OpInterrupt, Len: 0, Seq: uint64(seq)}
	return sendFrame(w, hdr)
}
