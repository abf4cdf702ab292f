// Package netproto implements the south-side wire protocol of spec.md
// §4.2: a length-prefixed, big-endian request/response protocol carried
// over one TCP connection per open kernel instance.
package netproto

import (
	"encoding/binary"
)

// HeaderSize is the fixed size, in bytes, of both the request and the
// response header.
const HeaderSize = 16

// MaxFrameSize is the largest payload (header excluded) either side
// will accept. Frames exceeding it are a protocol error (S5): the
// connection is closed without reading the payload.
const MaxFrameSize = 128 * 1024

// RequestOp identifies the kind of a south-side request.
type RequestOp uint8

const (
	OpOpen      RequestOp = 1
	OpRelease   RequestOp = 2
	OpWrite     RequestOp = 3
	OpRead      RequestOp = 4
	OpIoctl     RequestOp = 5
	OpPoll      RequestOp = 6
	OpInterrupt RequestOp = 7
)

func (op RequestOp) String() string {
	switch op {
	case OpOpen:
		return "Open"
	case OpRelease:
		return "Release"
	case OpWrite:
		return "Write"
	case OpRead:
		return "Read"
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

// ResponseOp identifies the kind of a south-side response.
type ResponseOp uint8

const (
	RespResult       ResponseOp = 1
	RespWrite        ResponseOp = 2
	RespRead         ResponseOp = 3
	RespIoctl        ResponseOp = 4
	RespPoll         ResponseOp = 5
	RespPollWakeup   ResponseOp = 6
	RespPollWakeup1  ResponseOp = 7
)

func (op ResponseOp) String() string {
	switch op {
	case RespResult:
		return "Result"
	case RespWrite:
		return "Write"
	case RespRead:
		return "Read"
	case RespIoctl:
		return "Ioctl"
	case RespPoll:
		return "Poll"
	case RespPollWakeup:
		return "PollWakeup"
	case RespPollWakeup1:
		return "PollWakeup1"
	default:
		return "Unknown"
	}
}

// RequestHeader is the 16-byte header preceding every south-side
// request: {op:u8, _:3, len:u32, seq:u64}, big-endian.
type RequestHeader struct {
	Op  RequestOp
	Len uint32
	Seq uint64
}

// Marshal encodes h into a freshly allocated 16-byte slice.
func (h RequestHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Op)
	binary.BigEndian.PutUint32(buf[4:8], h.Len)
	binary.BigEndian.PutUint64(buf[8:16], h.Seq)
	return buf
}

// UnmarshalRequestHeader decodes a 16-byte buffer into a RequestHeader.
func UnmarshalRequestHeader(buf []byte) RequestHeader {
	return RequestHeader{
		Op:  RequestOp(buf[0]),
		Len: binary.BigEndian.Uint32(buf[4:8]),
		Seq: binary.BigEndian.Uint64(buf[8:16]),
	}
}

// ResponseHeader is the 16-byte header preceding every south-side
// response: {op:u8, _:1, err:u16, len:u32, seq:u64}, big-endian.
type ResponseHeader struct {
	Op  ResponseOp
	Err uint16
	Len uint32
	Seq uint64
}

func (h ResponseHeader) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Op)
	binary.BigEndian.PutUint16(buf[2:4], h.Err)
	binary.BigEndian.PutUint32(buf[4:8], h.Len)
	binary.BigEndian.PutUint64(buf[8:16], h.Seq)
	return buf
}

func UnmarshalResponseHeader(buf []byte) ResponseHeader {
	return ResponseHeader{
		Op:  ResponseOp(buf[0]),
		Err: binary.BigEndian.Uint16(buf[2:4]),
		Len: binary.BigEndian.Uint32(buf[4:8]),
		Seq: binary.BigEndian.Uint64(buf[8:16]),
	}
}
