package netproto

import (
	"io"
	"time"

	"github.com/jacobsa/cuse2net/ioutil2"
	"github.com/jacobsa/cuse2net/wireerr"
)

// IoctlResponseBody is the Ioctl response payload: {retval:u64,
// arg_code:u8} + 7 pad + the encoded result argument.
type IoctlResponseBody struct {
	Retval  uint64
	ArgCode uint8
	Arg     []byte
}

// Response is the tagged union of every south-side response kind. Err
// is nonzero when the remote side reports a failed errno for the
// request identified by Seq; in that case no other field is populated
// and callers should consult RemoteError semantics (spec.md §7).
type Response struct {
	Op    ResponseOp
	Seq   Sequence
	Err   uint16
	Write uint32
	Read  []byte
	Ioctl IoctlResponseBody
	Poll  uint32
	// Kh is the woken watch handle for a PollWakeup1, or the response
	// payload for PollWakeup: every watch handle currently ready.
	Kh  uint64
	Khs []uint64
}

// RecvResponse reads one response from r, blocking indefinitely on the
// header and applying FrameTimeout to the payload once the header is
// committed.
func RecvResponse(r io.Reader) (Response, error) {
	if dl, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok {
		if err := dl.SetReadDeadline(time.Time{}); err != nil {
			return Response{}, err
		}
	}
	var hdrBuf [HeaderSize]byte
	if err := ioutil2.ReadFull(r, hdrBuf[:], time.Time{}); err != nil {
		return Response{}, err
	}
	hdr := UnmarshalResponseHeader(hdrBuf[:])

	switch hdr.Op {
	case RespResult, RespWrite, RespRead, RespIoctl, RespPoll, RespPollWakeup, RespPollWakeup1:
	default:
		return Response{}, &wireerr.BadOpError{Op: uint8(hdr.Op)}
	}

	fr, err := NewFrameReader(r, int(hdr.Len))
	if err != nil {
		return Response{}, err
	}

	resp := Response{Op: hdr.Op, Seq: hdr.Seq, Err: hdr.Err}

	if hdr.Err != 0 {
		if err := fr.Done(); err != nil {
			return Response{}, err
		}
		return resp, nil
	}

	switch hdr.Op {
	case RespResult:
		// empty payload

	case RespWrite:
		n, err := fr.ReadU32()
		if err != nil {
			return Response{}, err
		}
		resp.Write = n

	case RespRead:
		data, err := fr.RestBytes()
		if err != nil {
			return Response{}, err
		}
		resp.Read = data

	case RespIoctl:
		retval, err := fr.ReadU64()
		if err != nil {
			return Response{}, err
		}
		argCode, err := fr.ReadU8()
		if err != nil {
			return Response{}, err
		}
		if err := fr.Skip(7); err != nil {
			return Response{}, err
		}
		arg, err := fr.RestBytes()
		if err != nil {
			return Response{}, err
		}
		resp.Ioctl = IoctlResponseBody{Retval: retval, ArgCode: argCode, Arg: arg}

	case RespPoll:
		revents, err := fr.ReadU32()
		if err != nil {
			return Response{}, err
		}
		resp.Poll = revents

	case RespPollWakeup1:
		kh, err := fr.ReadU64()
		if err != nil {
			return Response{}, err
		}
		resp.Kh = kh

	case RespPollWakeup:
		if fr.Remaining()%8 != 0 {
			return Response{}, wireerr.ErrUnalignedLength
		}
		n := fr.Remaining() / 8
		khs := make([]uint64, 0, n)
		for i := 0; i < n; i++ {
			kh, err := fr.ReadU64()
			if err != nil {
				return Response{}, err
			}
			khs = append(khs, kh)
		}
		resp.Khs = khs
	}

	if err := fr.Done(); err != nil {
		return Response{}, err
	}

	return resp, nil
}

func sendResponseFrame(w io.Writer, hdr ResponseHeader, payload ...[]byte) error {
	iov := make([][]byte, 0, len(payload)+1)
	iov = append(iov, hdr.Marshal())
	iov = append(iov, payload...)
	return ioutil2.WriteGather(w, iov...)
}

// SendRemoteError writes a failed response: a bare header with Err set
// and a zero-length payload, regardless of which op it answers.
func SendRemoteError(w io.Writer, op ResponseOp, seq Sequence, errno uint16) error {
	hdr := ResponseHeader{Op: op, Err: errno, Len: 0, Seq: uint64(seq)}
	return sendResponseFrame(w, hdr)
}

// SendResult writes a bare success response (Release's reply).
func SendResult(w io.Writer, seq Sequence) error {
	hdr := ResponseHeader{Op: RespResult, Len: 0, Seq: uint64(seq)}
	return sendResponseFrame(w, hdr)
}

// SendWriteResult writes the number of bytes accepted by a Write.
func SendWriteResult(w io.Writer, seq Sequence, n uint32) error {
	payload := make([]byte, 4)
	be32(payload, n)
	hdr := ResponseHeader{Op: RespWrite, Len: payloadLen(payload), Seq: uint64(seq)}
	return sendResponseFrame(w, hdr, payload)
}

// SendReadResult writes the bytes read.
func SendReadResult(w io.Writer, seq Sequence, data []byte) error {
	hdr := ResponseHeader{Op: RespRead, Len: payloadLen(data), Seq: uint64(seq)}
	return sendResponseFrame(w, hdr, data)
}

// SendIoctlResult writes an ioctl's return value and result argument.
func SendIoctlResult(w io.Writer, seq Sequence, retval uint64, argCode uint8, arg []byte) error {
	head := make([]byte, 16)
	be64(head[0:8], retval)
	head[8] = argCode
	hdr := ResponseHeader{Op: RespIoctl, Len: payloadLen(head, arg), Seq: uint64(seq)}
	return sendResponseFrame(w, hdr, head, arg)
}

// SendPollResult writes the revents observed for a Poll request.
func SendPollResult(w io.Writer, seq Sequence, revents uint32) error {
	payload := make([]byte, 4)
	be32(payload, revents)
	hdr := ResponseHeader{Op: RespPoll, Len: payloadLen(payload), Seq: uint64(seq)}
	return sendResponseFrame(w, hdr, payload)
}

// SendPollWakeup1 notifies that a single watch handle became ready.
// Seq is 0: wakeups are server-initiated, not replies to a request.
func SendPollWakeup1(w io.Writer, kh uint64) error {
	payload := make([]byte, 8)
	be64(payload, kh)
	hdr := ResponseHeader{Op: RespPollWakeup1, Len: payloadLen(payload), Seq: 0}
	return sendResponseFrame(w, hdr, payload)
}

// SendPollWakeup notifies that every kh in khs became ready at once.
func SendPollWakeup(w io.Writer, khs []uint64) error {
	payload := make([]byte, 8*len(khs))
	for i, kh := range khs {
		be64(payload[i*8:i*8+8], kh)
	}
	hdr := ResponseHeader{Op: RespPollWakeup, Len: payloadLen(payload), Seq: 0}
	return sendResponseFrame(w, hdr, payload)
}
