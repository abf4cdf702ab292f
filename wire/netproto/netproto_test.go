package netproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencerMintsFromOne(t *testing.T) {
	s := NewSequencer()
	require.Equal(t, Sequence(1), s.Next())
	require.Equal(t, Sequence(2), s.Next())
	require.Equal(t, Sequence(3), s.Next())
}

func TestRequestHeaderRoundTrip(t *testing.T) {
	h := RequestHeader{Op: OpWrite, Len: 42, Seq: 7}
	got := UnmarshalRequestHeader(h.Marshal())
	require.Equal(t, h, got)
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	h := ResponseHeader{Op: RespIoctl, Err: 5, Len: 16, Seq: 99}
	got := UnmarshalResponseHeader(h.Marshal())
	require.Equal(t, h, got)
}

func TestOpenRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendOpen(&buf, 3, 0x8000))

	req, err := RecvRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, OpOpen, req.Op)
	require.Equal(t, Sequence(3), req.Seq)
	require.Equal(t, uint32(0x8000), req.Open.Flags)
}

func TestWriteRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	data := []byte("hello world")
	require.NoError(t, SendWrite(&buf, 9, 128, 0x1, data))

	req, err := RecvRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, OpWrite, req.Op)
	require.Equal(t, uint64(128), req.Write.Offset)
	require.Equal(t, uint32(0x1), req.Write.FhFlags)
	require.Equal(t, data, req.Write.Data)
}

func TestIoctlRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	arg := []byte{1, 2, 3, 4}
	require.NoError(t, SendIoctl(&buf, 1, 0x5401, 2, arg))

	req, err := RecvRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, OpIoctl, req.Op)
	require.Equal(t, uint32(0x5401), req.Ioctl.Cmd)
	require.Equal(t, uint8(2), req.Ioctl.ArgCode)
	require.Equal(t, arg, req.Ioctl.Arg)
}

func TestPollRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendPoll(&buf, 4, 77, 0x2, 0x3))

	req, err := RecvRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, OpPoll, req.Op)
	require.Equal(t, uint64(77), req.Poll.Kh)
	require.Equal(t, uint32(0x2), req.Poll.Flags)
	require.Equal(t, uint32(0x3), req.Poll.Events)
}

func TestReleaseAndInterruptRequestsAreEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendRelease(&buf, 1))
	req, err := RecvRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, OpRelease, req.Op)

	buf.Reset()
	require.NoError(t, SendInterrupt(&buf, 1))
	req, err = RecvRequest(&buf)
	require.NoError(t, err)
	require.Equal(t, OpInterrupt, req.Op)
}

func TestRecvRequestRejectsUnknownOp(t *testing.T) {
	var buf bytes.Buffer
	hdr := RequestHeader{Op: RequestOp(200), Len: 0, Seq: 1}
	buf.Write(hdr.Marshal())

	_, err := RecvRequest(&buf)
	require.Error(t, err)
}

func TestReadResultRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	data := []byte("payload bytes")
	require.NoError(t, SendReadResult(&buf, 5, data))

	resp, err := RecvResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, RespRead, resp.Op)
	require.Equal(t, data, resp.Read)
}

func TestIoctlResultRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	arg := []byte{9, 9}
	require.NoError(t, SendIoctlResult(&buf, 6, 0, 1, arg))

	resp, err := RecvResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, RespIoctl, resp.Op)
	require.Equal(t, uint64(0), resp.Ioctl.Retval)
	require.Equal(t, uint8(1), resp.Ioctl.ArgCode)
	require.Equal(t, arg, resp.Ioctl.Arg)
}

func TestPollWakeupRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	khs := []uint64{1, 2, 3}
	require.NoError(t, SendPollWakeup(&buf, khs))

	resp, err := RecvResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, RespPollWakeup, resp.Op)
	require.Equal(t, khs, resp.Khs)
}

func TestPollWakeup1RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendPollWakeup1(&buf, 42))

	resp, err := RecvResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, RespPollWakeup1, resp.Op)
	require.Equal(t, uint64(42), resp.Kh)
}

func TestRemoteErrorResponseCarriesNoPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendRemoteError(&buf, RespResult, 8, 5))

	resp, err := RecvResponse(&buf)
	require.NoError(t, err)
	require.Equal(t, uint16(5), resp.Err)
	require.Equal(t, Sequence(8), resp.Seq)
}

func TestOversizedFrameIsRejected(t *testing.T) {
	hdr := RequestHeader{Op: OpWrite, Len: MaxFrameSize + 1, Seq: 1}
	var buf bytes.Buffer
	buf.Write(hdr.Marshal())

	_, err := RecvRequest(&buf)
	require.Error(t, err)
}
