package cuseproto

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func putInHeader(buf []byte, length, opcode uint32, unique uint64) {
	binary.NativeEndian.PutUint32(buf[0:4], length)
	binary.NativeEndian.PutUint32(buf[4:8], opcode)
	binary.NativeEndian.PutUint64(buf[8:16], unique)
}

func TestDecodeOpcodeCollapsesUnknown(t *testing.T) {
	require.Equal(t, OpOpen, DecodeOpcode(uint32(OpOpen)))
	require.Equal(t, OpUnknown, DecodeOpcode(999999))
}

func TestReadBufHeaderAndOpenIn(t *testing.T) {
	raw := make([]byte, MinReadBuf)
	putInHeader(raw, InHeaderSize+8, uint32(OpOpen), 42)
	binary.NativeEndian.PutUint32(raw[InHeaderSize:InHeaderSize+4], uint32(OpenWRONLY|OpenCREAT))

	b := NewReadBuf()
	copy(b.Raw(), raw)
	b.SetLength(InHeaderSize + 8)

	h, err := b.Header()
	require.NoError(t, err)
	require.Equal(t, uint64(42), h.Unique)
	require.Equal(t, OpOpen, DecodeOpcode(h.Opcode))

	open, err := DecodeOpenIn(b)
	require.NoError(t, err)
	require.Equal(t, OpenWRONLY|OpenCREAT, open.Flags)
}

func TestOpenFlagsString(t *testing.T) {
	require.Equal(t, "WRONLY|CREAT", (OpenWRONLY | OpenCREAT).String())
	require.Equal(t, "RDONLY", OpenFlags(0).String())
}

func TestPollEventsString(t *testing.T) {
	require.Equal(t, "IN|OUT", (PollIN | PollOUT).String())
}

func TestSendResponseSendError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SendResponse(&buf, 7, []byte{1, 2, 3}))
	require.Equal(t, OutHeaderSize+3, buf.Len())

	buf.Reset()
	require.NoError(t, SendError(&buf, 7, 5))
	require.Equal(t, OutHeaderSize, buf.Len())
}

func TestCuseInitOutEncodesDevname(t *testing.T) {
	out := CuseInitOut{Major: 7, Minor: 31, MaxRead: 131072, MaxWrite: 131072 - 4096}
	enc := out.Encode("my-device")
	require.Contains(t, string(enc), "DEVNAME=my-device\x00")
}
