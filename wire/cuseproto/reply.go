package cuseproto

import (
	"encoding/binary"
	"io"
	"syscall"

	"github.com/jacobsa/cuse2net/ioutil2"
)

func encodeOutHeader(length uint32, errno int32, unique uint64) []byte {
	buf := make([]byte, OutHeaderSize)
	binary.NativeEndian.PutUint32(buf[0:4], length)
	binary.NativeEndian.PutUint32(buf[4:8], uint32(errno))
	binary.NativeEndian.PutUint64(buf[8:16], unique)
	return buf
}

func totalLen(iov [][]byte) uint32 {
	n := OutHeaderSize
	for _, b := range iov {
		n += len(b)
	}
	return uint32(n)
}

// SendResponse replies to request unique with a zero-error fuse_out_header
// followed by the concatenation of iov. It performs exactly one gathered
// write; a short write is fatal (wireerr.ErrBadSend).
func SendResponse(dev io.Writer, unique uint64, iov ...[]byte) error {
	hdr := encodeOutHeader(totalLen(iov), 0, unique)
	all := make([][]byte, 0, len(iov)+1)
	all = append(all, hdr)
	all = append(all, iov...)
	return ioutil2.WriteGather(dev, all...)
}

// SendError replies to request unique with a negated errno and no
// payload.
func SendError(dev io.Writer, unique uint64, errno syscall.Errno) error {
	hdr := encodeOutHeader(OutHeaderSize, -int32(errno), unique)
	return ioutil2.WriteGather(dev, hdr)
}

// SendNotify sends an unsolicited, server-initiated message: unique=0,
// error=notify_code.
func SendNotify(dev io.Writer, code int32, payload []byte) error {
	hdr := encodeOutHeader(uint32(OutHeaderSize+len(payload)), code, 0)
	return ioutil2.WriteGather(dev, hdr, payload)
}

// FuseNotifyPoll is the notification code for FUSE_NOTIFY_POLL.
const FuseNotifyPoll int32 = 1

// SendNotifyPoll emits a FUSE_NOTIFY_POLL for the given kernel poll
// handle.
func SendNotifyPoll(dev io.Writer, kh uint64) error {
	payload := make([]byte, 8)
	binary.NativeEndian.PutUint64(payload, kh)
	return SendNotify(dev, FuseNotifyPoll, payload)
}

// CuseInitOut is the reply to the first CUSE_INIT, per spec.md §6.
type CuseInitOut struct {
	Major    uint32
	Minor    uint32
	Flags    CuseInitFlags
	MaxRead  uint32
	MaxWrite uint32
	DevMajor uint32
	DevMinor uint32
}

// Encode returns the cuse_init_out payload followed by a
// NUL-terminated "DEVNAME=<name>" string, exactly as spec.md §6
// requires.
func (o CuseInitOut) Encode(devName string) []byte {
	buf := make([]byte, 28)
	binary.NativeEndian.PutUint32(buf[0:4], o.Major)
	binary.NativeEndian.PutUint32(buf[4:8], o.Minor)
	binary.NativeEndian.PutUint32(buf[8:12], uint32(o.Flags))
	binary.NativeEndian.PutUint32(buf[12:16], o.MaxRead)
	binary.NativeEndian.PutUint32(buf[16:20], o.MaxWrite)
	binary.NativeEndian.PutUint32(buf[20:24], o.DevMajor)
	binary.NativeEndian.PutUint32(buf[24:28], o.DevMinor)

	devname := append([]byte("DEVNAME="+devName), 0)
	return append(buf, devname...)
}

// OpenOut is the reply to FUSE_OPEN.
type OpenOut struct {
	Fh         uint64
	OpenFlags  uint32
}

func (o OpenOut) Encode() []byte {
	buf := make([]byte, 16)
	binary.NativeEndian.PutUint64(buf[0:8], o.Fh)
	binary.NativeEndian.PutUint32(buf[8:12], o.OpenFlags)
	return buf
}

// WriteOut is the reply to FUSE_WRITE.
type WriteOut struct {
	Size uint32
}

func (o WriteOut) Encode() []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint32(buf[0:4], o.Size)
	return buf
}

// PollOut is the reply to FUSE_POLL.
type PollOut struct {
	Revents uint32
}

func (o PollOut) Encode() []byte {
	buf := make([]byte, 8)
	binary.NativeEndian.PutUint32(buf[0:4], o.Revents)
	return buf
}

// IoctlOut is the reply to FUSE_IOCTL, used both for the retry
// elicitation (flags|IoctlRetry set, InIovs/OutIovs describing the
// iovecs that follow) and for the final result (Result holding the
// ioctl's return value, OutIovs=1 when an argument buffer follows).
type IoctlOut struct {
	Result  int32
	Flags   IoctlFlags
	InIovs  uint32
	OutIovs uint32
}

func (o IoctlOut) Encode() []byte {
	buf := make([]byte, 16)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(o.Result))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(o.Flags))
	binary.NativeEndian.PutUint32(buf[8:12], o.InIovs)
	binary.NativeEndian.PutUint32(buf[12:16], o.OutIovs)
	return buf
}

// IoctlIovec is one {base, len} entry of an ioctl retry request.
type IoctlIovec struct {
	Base uint64
	Len  uint64
}

func (v IoctlIovec) Encode() []byte {
	buf := make([]byte, 16)
	binary.NativeEndian.PutUint64(buf[0:8], v.Base)
	binary.NativeEndian.PutUint64(buf[8:16], v.Len)
	return buf
}
