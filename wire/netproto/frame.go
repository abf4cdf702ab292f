package netproto

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/jacobsa/cuse2net/ioutil2"
	"github.com/jacobsa/cuse2net/wireerr"
)

// FrameTimeout bounds how long the payload following a committed
// header may take to arrive. The header read itself may block forever
// (there is no outstanding work until one arrives); once it has been
// read the rest of the frame is expected promptly.
const FrameTimeout = 3 * time.Second

// FrameReader tracks the declining "bytes remaining in this frame"
// counter described in spec.md §4.2: every typed read decrements it,
// and any read that would underrun returns ErrEndOfFrame. Dispatchers
// must call Done after consuming every field they expect; a nonzero
// remainder is a protocol error.
type FrameReader struct {
	r         io.Reader
	remaining int
}

// NewFrameReader begins reading a len-byte payload from r, which must
// already have had its header consumed. It arms a FrameTimeout deadline
// on r if r supports SetReadDeadline.
func NewFrameReader(r io.Reader, length int) (*FrameReader, error) {
	if length > MaxFrameSize {
		return nil, &wireerr.PayloadTooLargeError{Len: length}
	}

	type deadliner interface {
		SetReadDeadline(time.Time) error
	}
	if dl, ok := r.(deadliner); ok {
		if err := dl.SetReadDeadline(time.Now().Add(FrameTimeout)); err != nil {
			return nil, err
		}
	}

	return &FrameReader{r: r, remaining: length}, nil
}

// Remaining reports the number of payload bytes not yet consumed.
func (f *FrameReader) Remaining() int { return f.remaining }

func (f *FrameReader) take(n int) ([]byte, error) {
	if n > f.remaining {
		return nil, wireerr.ErrEndOfFrame
	}
	buf := make([]byte, n)
	if err := ioutil2.ReadFull(f.r, buf, time.Time{}); err != nil {
		return nil, err
	}
	f.remaining -= n
	return buf, nil
}

func (f *FrameReader) ReadU8() (uint8, error) {
	b, err := f.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *FrameReader) ReadU16() (uint16, error) {
	b, err := f.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (f *FrameReader) ReadU32() (uint32, error) {
	b, err := f.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (f *FrameReader) ReadU64() (uint64, error) {
	b, err := f.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadBytes reads exactly n bytes, typically the variable-length tail
// of a frame (write data, ioctl argument bytes, read buffers).
func (f *FrameReader) ReadBytes(n int) ([]byte, error) {
	return f.take(n)
}

// Skip discards n padding bytes without returning them.
func (f *FrameReader) Skip(n int) error {
	_, err := f.take(n)
	return err
}

// Done returns ErrBadLength if any payload bytes remain unconsumed.
// Dispatchers must call this after decoding every field a request or
// response kind defines (spec.md §8 property 4).
func (f *FrameReader) Done() error {
	if f.remaining != 0 {
		return wireerr.ErrBadLength
	}
	return nil
}

// RestBytes consumes and returns every remaining byte; used for
// variable-length tails whose size is "whatever is left in the frame"
// (write data, read payloads, ioctl argument bytes).
func (f *FrameReader) RestBytes() ([]byte, error) {
	return f.take(f.remaining)
}
