// Package ioutil2 provides the bounded-time exact reads and
// all-or-nothing gathered writes that the wire codecs build on. It
// generalizes the teacher's Connection.readMessage (EINTR retry loop)
// and Connection.writeMessage/writeOutMessage (short-write is fatal,
// writev when there's more than one slice) to arbitrary readers and
// writers, with an optional deadline.
package ioutil2

import (
	"errors"
	"io"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jacobsa/cuse2net/wireerr"
)

type deadliner interface {
	SetReadDeadline(time.Time) error
}

// ReadFull reads len(buf) bytes from r, retrying on EINTR, honoring an
// optional deadline. The zero Time leaves any deadline already set on r
// untouched (useful when a caller wants one deadline to span several
// ReadFull calls); a non-zero Time is applied via SetReadDeadline before
// reading. It is the exact-read counterpart of the teacher's
// Connection.readMessage, generalized to take a caller supplied
// deadline instead of blocking on /dev/fuse forever.
func ReadFull(r io.Reader, buf []byte, deadline time.Time) error {
	if !deadline.IsZero() {
		if dl, ok := r.(deadliner); ok {
			if err := dl.SetReadDeadline(deadline); err != nil {
				return err
			}
		}
	}

	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if read == len(buf) {
			return nil
		}
		if err == io.EOF && read > 0 {
			return io.ErrUnexpectedEOF
		}
		return err
	}

	return nil
}

type fder interface {
	Fd() uintptr
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// WriteGather writes every slice in iov as a single atomic write when
// possible (writev(2) via unix.Writev when w exposes a raw file
// descriptor), falling back to one concatenated Write otherwise. A
// short write is always fatal: this codebase never implements partial
// vectored-write retry, matching spec.md's correctness-before-liveness
// policy for BadSend.
func WriteGather(w io.Writer, iov ...[]byte) error {
	total := 0
	for _, b := range iov {
		total += len(b)
	}
	if total == 0 {
		return nil
	}

	if len(iov) == 1 {
		return writeAll(w, iov[0])
	}

	if fd, ok := w.(fder); ok {
		return writevFd(fd.Fd(), iov, total)
	}

	if sc, ok := w.(syscallConner); ok {
		raw, err := sc.SyscallConn()
		if err != nil {
			return err
		}
		var werr error
		var n int
		ctrlErr := raw.Write(func(fd uintptr) bool {
			n, werr = unix.Writev(int(fd), iov)
			return true
		})
		if ctrlErr != nil {
			return ctrlErr
		}
		if werr != nil {
			return werr
		}
		if n != total {
			return wireerr.ErrBadSend
		}
		return nil
	}

	buf := make([]byte, 0, total)
	for _, b := range iov {
		buf = append(buf, b...)
	}
	return writeAll(w, buf)
}

func writevFd(fd uintptr, iov [][]byte, total int) error {
	n, err := unix.Writev(int(fd), iov)
	if err != nil {
		return err
	}
	if n != total {
		return wireerr.ErrBadSend
	}
	return nil
}

func writeAll(w io.Writer, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return wireerr.ErrBadSend
	}
	return nil
}
