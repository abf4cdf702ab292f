// Package realdev implements the server bridge of spec.md §4.5: one
// LocalDevice per accepted TCP connection, opening a real character
// device and running its read/poll/ioctl traffic against the
// south-side wire protocol. Grounded on original_source's
// src/realdev/{mod,read,poll}.rs.
package realdev

import (
	"context"
	"io"
	"net"
	"unsafe"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/cuse2net/internal/logging"
	"github.com/jacobsa/cuse2net/internal/metrics"
	"github.com/jacobsa/cuse2net/wire/cuseproto"
	"github.com/jacobsa/cuse2net/wire/ioctlreg"
	"github.com/jacobsa/cuse2net/wire/netproto"
	"github.com/jacobsa/cuse2net/wireerr"

	"github.com/rs/zerolog"
)

// LocalDevice is one accepted connection paired with the real
// character device it was told to open.
type LocalDevice struct {
	fd   int
	conn net.Conn
	log  zerolog.Logger

	read *readPump
	poll *pollPump
}

// Accept reads the first message on conn, which must be Open, and on
// success opens path with O_CLOEXEC|O_NONBLOCK|O_NOCTTY plus whatever
// flags the kernel side requested. Any other first message, or a
// failed open, replies to the client and returns an error.
func Accept(conn net.Conn, path string) (*LocalDevice, error) {
	log := logging.Get().With().Str("remote", conn.RemoteAddr().String()).Str("device", path).Logger()

	req, err := netproto.RecvRequest(conn)
	if err != nil {
		return nil, err
	}
	if req.Op != netproto.OpOpen {
		log.Warn().Stringer("op", req.Op).Msg("first message on connection was not Open")
		_ = netproto.SendRemoteError(conn, netproto.RespResult, req.Seq, uint16(unix.EINVAL))
		return nil, wireerr.ErrBadRequest
	}

	fd, err := unix.Open(path, int(req.Open.Flags)|unix.O_CLOEXEC|unix.O_NONBLOCK|unix.O_NOCTTY, 0)
	if err != nil {
		log.Error().Err(err).Msg("failed to open device")
		_ = netproto.SendRemoteError(conn, netproto.RespResult, req.Seq, errnoOf(err))
		return nil, err
	}

	if err := netproto.SendResult(conn, req.Seq); err != nil {
		unix.Close(fd)
		return nil, err
	}

	read, err := newReadPump(fd, conn, log)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	poll, err := newPollPump(fd, conn, log)
	if err != nil {
		read.Close()
		unix.Close(fd)
		return nil, err
	}

	metrics.ConnectionsOpened.Inc()
	return &LocalDevice{fd: fd, conn: conn, log: log, read: read, poll: poll}, nil
}

// Run drives the device's three cooperating goroutines until the
// kernel side releases it, the connection fails, or ctx is canceled.
// It always closes the device fd and the connection before returning.
func (d *LocalDevice) Run(ctx context.Context) error {
	defer unix.Close(d.fd)
	defer d.conn.Close()
	defer metrics.DevicesTornDown.Inc()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.read.run()
		return nil
	})
	g.Go(func() error {
		d.poll.run()
		return nil
	})
	g.Go(func() error {
		defer d.read.Close()
		defer d.poll.Close()
		return d.dispatch(ctx)
	})

	return g.Wait()
}

// dispatch is the main goroutine: it owns ioctl(2) execution directly
// so a slow ioctl never blocks reads or poll notifications, and hands
// read/poll requests off to their respective pumps.
func (d *LocalDevice) dispatch(ctx context.Context) error {
	for {
		req, err := netproto.RecvRequest(d.conn)
		if err != nil {
			return err
		}

		metrics.RequestsTotal.WithLabelValues(req.Op.String()).Inc()

		switch req.Op {
		case netproto.OpOpen:
			d.log.Warn().Msg("received Open on an already-open device")
			if err := netproto.SendRemoteError(d.conn, netproto.RespResult, req.Seq, uint16(unix.EINVAL)); err != nil {
				return err
			}

		case netproto.OpRelease:
			return netproto.SendResult(d.conn, req.Seq)

		case netproto.OpWrite:
			d.write(req.Seq, req.Write)

		case netproto.OpRead:
			d.dispatchRead(req.Seq, req.Read)

		case netproto.OpIoctl:
			d.ioctl(req.Seq, req.Ioctl)

		case netproto.OpPoll:
			d.pollRequest(req.Seq, req.Poll)

		case netproto.OpInterrupt:
			d.read.Interrupt(&req.Seq)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *LocalDevice) write(seq netproto.Sequence, w netproto.WriteRequestBody) {
	var n int
	var err error
	if w.Offset == 0 {
		n, err = unix.Write(d.fd, w.Data)
	} else {
		n, err = unix.Pwrite(d.fd, w.Data, int64(w.Offset))
	}
	if err != nil {
		if serr := netproto.SendRemoteError(d.conn, netproto.RespWrite, seq, errnoOf(err)); serr != nil {
			d.log.Error().Err(serr).Msg("failed to send write error")
		}
		return
	}
	if serr := netproto.SendWriteResult(d.conn, seq, uint32(n)); serr != nil {
		d.log.Error().Err(serr).Msg("failed to send write result")
	}
}

// dispatchRead routes a Read request to an immediate, non-blocking
// attempt or the read pump's queue, per original_source's
// Device::read: O_NONBLOCK file handles never wait.
func (d *LocalDevice) dispatchRead(seq netproto.Sequence, r netproto.ReadRequestBody) {
	if r.FhFlags&unix.O_NONBLOCK != 0 {
		d.read.ReadNonblock(seq, int(r.Size))
		return
	}
	d.read.PushRequest(seq, int(r.Size))
}

func (d *LocalDevice) pollRequest(seq netproto.Sequence, p netproto.PollRequestBody) {
	events := cuseproto.PollEvents(p.Events)
	if cuseproto.PollFlags(p.Flags)&cuseproto.PollScheduleNotify != 0 {
		d.poll.Poll(seq, p.Kh, events)
	} else {
		d.poll.PollOnce(seq, events)
	}
}

// ioctl performs the ioctl(2) syscall directly on the dispatch
// goroutine using ioctlreg's host-native encoding, then re-decodes the
// (possibly mutated) buffer from the device's point of view and sends
// it back as the wire-canonical argument, per original_source's
// Device::ioctl.
func (d *LocalDevice) ioctl(seq netproto.Sequence, req netproto.IoctlRequestBody) {
	arg, err := ioctlreg.WireDecode(req.ArgCode, req.Arg)
	if err != nil {
		if serr := netproto.SendRemoteError(d.conn, netproto.RespIoctl, seq, uint16(unix.EINVAL)); serr != nil {
			d.log.Error().Err(serr).Msg("failed to send ioctl decode error")
		}
		return
	}

	cmd := ioctlreg.Cmd(req.Cmd)
	buf, err := ioctlreg.Encode(cmd, arg)
	if err != nil {
		if serr := netproto.SendRemoteError(d.conn, netproto.RespIoctl, seq, uint16(unix.EINVAL)); serr != nil {
			d.log.Error().Err(serr).Msg("failed to send ioctl encode error")
		}
		return
	}

	var val uintptr
	if o, ok := arg.(ioctlreg.ArgOpaque); ok {
		val = uintptr(o.Value)
	}
	rc, err := rawIoctl(d.fd, uintptr(cmd), buf, val)
	if err != nil {
		d.log.Warn().Err(err).Uint32("cmd", req.Cmd).Msg("ioctl failed")
		if serr := netproto.SendRemoteError(d.conn, netproto.RespIoctl, seq, errnoOf(err)); serr != nil {
			d.log.Error().Err(serr).Msg("failed to send ioctl errno")
		}
		return
	}

	resArg, err := ioctlreg.DecodeArg(cmd, 0, buf, ioctlreg.SourceDevice)
	if err != nil {
		if serr := netproto.SendRemoteError(d.conn, netproto.RespIoctl, seq, uint16(unix.EINVAL)); serr != nil {
			d.log.Error().Err(serr).Msg("failed to send ioctl re-decode error")
		}
		return
	}

	code := ioctlreg.Code(resArg)
	wire := ioctlreg.WireEncode(resArg)
	if serr := netproto.SendIoctlResult(d.conn, seq, uint64(rc), code, wire); serr != nil {
		d.log.Error().Err(serr).Msg("failed to send ioctl result")
	}
}

// rawIoctl performs the syscall directly: buf, when non-empty,
// supplies (and receives, for read-direction commands) the argument
// structure in host-native layout; an empty buf passes the raw
// argument by value (TCSBRK-style commands outside the correction
// table).
func rawIoctl(fd int, cmd uintptr, buf []byte, val uintptr) (int, error) {
	argPtr := val
	if len(buf) > 0 {
		argPtr = uintptr(unsafe.Pointer(&buf[0]))
	}
	rc, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, argPtr)
	if errno != 0 {
		return 0, errno
	}
	return int(rc), nil
}

var _ io.Closer = (*LocalDevice)(nil)

// Close releases the device fd and connection without waiting for
// Run's goroutines; used when Accept succeeds but the caller decides
// not to run the device after all.
func (d *LocalDevice) Close() error {
	d.read.Close()
	d.poll.Close()
	unix.Close(d.fd)
	return d.conn.Close()
}
