package virtdev

import (
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/jacobsa/cuse2net/internal/metrics"
	"github.com/jacobsa/cuse2net/registry"
	"github.com/jacobsa/cuse2net/wire/cuseproto"
	"github.com/jacobsa/cuse2net/wire/ioctlreg"
	"github.com/jacobsa/cuse2net/wire/netproto"
	"github.com/jacobsa/cuse2net/wireerr"
)

// register records that a request carrying seq is in flight for
// unique, so the receiver loop can route its eventual response.
func (rd *RemoteDevice) register(seq netproto.Sequence, p pendingRequest) {
	rd.mu.Lock()
	rd.inflight[seq] = p
	rd.mu.Unlock()
}

func (rd *RemoteDevice) take(seq netproto.Sequence) (pendingRequest, bool) {
	rd.mu.Lock()
	p, ok := rd.inflight[seq]
	if ok {
		delete(rd.inflight, seq)
	}
	rd.mu.Unlock()
	return p, ok
}

// Write forwards a FUSE_WRITE to the remote device.
func (rd *RemoteDevice) Write(unique uint64, offset uint64, fhFlags uint32, data []byte) error {
	seq := rd.seq.Next()
	rd.register(seq, pendingRequest{Kind: netproto.OpWrite, Unique: unique})
	metrics.RequestsTotal.WithLabelValues(netproto.OpWrite.String()).Inc()
	return netproto.SendWrite(rd.conn, seq, offset, fhFlags, data)
}

// Read forwards a FUSE_READ to the remote device.
func (rd *RemoteDevice) Read(unique uint64, offset uint64, size, fhFlags uint32) error {
	seq := rd.seq.Next()
	rd.register(seq, pendingRequest{Kind: netproto.OpRead, Unique: unique})
	metrics.RequestsTotal.WithLabelValues(netproto.OpRead.String()).Inc()
	return netproto.SendRead(rd.conn, seq, offset, size, fhFlags)
}

// Poll forwards a FUSE_POLL watch registration to the remote device.
func (rd *RemoteDevice) Poll(unique uint64, kh uint64, flags, events uint32) error {
	seq := rd.seq.Next()
	rd.register(seq, pendingRequest{Kind: netproto.OpPoll, Unique: unique})
	metrics.RequestsTotal.WithLabelValues(netproto.OpPoll.String()).Inc()
	return netproto.SendPoll(rd.conn, seq, kh, flags, events)
}

// Interrupt forwards a FUSE_INTERRUPT for the request that minted
// target; it carries no reply of its own and is not registered as
// pending.
func (rd *RemoteDevice) Interrupt(target netproto.Sequence) error {
	metrics.RequestsTotal.WithLabelValues(netproto.OpInterrupt.String()).Inc()
	return netproto.SendInterrupt(rd.conn, target)
}

// InterruptByUnique looks up the south-bound sequence carrying unique
// and forwards a FUSE_INTERRUPT for it. FUSE_INTERRUPT arrives with no
// fh of its own, so the caller (cmd/virtd's dispatch loop) must first
// find which RemoteDevice is even holding unique; this just resolves
// unique to a sequence once that device is known. A miss (the request
// already finished) is not an error.
func (rd *RemoteDevice) InterruptByUnique(unique uint64) error {
	rd.mu.RLock()
	var target netproto.Sequence
	found := false
	for seq, p := range rd.inflight {
		if p.Unique == unique {
			target = seq
			found = true
			break
		}
	}
	rd.mu.RUnlock()

	if !found {
		return nil
	}
	return rd.Interrupt(target)
}

// Release forwards a FUSE_RELEASE and does not wait for its result:
// spec.md §4.5 treats Release as fire-and-forget from the kernel's
// point of view (the kernel never blocks on fuse_release's reply), so
// it is not registered as pending.
func (rd *RemoteDevice) Release() error {
	seq := rd.seq.Next()
	metrics.RequestsTotal.WithLabelValues(netproto.OpRelease.String()).Inc()
	return netproto.SendRelease(rd.conn, seq)
}

// Ioctl implements spec.md §4.3's retry-elicitation stage from the
// client side: if the command's corrected size exceeds what the
// kernel already supplied, it replies with a retry request describing
// the iovec(s) the kernel should refill and resubmit; otherwise it
// decodes the buffer it was given and forwards the operation south.
func (rd *RemoteDevice) Ioctl(endpoint io.Writer, unique uint64, in cuseproto.IoctlIn, buf []byte) error {
	correction, known := ioctlreg.Correct(ioctlreg.Cmd(in.Cmd))
	short := false
	switch correction.Dir {
	case ioctlreg.DirW:
		short = len(buf) < correction.Size
	case ioctlreg.DirR:
		short = int(in.OutSize) < correction.Size
	case ioctlreg.DirRW:
		short = len(buf) < correction.Size || int(in.OutSize) < correction.Size
	}
	if known && correction.Size > 0 && short {
		metrics.IoctlRetriesTotal.Inc()
		return rd.sendIoctlRetry(endpoint, unique, in, correction)
	}

	arg, err := ioctlreg.DecodeArg(ioctlreg.Cmd(in.Cmd), in.Arg, buf, ioctlreg.SourceKernel)
	if err != nil {
		return cuseproto.SendError(endpoint, unique, errnoInval)
	}

	seq := rd.seq.Next()
	rd.register(seq, pendingRequest{Kind: netproto.OpIoctl, Unique: unique, IoctlCmd: ioctlreg.Cmd(in.Cmd)})
	metrics.RequestsTotal.WithLabelValues(netproto.OpIoctl.String()).Inc()

	code := ioctlreg.Code(arg)
	wire := ioctlreg.WireEncode(arg)
	return netproto.SendIoctl(rd.conn, seq, in.Cmd, code, wire)
}

// sendIoctlRetry emits the fuse_ioctl_out + iovec(s) asking the kernel
// to resubmit with a larger buffer, per spec.md §4.3 stage 1. This
// command is decided entirely from Correct's static table: no south
// traffic is generated.
func (rd *RemoteDevice) sendIoctlRetry(endpoint io.Writer, unique uint64, in cuseproto.IoctlIn, c ioctlreg.Correction) error {
	var out cuseproto.IoctlOut
	out.Flags = cuseproto.IoctlRetry

	switch c.Dir {
	case ioctlreg.DirW, ioctlreg.DirRW:
		out.InIovs = 1
	}
	switch c.Dir {
	case ioctlreg.DirR, ioctlreg.DirRW:
		out.OutIovs = 1
	}

	iov := cuseproto.IoctlIovec{Base: in.Arg, Len: uint64(c.Size)}
	payload := [][]byte{out.Encode()}
	if out.InIovs > 0 {
		payload = append(payload, iov.Encode())
	}
	if out.OutIovs > 0 {
		payload = append(payload, iov.Encode())
	}
	return cuseproto.SendResponse(endpoint, unique, payload...)
}

// recvLoop is the sole reader of rd.conn, started once by HandleOpen
// after a successful open. It exits (and tears the device down) on
// the first framing error or EOF, per spec.md §4.4/§4.6.
func (rd *RemoteDevice) recvLoop(endpoint io.Writer, fh uint64, reg *registry.Registry, log zerolog.Logger) {
	for {
		resp, err := netproto.RecvResponse(rd.conn)
		if err != nil {
			log.Info().Err(err).Msg("south connection closed")
			break
		}

		if resp.Seq == 0 {
			rd.handlePollWakeup(endpoint, resp, log)
			continue
		}

		p, ok := rd.take(resp.Seq)
		if !ok {
			log.Warn().Uint64("seq", uint64(resp.Seq)).Msg("response to unknown sequence")
			continue
		}

		metrics.ResponsesTotal.WithLabelValues(resp.Op.String()).Inc()
		if resp.Err != 0 {
			metrics.RemoteErrorsTotal.Inc()
		}

		if err := rd.reply(endpoint, p, resp); err != nil {
			log.Error().Err(err).Msg("failed to reply to kernel")
			if errors.Is(err, wireerr.ErrBadResponse) {
				break
			}
		}
	}

	rd.teardown()
	rd.cancelAll(endpoint)
	reg.Release(fh)
	metrics.DevicesTornDown.Inc()
}

func (rd *RemoteDevice) handlePollWakeup(endpoint io.Writer, resp netproto.Response, log zerolog.Logger) {
	metrics.PollWakeupsTotal.Inc()
	switch resp.Op {
	case netproto.RespPollWakeup1:
		if err := cuseproto.SendNotifyPoll(endpoint, resp.Kh); err != nil {
			log.Error().Err(err).Msg("failed to send poll notification")
		}
	case netproto.RespPollWakeup:
		for _, kh := range resp.Khs {
			if err := cuseproto.SendNotifyPoll(endpoint, kh); err != nil {
				log.Error().Err(err).Msg("failed to send poll notification")
			}
		}
	}
}

// matchesOp reports whether resp is the response kind a request of
// kind could legitimately receive. Any other pairing means the server
// is out of sync with this device's own bookkeeping.
func matchesOp(kind netproto.RequestOp, op netproto.ResponseOp) bool {
	switch kind {
	case netproto.OpWrite:
		return op == netproto.RespWrite
	case netproto.OpRead:
		return op == netproto.RespRead
	case netproto.OpPoll:
		return op == netproto.RespPoll
	case netproto.OpIoctl:
		return op == netproto.RespIoctl
	default:
		return op == netproto.RespResult
	}
}

// reply translates one south-side response into the matching kernel
// reply, per the pending request it answers. A response whose op does
// not match the recorded request kind is BadResponse, per spec.md
// §4.4's dispatch-by-(kind,kind) rule; the caller tears the device
// down the same way it does for a framing error.
func (rd *RemoteDevice) reply(endpoint io.Writer, p pendingRequest, resp netproto.Response) error {
	if !matchesOp(p.Kind, resp.Op) {
		return wireerr.ErrBadResponse
	}

	if resp.Err != 0 {
		return cuseproto.SendError(endpoint, p.Unique, errnoFromWire(resp.Err))
	}

	switch p.Kind {
	case netproto.OpWrite:
		out := cuseproto.WriteOut{Size: resp.Write}
		return cuseproto.SendResponse(endpoint, p.Unique, out.Encode())

	case netproto.OpRead:
		return cuseproto.SendResponse(endpoint, p.Unique, resp.Read)

	case netproto.OpPoll:
		out := cuseproto.PollOut{Revents: resp.Poll}
		return cuseproto.SendResponse(endpoint, p.Unique, out.Encode())

	case netproto.OpIoctl:
		arg, err := ioctlreg.WireDecode(resp.Ioctl.ArgCode, resp.Ioctl.Arg)
		if err != nil {
			return cuseproto.SendError(endpoint, p.Unique, errnoInval)
		}
		hostBuf, err := ioctlreg.Encode(p.IoctlCmd, arg)
		if err != nil {
			return cuseproto.SendError(endpoint, p.Unique, errnoInval)
		}
		out := cuseproto.IoctlOut{Result: int32(resp.Ioctl.Retval)}
		if len(hostBuf) > 0 {
			out.OutIovs = 1
			return cuseproto.SendResponse(endpoint, p.Unique, out.Encode(), hostBuf)
		}
		return cuseproto.SendResponse(endpoint, p.Unique, out.Encode())

	default:
		return cuseproto.SendResponse(endpoint, p.Unique)
	}
}
