package realdev

import (
	"io"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rs/zerolog"

	"github.com/jacobsa/cuse2net/wire/netproto"
)

const readBufSize = 4096

type readRequest struct {
	seq  netproto.Sequence
	size int
}

// readPump is the goroutine that owns reads from the tty fd, grounded
// on original_source's realdev/read.rs: a FIFO of queued requests plus
// one "pending" slot for the request currently blocked in poll(2),
// woken by a private self-pipe whenever push_request or do_intr needs
// its poll() call to return early.
type readPump struct {
	fd       int
	endpoint io.Writer
	log      zerolog.Logger

	syncRx int
	syncTx int

	mu      sync.Mutex
	queue   []readRequest
	pending *readRequest
	alive   bool
}

func newReadPump(fd int, endpoint io.Writer, log zerolog.Logger) (*readPump, error) {
	pipeFds, err := pipe2CloExec()
	if err != nil {
		return nil, err
	}
	return &readPump{
		fd:       fd,
		endpoint: endpoint,
		log:      log,
		syncRx:   pipeFds[0],
		syncTx:   pipeFds[1],
		alive:    true,
	}, nil
}

func pipe2CloExec() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return fds, err
	}
	return fds, nil
}

func (p *readPump) sendSync() {
	if _, err := unix.Write(p.syncTx, []byte{'R'}); err != nil {
		p.log.Error().Err(err).Msg("failed to send read-pump sync byte")
	}
}

func (p *readPump) consumeSync() {
	var tmp [1]byte
	if _, err := unix.Read(p.syncRx, tmp[:]); err != nil {
		p.log.Warn().Err(err).Msg("read-pump sync consume failed")
	}
}

// PushRequest enqueues a blocking read request, waking the pump if it
// is parked in poll(2).
func (p *readPump) PushRequest(seq netproto.Sequence, size int) {
	p.mu.Lock()
	p.queue = append(p.queue, readRequest{seq: seq, size: size})
	p.mu.Unlock()
	p.sendSync()
}

// ReadNonblock services an O_NONBLOCK read immediately on the caller's
// goroutine (the dispatch loop), matching read.rs's read_nonblock.
func (p *readPump) ReadNonblock(seq netproto.Sequence, size int) {
	buf := make([]byte, min(size, readBufSize))
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		p.sendErr(seq, err)
		return
	}
	p.sendData(seq, buf[:n])
}

func (p *readPump) sendData(seq netproto.Sequence, data []byte) {
	if err := netproto.SendReadResult(p.endpoint, seq, data); err != nil {
		p.log.Error().Err(err).Msg("failed to send read result")
	}
}

func (p *readPump) sendErr(seq netproto.Sequence, err error) {
	if err := netproto.SendRemoteError(p.endpoint, netproto.RespRead, seq, errnoOf(err)); err != nil {
		p.log.Error().Err(err).Msg("failed to send read error")
	}
}

func (p *readPump) next() (readRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return readRequest{}, false
	}
	req := p.queue[0]
	p.queue = p.queue[1:]
	return req, true
}

func (p *readPump) requeueFront(req readRequest) {
	p.mu.Lock()
	p.queue = append([]readRequest{req}, p.queue...)
	p.mu.Unlock()
}

func (p *readPump) registerPending(req readRequest) {
	p.mu.Lock()
	p.pending = &req
	p.mu.Unlock()
}

func (p *readPump) takePending() (readRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return readRequest{}, false
	}
	req := *p.pending
	p.pending = nil
	return req, true
}

// Interrupt cancels the request matching seq (or, when seq is nil,
// every queued and pending request), answering EINTR to each, per
// read.rs's do_intr.
func (p *readPump) Interrupt(seq *netproto.Sequence) {
	if seq == nil {
		for {
			req, ok := p.next()
			if !ok {
				break
			}
			p.sendErr(req.seq, unix.EINTR)
		}
		if req, ok := p.takePending(); ok {
			p.sendErr(req.seq, unix.EINTR)
		}
		p.sendSync()
		return
	}

	if pending, ok := p.takePending(); ok && pending.seq == *seq {
		p.sendErr(pending.seq, unix.EINTR)
		p.sendSync()
		return
	} else if ok {
		p.registerPending(pending)
	}

	p.mu.Lock()
	for i, req := range p.queue {
		if req.seq == *seq {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			p.mu.Unlock()
			p.sendErr(req.seq, unix.EINTR)
			p.sendSync()
			return
		}
	}
	p.mu.Unlock()
	p.sendSync()
}

// isAlive reports whether Close has not yet been called.
func (p *readPump) isAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// Close stops the pump: every outstanding request is answered EINTR
// and run's loop exits.
func (p *readPump) Close() {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
	p.Interrupt(nil)
	unix.Close(p.syncTx)
	unix.Close(p.syncRx)
}

// handleRequest performs one read attempt, blocking in poll(2) on
// EAGAIN until the sync pipe or the device fd is ready, mirroring
// read.rs's handle_request. It returns the request to reschedule (nil
// once serviced or definitively failed).
func (p *readPump) handleRequest(buf []byte, req readRequest) *readRequest {
	l := min(req.size, len(buf))

	n, err := unix.Read(p.fd, buf[:l])
	switch {
	case err == nil:
		p.sendData(req.seq, buf[:n])
		return nil

	case err == unix.EAGAIN:
		fds := []unix.PollFd{
			{Fd: int32(p.syncRx), Events: unix.POLLIN},
			{Fd: int32(p.fd), Events: unix.POLLIN},
		}

		p.registerPending(req)

		if _, perr := unix.Poll(fds, -1); perr != nil {
			p.takePending()
			p.log.Error().Err(perr).Msg("read-pump poll failed")
			return nil
		}

		pending, hadPending := p.takePending()

		if fds[0].Revents&unix.POLLIN != 0 {
			p.consumeSync()
		}

		if hadPending {
			return &pending
		}
		return nil

	default:
		p.log.Warn().Err(err).Msg("failed to read from device")
		p.sendErr(req.seq, err)
		return nil
	}
}

// run is the read pump's goroutine body, stopped by Close.
func (p *readPump) run() {
	buf := make([]byte, readBufSize)

	for p.isAlive() {
		req, ok := p.next()
		if !ok {
			fds := []unix.PollFd{{Fd: int32(p.syncRx), Events: unix.POLLIN}}
			if _, err := unix.Poll(fds, -1); err != nil {
				continue
			}
			p.consumeSync()
			continue
		}

		if rescheduled := p.handleRequest(buf, req); rescheduled != nil {
			p.requeueFront(*rescheduled)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
