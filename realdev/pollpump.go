package realdev

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/cuse2net/internal/metrics"
	"github.com/jacobsa/cuse2net/wire/cuseproto"
	"github.com/jacobsa/cuse2net/wire/netproto"
)

// pollPump is the goroutine owning the tty fd's epoll registration,
// grounded on original_source's realdev/poll.rs: one-shot poll(2)
// requests answer immediately, scheduled-notify requests register a
// watch handle and get woken by whatever epoll_wait reports for the
// device fd, fanned out as PollWakeup1/PollWakeup responses.
type pollPump struct {
	fd       int
	endpoint io.Writer
	log      zerolog.Logger

	epfd   int
	syncRx int
	syncTx int

	mu    sync.Mutex
	khs   map[uint64]uint32
	alive bool
}

func newPollPump(fd int, endpoint io.Writer, log zerolog.Logger) (*pollPump, error) {
	pipeFds, err := pipe2CloExec()
	if err != nil {
		return nil, err
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(pipeFds[0])
		unix.Close(pipeFds[1])
		return nil, err
	}
	return &pollPump{
		fd:       fd,
		endpoint: endpoint,
		log:      log,
		epfd:     epfd,
		syncRx:   pipeFds[0],
		syncTx:   pipeFds[1],
		khs:      make(map[uint64]uint32),
		alive:    true,
	}, nil
}

func (p *pollPump) sendSync() {
	if _, err := unix.Write(p.syncTx, []byte{'P'}); err != nil {
		p.log.Error().Err(err).Msg("failed to send poll-pump sync byte")
	}
}

func (p *pollPump) consumeSync() {
	var tmp [1]byte
	if _, err := unix.Read(p.syncRx, tmp[:]); err != nil {
		p.log.Warn().Err(err).Msg("poll-pump sync consume failed")
	}
}

func protoToEpoll(events cuseproto.PollEvents) uint32 {
	var m uint32
	if events&unix.POLLIN != 0 {
		m |= unix.EPOLLIN
	}
	if events&unix.POLLOUT != 0 {
		m |= unix.EPOLLOUT
	}
	if events&unix.POLLPRI != 0 {
		m |= unix.EPOLLPRI
	}
	return m
}

// pollNow performs a zero-timeout poll(2) against only the device fd,
// answering seq immediately with whatever revents that produces.
// Grounded on poll.rs's PollInner::poll, which uses nix::poll::poll
// with a 0 timeout rather than epoll for this one-shot case — epoll's
// registration is reserved for the persistent watch set run maintains.
func (p *pollPump) pollNow(events cuseproto.PollEvents) (uint32, error) {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: int16(events)}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return uint32(fds[0].Revents), nil
}

// PollOnce answers a non-scheduled FUSE_POLL immediately, per poll.rs
// poll_once.
func (p *pollPump) PollOnce(seq netproto.Sequence, events cuseproto.PollEvents) {
	revents, err := p.pollNow(events)
	if err != nil {
		if serr := netproto.SendRemoteError(p.endpoint, netproto.RespPoll, seq, errnoOf(err)); serr != nil {
			p.log.Error().Err(serr).Msg("failed to send poll error")
		}
		return
	}
	if err := netproto.SendPollResult(p.endpoint, seq, revents); err != nil {
		p.log.Error().Err(err).Msg("failed to send poll result")
	}
}

// Poll answers a scheduled FUSE_POLL and registers kh for future
// wakeups fanned out by run's epoll_wait loop.
func (p *pollPump) Poll(seq netproto.Sequence, kh uint64, events cuseproto.PollEvents) {
	p.PollOnce(seq, events)

	p.mu.Lock()
	mask := protoToEpoll(events)
	if mask == 0 {
		delete(p.khs, kh)
	} else {
		p.khs[kh] = mask
	}
	p.mu.Unlock()
}

func (p *pollPump) isAlive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// Close stops the pump's epoll loop and releases its file descriptors.
func (p *pollPump) Close() {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
	p.sendSync()
}

func (p *pollPump) closeFds() {
	unix.Close(p.syncTx)
	unix.Close(p.syncRx)
	unix.Close(p.epfd)
}

// signal fans out a wakeup to every watched handle whose registered
// mask intersects ev, per poll.rs's PollInner::signal.
func (p *pollPump) signal(ev uint32) {
	p.mu.Lock()
	var woken []uint64
	for kh, mask := range p.khs {
		if ev&(mask|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			woken = append(woken, kh)
			delete(p.khs, kh)
		}
	}
	p.mu.Unlock()

	metrics.PollWakeupsTotal.Inc()
	if len(woken) == 1 {
		if err := netproto.SendPollWakeup1(p.endpoint, woken[0]); err != nil {
			p.log.Error().Err(err).Msg("failed to send poll wakeup")
		}
		return
	}
	if len(woken) > 1 {
		if err := netproto.SendPollWakeup(p.endpoint, woken); err != nil {
			p.log.Error().Err(err).Msg("failed to send poll wakeup")
		}
	}
}

// run registers the sync pipe and device fd and fans out wakeups until
// Close is called.
func (p *pollPump) run() {
	defer p.closeFds()

	syncEv := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(p.syncRx)}
	serEv := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLPRI | unix.EPOLLET,
		Fd:     int32(p.fd),
	}

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.syncRx, &syncEv); err != nil {
		p.log.Error().Err(err).Msg("failed to register sync pipe with epoll")
		return
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.fd, &serEv); err != nil {
		p.log.Error().Err(err).Msg("failed to register device fd with epoll")
		return
	}

	events := make([]unix.EpollEvent, 8)
	for p.isAlive() {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.log.Error().Err(err).Msg("epoll_wait failed")
			return
		}
		for _, e := range events[:n] {
			switch int(e.Fd) {
			case p.syncRx:
				p.consumeSync()
			case p.fd:
				p.signal(e.Events)
			}
		}
	}
}
