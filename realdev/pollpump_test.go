package realdev

import (
	"bytes"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/cuse2net/wire/cuseproto"
	"github.com/jacobsa/cuse2net/wire/netproto"
)

func TestPollOnceOnDevNull(t *testing.T) {
	fd, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	var out bytes.Buffer
	p, err := newPollPump(fd, &out, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer p.Close()

	p.PollOnce(netproto.Sequence(1), cuseproto.PollIN|cuseproto.PollOUT)

	resp, err := netproto.RecvResponse(&out)
	require.NoError(t, err)
	require.Equal(t, netproto.RespPoll, resp.Op)
}

func TestRegisterKhRemovesOnEmptyMask(t *testing.T) {
	fd, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	var out bytes.Buffer
	p, err := newPollPump(fd, &out, zerolog.New(io.Discard))
	require.NoError(t, err)
	defer p.Close()

	p.Poll(netproto.Sequence(2), 5, cuseproto.PollIN)
	p.mu.Lock()
	_, ok := p.khs[5]
	p.mu.Unlock()
	require.True(t, ok)

	_, err = netproto.RecvResponse(&out)
	require.NoError(t, err)

	p.Poll(netproto.Sequence(3), 5, 0)
	p.mu.Lock()
	_, ok = p.khs[5]
	p.mu.Unlock()
	require.False(t, ok)
}
