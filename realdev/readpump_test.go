package realdev

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jacobsa/cuse2net/wire/netproto"
)

func newTestReadPump(t *testing.T) (*readPump, int, int, *bytes.Buffer) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() { unix.Close(fds[1]) })

	var out bytes.Buffer
	p, err := newReadPump(fds[0], &out, zerolog.New(io.Discard))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return p, fds[0], fds[1], &out
}

func TestReadNonblockServicesImmediately(t *testing.T) {
	p, _, wfd, out := newTestReadPump(t)

	_, err := unix.Write(wfd, []byte("hello"))
	require.NoError(t, err)

	p.ReadNonblock(netproto.Sequence(1), 16)

	resp, err := netproto.RecvResponse(out)
	require.NoError(t, err)
	require.Equal(t, netproto.RespRead, resp.Op)
	require.Equal(t, []byte("hello"), resp.Read)
}

func TestPushRequestWakesPumpOnData(t *testing.T) {
	p, _, wfd, out := newTestReadPump(t)
	go p.run()

	p.PushRequest(netproto.Sequence(2), 16)

	time.Sleep(10 * time.Millisecond)
	_, err := unix.Write(wfd, []byte("world"))
	require.NoError(t, err)

	deadline := time.Now().Add(time.Second)
	for out.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := netproto.RecvResponse(out)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), resp.Read)
}

func TestInterruptCancelsQueuedRequest(t *testing.T) {
	p, _, _, out := newTestReadPump(t)

	p.mu.Lock()
	p.queue = append(p.queue, readRequest{seq: netproto.Sequence(9), size: 16})
	p.mu.Unlock()

	seq := netproto.Sequence(9)
	p.Interrupt(&seq)

	resp, err := netproto.RecvResponse(out)
	require.NoError(t, err)
	require.Equal(t, netproto.RespRead, resp.Op)
	require.NotEqual(t, uint16(0), resp.Err)
}
