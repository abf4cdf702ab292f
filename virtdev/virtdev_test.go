package virtdev

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jacobsa/cuse2net/registry"
	"github.com/jacobsa/cuse2net/wire/cuseproto"
	"github.com/jacobsa/cuse2net/wire/netproto"
)

func nilLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fakeServer accepts exactly one connection and hands it to the test
// for scripted reads/writes, standing in for reald.
func fakeServer(t *testing.T) (addr string, accept func() net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			connCh <- c
		}
	}()

	return ln.Addr().String(), func() net.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for connection")
			return nil
		}
	}
}

func TestHandleOpenSuccess(t *testing.T) {
	addr, accept := fakeServer(t)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn := accept()
		defer conn.Close()

		req, err := netproto.RecvRequest(conn)
		require.NoError(t, err)
		require.Equal(t, netproto.OpOpen, req.Op)

		require.NoError(t, netproto.SendResult(conn, req.Seq))
	}()

	var kernelReply bytes.Buffer
	reg := registry.New()

	HandleOpen(context.Background(), &kernelReply, reg, addr, 42, 0)

	require.Equal(t, cuseproto.OutHeaderSize+16, kernelReply.Len(), "fuse_out_header + fuse_open_out")

	<-serverDone
}

func TestHandleOpenDialFailureRepliesEIO(t *testing.T) {
	// Nothing is listening on this port.
	var kernelReply bytes.Buffer
	reg := registry.New()

	HandleOpen(context.Background(), &kernelReply, reg, "127.0.0.1:1", 7, 0)

	require.Equal(t, cuseproto.OutHeaderSize, kernelReply.Len())
}

func TestIoctlRetryElicitsIovecs(t *testing.T) {
	rd := &RemoteDevice{
		seq:      netproto.NewSequencer(),
		inflight: make(map[netproto.Sequence]pendingRequest),
	}

	var kernelReply bytes.Buffer
	in := cuseproto.IoctlIn{Fh: 1, Cmd: 0x5402, Arg: 0x1000} // TCSETS, size-correction applies
	err := rd.Ioctl(&kernelReply, 99, in, nil)
	require.NoError(t, err)
	require.Greater(t, kernelReply.Len(), 0)
}

func TestRecvLoopCancelsInFlightOnEOF(t *testing.T) {
	addr, accept := fakeServer(t)

	go func() {
		conn := accept()
		// Drop the connection immediately without answering anything,
		// forcing recvLoop into its EOF teardown path.
		conn.Close()
	}()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	tcpConn := conn.(*net.TCPConn)

	rd := &RemoteDevice{
		conn:     tcpConn,
		seq:      netproto.NewSequencer(),
		inflight: make(map[netproto.Sequence]pendingRequest),
	}
	rd.register(rd.seq.Next(), pendingRequest{Kind: netproto.OpRead, Unique: 55})

	var kernelReply bytes.Buffer
	reg := registry.New()
	h := reg.Begin()
	h.Commit(rd)

	rd.recvLoop(&kernelReply, h.Fh(), reg, nilLogger())

	require.Equal(t, cuseproto.OutHeaderSize, kernelReply.Len(), "EINTR reply has no payload")

	_, ok := reg.Release(h.Fh())
	require.False(t, ok, "device should already be released by recvLoop's teardown")
}
