package realdev

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacobsa/cuse2net/wire/netproto"
)

func TestAcceptRejectsNonOpenFirstMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() {
		require.NoError(t, netproto.SendRelease(client, 1))
		// net.Pipe is unbuffered: read the rejection so Accept's reply
		// can complete.
		_, _ = netproto.RecvResponse(client)
	}()

	_, err := Accept(server, "/dev/null")
	require.Error(t, err)
}

func TestAcceptOpensDeviceAndRepliesResult(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	// net.Pipe is unbuffered, so the reply must be read while Accept is
	// still sending it.
	respCh := make(chan netproto.Response, 1)
	go func() {
		require.NoError(t, netproto.SendOpen(client, 1, 0))
		resp, err := netproto.RecvResponse(client)
		require.NoError(t, err)
		respCh <- resp
	}()

	dev, err := Accept(server, "/dev/null")
	require.NoError(t, err)
	defer dev.Close()

	resp := <-respCh
	require.Equal(t, netproto.RespResult, resp.Op)
	require.Equal(t, uint16(0), resp.Err)
}

func TestRunReleaseEndsCleanly(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	opened := make(chan struct{})
	go func() {
		defer close(opened)
		require.NoError(t, netproto.SendOpen(client, 1, 0))
		_, err := netproto.RecvResponse(client)
		require.NoError(t, err)
	}()

	dev, err := Accept(server, "/dev/null")
	require.NoError(t, err)
	<-opened

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- dev.Run(ctx) }()

	require.NoError(t, netproto.SendRelease(client, 2))

	resp, err := netproto.RecvResponse(client)
	require.NoError(t, err)
	require.Equal(t, netproto.RespResult, resp.Op)

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after Release")
	}
}
