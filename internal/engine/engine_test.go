package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nayiswftw/Rusbit/internal/handshake"
	"github.com/nayiswftw/Rusbit/internal/logger"
)

// fakePeer accepts one connection, completes the handshake and then
// blocks until the client sends its first byte or the connection closes.
func fakePeer(t *testing.T, infoHash [20]byte) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		var peerID [20]byte
		if _, _, err := handshake.Read(nc, infoHash); err != nil {
			return
		}
		_ = handshake.Write(nc, infoHash, peerID)
		buf := make([]byte, 1)
		nc.Read(buf) // block until the client writes or closes the conn
	}()
	return ln.Addr().(*net.TCPAddr)
}

func TestConnectPeersReturnsSessionPerReachablePeer(t *testing.T) {
	var infoHash, pid [20]byte
	addrs := []*net.TCPAddr{
		fakePeer(t, infoHash),
		fakePeer(t, infoHash),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sessions := ConnectPeers(ctx, addrs, infoHash, pid, 1, 0, 0, logger.New("test"))
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		s.Conn.Close()
	}
}

func TestConnectPeersDropsUnreachableAddr(t *testing.T) {
	var infoHash, pid [20]byte
	good := fakePeer(t, infoHash)

	bad, err := net.ResolveTCPAddr("tcp", "127.0.0.1:1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sessions := ConnectPeers(ctx, []*net.TCPAddr{good, bad}, infoHash, pid, 1, 0, 2, logger.New("test"))
	require.Len(t, sessions, 1)
	sessions[0].Conn.Close()
}

func TestAnnounceFailsWithNoTrackerURLs(t *testing.T) {
	var infoHash, pid [20]byte
	_, err := Announce(context.Background(), nil, infoHash, pid, 6881, 0, logger.New("test"))
	require.Error(t, err)
}
