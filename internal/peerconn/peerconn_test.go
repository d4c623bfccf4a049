package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/nayiswftw/Rusbit/internal/handshake"
	"github.com/nayiswftw/Rusbit/internal/logger"
)

// fakePeer accepts one connection, answers the fixed handshake with the
// extension bit clear, and otherwise stays silent until stopped.
func fakePeer(t *testing.T, infoHash [20]byte) (*net.TCPAddr, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	stopC := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		var remotePeerID [20]byte
		_, _, _ = handshake.Read(conn, infoHash)
		// handshake.Write always sets the extension bit, so the reply is
		// built by hand with all eight reserved bytes zero.
		reply := make([]byte, 0, 68)
		reply = append(reply, 19)
		reply = append(reply, "BitTorrent protocol"...)
		reply = append(reply, make([]byte, 8)...)
		reply = append(reply, infoHash[:]...)
		reply = append(reply, remotePeerID[:]...)
		_, _ = conn.Write(reply)
		<-stopC
		conn.Close()
	}()

	return ln.Addr().(*net.TCPAddr), func() {
		close(stopC)
		ln.Close()
	}
}

func TestDialCloseReleasesGoroutines(t *testing.T) {
	defer leaktest.Check(t)()

	var infoHash, peerID [20]byte
	addr, stop := fakePeer(t, infoHash)
	defer stop()

	conn, err := Dial(addr, infoHash, peerID, 2*time.Second, 0, logger.New("test"))
	require.NoError(t, err)
	require.False(t, conn.SupportsExtensions)

	conn.Close()
}
