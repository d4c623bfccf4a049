// Package peerconn implements the per-peer TCP connection: handshake,
// extension handshake and framed message I/O, structured as a reader
// goroutine and a writer goroutine communicating with the owner over
// channels.
package peerconn

import (
	"fmt"
	"net"
	"time"

	"github.com/nayiswftw/Rusbit/internal/handshake"
	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/peerprotocol"
)

// Conn is a connected, handshaken peer.
type Conn struct {
	conn   net.Conn
	r      *reader
	w      *writer
	log    logger.Logger
	PeerID [20]byte

	// SupportsExtensions reports whether the peer advertised BEP 10
	// support in its handshake reserved bytes.
	SupportsExtensions bool

	closeC chan struct{}
	doneC  chan struct{}
}

// Dial connects to addr, performs the fixed handshake, and — if the
// remote advertises BEP 10 — queues our extension handshake advertising
// ut_metadata support. It does not wait for the peer's extension
// handshake, which arrives later on Messages(). metadataSize is included
// in our handshake when known (0 if we are starting from a magnet link).
func Dial(addr *net.TCPAddr, infoHash, peerID [20]byte, dialTimeout time.Duration, metadataSize int, log logger.Logger) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("peerconn: dial %s: %w", addr, err)
	}

	if err := nc.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
		nc.Close()
		return nil, err
	}
	if err := handshake.Write(nc, infoHash, peerID); err != nil {
		nc.Close()
		return nil, fmt.Errorf("peerconn: sending handshake: %w", err)
	}
	reserved, remoteID, err := handshake.Read(nc, infoHash)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("peerconn: reading handshake: %w", err)
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		nc.Close()
		return nil, err
	}

	c := &Conn{
		conn:               nc,
		log:                log,
		PeerID:             remoteID,
		SupportsExtensions: handshake.SupportsExtensions(reserved),
		closeC:             make(chan struct{}),
		doneC:              make(chan struct{}),
	}
	c.r = newReader(nc, log)
	c.w = newWriter(nc, log)

	go c.r.run()
	go c.w.run()

	if c.SupportsExtensions {
		c.w.send(peerprotocol.NewExtensionHandshakeMessage(metadataSize))
	}
	return c, nil
}

// Messages returns the channel of decoded inbound messages. It is
// closed when the connection is closed or encounters an I/O error.
func (c *Conn) Messages() <-chan any { return c.r.messages }

// SendMessage queues msg for sending without blocking on the network.
func (c *Conn) SendMessage(msg peerprotocol.Message) { c.w.send(msg) }

// Addr returns the peer's remote address.
func (c *Conn) Addr() *net.TCPAddr { return c.conn.RemoteAddr().(*net.TCPAddr) }

// Close tears down both goroutines and the underlying socket.
func (c *Conn) Close() {
	select {
	case <-c.closeC:
		return
	default:
		close(c.closeC)
	}
	c.r.stop()
	c.w.stop()
	_ = c.conn.Close()
	<-c.r.done()
	<-c.w.done()
}
