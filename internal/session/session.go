// Package session holds the per-connected-peer protocol state, layered
// on top of the raw wire connection in peerconn.
package session

import (
	"net"

	"github.com/nayiswftw/Rusbit/internal/bitfield"
	"github.com/nayiswftw/Rusbit/internal/peerconn"
)

// DefaultPendingCapacity bounds the number of block requests a Session
// keeps outstanding with its peer at once.
const DefaultPendingCapacity = 5

// Block identifies one in-flight block request.
type Block struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// Session is the mutable state the scheduler keeps for one connected
// peer: choke/interest flags, the peer's bitfield, and the set of blocks
// currently requested from it. It does not record the peer's ut_metadata
// id; internal/metadata reads that from the extension handshake message.
type Session struct {
	Conn *peerconn.Conn

	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	Bitfield bitfield.BitField

	InFlight        map[Block]struct{}
	PendingCapacity int
}

// New returns a Session with the BitTorrent-mandated initial state:
// choking both directions, uninterested, empty bitfield sized for
// numPieces.
func New(conn *peerconn.Conn, numPieces uint32) *Session {
	return &Session{
		Conn:            conn,
		AmChoking:       true,
		PeerChoking:     true,
		Bitfield:        bitfield.New(numPieces),
		InFlight:        make(map[Block]struct{}),
		PendingCapacity: DefaultPendingCapacity,
	}
}

// Pending returns the number of blocks currently requested from this peer.
func (s *Session) Pending() int { return len(s.InFlight) }

// HasCapacity reports whether another block may be requested.
func (s *Session) HasCapacity() bool { return s.Pending() < s.PendingCapacity }

// Has reports whether the peer's bitfield claims piece index.
func (s *Session) Has(index uint32) bool { return s.Bitfield.Test(index) }

// Addr returns the peer's remote address.
func (s *Session) Addr() *net.TCPAddr { return s.Conn.Addr() }

// Ready reports whether requests may be sent: unchoked, and only after
// the initial interested/unchoke exchange.
func (s *Session) Ready() bool { return s.AmInterested && !s.PeerChoking }
