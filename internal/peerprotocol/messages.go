// Package peerprotocol implements the BitTorrent peer wire message
// types and their framing, restricted to the leecher-only subset this
// client needs.
package peerprotocol

import (
	"encoding/binary"
	"fmt"
)

// MessageID identifies the type of a peer wire message.
type MessageID uint8

const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Extended      MessageID = 20
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// MaxMessageLength caps the accepted frame length to bound memory use
// against a misbehaving or malicious peer.
const MaxMessageLength = 1 << 20 // 1 MiB

// Message is anything that can be framed and sent over a peer connection.
type Message interface {
	ID() MessageID
	Payload() []byte
}

type emptyMessage struct{ id MessageID }

func (m emptyMessage) ID() MessageID  { return m.id }
func (m emptyMessage) Payload() []byte { return nil }

func ChokeMessage() Message         { return emptyMessage{Choke} }
func UnchokeMessage() Message       { return emptyMessage{Unchoke} }
func InterestedMessage() Message    { return emptyMessage{Interested} }
func NotInterestedMessage() Message { return emptyMessage{NotInterested} }

// HaveMsg announces that the sender now has piece Index.
type HaveMsg struct{ Index uint32 }

func (m HaveMsg) ID() MessageID { return Have }
func (m HaveMsg) Payload() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, m.Index)
	return b
}

// BitfieldMsg carries a ceil(numPieces/8)-byte bitmap, MSB-first within
// each byte.
type BitfieldMsg struct{ Data []byte }

func (m BitfieldMsg) ID() MessageID   { return Bitfield }
func (m BitfieldMsg) Payload() []byte { return m.Data }

// RequestMsg asks the peer for a block of a piece.
type RequestMsg struct {
	Index, Begin, Length uint32
}

func (m RequestMsg) ID() MessageID { return Request }
func (m RequestMsg) Payload() []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	binary.BigEndian.PutUint32(b[8:12], m.Length)
	return b
}

// CancelMsg has the same wire shape as RequestMsg.
type CancelMsg RequestMsg

func (m CancelMsg) ID() MessageID    { return Cancel }
func (m CancelMsg) Payload() []byte  { return RequestMsg(m).Payload() }

// PieceMsg carries downloaded block data for (Index, Begin).
type PieceMsg struct {
	Index, Begin uint32
	Block        []byte
}

func (m PieceMsg) ID() MessageID { return Piece }
func (m PieceMsg) Payload() []byte {
	b := make([]byte, 8+len(m.Block))
	binary.BigEndian.PutUint32(b[0:4], m.Index)
	binary.BigEndian.PutUint32(b[4:8], m.Begin)
	copy(b[8:], m.Block)
	return b
}
