package peerconn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/peerprotocol"
)

// keepAliveTimeout bounds how long we wait for any message before giving
// up on a silent peer; peers must send keep-alives to hold the connection
// open past this.
const keepAliveTimeout = 2 * time.Minute

type reader struct {
	conn     net.Conn
	r        *bufio.Reader
	log      logger.Logger
	messages chan any
	stopC    chan struct{}
	doneC    chan struct{}
}

func newReader(conn net.Conn, log logger.Logger) *reader {
	return &reader{
		conn:     conn,
		r:        bufio.NewReaderSize(conn, 4+1+12),
		log:      log,
		messages: make(chan any),
		stopC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

func (p *reader) stop()           { close(p.stopC) }
func (p *reader) done() chan struct{} { return p.doneC }

func (p *reader) run() {
	defer close(p.doneC)
	defer close(p.messages)

	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(keepAliveTimeout)); err != nil {
			return
		}
		var length uint32
		if err := binary.Read(p.r, binary.BigEndian, &length); err != nil {
			return
		}
		if length == 0 {
			continue // keep-alive
		}
		if length > peerprotocol.MaxMessageLength {
			p.log.Errorf("message too large: %d bytes", length)
			return
		}
		var id peerprotocol.MessageID
		if err := binary.Read(p.r, binary.BigEndian, &id); err != nil {
			return
		}
		length--

		msg, err := p.readPayload(id, length)
		if err != nil {
			if err != io.EOF {
				p.log.Debugln("peer read error:", err)
			}
			return
		}
		if msg == nil {
			continue
		}
		select {
		case p.messages <- msg:
		case <-p.stopC:
			return
		}
	}
}

func (p *reader) readPayload(id peerprotocol.MessageID, length uint32) (any, error) {
	switch id {
	case peerprotocol.Choke:
		return peerprotocol.ChokeMessage(), nil
	case peerprotocol.Unchoke:
		return peerprotocol.UnchokeMessage(), nil
	case peerprotocol.Interested:
		return peerprotocol.InterestedMessage(), nil
	case peerprotocol.NotInterested:
		return peerprotocol.NotInterestedMessage(), nil
	case peerprotocol.Have:
		var m peerprotocol.HaveMsg
		if err := binary.Read(p.r, binary.BigEndian, &m.Index); err != nil {
			return nil, err
		}
		return m, nil
	case peerprotocol.Bitfield:
		data := make([]byte, length)
		if _, err := io.ReadFull(p.r, data); err != nil {
			return nil, err
		}
		return peerprotocol.BitfieldMsg{Data: data}, nil
	case peerprotocol.Request:
		var m peerprotocol.RequestMsg
		if err := binary.Read(p.r, binary.BigEndian, &m); err != nil {
			return nil, err
		}
		return m, nil
	case peerprotocol.Cancel:
		var m peerprotocol.CancelMsg
		if err := binary.Read(p.r, binary.BigEndian, &m); err != nil {
			return nil, err
		}
		return m, nil
	case peerprotocol.Piece:
		var idx, begin uint32
		if err := binary.Read(p.r, binary.BigEndian, &idx); err != nil {
			return nil, err
		}
		if err := binary.Read(p.r, binary.BigEndian, &begin); err != nil {
			return nil, err
		}
		blockLen := length - 8
		if blockLen > peerprotocol.MaxMessageLength {
			return nil, fmt.Errorf("block too large: %d", blockLen)
		}
		block := make([]byte, blockLen)
		if _, err := io.ReadFull(p.r, block); err != nil {
			return nil, err
		}
		return peerprotocol.PieceMsg{Index: idx, Begin: begin, Block: block}, nil
	case peerprotocol.Extended:
		data := make([]byte, length)
		if _, err := io.ReadFull(p.r, data); err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("empty extended message")
		}
		return peerprotocol.ExtendedMsg{ExtendedID: data[0], Payload_: data[1:]}, nil
	default:
		p.log.Debugf("discarding unsupported message id %s (%d bytes)", id, length)
		if _, err := io.CopyN(io.Discard, p.r, int64(length)); err != nil {
			return nil, err
		}
		return nil, nil
	}
}
