package peerconn

import (
	"encoding/binary"
	"net"

	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/peerprotocol"
)

type writer struct {
	conn   net.Conn
	log    logger.Logger
	outC   chan peerprotocol.Message
	stopC  chan struct{}
	doneC  chan struct{}
}

func newWriter(conn net.Conn, log logger.Logger) *writer {
	return &writer{
		conn:  conn,
		log:   log,
		outC:  make(chan peerprotocol.Message, 64),
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
}

func (w *writer) stop()               { close(w.stopC) }
func (w *writer) done() chan struct{} { return w.doneC }

// send queues msg for sending. Never blocks on network I/O.
func (w *writer) send(msg peerprotocol.Message) {
	select {
	case w.outC <- msg:
	case <-w.stopC:
	}
}

func (w *writer) run() {
	defer close(w.doneC)
	for {
		select {
		case msg := <-w.outC:
			if err := w.writeFrame(msg); err != nil {
				w.log.Debugln("peer write error:", err)
				return
			}
		case <-w.stopC:
			return
		}
	}
}

func (w *writer) writeFrame(msg peerprotocol.Message) error {
	payload := msg.Payload()
	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(payload)))
	frame[4] = byte(msg.ID())
	copy(frame[5:], payload)
	_, err := w.conn.Write(frame)
	return err
}
