package scheduler

import (
	"bufio"
	"context"
	"crypto/sha1" // nolint: gosec
	"encoding/binary"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nayiswftw/Rusbit/internal/filewriter"
	"github.com/nayiswftw/Rusbit/internal/handshake"
	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/metainfo"
	"github.com/nayiswftw/Rusbit/internal/peerconn"
	"github.com/nayiswftw/Rusbit/internal/peerprotocol"
	"github.com/nayiswftw/Rusbit/internal/piece"
	"github.com/nayiswftw/Rusbit/internal/session"
)

// fakeSeeder accepts one connection, completes the handshake, answers
// Interested with Unchoke, and serves whatever blocks are requested out
// of content, frame-for-frame, until stopped.
func fakeSeeder(t *testing.T, infoHash [20]byte, content []byte) (*net.TCPAddr, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	stopC := make(chan struct{})
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()

		var peerID [20]byte
		_, _, err = handshake.Read(nc, infoHash)
		if err != nil {
			return
		}
		if err := handshake.Write(nc, infoHash, peerID); err != nil {
			return
		}

		bf := make([]byte, 1)
		bf[0] = 0x80 // single piece, bit 0 set
		writeFrame(nc, peerprotocol.BitfieldMsg{Data: bf})

		r := bufio.NewReader(nc)
		for {
			msg, err := readOne(r)
			if err != nil {
				return
			}
			switch m := msg.(type) {
			case emptyID:
				if m.id == peerprotocol.Interested {
					writeFrame(nc, peerprotocol.UnchokeMessage())
				}
			case peerprotocol.RequestMsg:
				block := content[m.Begin : m.Begin+m.Length]
				writeFrame(nc, peerprotocol.PieceMsg{Index: m.Index, Begin: m.Begin, Block: block})
			}
			select {
			case <-stopC:
				return
			default:
			}
		}
	}()

	return ln.Addr().(*net.TCPAddr), func() {
		close(stopC)
		ln.Close()
	}
}

type emptyID struct{ id peerprotocol.MessageID }

// readOne decodes a single frame well enough for the test seeder: only
// the message types this scheduler ever sends need to be recognized.
func readOne(r *bufio.Reader) (any, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 {
		return emptyID{}, nil
	}
	var id peerprotocol.MessageID
	if err := binary.Read(r, binary.BigEndian, &id); err != nil {
		return nil, err
	}
	length--
	switch id {
	case peerprotocol.Interested:
		return emptyID{id}, nil
	case peerprotocol.Request:
		var m peerprotocol.RequestMsg
		if err := binary.Read(r, binary.BigEndian, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return emptyID{id}, nil
	}
}

func writeFrame(w net.Conn, msg peerprotocol.Message) {
	payload := msg.Payload()
	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(payload)))
	frame[4] = byte(msg.ID())
	copy(frame[5:], payload)
	_, _ = w.Write(frame)
}

func buildInfo(t *testing.T, content []byte, pieceLength uint32) *metainfo.Info {
	t.Helper()
	n := (uint32(len(content)) + pieceLength - 1) / pieceLength
	pieces := make([]byte, 0, n*sha1.Size)
	for i := uint32(0); i < n; i++ {
		start := i * pieceLength
		end := start + pieceLength
		if end > uint32(len(content)) {
			end = uint32(len(content))
		}
		sum := sha1.Sum(content[start:end]) // nolint: gosec
		pieces = append(pieces, sum[:]...)
	}
	return &metainfo.Info{
		Name:        "test",
		PieceLength: pieceLength,
		Length:      int64(len(content)),
		Pieces:      pieces,
		NumPieces:   n,
	}
}

func TestSchedulerDownloadsSinglePieceFile(t *testing.T) {
	content := make([]byte, piece.BlockSize+1234)
	for i := range content {
		content[i] = byte(i)
	}
	info := buildInfo(t, content, uint32(len(content)))
	require.EqualValues(t, 1, info.NumPieces)

	var infoHash [20]byte
	addr, stop := fakeSeeder(t, infoHash, content)
	defer stop()

	dest, err := os.CreateTemp(t.TempDir(), "rusbit-scheduler-test")
	require.NoError(t, err)
	dest.Close()

	writer, err := filewriter.Open(dest.Name(), info.Length, info.PieceLength)
	require.NoError(t, err)
	defer writer.Close()

	log := logger.New("test")
	sched := New(info, writer, DefaultConfig(), log)

	var donePieces int
	var doneBytes int
	sched.OnPieceDone(func(index uint32, n int) {
		donePieces++
		doneBytes += n
	})

	var peerID [20]byte
	conn, err := peerconn.Dial(addr, infoHash, peerID, 2*time.Second, 0, logger.New("peer"))
	require.NoError(t, err)

	sess := session.New(conn, info.NumPieces)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Run must be pumping its select loop before AddPeer is called: AddPeer
	// blocks on addPeerC until Run's loop receives from it.
	errC := make(chan error, 1)
	go func() { errC <- sched.Run(ctx) }()
	sched.AddPeer(sess)
	require.NoError(t, <-errC)

	require.Equal(t, 1, donePieces)
	require.Equal(t, len(content), doneBytes)

	got, err := os.ReadFile(dest.Name())
	require.NoError(t, err)
	require.Equal(t, content, got)
}
