// Package metadata implements the ut_metadata extension: fetching the
// info dictionary from a peer when starting from a magnet link and no
// InfoDict is yet known.
package metadata

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"time"

	"github.com/nayiswftw/Rusbit/internal/logger"
	"github.com/nayiswftw/Rusbit/internal/metainfo"
	"github.com/nayiswftw/Rusbit/internal/peerconn"
	"github.com/nayiswftw/Rusbit/internal/peerprotocol"
)

// ErrUnavailable is returned when the peer never advertises ut_metadata
// support, or rejects a piece request.
var ErrUnavailable = errors.New("metadata: peer does not offer ut_metadata")

// ErrVerificationFailed is returned when the assembled metadata's SHA-1
// does not match the expected infohash.
var ErrVerificationFailed = errors.New("metadata: fetched bytes do not match info hash")

const requestTimeout = 10 * time.Second

// Fetch drives the ut_metadata exchange to completion: reads the peer's
// extension handshake for metadata_size, requests every metadata piece
// in order, concatenates them, and verifies the result against
// infoHash before decoding it.
func Fetch(conn *peerconn.Conn, infoHash [20]byte, log logger.Logger) (*metainfo.Info, error) {
	if !conn.SupportsExtensions {
		return nil, ErrUnavailable
	}

	handshakeMsg, err := AwaitExtensionHandshake(conn, requestTimeout)
	if err != nil {
		return nil, err
	}
	metadataID, ok := handshakeMsg.M[peerprotocol.ExtensionKeyMetadata]
	if !ok {
		return nil, ErrUnavailable
	}
	if handshakeMsg.MetadataSize <= 0 {
		return nil, fmt.Errorf("metadata: peer advertised non-positive metadata_size")
	}

	numPieces := (handshakeMsg.MetadataSize + peerprotocol.MetadataPieceSize - 1) / peerprotocol.MetadataPieceSize
	pieces := make([][]byte, numPieces)

	for i := 0; i < numPieces; i++ {
		data, err := requestPiece(conn, metadataID, uint32(i), log)
		if err != nil {
			return nil, err
		}
		pieces[i] = data
	}

	full := make([]byte, 0, handshakeMsg.MetadataSize)
	for _, p := range pieces {
		full = append(full, p...)
	}
	if len(full) != handshakeMsg.MetadataSize {
		return nil, fmt.Errorf("metadata: assembled %d bytes, expected %d", len(full), handshakeMsg.MetadataSize)
	}

	sum := sha1.Sum(full) // nolint: gosec
	if sum != infoHash {
		return nil, ErrVerificationFailed
	}

	info, _, err := metainfo.InfoFromBytes(full)
	return info, err
}

// AwaitExtensionHandshake waits for the peer's id-0 extended message
// and decodes it, used both by Fetch and directly by the
// "magnet-handshake" CLI subcommand to report the peer's ut_metadata id.
func AwaitExtensionHandshake(conn *peerconn.Conn, timeoutAfter time.Duration) (*peerprotocol.ExtensionHandshake, error) {
	timeout := time.After(timeoutAfter)
	for {
		select {
		case msg, ok := <-conn.Messages():
			if !ok {
				return nil, fmt.Errorf("metadata: connection closed before extension handshake")
			}
			ext, ok := msg.(peerprotocol.ExtendedMsg)
			if !ok || ext.ExtendedID != peerprotocol.ExtensionIDHandshake {
				continue
			}
			return peerprotocol.DecodeExtensionHandshake(ext.Payload_)
		case <-timeout:
			return nil, fmt.Errorf("metadata: timed out waiting for extension handshake")
		}
	}
}

func requestPiece(conn *peerconn.Conn, remoteID uint8, index uint32, log logger.Logger) ([]byte, error) {
	conn.SendMessage(peerprotocol.ExtendedMsg{
		ExtendedID: remoteID,
		Payload_:   peerprotocol.EncodeMetadataRequest(index),
	})

	timeout := time.After(requestTimeout)
	for {
		select {
		case msg, ok := <-conn.Messages():
			if !ok {
				return nil, fmt.Errorf("metadata: connection closed while waiting for piece %d", index)
			}
			ext, ok := msg.(peerprotocol.ExtendedMsg)
			if !ok {
				continue
			}
			mm, err := peerprotocol.DecodeMetadataMessage(ext.Payload_)
			if err != nil || mm.Piece != index {
				continue
			}
			switch mm.Type {
			case peerprotocol.MetadataData:
				return mm.Data, nil
			case peerprotocol.MetadataReject:
				log.Debugf("peer rejected metadata piece %d", index)
				return nil, ErrUnavailable
			}
		case <-timeout:
			return nil, fmt.Errorf("metadata: timed out waiting for piece %d", index)
		}
	}
}
