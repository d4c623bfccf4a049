package peerprotocol

import (
	"fmt"

	"github.com/nayiswftw/Rusbit/internal/bencode"
)

// ExtensionIDHandshake is always 0 on the wire: the fixed id for the
// extension handshake message itself.
const ExtensionIDHandshake uint8 = 0

// ExtensionKeyMetadata is the "m" dict key peers use to advertise
// ut_metadata support and its locally-chosen message id.
const ExtensionKeyMetadata = "ut_metadata"

// Metadata extension message types.
const (
	MetadataRequest uint8 = 0
	MetadataData    uint8 = 1
	MetadataReject  uint8 = 2
)

// MetadataPieceSize is the fixed chunk size ut_metadata splits the info
// dictionary into; every piece is this size except the last.
const MetadataPieceSize = 16 * 1024

// ExtendedMsg wraps an extension payload with its local/remote message id.
type ExtendedMsg struct {
	ExtendedID uint8
	Payload_   []byte
}

func (m ExtendedMsg) ID() MessageID  { return Extended }
func (m ExtendedMsg) Payload() []byte {
	b := make([]byte, 1+len(m.Payload_))
	b[0] = m.ExtendedID
	copy(b[1:], m.Payload_)
	return b
}

// ExtensionHandshake is the decoded payload of an id-0 extended message.
type ExtensionHandshake struct {
	M            map[string]uint8
	MetadataSize int
}

// NewExtensionHandshakeMessage builds the outgoing extension handshake
// advertising ut_metadata support at local id 1.
func NewExtensionHandshakeMessage(metadataSize int) Message {
	inner := bencode.NewDict().Set(ExtensionKeyMetadata, bencode.Int64(1))
	m := bencode.NewDict().Set("m", inner)
	if metadataSize > 0 {
		m = m.Set("metadata_size", bencode.Int64(int64(metadataSize)))
	}
	return ExtendedMsg{ExtendedID: ExtensionIDHandshake, Payload_: bencode.Encode(m)}
}

// DecodeExtensionHandshake parses the bencoded payload of an id-0
// extended message.
func DecodeExtensionHandshake(payload []byte) (*ExtensionHandshake, error) {
	v, err := bencode.DecodeAll(payload)
	if err != nil {
		return nil, fmt.Errorf("peerprotocol: decoding extension handshake: %w", err)
	}
	h := &ExtensionHandshake{M: map[string]uint8{}}
	if mv, ok := v.Get("m"); ok && mv.IsDict() {
		for k, idVal := range mv.Dict {
			if idVal.IsInteger() {
				h.M[k] = uint8(idVal.Int)
			}
		}
	}
	if sz, ok := v.Get("metadata_size"); ok && sz.IsInteger() {
		h.MetadataSize = int(sz.Int)
	}
	return h, nil
}

// MetadataMessage is the decoded payload of a ut_metadata extended
// message: a bencoded dict prefix, possibly followed by raw piece bytes.
type MetadataMessage struct {
	Type      uint8
	Piece     uint32
	TotalSize int
	Data      []byte // raw bytes following the dict, for Type == MetadataData
}

// EncodeMetadataRequest builds the bencoded payload requesting metadata piece i.
func EncodeMetadataRequest(piece uint32) []byte {
	d := bencode.NewDict().Set("msg_type", bencode.Int64(int64(MetadataRequest))).Set("piece", bencode.Int64(int64(piece)))
	return bencode.Encode(d)
}

// DecodeMetadataMessage parses a ut_metadata extended message payload:
// a bencoded dict followed immediately by raw data bytes for "data" replies.
func DecodeMetadataMessage(payload []byte) (*MetadataMessage, error) {
	v, n, err := bencode.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("peerprotocol: decoding metadata message: %w", err)
	}
	msg := &MetadataMessage{}
	if t, ok := v.Get("msg_type"); ok && t.IsInteger() {
		msg.Type = uint8(t.Int)
	}
	if p, ok := v.Get("piece"); ok && p.IsInteger() {
		msg.Piece = uint32(p.Int)
	}
	if ts, ok := v.Get("total_size"); ok && ts.IsInteger() {
		msg.TotalSize = int(ts.Int)
	}
	msg.Data = payload[n:]
	return msg, nil
}
