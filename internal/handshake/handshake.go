// Package handshake implements the fixed 68-byte BitTorrent handshake.
package handshake

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// ErrInvalidProtocol is returned when the peer's handshake does not
// start with the expected protocol string.
var ErrInvalidProtocol = errors.New("handshake: invalid protocol identifier")

// ErrInfoHashMismatch is returned when the peer echoes a different
// infohash than the one we offered.
var ErrInfoHashMismatch = errors.New("handshake: info hash mismatch")

var pstr = []byte("BitTorrent protocol")

// ExtensionBitByte and ExtensionBitMask locate reserved byte 5's 0x10 bit,
// which signals support for the extension protocol (BEP 10) and must
// always be set by this client.
const ExtensionBitByte = 5
const ExtensionBitMask = 0x10

// Reserved builds the 8 reserved handshake bytes with the extension bit set.
func Reserved() [8]byte {
	var r [8]byte
	r[ExtensionBitByte] = ExtensionBitMask
	return r
}

// Write sends our half of the handshake.
func Write(w io.Writer, infoHash, peerID [20]byte) error {
	buf := make([]byte, 0, 68)
	buf = append(buf, byte(len(pstr)))
	buf = append(buf, pstr...)
	reserved := Reserved()
	buf = append(buf, reserved[:]...)
	buf = append(buf, infoHash[:]...)
	buf = append(buf, peerID[:]...)
	_, err := w.Write(buf)
	return err
}

// Read reads and validates the peer's handshake, checking that the
// infohash it echoes matches ours. Returns the peer's reserved bytes and
// peer id.
func Read(r io.Reader, expectedInfoHash [20]byte) (reserved [8]byte, peerID [20]byte, err error) {
	var pstrLen byte
	if err = binary.Read(r, binary.BigEndian, &pstrLen); err != nil {
		return
	}
	if int(pstrLen) != len(pstr) {
		err = ErrInvalidProtocol
		return
	}
	got := make([]byte, pstrLen)
	if _, err = io.ReadFull(r, got); err != nil {
		return
	}
	if !bytes.Equal(got, pstr) {
		err = ErrInvalidProtocol
		return
	}
	if _, err = io.ReadFull(r, reserved[:]); err != nil {
		return
	}
	var peerInfoHash [20]byte
	if _, err = io.ReadFull(r, peerInfoHash[:]); err != nil {
		return
	}
	if peerInfoHash != expectedInfoHash {
		err = ErrInfoHashMismatch
		return
	}
	if _, err = io.ReadFull(r, peerID[:]); err != nil {
		return
	}
	return reserved, peerID, nil
}

// SupportsExtensions reports whether reserved bytes advertise BEP 10
// extension-protocol support.
func SupportsExtensions(reserved [8]byte) bool {
	return reserved[ExtensionBitByte]&ExtensionBitMask != 0
}
