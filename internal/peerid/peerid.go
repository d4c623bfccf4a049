// Package peerid generates and formats the client's local peer id.
package peerid

import (
	"crypto/rand"
	"encoding/hex"
)

// ID is the 20-byte peer id sent in the handshake and tracker announce.
type ID [20]byte

// String returns the hex representation of id.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// New generates a fresh peer id: prefix followed by random bytes filling
// the remaining 20 bytes. If prefix is longer than 20 bytes it is
// truncated.
func New(prefix string) (ID, error) {
	var id ID
	p := []byte(prefix)
	if len(p) > len(id) {
		p = p[:len(id)]
	}
	copy(id[:], p)
	if _, err := rand.Read(id[len(p):]); err != nil {
		return id, err
	}
	return id, nil
}
