package tracker

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/nayiswftw/Rusbit/internal/bencode"
)

// decodeCompactPeers parses a compact peer list: a ByteString whose
// length is a multiple of 6 (4-byte IPv4 + 2-byte big-endian port).
func decodeCompactPeers(b []byte) ([]*net.TCPAddr, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("tracker: compact peer list length %d not a multiple of 6", len(b))
	}
	addrs := make([]*net.TCPAddr, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(port)})
	}
	return addrs, nil
}

// decodeDictPeers parses the dictionary peer-list form: a list of dicts
// each with "ip" and "port" keys.
func decodeDictPeers(v bencode.Value) ([]*net.TCPAddr, error) {
	if !v.IsList() {
		return nil, fmt.Errorf("tracker: peers dict-form is not a list")
	}
	addrs := make([]*net.TCPAddr, 0, len(v.List))
	for _, entry := range v.List {
		ipVal, ok := entry.Get("ip")
		if !ok || !ipVal.IsString() {
			return nil, fmt.Errorf("tracker: peer entry missing ip")
		}
		portVal, ok := entry.Get("port")
		if !ok || !portVal.IsInteger() {
			return nil, fmt.Errorf("tracker: peer entry missing port")
		}
		ip := net.ParseIP(string(ipVal.Str))
		if ip == nil {
			return nil, fmt.Errorf("tracker: invalid peer ip %q", ipVal.Str)
		}
		addrs = append(addrs, &net.TCPAddr{IP: ip, Port: int(portVal.Int)})
	}
	return addrs, nil
}

// decodePeers dispatches to the compact or dictionary decoder based on
// the value's kind.
func decodePeers(v bencode.Value) ([]*net.TCPAddr, error) {
	switch v.Kind {
	case bencode.KindString:
		return decodeCompactPeers(v.Str)
	case bencode.KindList:
		return decodeDictPeers(v)
	default:
		return nil, nil
	}
}
