// Package magnet parses magnet: URIs into an infohash, tracker list and
// display name.
package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/multiformats/go-multihash"
)

var (
	// ErrBadScheme is returned when the URI is not a magnet: URI.
	ErrBadScheme = errors.New("magnet: not a magnet URI")
	// ErrMissingXT is returned when the required xt parameter is absent.
	ErrMissingXT = errors.New("magnet: missing xt parameter")
	// ErrBadInfoHash is returned when xt's infohash cannot be parsed.
	ErrBadInfoHash = errors.New("magnet: invalid info hash")
)

// Link is a parsed magnet URI.
type Link struct {
	InfoHash    [20]byte
	DisplayName string
	Trackers    []string
}

// Parse parses a magnet: URI.
func Parse(s string) (*Link, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScheme, err)
	}
	if u.Scheme != "magnet" {
		return nil, ErrBadScheme
	}

	q := u.Query()
	xts := q["xt"]
	if len(xts) == 0 || xts[0] == "" {
		return nil, ErrMissingXT
	}

	ih, err := parseInfoHash(xts[0])
	if err != nil {
		return nil, err
	}

	link := &Link{InfoHash: ih, Trackers: q["tr"]}
	if names := q["dn"]; len(names) > 0 {
		link.DisplayName = names[0]
	}
	return link, nil
}

// parseInfoHash accepts "urn:btih:<40-hex|32-base32>" as the standard
// BitTorrent info-hash form, and "urn:btmh:<hex multihash>" (BEP 52's
// multihash-addressed variant) decoded via go-multihash.
func parseInfoHash(xt string) ([20]byte, error) {
	var ih [20]byte
	switch {
	case strings.HasPrefix(xt, "urn:btih:"):
		hash := xt[len("urn:btih:"):]
		var b []byte
		var err error
		switch len(hash) {
		case 40:
			b, err = hex.DecodeString(hash)
		case 32:
			b, err = base32.StdEncoding.DecodeString(strings.ToUpper(hash))
		default:
			return ih, fmt.Errorf("%w: info hash must be 32 or 40 characters, got %d", ErrBadInfoHash, len(hash))
		}
		if err != nil {
			return ih, fmt.Errorf("%w: %v", ErrBadInfoHash, err)
		}
		copy(ih[:], b)
		return ih, nil
	case strings.HasPrefix(xt, "urn:btmh:"):
		b, err := multihash.FromHexString(xt[len("urn:btmh:"):])
		if err != nil {
			return ih, fmt.Errorf("%w: %v", ErrBadInfoHash, err)
		}
		decoded, err := multihash.Decode(b)
		if err != nil {
			return ih, fmt.Errorf("%w: %v", ErrBadInfoHash, err)
		}
		if len(decoded.Digest) != 20 {
			return ih, fmt.Errorf("%w: multihash digest must be 20 bytes", ErrBadInfoHash)
		}
		copy(ih[:], decoded.Digest)
		return ih, nil
	default:
		return ih, fmt.Errorf("%w: xt must start with urn:btih: or urn:btmh:", ErrBadInfoHash)
	}
}

// InfoHashHex returns the hex representation of the info hash.
func (l *Link) InfoHashHex() string { return hex.EncodeToString(l.InfoHash[:]) }
