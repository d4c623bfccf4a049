// Package metainfo decodes .torrent files and derives the piece plan
// and infohash needed to start a download.
package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"os"

	"github.com/nayiswftw/Rusbit/internal/bencode"
)

// ErrInvalidPieceData is returned when the pieces field is not a
// multiple of 20 bytes, or is inconsistent with length/piece length.
var ErrInvalidPieceData = errors.New("metainfo: invalid piece data")

// Info is the decoded "info" dictionary for a single-file torrent.
// Multi-file torrents are out of scope; Files is kept as an unused
// extension point for implementers adding multi-file support.
type Info struct {
	Name        string
	PieceLength uint32
	Length      int64
	Pieces      []byte // concatenated 20-byte SHA-1 hashes

	Files []FileEntry // unused; multi-file extension point

	NumPieces uint32
}

// FileEntry describes one file of a multi-file layout by its path
// components and length. The decoder never populates it; only
// single-file torrents are supported.
type FileEntry struct {
	Path   []string
	Length int64
}

// MetaInfo is the decoded torrent file: announce URL, info dictionary
// and the SHA-1 infohash of the raw bencoded info bytes.
type MetaInfo struct {
	AnnounceURL string
	Info        Info
	InfoHash    [20]byte
}

// ReadFile reads and decodes a .torrent file from disk.
func ReadFile(path string) (*MetaInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading %s: %w", path, err)
	}
	return Decode(b)
}

// Decode parses the bencoded root dictionary of a .torrent file.
func Decode(b []byte) (*MetaInfo, error) {
	root, err := bencode.DecodeAll(b)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	if !root.IsDict() {
		return nil, fmt.Errorf("%w: root is not a dict", ErrInvalidPieceData)
	}

	announce, ok := root.Get("announce")
	if !ok || !announce.IsString() {
		return nil, fmt.Errorf("metainfo: missing announce URL")
	}

	infoVal, ok := root.Get("info")
	if !ok || !infoVal.IsDict() {
		return nil, fmt.Errorf("metainfo: missing info dict")
	}
	// infoVal.Raw is the exact source bytes of the info dict as it
	// appeared in the file; hash those, never a re-encoding of them.
	if len(infoVal.Raw) == 0 {
		return nil, fmt.Errorf("metainfo: info dict has no raw byte span")
	}

	info, err := decodeInfo(infoVal)
	if err != nil {
		return nil, err
	}

	hash := sha1.Sum(infoVal.Raw) // nolint: gosec
	return &MetaInfo{
		AnnounceURL: string(announce.Str),
		Info:        *info,
		InfoHash:    hash,
	}, nil
}

// InfoFromBytes decodes a raw "info" dictionary (as fetched piece-by-piece
// over ut_metadata) into an Info, and returns the SHA-1 of those exact
// bytes as the infohash.
func InfoFromBytes(b []byte) (*Info, [20]byte, error) {
	v, err := bencode.DecodeAll(b)
	if err != nil {
		return nil, [20]byte{}, fmt.Errorf("metainfo: %w", err)
	}
	if !v.IsDict() {
		return nil, [20]byte{}, fmt.Errorf("metainfo: metadata is not a dict")
	}
	info, err := decodeInfo(v)
	if err != nil {
		return nil, [20]byte{}, err
	}
	return info, sha1.Sum(b), nil // nolint: gosec
}

func decodeInfo(v bencode.Value) (*Info, error) {
	name, _ := v.Get("name")
	length, ok := v.Get("length")
	if !ok || !length.IsInteger() {
		return nil, fmt.Errorf("metainfo: single-file info dict requires integer length")
	}
	pieceLength, ok := v.Get("piece length")
	if !ok || !pieceLength.IsInteger() || pieceLength.Int <= 0 {
		return nil, fmt.Errorf("metainfo: info dict requires positive piece length")
	}
	pieces, ok := v.Get("pieces")
	if !ok || !pieces.IsString() {
		return nil, fmt.Errorf("metainfo: info dict requires pieces")
	}
	if len(pieces.Str)%sha1.Size != 0 {
		return nil, ErrInvalidPieceData
	}

	info := &Info{
		Name:        string(name.Str),
		PieceLength: uint32(pieceLength.Int),
		Length:      length.Int,
		Pieces:      pieces.Str,
		NumPieces:   uint32(len(pieces.Str) / sha1.Size),
	}

	expectedPieces := ceilDiv(info.Length, int64(info.PieceLength))
	if int64(info.NumPieces) != expectedPieces {
		return nil, fmt.Errorf("%w: piece count %d does not match length/piece length (%d)", ErrInvalidPieceData, info.NumPieces, expectedPieces)
	}
	totalPieceDataLength := int64(info.PieceLength) * int64(info.NumPieces)
	if delta := totalPieceDataLength - info.Length; delta < 0 || delta >= int64(info.PieceLength) {
		return nil, ErrInvalidPieceData
	}
	return info, nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// PieceCount returns the number of pieces in the torrent.
func (i Info) PieceCount() uint32 { return i.NumPieces }

// PieceHash returns the stored SHA-1 hash of piece index.
func (i Info) PieceHash(index uint32) []byte {
	begin := int(index) * sha1.Size
	return i.Pieces[begin : begin+sha1.Size]
}

// PieceLen returns the length in bytes of piece index: PieceLength for
// every piece except the last, which may be shorter.
func (i Info) PieceLen(index uint32) uint32 {
	if index == i.NumPieces-1 {
		last := i.Length - int64(index)*int64(i.PieceLength)
		return uint32(last)
	}
	return i.PieceLength
}

// LastPieceLength returns the length of the final piece.
func (i Info) LastPieceLength() int64 {
	return i.Length - int64(i.NumPieces-1)*int64(i.PieceLength)
}
