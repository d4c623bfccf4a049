package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nayiswftw/Rusbit/internal/bencode"
)

// compact peers "0A0B0C0D1AE1 0A0B0C0E1AE1" decode to 10.11.12.13:6881
// and 10.11.12.14:6881 in that order.
func TestDecodeCompactPeers(t *testing.T) {
	raw := []byte{0x0A, 0x0B, 0x0C, 0x0D, 0x1A, 0xE1, 0x0A, 0x0B, 0x0C, 0x0E, 0x1A, 0xE1}
	addrs, err := decodeCompactPeers(raw)
	require.NoError(t, err)
	require.Len(t, addrs, 2)
	require.Equal(t, "10.11.12.13", addrs[0].IP.String())
	require.Equal(t, 6881, addrs[0].Port)
	require.Equal(t, "10.11.12.14", addrs[1].IP.String())
	require.Equal(t, 6881, addrs[1].Port)
}

func TestDecodeCompactPeersRejectsBadLength(t *testing.T) {
	_, err := decodeCompactPeers([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeDictPeers(t *testing.T) {
	v := bencode.List(
		bencode.NewDict().Set("ip", bencode.String("1.2.3.4")).Set("port", bencode.Int64(6881)),
	)
	addrs, err := decodeDictPeers(v)
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.Equal(t, "1.2.3.4", addrs[0].IP.String())
	require.Equal(t, 6881, addrs[0].Port)
}

// TestAnnounceDecodesCompactPeers drives a full HTTPTracker.Announce
// against an in-process fixture tracker, checking that the query
// carries the raw 20-byte info hash/peer id percent-encoded and that a
// compact peers response round-trips into *net.TCPAddr entries.
func TestAnnounceDecodesCompactPeers(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		resp := bencode.NewDict().
			Set("interval", bencode.Int64(1800)).
			Set("peers", bencode.Bytes([]byte{0x0A, 0x0B, 0x0C, 0x0D, 0x1A, 0xE1}))
		w.Write(bencode.Encode(resp))
	}))
	defer srv.Close()

	tr, err := NewHTTPTracker(srv.URL)
	require.NoError(t, err)

	var infoHash, peerID [20]byte
	for i := range infoHash {
		infoHash[i] = byte(i)
		peerID[i] = byte(20 + i)
	}

	resp, err := tr.Announce(context.Background(), AnnounceRequest{
		InfoHash: infoHash,
		PeerID:   peerID,
		Port:     6881,
		Left:     1000,
	})
	require.NoError(t, err)
	require.Len(t, resp.Peers, 1)
	require.Equal(t, "10.11.12.13", resp.Peers[0].IP.String())
	require.Equal(t, 6881, resp.Peers[0].Port)

	require.Equal(t, string(infoHash[:]), gotQuery.Get("info_hash"))
	require.Equal(t, string(peerID[:]), gotQuery.Get("peer_id"))
	require.Equal(t, "1", gotQuery.Get("compact"))
}

// TestAnnounceSurfacesFailureReason checks that a tracker response
// carrying "failure reason" is reported as ErrFailureReason rather than
// a successful empty peer list.
func TestAnnounceSurfacesFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := bencode.NewDict().Set("failure reason", bencode.String("unregistered torrent"))
		w.Write(bencode.Encode(resp))
	}))
	defer srv.Close()

	tr, err := NewHTTPTracker(srv.URL)
	require.NoError(t, err)

	_, err = tr.Announce(context.Background(), AnnounceRequest{Port: 6881})
	require.Error(t, err)
	var fr *ErrFailureReason
	require.ErrorAs(t, err, &fr)
	require.Equal(t, "unregistered torrent", fr.Reason)
}
