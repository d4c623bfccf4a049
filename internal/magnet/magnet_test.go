package magnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequiresMagnetScheme(t *testing.T) {
	_, err := Parse("http://example.com")
	require.ErrorIs(t, err, ErrBadScheme)
}

func TestParseRequiresXT(t *testing.T) {
	_, err := Parse("magnet:?dn=foo")
	require.ErrorIs(t, err, ErrMissingXT)
}

func TestParseHexInfoHash(t *testing.T) {
	hash := "0123456789abcdef0123456789abcdef01234567"[:40]
	link, err := Parse("magnet:?xt=urn:btih:" + hash + "&dn=My+File&tr=http%3A%2F%2Ftracker.example%2Fannounce")
	require.NoError(t, err)
	require.Equal(t, hash, link.InfoHashHex())
	require.Equal(t, "My File", link.DisplayName)
	require.Equal(t, []string{"http://tracker.example/announce"}, link.Trackers)
}

func TestParseCollectsMultipleTrackers(t *testing.T) {
	hash := "0123456789abcdef0123456789abcdef01234567"
	link, err := Parse("magnet:?xt=urn:btih:" + hash + "&tr=http%3A%2F%2Fa&tr=http%3A%2F%2Fb")
	require.NoError(t, err)
	require.Equal(t, []string{"http://a", "http://b"}, link.Trackers)
}

func TestParseRejectsBadInfoHashLength(t *testing.T) {
	_, err := Parse("magnet:?xt=urn:btih:abcd")
	require.ErrorIs(t, err, ErrBadInfoHash)
}
