package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeCanonicalDictOrder(t *testing.T) {
	v := NewDict().Set("hello", Int64(52)).Set("foo", String("bar"))
	require.Equal(t, "d3:foo3:bar5:helloi52ee", string(Encode(v)))
}

func TestEncodeRoundTripsDecode(t *testing.T) {
	inputs := []string{
		"i52e",
		"i-42e",
		"i0e",
		"5:hello",
		"l5:helloi52ee",
		"d3:foo3:bar5:helloi52ee",
		"d4:infod6:lengthi100e4:name3:fooee",
	}
	for _, in := range inputs {
		v, err := DecodeAll([]byte(in))
		require.NoError(t, err)
		require.Equal(t, in, string(Encode(v)), "round trip for %q", in)
	}
}

// Bencoding round-trip invariant: encode(decode(b)) == b for canonical input.
func TestRoundTripInvariant(t *testing.T) {
	canonical := []byte("d8:announce20:http://tracker.test/4:infod6:lengthi100e4:name4:test12:piece lengthi16384e6:pieces0:ee")
	v, err := DecodeAll(canonical)
	require.NoError(t, err)
	require.Equal(t, canonical, Encode(v))
}
