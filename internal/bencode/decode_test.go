package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeString(t *testing.T) {
	v, n, err := Decode([]byte("5:hello"))
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Equal(t, "hello", string(v.Str))
}

func TestDecodeInteger(t *testing.T) {
	v, n, err := Decode([]byte("i52e"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, int64(52), v.Int)
}

func TestDecodeNegativeInteger(t *testing.T) {
	v, _, err := Decode([]byte("i-42e"))
	require.NoError(t, err)
	require.Equal(t, int64(-42), v.Int)
}

func TestDecodeRejectsNegativeZero(t *testing.T) {
	_, _, err := Decode([]byte("i-0e"))
	require.Error(t, err)
}

func TestDecodeRejectsLeadingZero(t *testing.T) {
	_, _, err := Decode([]byte("i03e"))
	require.Error(t, err)
}

func TestDecodeZero(t *testing.T) {
	v, _, err := Decode([]byte("i0e"))
	require.NoError(t, err)
	require.Equal(t, int64(0), v.Int)
}

// decode "l5:helloi52ee" -> ["hello", 52]
func TestDecodeList(t *testing.T) {
	v, n, err := Decode([]byte("l5:helloi52ee"))
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.True(t, v.IsList())
	require.Len(t, v.List, 2)
	require.Equal(t, "hello", string(v.List[0].Str))
	require.Equal(t, int64(52), v.List[1].Int)
}

// decode "d3:foo3:bar5:helloi52ee" -> {"foo":"bar","hello":52}
func TestDecodeDict(t *testing.T) {
	v, _, err := Decode([]byte("d3:foo3:bar5:helloi52ee"))
	require.NoError(t, err)
	require.True(t, v.IsDict())
	foo, ok := v.Get("foo")
	require.True(t, ok)
	require.Equal(t, "bar", string(foo.Str))
	hello, ok := v.Get("hello")
	require.True(t, ok)
	require.Equal(t, int64(52), hello.Int)
}

func TestDecodeDictRejectsDuplicateKeys(t *testing.T) {
	_, _, err := Decode([]byte("d3:foo3:bar3:foo3:baze"))
	require.Error(t, err)
}

func TestDecodeDictRejectsNonStringKey(t *testing.T) {
	_, _, err := Decode([]byte("di1e3:bare"))
	require.Error(t, err)
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, _, err := Decode([]byte("5:hi"))
	require.Error(t, err)
}

func TestDecodeRejectsUnknownPrefix(t *testing.T) {
	_, _, err := Decode([]byte("x123"))
	require.Error(t, err)
}

// Idempotent decode: decoding the same bytes twice yields structurally equal values.
func TestDecodeIsIdempotent(t *testing.T) {
	input := []byte("d4:infod6:lengthi100e4:name3:fooee")
	v1, err := DecodeAll(input)
	require.NoError(t, err)
	v2, err := DecodeAll(input)
	require.NoError(t, err)
	require.True(t, Equal(v1, v2))
}

func TestDecodePreservesRawSpanOfDictValue(t *testing.T) {
	input := []byte("d4:infod6:lengthi100eee")
	v, err := DecodeAll(input)
	require.NoError(t, err)
	info, ok := v.Get("info")
	require.True(t, ok)
	require.Equal(t, "d6:lengthi100ee", string(info.Raw))
}
