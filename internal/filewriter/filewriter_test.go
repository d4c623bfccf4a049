package filewriter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWritePieceAtOffset(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	w, err := Open(dest, 20, 10)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WritePiece(1, []byte("0123456789")))
	require.NoError(t, w.WritePiece(0, []byte("abcdefghij")))
	require.NoError(t, w.Sync())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "abcdefghij0123456789", string(got))
}

func TestWritePieceRejectsOverflow(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(filepath.Join(dir, "out.bin"), 10, 10)
	require.NoError(t, err)
	defer w.Close()

	require.Error(t, w.WritePiece(0, make([]byte, 11)))
}

func TestOpenTruncatesToLength(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	w, err := Open(dest, 42, 10)
	require.NoError(t, err)
	defer w.Close()

	fi, err := os.Stat(dest)
	require.NoError(t, err)
	require.EqualValues(t, 42, fi.Size())
}
