package fileutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ResolvePath("~/keys/id_ed25519")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "keys", "id_ed25519"), got)

	got, err = ResolvePath("  ")
	require.NoError(t, err)
	assert.Empty(t, got)

	t.Setenv("HERD_TEST_DIR", "/tmp/herd")
	got, err = ResolvePath("$HERD_TEST_DIR/a/../b")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/herd/b", got)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o600))

	t.Run("Copies", func(t *testing.T) {
		dst := filepath.Join(dir, "nested", "dst.txt")
		n, err := CopyFile(src, dst, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
		data, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("TooLarge", func(t *testing.T) {
		_, err := CopyFile(src, filepath.Join(dir, "big.txt"), 2)
		assert.ErrorIs(t, err, ErrTooLarge)
	})
}
