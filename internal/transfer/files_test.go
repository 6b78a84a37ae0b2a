package transfer

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeSizeReadable(t *testing.T) {
	tests := []struct {
		size uint64
		want string
	}{
		{0, "0 bytes"},
		{999, "999 bytes"},
		{198_210, "198.21KB"},
		{48_730_000, "48.73MB"},
		{8_270_000_000, "8.27GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MakeSizeReadable(tt.size))
	}
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "12.50 seconds", FormatTime(12.5))
	assert.Equal(t, "2 minutes 5.00 seconds", FormatTime(125))
}

func TestSafeJoin(t *testing.T) {
	dir := t.TempDir()

	got, err := SafeJoin(dir, "sub/a.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "a.txt"), got)

	for _, bad := range []string{"../a.txt", "sub/../../a.txt", "/etc/passwd", ""} {
		_, err := SafeJoin(dir, bad)
		assert.Error(t, err, bad)
	}
}

func TestCommonFolderAndRelativeName(t *testing.T) {
	root := t.TempDir()
	files := []string{
		filepath.Join(root, "x", "a.txt"),
		filepath.Join(root, "x", "y", "b.txt"),
		filepath.Join(root, "z", "c.txt"),
	}
	base, err := CommonFolder(files)
	require.NoError(t, err)
	assert.Equal(t, root, base)

	name, err := RelativeName(base, files[1])
	require.NoError(t, err)
	assert.Equal(t, "x/y/b.txt", name)

	single, err := CommonFolder(files[:1])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "x"), single)
}

func TestExpandPaths(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"d/b.txt", "d/a.txt", "d/e/c.txt", "top.txt"} {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o644))
	}

	files, err := ExpandPaths([]string{filepath.Join(root, "top.txt"), filepath.Join(root, "d")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "top.txt"),
		filepath.Join(root, "d", "a.txt"),
		filepath.Join(root, "d", "b.txt"),
		filepath.Join(root, "d", "e", "c.txt"),
	}, files)

	_, err = ExpandPaths([]string{filepath.Join(root, "missing")})
	assert.Error(t, err)
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))
	got, err := HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256([]byte("abc")), got)
}
