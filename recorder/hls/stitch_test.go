package hls

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveAndDiscardDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg0.ts")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	require.NoError(t, removeAndDiscard(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRemoveAndDiscardToleratesAlreadyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.ts")
	assert.NoError(t, removeAndDiscard(path))
}

func TestAppendFileBytesConcatenatesAndRemovesSource(t *testing.T) {
	dir := t.TempDir()
	dstPath := filepath.Join(dir, "seg0.ts")
	srcPath := filepath.Join(dir, "seg1.ts")
	require.NoError(t, os.WriteFile(dstPath, []byte("hello "), 0o644))
	require.NoError(t, os.WriteFile(srcPath, []byte("world"), 0o644))

	require.NoError(t, appendFileBytes(dstPath, srcPath))

	data, err := os.ReadFile(dstPath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = os.Stat(srcPath)
	assert.True(t, os.IsNotExist(err))
}
