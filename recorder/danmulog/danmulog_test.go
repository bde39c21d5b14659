package danmulog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "danmu.txt")
	l, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(1000, "hello"))
	require.NoError(t, l.Append(2000, "world: with colon"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1000:hello\n2000:world: with colon\n", string(data))
}

func TestOpenPreloadsExistingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "danmu.txt")
	require.NoError(t, os.WriteFile(path, []byte("500:first\n1500:second\n"), 0o644))

	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	records := l.Records()
	require.Len(t, records, 2)
	assert.Equal(t, Record{TimestampMs: 500, Content: "first"}, records[0])
	assert.Equal(t, Record{TimestampMs: 1500, Content: "second"}, records[1])

	require.NoError(t, l.Append(3000, "third"))
	assert.Len(t, l.Records(), 3)
}

func TestOpenOnMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.txt")
	l, err := Open(path)
	require.NoError(t, err)
	defer l.Close()

	assert.Empty(t, l.Records())
}
