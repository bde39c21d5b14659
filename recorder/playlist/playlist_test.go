package playlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrNewStartsEmptyWhenFileMissing(t *testing.T) {
	p, err := LoadOrNew(filepath.Join(t.TempDir(), "playlist.m3u8"))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.EndList())
}

func TestAppendUpdatesDurationAndTargetDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	p, err := LoadOrNew(path)
	require.NoError(t, err)

	require.NoError(t, p.Append(Segment{AbsoluteSequence: 0, Duration: 4.2, LocalFilename: "seg0.ts"}))
	require.NoError(t, p.Append(Segment{AbsoluteSequence: 1, Duration: 6.8, LocalFilename: "seg1.ts"}))

	assert.Equal(t, 2, p.Len())
	assert.InDelta(t, 11.0, p.TotalDuration(), 1e-9)
	assert.Equal(t, 7, p.TargetDuration())
	assert.True(t, p.Contains("seg0.ts"))
	assert.False(t, p.Contains("seg2.ts"))
}

func TestAppendDuplicateURIPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	p, err := LoadOrNew(path)
	require.NoError(t, err)
	require.NoError(t, p.Append(Segment{AbsoluteSequence: 0, Duration: 1, LocalFilename: "seg0.ts"}))

	assert.Panics(t, func() {
		_ = p.Append(Segment{AbsoluteSequence: 1, Duration: 1, LocalFilename: "seg0.ts"})
	})
}

func TestAppendToLastExtendsDurationWithoutNewEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	p, err := LoadOrNew(path)
	require.NoError(t, err)
	require.NoError(t, p.Append(Segment{AbsoluteSequence: 0, Duration: 2, LocalFilename: "seg0.ts"}))

	require.NoError(t, p.AppendToLast(1.5))

	assert.Equal(t, 1, p.Len())
	last, ok := p.LastSegment()
	require.True(t, ok)
	assert.InDelta(t, 3.5, last.Duration, 1e-9)
}

func TestAppendToLastOnEmptyPlaylistErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	p, err := LoadOrNew(path)
	require.NoError(t, err)

	err = p.AppendToLast(1)
	assert.Error(t, err)
}

func TestCloseSetsEndListAndIsTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	p, err := LoadOrNew(path)
	require.NoError(t, err)
	require.NoError(t, p.Append(Segment{AbsoluteSequence: 0, Duration: 1, LocalFilename: "seg0.ts"}))

	require.NoError(t, p.Close())
	assert.True(t, p.EndList())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#EXT-X-ENDLIST")
	assert.Contains(t, string(data), "#EXT-X-PLAYLIST-TYPE:VOD")
}

func TestFlushThenLoadOrNewRoundTripsSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	p, err := LoadOrNew(path)
	require.NoError(t, err)
	require.NoError(t, p.Append(Segment{AbsoluteSequence: 0, Duration: 4, LocalFilename: "seg0.ts", Discontinuity: true}))
	require.NoError(t, p.Append(Segment{AbsoluteSequence: 1, Duration: 5, LocalFilename: "seg1.ts", ProgramDateTime: "2026-01-01T00:00:00Z"}))

	reloaded, err := LoadOrNew(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())
	assert.True(t, reloaded.Contains("seg0.ts"))
	assert.True(t, reloaded.Contains("seg1.ts"))
	assert.InDelta(t, 9.0, reloaded.TotalDuration(), 1e-9)

	last, ok := reloaded.LastSegment()
	require.True(t, ok)
	assert.Equal(t, "2026-01-01T00:00:00Z", last.ProgramDateTime)
}
