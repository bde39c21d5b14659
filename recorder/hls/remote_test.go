package hls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const masterPlaylist = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720
720p.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360p.m3u8
`

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:42
#EXTINF:5.994,
seg42.ts?sig=abc
#EXT-X-DISCONTINUITY
#EXT-X-PROGRAM-DATE-TIME:2026-01-01T00:00:00Z
#EXTINF:6.006,
https://cdn.example.com/live/seg43.ts
`

func TestIsMasterDetectsStreamInf(t *testing.T) {
	assert.True(t, IsMaster([]byte(masterPlaylist)))
	assert.False(t, IsMaster([]byte(mediaPlaylist)))
}

func TestFirstVariantURIPicksFirstStream(t *testing.T) {
	uri, err := FirstVariantURI([]byte(masterPlaylist))
	require.NoError(t, err)
	assert.Equal(t, "720p.m3u8", uri)
}

func TestFirstVariantURIErrorsWhenNoVariantFollows(t *testing.T) {
	_, err := FirstVariantURI([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n"))
	assert.Error(t, err)
}

func TestParseMediaPlaylistParsesSequenceAndSegments(t *testing.T) {
	mp, err := ParseMediaPlaylist([]byte(mediaPlaylist))
	require.NoError(t, err)
	require.Equal(t, uint64(42), mp.MediaSequence)
	require.Len(t, mp.Segments, 2)

	assert.Equal(t, "seg42.ts?sig=abc", mp.Segments[0].URI)
	assert.InDelta(t, 5.994, mp.Segments[0].Duration, 1e-9)
	assert.False(t, mp.Segments[0].Discontinuity)

	assert.True(t, mp.Segments[1].Discontinuity)
	assert.Equal(t, "2026-01-01T00:00:00Z", mp.Segments[1].ProgramDateTime)
}

func TestParseMediaPlaylistRejectsNonHLSBody(t *testing.T) {
	_, err := ParseMediaPlaylist([]byte("<html>not a playlist</html>"))
	assert.Error(t, err)
}

func TestSegmentFilenameStripsQueryAndDirectory(t *testing.T) {
	assert.Equal(t, "seg42.ts", SegmentFilename("seg42.ts?sig=abc"))
	assert.Equal(t, "seg43.ts", SegmentFilename("https://cdn.example.com/live/seg43.ts"))
	assert.Equal(t, "seg.ts", SegmentFilename("seg.ts"))
}
