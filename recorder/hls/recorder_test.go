package hls

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/recorder/playlist"
	"github.com/liverecorder/liverecorder/recorder/segment"
)

// fakeDownloader writes fixed content for any URL instead of doing a
// real HTTP GET, mirroring how controller_test.go fakes danmu.Dialer.
type fakeDownloader struct {
	content map[string][]byte
	err     error
}

func (d *fakeDownloader) Download(ctx context.Context, url, localPath string, maxAttempts int) (int64, error) {
	if d.err != nil {
		return 0, d.err
	}
	data, ok := d.content[url]
	if !ok {
		data = []byte("segment-bytes")
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// fakeProber returns a canned metadata sequence, one entry per call,
// repeating the last once exhausted.
type fakeProber struct {
	metas []segment.Metadata
	calls int
}

func (p *fakeProber) Probe(ctx context.Context, path string) (segment.Metadata, error) {
	i := p.calls
	if i >= len(p.metas) {
		i = len(p.metas) - 1
	}
	p.calls++
	return p.metas[i], nil
}

func fetchFixed(playlists map[string][]byte) PlaylistFetcher {
	return func(ctx context.Context, url string) ([]byte, error) {
		return playlists[url], nil
	}
}

func newTestRecorder(t *testing.T, cfg Config) *Recorder {
	cfg.WorkDir = t.TempDir()
	cfg.Logger = logger.New()
	if cfg.Events == nil {
		cfg.Events = events.New()
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "https://example.com/live/index.m3u8"
	}
	return New(cfg)
}

func goodMeta() segment.Metadata {
	return segment.Metadata{Duration: 6, Width: 1280, Height: 720, VideoCodec: "h264", AudioCodec: "aac"}
}

func TestRunIngestsSegmentsAndStopsOnDisable(t *testing.T) {
	mp := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.0,
seg0.ts
`
	r := newTestRecorder(t, Config{
		RoomID:    "room1",
		Platform:  "bilibili",
		Fetch:     fetchFixed(map[string][]byte{"https://example.com/live/index.m3u8": []byte(mp)}),
		Downloader: &fakeDownloader{},
		Prober:    &fakeProber{metas: []segment.Metadata{goodMeta()}},
	})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, func() bool { return r.TotalBytes() > 0 }, time.Second, 5*time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.FileExists(t, filepath.Join(r.cfg.WorkDir, playlistFileName))
}

func TestRunReturnsResolutionChangedOnProbeMismatch(t *testing.T) {
	mp := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
`
	changed := goodMeta()
	changed.Width = 640
	changed.Height = 360

	r := newTestRecorder(t, Config{
		RoomID:    "room1",
		Platform:  "douyin",
		Fetch:     fetchFixed(map[string][]byte{"https://example.com/live/index.m3u8": []byte(mp)}),
		Downloader: &fakeDownloader{},
		Prober:    &fakeProber{metas: []segment.Metadata{goodMeta(), changed}},
	})

	err := r.Run(context.Background())
	require.Error(t, err)
	_, ok := err.(*ErrResolutionChanged)
	assert.True(t, ok)
}

func TestRunReturnsUpdateTimeoutWhenNoNewSegmentsArrive(t *testing.T) {
	mp := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
`
	r := newTestRecorder(t, Config{
		RoomID:       "room1",
		Platform:     "huya",
		StallTimeout: 1 * time.Millisecond,
		Fetch:        fetchFixed(map[string][]byte{"https://example.com/live/index.m3u8": []byte(mp)}),
		Downloader:   &fakeDownloader{},
		Prober:       &fakeProber{metas: []segment.Metadata{goodMeta()}},
	})
	r.lastUpdateUTC.Store(time.Now().Add(-time.Hour).UnixMilli())

	err := r.Run(context.Background())
	require.Error(t, err)
	_, ok := err.(*ErrUpdateTimeout)
	assert.True(t, ok)
}

func TestCorruptedSegmentDiscardedWhenStitchingNotAllowed(t *testing.T) {
	mp := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.0,
seg0.ts
`
	corrupted := segment.Metadata{}

	r := newTestRecorder(t, Config{
		RoomID:    "room1",
		Platform:  "kuaishou",
		Fetch:     fetchFixed(map[string][]byte{"https://example.com/live/index.m3u8": []byte(mp)}),
		Downloader: &fakeDownloader{},
		Prober:    &fakeProber{metas: []segment.Metadata{corrupted}},
	})
	pl, err := playlist.LoadOrNew(filepath.Join(r.cfg.WorkDir, playlistFileName))
	require.NoError(t, err)
	r.playlist = pl

	require.NoError(t, r.ingestSegments(context.Background(), &MediaPlaylist{
		MediaSequence: 0,
		Segments:      []RemoteSegment{{URI: "seg0.ts", Duration: 6.0}},
	}))

	assert.Equal(t, 0, r.playlist.Len())
	_, err = os.Stat(filepath.Join(r.cfg.WorkDir, "seg0.ts"))
	assert.True(t, os.IsNotExist(err))
}

func TestCorruptedSegmentStitchedOntoPreviousWhenAllowed(t *testing.T) {
	mp := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
`
	r := newTestRecorder(t, Config{
		RoomID:               "room1",
		Platform:             "bilibili",
		AllowCorruptedStitch: true,
		Fetch:                fetchFixed(map[string][]byte{"https://example.com/live/index.m3u8": []byte(mp)}),
		Downloader: &fakeDownloader{content: map[string][]byte{
			"seg0.ts": []byte("first-bytes"),
			"seg1.ts": []byte("corrupted-tail"),
		}},
		Prober: &fakeProber{metas: []segment.Metadata{goodMeta(), {Duration: 6}}},
	})
	pl, err := playlist.LoadOrNew(filepath.Join(r.cfg.WorkDir, playlistFileName))
	require.NoError(t, err)
	r.playlist = pl

	require.NoError(t, r.ingestSegments(context.Background(), &MediaPlaylist{
		MediaSequence: 0,
		Segments: []RemoteSegment{
			{URI: "seg0.ts", Duration: 6.0},
			{URI: "seg1.ts", Duration: 6.0},
		},
	}))

	assert.Equal(t, 1, r.playlist.Len())
	last, ok := r.playlist.LastSegment()
	require.True(t, ok)
	assert.InDelta(t, 12.0, last.Duration, 1e-9)

	data, err := os.ReadFile(filepath.Join(r.cfg.WorkDir, "seg0.ts"))
	require.NoError(t, err)
	assert.Equal(t, "first-bytescorrupted-tail", string(data))
	_, err = os.Stat(filepath.Join(r.cfg.WorkDir, "seg1.ts"))
	assert.True(t, os.IsNotExist(err))
}
