package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liverecorder/liverecorder/danmu"
	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/platform"
	"github.com/liverecorder/liverecorder/recorder/segment"
)

type fakeConn struct {
	mu        sync.Mutex
	toDeliver chan []byte
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{toDeliver: make(chan []byte, 4)}
}

func (c *fakeConn) WriteMessage(int, []byte) error { return nil }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.toDeliver
	if !ok {
		return 0, nil, fmt.Errorf("fakeConn: closed")
	}
	return danmu.BinaryMessage, data, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.toDeliver)
	}
	return nil
}

type fakeDialer struct{ conn *fakeConn }

func (d *fakeDialer) Dial(ctx context.Context, url string) (danmu.Conn, error) {
	return d.conn, nil
}

type noopParser struct{}

func (noopParser) Parse(raw string) (*events.ChatEvent, bool) { return nil, false }

// fakeProvider returns a canned sequence of RoomInfo snapshots, one per
// call, repeating the last once exhausted.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	infos []*platform.RoomInfo
}

func (p *fakeProvider) ResolveRoom(ctx context.Context, roomID string, account *platform.Account) (*platform.RoomInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.infos) {
		idx = len(p.infos) - 1
	}
	p.calls++
	info := *p.infos[idx]
	return &info, nil
}

func (p *fakeProvider) RefreshHLSURL(ctx context.Context, roomID string, account *platform.Account) (string, error) {
	return "", nil
}

func (p *fakeProvider) FetchPlaylist(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return nil, errors.New("fake: playlist unavailable")
}

type fakeDownloader struct{}

func (fakeDownloader) Download(ctx context.Context, url, localPath string, maxAttempts int) (int64, error) {
	return 0, nil
}

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, path string) (segment.Metadata, error) {
	return segment.Metadata{}, nil
}

func TestControllerEmitsLiveStartAndRecordStart(t *testing.T) {
	bus := events.New()
	sub := bus.Subscribe()
	defer sub.Close()

	provider := &fakeProvider{infos: []*platform.RoomInfo{
		{IsLive: true, PlatformLiveID: "live-1", HLSURL: "http://example.invalid/index.m3u8"},
	}}

	ctrl := New(Config{
		Platform:  platform.Bilibili,
		RoomID:    "123",
		CacheRoot: t.TempDir(),
		Provider:  provider,
		DanmuDialer: &fakeDialer{conn: newFakeConn()},
		DanmuAdapter: func(plat platform.Platform, roomID string, log logger.Logger) (danmu.MessageParser, FrameDecodeFunc) {
			return noopParser{}, func(data []byte) ([]string, error) { return nil, nil }
		},
		Downloader: fakeDownloader{},
		Prober:     fakeProber{},
		Events:     bus,
		Logger:     logger.New(),
	})
	ctrl.SetEnabled(true)

	ctx, cancel := context.WithCancel(context.Background())
	ctrl.Start(ctx)

	kinds := map[events.Kind]bool{}
	deadline := time.After(2 * time.Second)
waitLoop:
	for {
		select {
		case d := <-sub.C():
			kinds[d.Event.Kind] = true
			if kinds[events.KindLiveStart] && kinds[events.KindRecordStart] {
				break waitLoop
			}
		case <-deadline:
			break waitLoop
		}
	}

	assert.True(t, kinds[events.KindLiveStart])
	assert.True(t, kinds[events.KindRecordStart])
	assert.True(t, ctrl.Snapshot().IsRecording)

	cancel()
	ctrl.Stop()
}

func TestControllerShouldRecordReflectsEnabledAndQuit(t *testing.T) {
	ctrl := New(Config{
		Platform:  platform.Douyin,
		RoomID:    "r1",
		CacheRoot: t.TempDir(),
		Provider:  &fakeProvider{infos: []*platform.RoomInfo{{IsLive: false}}},
		Logger:    logger.New(),
	})
	assert.False(t, ctrl.ShouldRecord())
	ctrl.SetEnabled(true)
	assert.True(t, ctrl.ShouldRecord())
	ctrl.quit.Store(true)
	assert.False(t, ctrl.ShouldRecord())
}
