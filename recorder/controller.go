// Package recorder implements C7, the per-room Room Controller, and C8,
// the Recorder Registry that owns a set of controllers (spec §4.7, §4.8).
package recorder

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/liverecorder/liverecorder/danmu"
	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/metrics"
	"github.com/liverecorder/liverecorder/platform"
	"github.com/liverecorder/liverecorder/recorder/danmulog"
	"github.com/liverecorder/liverecorder/recorder/hls"
)

const (
	defaultUpdateInterval    = 12 * time.Second
	defaultDanmuRestartDelay = 5 * time.Second
	pollJitterMax            = 4 * time.Second
	danmuFileName            = "danmu.txt"
	coverFileName            = "cover.jpg"
)

// Config configures one Controller (spec §4.7's "account, room_id,
// platform, ... handles to the C5 and C6 tasks").
type Config struct {
	Platform platform.Platform
	RoomID   string
	Account  *platform.Account

	CacheRoot string

	UpdateInterval    time.Duration
	DanmuRestartDelay time.Duration

	Provider     platform.Provider
	DanmuDialer  danmu.Dialer
	DanmuAdapter DanmuAdapterFunc

	Downloader hls.SegmentDownloader
	Prober     hls.SegmentProber

	Events *events.Bus
	Logger logger.Logger
}

// Snapshot is the read-only view the registry's info/list operations
// return.
type Snapshot struct {
	Platform    platform.Platform
	RoomID      string
	Enabled     bool
	IsRecording bool
	LiveID      int64
	Room        platform.RoomInfo
}

// Controller is C7: one per-room supervisor loop.
type Controller struct {
	cfg Config

	// traceID ties every event this room's controller publishes over its
	// lifetime back to one session for log correlation.
	traceID string

	enabled atomic.Bool
	quit    atomic.Bool

	isRecording atomic.Bool
	liveID      atomic.Int64
	wasLive     atomic.Bool

	mu   sync.RWMutex
	room platform.RoomInfo

	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds a Controller. It does not start its loop; call Start.
func New(cfg Config) *Controller {
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}
	if cfg.DanmuRestartDelay == 0 {
		cfg.DanmuRestartDelay = defaultDanmuRestartDelay
	}
	if cfg.DanmuAdapter == nil {
		cfg.DanmuAdapter = DefaultDanmuAdapter
	}
	c := &Controller{cfg: cfg, traceID: uuid.NewString()}
	return c
}

// Enabled reports whether the controller is allowed to record.
func (c *Controller) Enabled() bool { return c.enabled.Load() }

// SetEnabled toggles recording eligibility (spec §4.7 step 4's enabled
// gate, spec §4.8's set_enabled).
func (c *Controller) SetEnabled(v bool) { c.enabled.Store(v) }

// ShouldRecord is spec §4.7's should_record(): !quit && enabled.
func (c *Controller) ShouldRecord() bool {
	return !c.quit.Load() && c.enabled.Load()
}

// LiveID returns the current live session id, or 0 when not recording.
func (c *Controller) LiveID() int64 { return c.liveID.Load() }

// Snapshot returns the controller's current read-only view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	room := c.room
	c.mu.RUnlock()
	return Snapshot{
		Platform:    c.cfg.Platform,
		RoomID:      c.cfg.RoomID,
		Enabled:     c.enabled.Load(),
		IsRecording: c.isRecording.Load(),
		LiveID:      c.liveID.Load(),
		Room:        room,
	}
}

// Start spawns the controller's main loop (spec §4.7).
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	go func() {
		defer close(c.stopped)
		c.runLoop(ctx)
	}()
}

// Stop sets quit, cancels both owned tasks, and awaits their completion
// (spec §4.7's stop(), §5's cancellation guarantee).
func (c *Controller) Stop() {
	c.quit.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
	if c.stopped != nil {
		<-c.stopped
	}
}

func (c *Controller) runLoop(ctx context.Context) {
	for !c.quit.Load() && ctx.Err() == nil {
		info, err := c.cfg.Provider.ResolveRoom(ctx, c.cfg.RoomID, c.cfg.Account)
		if err != nil {
			c.cfg.Logger.Errorf("recorder[%s/%s]: resolve room: %v", c.cfg.Platform, c.cfg.RoomID, err)
			if !sleepCtx(ctx, c.cfg.UpdateInterval) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.room = *info
		c.mu.Unlock()

		wasLive := c.wasLive.Load()
		switch {
		case !wasLive && info.IsLive:
			c.wasLive.Store(true)
			c.publish(events.KindLiveStart, info, 0)
		case wasLive && !info.IsLive:
			c.wasLive.Store(false)
			c.publish(events.KindLiveEnd, info, 0)
		}

		if info.IsLive && c.enabled.Load() {
			c.runSession(ctx, info)
			if !sleepCtx(ctx, jitter(0, pollJitterMax)) {
				return
			}
			continue
		}

		if !sleepCtx(ctx, c.cfg.UpdateInterval) {
			return
		}
	}
}

// runSession implements spec §4.7 step 4: create the work directory,
// start the danmaku task (with its at-most-one-restart policy), run the
// HLS recorder synchronously, then tear the session down.
func (c *Controller) runSession(ctx context.Context, info *platform.RoomInfo) {
	liveID := time.Now().UnixMilli()
	c.liveID.Store(liveID)
	defer c.liveID.Store(0)

	workDir := filepath.Join(c.cfg.CacheRoot, c.cfg.Platform.String(), c.cfg.RoomID, strconv.FormatInt(liveID, 10))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		c.cfg.Logger.Errorf("recorder[%s/%s]: create work dir: %v", c.cfg.Platform, c.cfg.RoomID, err)
		return
	}

	c.persistCoverBestEffort(ctx, workDir, info.CoverURL)

	dlog, err := danmulog.Open(filepath.Join(workDir, danmuFileName))
	if err != nil {
		c.cfg.Logger.Errorf("recorder[%s/%s]: open danmu log: %v", c.cfg.Platform, c.cfg.RoomID, err)
	}

	sessCtx, cancel := context.WithCancel(ctx)

	danmuDone := make(chan struct{})
	go c.runDanmu(sessCtx, info, liveID, dlog, danmuDone)

	c.isRecording.Store(true)
	metrics.ActiveRooms.WithLabelValues(c.cfg.Platform.String(), "false").Dec()
	metrics.ActiveRooms.WithLabelValues(c.cfg.Platform.String(), "true").Inc()
	c.publish(events.KindRecordStart, info, liveID)

	rec := hls.New(hls.Config{
		RoomID:               c.cfg.RoomID,
		Platform:             c.cfg.Platform.String(),
		LiveID:               liveID,
		StreamURL:            info.HLSURL,
		WorkDir:              workDir,
		Fetch:                c.fetchPlaylist,
		Downloader:           c.cfg.Downloader,
		Prober:               c.cfg.Prober,
		Events:               c.cfg.Events,
		Logger:               c.cfg.Logger,
		AllowCorruptedStitch: c.cfg.Platform == platform.Bilibili,
	})
	if err := rec.Run(sessCtx); err != nil {
		c.cfg.Logger.Errorf("recorder[%s/%s]: session ended: %v", c.cfg.Platform, c.cfg.RoomID, err)
	}

	cancel()
	<-danmuDone
	if dlog != nil {
		_ = dlog.Close()
	}

	c.isRecording.Store(false)
	metrics.ActiveRooms.WithLabelValues(c.cfg.Platform.String(), "true").Dec()
	metrics.ActiveRooms.WithLabelValues(c.cfg.Platform.String(), "false").Inc()
	c.publish(events.KindRecordEnd, info, liveID)
}

// runDanmu drives C5 for the session's lifetime, applying spec §4.7's "at
// most one restart after a 5 s delay" policy on failure.
func (c *Controller) runDanmu(ctx context.Context, info *platform.RoomInfo, liveID int64, dlog *danmulog.Log, done chan struct{}) {
	defer close(done)

	parser, frameDecode := c.cfg.DanmuAdapter(c.cfg.Platform, c.cfg.RoomID, c.cfg.Logger)
	if dlog != nil {
		parser = &loggingParser{inner: parser, log: dlog}
	}

	attempts := 0
	for {
		client := danmu.New(danmu.Config{
			Platform:       c.cfg.Platform.String(),
			RoomID:         c.cfg.RoomID,
			LiveID:         liveID,
			WSURL:          info.DanmakuURL,
			HandshakeFrame: info.HandshakePayload,
			FrameDecode:    frameDecode,
			Dialer:         c.cfg.DanmuDialer,
			Parser:         parser,
			Events:         c.cfg.Events,
			Logger:         c.cfg.Logger,
			TraceID:        c.traceID,
		})

		runDone := make(chan error, 1)
		go func() { runDone <- client.Run(ctx) }()

		select {
		case <-ctx.Done():
			client.Stop()
			<-runDone
			return
		case err := <-runDone:
			if err == nil {
				return
			}
			attempts++
			c.cfg.Logger.Errorf("recorder[%s/%s]: danmu session error (attempt %d): %v", c.cfg.Platform, c.cfg.RoomID, attempts, err)
			if attempts > 1 {
				return
			}
			metrics.RecorderRestarts.WithLabelValues(c.cfg.Platform.String()).Inc()
			if !sleepCtx(ctx, c.cfg.DanmuRestartDelay) {
				return
			}
		}
	}
}

func (c *Controller) fetchPlaylist(ctx context.Context, url string) ([]byte, error) {
	headers := map[string]string{}
	if c.cfg.Account != nil && c.cfg.Account.CookieString != "" {
		headers["Cookie"] = c.cfg.Account.CookieString
	}
	return c.cfg.Provider.FetchPlaylist(ctx, url, headers)
}

// persistCoverBestEffort implements spec §4.7 step 4's "persist a cover
// image (best-effort, ignore errors)".
func (c *Controller) persistCoverBestEffort(ctx context.Context, workDir, coverURL string) {
	if coverURL == "" || c.cfg.Downloader == nil {
		return
	}
	_, err := c.cfg.Downloader.Download(ctx, coverURL, filepath.Join(workDir, coverFileName), 1)
	if err != nil {
		c.cfg.Logger.Debugf("recorder[%s/%s]: cover download failed: %v", c.cfg.Platform, c.cfg.RoomID, err)
	}
}

func (c *Controller) publish(kind events.Kind, info *platform.RoomInfo, liveID int64) {
	if c.cfg.Events == nil {
		return
	}
	c.cfg.Logger.Debugf("recorder[%s/%s]: publish %v trace=%s", c.cfg.Platform, c.cfg.RoomID, kind, c.traceID)
	c.cfg.Events.Publish(events.Event{
		Kind:    kind,
		TraceID: c.traceID,
		Room: &events.RoomSnapshot{
			Platform:       c.cfg.Platform.String(),
			RoomID:         c.cfg.RoomID,
			Title:          info.Title,
			CoverURL:       info.CoverURL,
			IsLive:         info.IsLive,
			UserID:         info.UserID,
			UserName:       info.UserName,
			UserAvatar:     info.UserAvatar,
			PlatformLiveID: info.PlatformLiveID,
			LiveID:         liveID,
		},
	})
}

// loggingParser wraps a danmu.MessageParser to also append every chat
// message it recognises to the session's danmu.txt (spec §6).
type loggingParser struct {
	inner danmu.MessageParser
	log   *danmulog.Log
}

func (p *loggingParser) Parse(raw string) (*events.ChatEvent, bool) {
	chat, ok := p.inner.Parse(raw)
	if !ok {
		return nil, false
	}
	_ = p.log.Append(chat.TimestampMs, chat.Message)
	return chat, true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
