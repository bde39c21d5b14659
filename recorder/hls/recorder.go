// Package hls implements C6, the HLS recorder: it polls a remote
// playlist, downloads new segments, and maintains the local VOD playlist
// while detecting stalls and resolution changes.
package hls

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/metrics"
	"github.com/liverecorder/liverecorder/recorder/playlist"
	"github.com/liverecorder/liverecorder/recorder/segment"
)

const (
	pollInterval     = 1 * time.Second
	playlistFileName = "playlist.m3u8"
)

// ErrResolutionChanged is spec §4.6/§7's ResolutionChanged: fatal to the
// current recording session.
type ErrResolutionChanged struct{}

func (e *ErrResolutionChanged) Error() string { return "hls: resolution changed" }

// ErrUpdateTimeout is spec §4.6/§7's UpdateTimeout: the stall watchdog
// fired.
type ErrUpdateTimeout struct{ Since time.Duration }

func (e *ErrUpdateTimeout) Error() string {
	return fmt.Sprintf("hls: no update for %s", e.Since)
}

// ErrNoStreamAvailable is spec §7's NoStreamAvailable.
type ErrNoStreamAvailable struct{}

func (e *ErrNoStreamAvailable) Error() string { return "hls: no stream available" }

// PlaylistFetcher fetches raw remote playlist bytes, abstracting the
// platform-specific auth/headers concern away from the recorder loop
// (spec §6 Platform collaborator's fetch_playlist).
type PlaylistFetcher func(ctx context.Context, url string) ([]byte, error)

// SegmentDownloader is the C1 surface the recorder drives.
type SegmentDownloader interface {
	Download(ctx context.Context, url, localPath string, maxAttempts int) (int64, error)
}

// SegmentProber is the C2 surface the recorder drives.
type SegmentProber interface {
	Probe(ctx context.Context, path string) (segment.Metadata, error)
}

// Config configures a Recorder, mirroring spec §4.6's
// {room_id, stream_url, work_dir, enabled_flag, event_sink}.
type Config struct {
	RoomID    string
	Platform  string
	LiveID    int64
	StreamURL string
	WorkDir   string

	MaxDownloadAttempts int
	StallTimeout        time.Duration

	// AllowCorruptedStitch gates the §4.6 byte-concatenation rule to the
	// one platform the original source documents it as valid for (see
	// DESIGN.md Open Questions).
	AllowCorruptedStitch bool

	Fetch      PlaylistFetcher
	Downloader SegmentDownloader
	Prober     SegmentProber
	Events     *events.Bus
	Logger     logger.Logger
}

// Recorder is C6. Exactly one Recorder runs per live session, owned
// exclusively by its Room Controller (spec §5).
type Recorder struct {
	cfg Config

	enabled atomic.Bool

	lastSequence  atomic.Int64 // -1 until the first segment is appended
	lastUpdateUTC atomic.Int64 // unix millis
	totalBytes    atomic.Int64
	totalDurBits  atomic.Uint64 // math.Float64bits(totalDuration)

	playlist *playlist.Playlist

	cachedProbe    *segment.Metadata
	cachedProbeSet bool
}

// New builds a Recorder for one live session. Its work directory is
// created by the first segment download or playlist flush.
func New(cfg Config) *Recorder {
	if cfg.MaxDownloadAttempts == 0 {
		cfg.MaxDownloadAttempts = 3
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = 10 * time.Second
	}
	r := &Recorder{cfg: cfg}
	r.enabled.Store(true)
	r.lastSequence.Store(-1)
	r.lastUpdateUTC.Store(time.Now().UnixMilli())
	return r
}

// Stop causes the run loop to exit cleanly on its next tick boundary
// (spec §4.6 step 1, §5 cancellation).
func (r *Recorder) Stop() {
	r.enabled.Store(false)
}

// TotalDuration returns the running total appended duration in seconds.
func (r *Recorder) TotalDuration() float64 {
	return math.Float64frombits(r.totalDurBits.Load())
}

// TotalBytes returns the running total bytes downloaded.
func (r *Recorder) TotalBytes() int64 {
	return r.totalBytes.Load()
}

// Run executes the main loop (spec §4.6). It returns nil when disabled
// cleanly, ctx.Err() when ctx is cancelled, a wrapped error when the local
// VOD playlist cannot be opened, and otherwise one of the fatal session
// errors (ErrResolutionChanged, ErrUpdateTimeout, ErrNoStreamAvailable).
// Once opened, the local VOD playlist is always closed before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	pl, err := playlist.LoadOrNew(filepath.Join(r.cfg.WorkDir, playlistFileName))
	if err != nil {
		return fmt.Errorf("hls: open local playlist: %w", err)
	}
	r.playlist = pl
	defer pl.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if !r.enabled.Load() {
			return nil
		}

		if err := r.tick(ctx); err != nil {
			switch err.(type) {
			case *ErrResolutionChanged, *ErrUpdateTimeout, *ErrNoStreamAvailable:
				return err
			default:
				// Transient (IO/HTTP/ParseFailed): logged, retried next
				// tick (spec §7).
				r.cfg.Logger.Errorf("hls[%s/%s]: tick error: %v", r.cfg.Platform, r.cfg.RoomID, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Recorder) tick(ctx context.Context) error {
	mp, err := r.fetchMediaPlaylist(ctx)
	if err != nil {
		return err
	}

	if err := r.ingestSegments(ctx, mp); err != nil {
		return err
	}

	since := time.Duration(time.Now().UnixMilli()-r.lastUpdateUTC.Load()) * time.Millisecond
	if since > r.cfg.StallTimeout {
		return &ErrUpdateTimeout{Since: since}
	}
	return nil
}

// fetchMediaPlaylist implements spec §4.6 step 2: fetch the remote
// playlist; if it is a master playlist, pick its first variant and
// re-fetch expecting a media playlist.
func (r *Recorder) fetchMediaPlaylist(ctx context.Context) (*MediaPlaylist, error) {
	data, err := r.cfg.Fetch(ctx, r.cfg.StreamURL)
	if err != nil {
		return nil, fmt.Errorf("hls: fetch playlist: %w", err)
	}

	if !IsMaster(data) {
		return ParseMediaPlaylist(data)
	}

	variantURI, err := FirstVariantURI(data)
	if err != nil {
		return nil, err
	}
	variantData, err := r.cfg.Fetch(ctx, variantURI)
	if err != nil {
		return nil, fmt.Errorf("hls: fetch variant playlist: %w", err)
	}
	if IsMaster(variantData) {
		return nil, &ErrParseFailed{Reason: "variant resolved to another master playlist"}
	}
	return ParseMediaPlaylist(variantData)
}

// ingestSegments implements spec §4.6 steps 3-4f.
func (r *Recorder) ingestSegments(ctx context.Context, mp *MediaPlaylist) error {
	lastSeq := r.lastSequence.Load()

	for i, seg := range mp.Segments {
		absSeq := int64(mp.MediaSequence) + int64(i)
		if absSeq <= lastSeq {
			continue
		}

		if err := r.ingestOne(ctx, absSeq, seg); err != nil {
			if _, fatal := err.(*ErrResolutionChanged); fatal {
				return err
			}
			r.cfg.Logger.Errorf("hls[%s/%s]: segment %d error: %v", r.cfg.Platform, r.cfg.RoomID, absSeq, err)
			continue
		}

		r.lastSequence.Store(absSeq)
		r.lastUpdateUTC.Store(time.Now().UnixMilli())
		r.emitTick()
	}
	return nil
}

func (r *Recorder) ingestOne(ctx context.Context, absSeq int64, seg RemoteSegment) error {
	filename := SegmentFilename(seg.URI)
	localPath := filepath.Join(r.cfg.WorkDir, filename)

	size, err := r.cfg.Downloader.Download(ctx, seg.URI, localPath, r.cfg.MaxDownloadAttempts)
	if err != nil {
		metrics.SegmentDownloadFailures.WithLabelValues(r.cfg.Platform).Inc()
		return err
	}
	metrics.SegmentsDownloaded.WithLabelValues(r.cfg.Platform).Inc()

	md, err := r.cfg.Prober.Probe(ctx, localPath)
	if err != nil {
		return err
	}

	if md.Corrupted() {
		return r.stitchCorrupted(localPath, md, size)
	}

	if r.cachedProbeSet {
		if !r.cachedProbe.Equal(md) {
			return &ErrResolutionChanged{}
		}
	} else {
		cp := md
		r.cachedProbe = &cp
		r.cachedProbeSet = true
	}

	ps := playlist.Segment{
		AbsoluteSequence: uint64(absSeq),
		Duration:         md.Duration,
		RemoteURI:        seg.URI,
		LocalFilename:    filename,
		Discontinuity:    seg.Discontinuity,
		ProgramDateTime:  seg.ProgramDateTime,
		ByteRange:        seg.ByteRange,
	}
	if err := r.playlist.Append(ps); err != nil {
		return err
	}

	r.addTotals(md.Duration, size)
	return nil
}

// stitchCorrupted implements the §4.6 corrupted-segment rule.
func (r *Recorder) stitchCorrupted(localPath string, md segment.Metadata, size int64) error {
	if !r.cfg.AllowCorruptedStitch {
		return removeAndDiscard(localPath)
	}

	last, ok := r.playlist.LastSegment()
	if !ok {
		return removeAndDiscard(localPath)
	}

	lastPath := filepath.Join(r.cfg.WorkDir, last.LocalFilename)
	if err := appendFileBytes(lastPath, localPath); err != nil {
		return err
	}

	if err := r.playlist.AppendToLast(md.Duration); err != nil {
		return err
	}
	r.addTotals(md.Duration, size)
	return nil
}

func (r *Recorder) addTotals(duration float64, size int64) {
	for {
		old := r.totalDurBits.Load()
		newVal := math.Float64frombits(old) + duration
		if r.totalDurBits.CompareAndSwap(old, math.Float64bits(newVal)) {
			break
		}
	}
	r.totalBytes.Add(size)
}

func (r *Recorder) emitTick() {
	if r.cfg.Events == nil {
		return
	}
	r.cfg.Events.Publish(events.Event{
		Kind:        events.KindRecordTick,
		LiveID:      r.cfg.LiveID,
		DurationSec: r.TotalDuration(),
		Bytes:       r.TotalBytes(),
	})
}
