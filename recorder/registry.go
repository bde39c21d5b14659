package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/liverecorder/liverecorder/danmu"
	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/metrics"
	"github.com/liverecorder/liverecorder/platform"
	"github.com/liverecorder/liverecorder/recorder/hls"
	"github.com/liverecorder/liverecorder/utils/safemap"
)

// ErrAlreadyExists is spec §4.8's add() rejection for a duplicate room.
var ErrAlreadyExists = errors.New("recorder: room already registered")

// ErrNotFound is returned by any registry operation on an unknown room.
var ErrNotFound = errors.New("recorder: room not found")

type roomKey struct {
	Platform platform.Platform
	RoomID   string
}

// Repository is the narrow persistence collaborator the registry cascades
// deletes into (spec §4.8's "associated persisted records"); store's
// concrete implementation is injected by the caller.
type Repository interface {
	DeleteRoom(ctx context.Context, plat platform.Platform, roomID string) error
}

// RegistryConfig configures a Registry; every field is shared across all
// controllers it constructs.
type RegistryConfig struct {
	CacheRoot string

	Platforms    *platform.Registry
	DanmuDialer  danmu.Dialer
	DanmuAdapter DanmuAdapterFunc

	Downloader hls.SegmentDownloader
	Prober     hls.SegmentProber

	Repository Repository

	Events *events.Bus
	Logger logger.Logger
}

// Registry is C8, keyed by (platform, room_id).
type Registry struct {
	cfg         RegistryConfig
	controllers *safemap.Map[roomKey, *Controller]
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	return &Registry{
		cfg:         cfg,
		controllers: safemap.New[roomKey, *Controller](),
	}
}

// Add constructs and starts a Controller for (plat, roomID), rejecting
// duplicates with ErrAlreadyExists (spec §4.8).
func (r *Registry) Add(ctx context.Context, plat platform.Platform, roomID string, account *platform.Account, autoStart bool) error {
	provider, err := r.cfg.Platforms.For(plat)
	if err != nil {
		return err
	}

	ctrl := New(Config{
		Platform:     plat,
		RoomID:       roomID,
		Account:      account,
		CacheRoot:    r.cfg.CacheRoot,
		Provider:     provider,
		DanmuDialer:  r.cfg.DanmuDialer,
		DanmuAdapter: r.cfg.DanmuAdapter,
		Downloader:   r.cfg.Downloader,
		Prober:       r.cfg.Prober,
		Events:       r.cfg.Events,
		Logger:       r.cfg.Logger,
	})
	ctrl.SetEnabled(autoStart)

	if _, loaded := r.controllers.GetOrSet(roomKey{plat, roomID}, ctrl); loaded {
		return ErrAlreadyExists
	}
	metrics.ActiveRooms.WithLabelValues(plat.String(), "false").Inc()
	ctrl.Start(ctx)
	return nil
}

// Remove stops the controller, awaits it, removes the entry, then
// cascades a delete of persisted records (spec §4.8).
func (r *Registry) Remove(ctx context.Context, plat platform.Platform, roomID string) error {
	ctrl, ok := r.controllers.GetAndDel(roomKey{plat, roomID})
	if !ok {
		return ErrNotFound
	}
	ctrl.Stop()
	recording := ctrl.Snapshot().IsRecording
	metrics.ActiveRooms.WithLabelValues(plat.String(), strconv.FormatBool(recording)).Dec()

	if r.cfg.Repository != nil {
		if err := r.cfg.Repository.DeleteRoom(ctx, plat, roomID); err != nil {
			r.cfg.Logger.Errorf("recorder: cascade delete %s/%s: %v", plat, roomID, err)
		}
	}
	return nil
}

// SetEnabled toggles a room's recording eligibility.
func (r *Registry) SetEnabled(plat platform.Platform, roomID string, enabled bool) error {
	ctrl, ok := r.controllers.Get(roomKey{plat, roomID})
	if !ok {
		return ErrNotFound
	}
	ctrl.SetEnabled(enabled)
	return nil
}

// Info returns the current snapshot for one room.
func (r *Registry) Info(plat platform.Platform, roomID string) (Snapshot, error) {
	ctrl, ok := r.controllers.Get(roomKey{plat, roomID})
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return ctrl.Snapshot(), nil
}

// List returns every room's snapshot, sorted by room id for stable UX
// (spec §4.8).
func (r *Registry) List() []Snapshot {
	out := make([]Snapshot, 0, r.controllers.Len())
	r.controllers.ForEach(func(_ roomKey, ctrl *Controller) bool {
		out = append(out, ctrl.Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// ServeHLS returns the on-disk bytes and MIME type for
// /<platform>/<room_id>/<live_id>/<file> (spec §4.8, §6). It is static
// and requires no registered controller: a finished session's VOD stays
// servable after the room is removed from the registry.
func (r *Registry) ServeHLS(plat platform.Platform, roomID, liveID, file string) ([]byte, string, error) {
	safeRoomID, ok := sanitizeSegment(roomID)
	if !ok {
		return nil, "", ErrNotFound
	}
	safeLiveID, ok := sanitizeSegment(liveID)
	if !ok {
		return nil, "", ErrNotFound
	}
	safeFile, ok := sanitizeSegment(file)
	if !ok {
		return nil, "", ErrNotFound
	}

	path := filepath.Join(r.cfg.CacheRoot, plat.String(), safeRoomID, safeLiveID, safeFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	return data, mimeFor(safeFile), nil
}

// sanitizeSegment rejects any path-separator or traversal component in a
// single URL path segment before it is joined onto the cache root.
func sanitizeSegment(s string) (string, bool) {
	if s == "" || s == "." || s == ".." {
		return "", false
	}
	if filepath.Base(s) != s {
		return "", false
	}
	return s, true
}

func mimeFor(file string) string {
	switch {
	case file == "playlist.m3u8":
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(file, ".ts"):
		return "video/mp2t"
	case strings.HasSuffix(file, ".jpg") || strings.HasSuffix(file, ".jpeg"):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
