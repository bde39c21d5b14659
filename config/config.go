// Package config loads and hot-reloads the recorder process configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide recorder configuration. cmd/recorderd reads
// CacheRoot and HTTPAddr from it; the status-poll, download-retry, stall
// and heartbeat fields are loaded and defaulted here but are not passed to
// the recorder or danmu components, which use built-in values equal to
// these defaults.
type Config struct {
	// CacheRoot is the root of the work-directory tree, laid out
	// <CacheRoot>/<platform>/<room_id>/<live_id>/ per spec §6.
	CacheRoot string `yaml:"cache_root"`

	// HTTPAddr is the bind address for the HLS/metrics HTTP server.
	HTTPAddr string `yaml:"http_addr"`

	// StatusPollInterval is C7's status-poll sleep (10-15s window in the
	// spec; this is the midpoint default, applied without jitter).
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`

	// SegmentDownloadMaxAttempts bounds C1's fixed-delay retry loop.
	SegmentDownloadMaxAttempts int `yaml:"segment_download_max_attempts"`

	// StallTimeout is C6's watchdog threshold (spec default 10s).
	StallTimeout time.Duration `yaml:"stall_timeout"`

	// DanmuHeartbeatMin/Max bound C5's randomized heartbeat cadence.
	DanmuHeartbeatMin time.Duration `yaml:"danmu_heartbeat_min"`
	DanmuHeartbeatMax time.Duration `yaml:"danmu_heartbeat_max"`
}

func defaults() *Config {
	return &Config{
		CacheRoot:                  "/var/lib/liverecorder/cache",
		HTTPAddr:                   ":8899",
		StatusPollInterval:         12 * time.Second,
		SegmentDownloadMaxAttempts: 3,
		StallTimeout:               10 * time.Second,
		DanmuHeartbeatMin:          20 * time.Second,
		DanmuHeartbeatMax:          30 * time.Second,
	}
}

var current atomic.Pointer[Config]

func init() {
	current.Store(defaults())
}

// Get returns the current configuration snapshot. Safe to call
// concurrently with Set/Reload.
func Get() *Config {
	return current.Load()
}

// Set installs a new configuration snapshot, e.g. after a reload.
func Set(c *Config) {
	current.Store(c)
}

// Load reads a YAML config file, falling back to defaults for any field
// the file does not set, and installs it as the current snapshot.
func Load(path string) (*Config, error) {
	c := defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	current.Store(c)
	return c, nil
}

// WorkDir returns the on-disk directory for a given live session, per the
// stable layout documented in spec §6.
func WorkDir(platform, roomID string, liveID int64) string {
	return filepath.Join(Get().CacheRoot, platform, roomID, strconv.FormatInt(liveID, 10))
}
