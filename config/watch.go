package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/liverecorder/liverecorder/logger"
)

// watchDebounce coalesces the burst of events a single editor save
// triggers (create+write, or write+rename for atomic replace) into one
// reload, the way ManuGH-xg2g's config watcher debounces its own
// fsnotify stream.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the config from path whenever the file changes on disk,
// installing each valid reload via Set and logging (never failing the
// process) on a reload that can't be read or parsed — the prior snapshot
// stays current. It watches path's parent directory rather than the file
// itself so atomic tmp+rename writes are still observed. Watch blocks
// until ctx is cancelled.
func Watch(ctx context.Context, path string, log logger.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	file := filepath.Base(path)

	var debounce *time.Timer
	reload := func() {
		if _, err := Load(path); err != nil {
			log.Errorf("config: reload %s: %v", path, err)
			return
		}
		log.Logf("config: reloaded %s", path)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("config: watcher error: %v", err)
		}
	}
}
