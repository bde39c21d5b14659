// Command recorderd is the process entrypoint: it wires every component
// (store, registries, HTTP server, cleanup cron) from config and runs
// until interrupted, following the teacher's own main.go/updater.go
// startup idiom (env-driven flags, cron.New for background sweeps).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/liverecorder/liverecorder/config"
	"github.com/liverecorder/liverecorder/danmu"
	"github.com/liverecorder/liverecorder/events"
	"github.com/liverecorder/liverecorder/httpapi"
	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/platform"
	"github.com/liverecorder/liverecorder/progress"
	"github.com/liverecorder/liverecorder/recorder"
	"github.com/liverecorder/liverecorder/recorder/segment"
	"github.com/liverecorder/liverecorder/store"
)

func main() {
	log := logger.New()

	cfgPath := os.Getenv("RECORDERD_CONFIG")
	if cfgPath == "" {
		cfgPath = "/etc/liverecorder/config.yaml"
	}
	if _, err := config.Load(cfgPath); err != nil {
		log.Warnf("recorderd: config.Load(%s): %v, continuing with defaults", cfgPath, err)
	}
	cfg := config.Get()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		if err := config.Watch(watchCtx, cfgPath, log); err != nil {
			log.Warnf("recorderd: config.Watch(%s): %v, hot-reload disabled", cfgPath, err)
		}
	}()

	repo, err := openStore(log)
	if err != nil {
		log.Fatalf("recorderd: open store: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Errorf("recorderd: close store: %v", err)
		}
	}()

	bus := events.New()
	// progressReg is constructed once here and handed by reference to
	// whatever long-running operation needs cancellable progress tracking
	// (e.g. a bulk account/room import); none of SPEC_FULL's in-scope
	// HTTP surface starts one yet, so it has no caller in this binary.
	progressReg := progress.New(bus)
	_ = progressReg

	platforms := platform.NewRegistry()
	// Concrete platform providers (room lookup, signed-URL construction,
	// cookie login) live outside this module per spec §1; an operator
	// deployment registers them here with platforms.Register before
	// Start, e.g. platforms.Register(platform.Bilibili, myBilibiliProvider{}).

	registry := recorder.NewRegistry(recorder.RegistryConfig{
		CacheRoot:    cfg.CacheRoot,
		Platforms:    platforms,
		DanmuDialer:  danmu.NewGorillaDialer(),
		DanmuAdapter: recorder.DefaultDanmuAdapter,
		Downloader:   segment.NewDownloader(userAgent(), log),
		Prober:       segment.NewProber(),
		Repository:   repo,
		Events:       bus,
		Logger:       log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := restoreRooms(ctx, repo, registry, log); err != nil {
		log.Errorf("recorderd: restore persisted rooms: %v", err)
	}

	cleanupCron := startCleanupCron(log)
	defer cleanupCron.Stop()

	server := httpapi.New(httpapi.Config{
		Registry:     registry,
		Logger:       log,
		RateLimitRPS: 60,
	})
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Handler(),
	}

	go func() {
		log.Logf("recorderd: listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("recorderd: http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Logf("recorderd: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("recorderd: http shutdown: %v", err)
	}
}

// openStore picks the persistence backend from RECORDERD_STORE
// ("sqlite", the default, or "memory" for ephemeral test deployments).
func openStore(log logger.Logger) (store.Repository, error) {
	backend := strings.ToLower(os.Getenv("RECORDERD_STORE"))
	if backend == "memory" {
		log.Logf("recorderd: using in-memory store (RECORDERD_STORE=memory)")
		return store.NewMemStore()
	}

	path := os.Getenv("RECORDERD_DB_PATH")
	if path == "" {
		path = "/var/lib/liverecorder/recorder.db"
	}
	return store.OpenSQLite(path)
}

// restoreRooms re-adds every persisted room to the registry on process
// start, mirroring the account it was saved against (if any) so a
// restart resumes auto-start rooms without operator intervention.
func restoreRooms(ctx context.Context, repo store.Repository, registry *recorder.Registry, log logger.Logger) error {
	rooms, err := repo.ListRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		var account *platform.Account
		accounts, err := repo.ListAccounts(ctx, room.Platform)
		if err != nil {
			log.Warnf("recorderd: list accounts for %s: %v", room.Platform, err)
		} else if len(accounts) > 0 {
			account = &accounts[0]
		}

		if err := registry.Add(ctx, room.Platform, room.RoomID, account, room.AutoStart); err != nil {
			log.Errorf("recorderd: restore room %s/%s: %v", room.Platform, room.RoomID, err)
		}
	}
	return nil
}

// staleWorkDirAge is how long a live_id work directory may sit with no
// playlist.m3u8 before the sweep treats it as an orphaned crash artifact
// (the recorder always writes playlist.m3u8 on its first ingested
// segment, so its absence past this age means the process died before
// ingesting anything worth keeping).
const staleWorkDirAge = 30 * time.Minute

// startCleanupCron periodically removes orphaned live_id work
// directories that never produced a playlist — segments left behind by a
// process that crashed before its first ingested segment. Directories
// that did produce a playlist are a finished or in-progress VOD and are
// never touched here: ServeHLS keeps serving them long after a room is
// removed from the registry. Grounded on the teacher's own
// cron.New/AddFunc periodic-sweep idiom in updater/updater.go.
func startCleanupCron(log logger.Logger) *cron.Cron {
	sched := os.Getenv("RECORDERD_CLEANUP_CRON")
	if strings.TrimSpace(sched) == "" {
		sched = "0 */6 * * *"
	}

	c := cron.New()
	_, err := c.AddFunc(sched, func() {
		log.Logf("recorderd: running stale work-directory cleanup sweep")
		sweepCacheRoot(config.Get().CacheRoot, log)
	})
	if err != nil {
		log.Fatalf("recorderd: schedule cleanup cron %q: %v", sched, err)
	}
	c.Start()
	return c
}

func sweepCacheRoot(root string, log logger.Logger) {
	platEntries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("recorderd: cleanup: read cache root: %v", err)
		}
		return
	}

	for _, platEntry := range platEntries {
		if !platEntry.IsDir() {
			continue
		}
		platDir := filepath.Join(root, platEntry.Name())
		roomEntries, err := os.ReadDir(platDir)
		if err != nil {
			continue
		}
		for _, roomEntry := range roomEntries {
			if !roomEntry.IsDir() {
				continue
			}
			sweepRoomDir(filepath.Join(platDir, roomEntry.Name()), log)
		}
	}
}

func sweepRoomDir(roomDir string, log logger.Logger) {
	liveEntries, err := os.ReadDir(roomDir)
	if err != nil {
		return
	}
	for _, liveEntry := range liveEntries {
		if !liveEntry.IsDir() {
			continue
		}
		liveDir := filepath.Join(roomDir, liveEntry.Name())
		info, err := os.Stat(liveDir)
		if err != nil || time.Since(info.ModTime()) < staleWorkDirAge {
			continue
		}
		if _, err := os.Stat(filepath.Join(liveDir, "playlist.m3u8")); err == nil {
			continue // a real VOD; never removed by the sweep
		}
		if err := os.RemoveAll(liveDir); err != nil {
			log.Errorf("recorderd: cleanup: remove %s: %v", liveDir, err)
			continue
		}
		log.Logf("recorderd: cleanup: removed orphaned work dir %s", liveDir)
	}
}

func userAgent() string {
	if ua := os.Getenv("RECORDERD_USER_AGENT"); ua != "" {
		return ua
	}
	return "liverecorder/1.0"
}
