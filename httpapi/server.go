// Package httpapi serves C8's static HLS files plus health and metrics
// endpoints over a chi router (SPEC_FULL §6).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liverecorder/liverecorder/logger"
	"github.com/liverecorder/liverecorder/metrics"
	"github.com/liverecorder/liverecorder/platform"
	"github.com/liverecorder/liverecorder/recorder"
)

// hlsServer is the narrow slice of *recorder.Registry this package
// depends on, so handler tests can inject a fake without building a real
// registry.
type hlsServer interface {
	ServeHLS(plat platform.Platform, roomID, liveID, file string) ([]byte, string, error)
}

// Server wires the chi router; Handler() is what cmd/recorderd hands to
// http.Server.
type Server struct {
	router *chi.Mux
}

// Config configures the router.
type Config struct {
	Registry hlsServer
	Logger   logger.Logger

	// RateLimitRPS bounds requests per IP per second (enforced over a
	// one-minute window) against the public HLS endpoint; 0 disables rate
	// limiting.
	RateLimitRPS int
}

// New builds a Server ready to serve.
func New(cfg Config) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware(func(req *http.Request) string {
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.RoutePattern() != "" {
			return rc.RoutePattern()
		}
		return req.URL.Path
	}))

	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	hlsGroup := func(rr chi.Router) {
		if cfg.RateLimitRPS > 0 {
			rr.Use(httprate.LimitByIP(cfg.RateLimitRPS*60, time.Minute))
		}
		rr.Get("/{platform}/{room_id}/{live_id}/{file}", handleServeHLS(cfg.Registry, cfg.Logger))
	}
	r.Group(hlsGroup)

	return &Server{router: r}
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func handleServeHLS(reg hlsServer, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platStr := chi.URLParam(r, "platform")
		roomID := chi.URLParam(r, "room_id")
		liveID := chi.URLParam(r, "live_id")
		file := chi.URLParam(r, "file")

		plat, err := platform.Parse(platStr)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		data, mime, err := reg.ServeHLS(plat, roomID, liveID, file)
		if err != nil {
			if errors.Is(err, recorder.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			if log != nil {
				log.Errorf("httpapi: serve hls %s/%s/%s/%s: %v", platStr, roomID, liveID, file, err)
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", mime)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// Shutdown is a convenience no-op hook kept symmetric with http.Server's
// own Shutdown(ctx); present so cmd/recorderd can treat Server uniformly
// even though chi.Mux itself needs no teardown.
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
