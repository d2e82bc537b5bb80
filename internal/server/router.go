package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trapmon/device/otad/internal/config"
	"trapmon/device/otad/internal/history"
	"trapmon/device/otad/internal/power"
	"trapmon/device/otad/internal/ratelimit"
	"trapmon/device/otad/internal/update"
)

func Logger(cfg config.Config) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	logger := log.Logger.Level(cfg.LogLevel).With().Timestamp().Logger()
	return &logger
}

// Deps are the collaborators the router dispatches into. The session is the
// process-wide singleton; History and Rebooter may be nil in tests.
type Deps struct {
	Session      *update.Session
	Slots        SlotInfo
	History      *history.Store
	Rebooter     power.Rebooter
	AuthLimiter  *ratelimit.Limiter
	RadioPresent bool
}

// NewRouter builds the full route table. Every route that can mutate device
// state sits behind the basic-auth guard; the root status page and the
// diagnostics endpoints are open.
func NewRouter(cfg config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	// No RealIP here: the device terminates connections directly, and the
	// auth limiter keys on the peer address. Honoring X-Forwarded-For would
	// let a client pick its own bucket.
	r.Use(zerologMiddleware(Logger(cfg)))

	initMetrics(cfg.Version)
	uh := NewUpdateHandler(cfg, deps)

	r.Get("/", uh.StatusPage)
	r.Get("/api/status", uh.StatusJSON)
	r.Get("/metrics", metricsHandler().ServeHTTP)

	r.Group(func(pr chi.Router) {
		pr.Use(requireUpdateAuth(cfg, deps.AuthLimiter, Logger(cfg)))
		pr.Get("/update", uh.UploadForm)
		pr.Post("/update", uh.Upload)
		pr.Get("/api/updates/history", uh.History)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Not Found"))
	})

	return r
}
