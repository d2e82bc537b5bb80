package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trapmon/device/otad/internal/config"
	"trapmon/device/otad/internal/flash"
	"trapmon/device/otad/internal/history"
	"trapmon/device/otad/internal/power"
	"trapmon/device/otad/internal/radio"
	"trapmon/device/otad/internal/ratelimit"
	"trapmon/device/otad/internal/server"
	"trapmon/device/otad/internal/update"
)

const (
	authFailureLimit  = 10
	authFailureWindow = time.Minute
)

func main() {
	cfg := config.FromEnv()
	logger := server.Logger(cfg)

	slots, err := flash.NewSlotStore(filepath.Join(cfg.DataDir, "flash"), cfg.SlotCapacity, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("flash slot store init failed")
	}
	hist, err := history.New(filepath.Join(cfg.DataDir, "history.db"), *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("history store init failed")
	}
	defer hist.Close()

	sess := update.NewSession(slots, update.Policy{
		StrictWrites:    cfg.StrictWrites,
		WatchdogTimeout: cfg.WatchdogTimeout,
	}, *logger)
	sess.SetRecorder(func(a update.Attempt) {
		hist.Append(a)
		server.RecordAttempt(a)
	})

	deps := server.Deps{
		Session:      sess,
		Slots:        slots,
		History:      hist,
		Rebooter:     power.SystemRebooter{Logger: *logger},
		AuthLimiter:  ratelimit.New(filepath.Join(cfg.DataDir, "auth-limiter.json"), authFailureLimit, authFailureWindow),
		RadioPresent: radio.Probe(cfg.RadioDevice, *logger),
	}
	r := server.NewRouter(cfg, deps)

	bg := server.StartBackground(logger, hist)
	defer bg.Stop()

	srv := &http.Server{Addr: cfg.Bind, Handler: r}
	go func() {
		logger.Info().Str("version", cfg.Version).Msgf("otad listening on %s", cfg.Bind)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	// Let an in-flight upload finish before going down.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
	logger.Info().Msg("otad stopped")
}
