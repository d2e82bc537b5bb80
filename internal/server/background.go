package server

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"trapmon/device/otad/internal/history"
)

const historyKeep = 100

// StartBackground runs the periodic chores: the liveness heartbeat the field
// logs rely on, and the nightly history prune. Returns the started scheduler
// so the caller can Stop it on shutdown.
func StartBackground(logger *zerolog.Logger, hist *history.Store) *cron.Cron {
	c := cron.New()
	_, _ = c.AddFunc("@every 30s", func() {
		logger.Debug().Msg("heartbeat")
	})
	if hist != nil {
		_, _ = c.AddFunc("0 3 * * *", func() {
			if err := hist.Prune(historyKeep); err != nil {
				logger.Error().Err(err).Msg("history prune failed")
			}
		})
	}
	c.Start()
	return c
}
