// Package power owns the device restart performed after a successful update.
package power

import (
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// Rebooter restarts the device.
type Rebooter interface {
	Reboot() error
}

// SystemRebooter restarts via systemd, falling back to reboot(8).
type SystemRebooter struct {
	Logger zerolog.Logger
}

func (r SystemRebooter) Reboot() error {
	r.Logger.Info().Msg("restarting device")
	if err := exec.Command("systemctl", "reboot").Run(); err == nil {
		return nil
	}
	return exec.Command("reboot").Run()
}

// Schedule triggers a reboot after delay, giving the HTTP response time to
// reach the client first. Errors are logged; there is no caller left to
// return them to.
func Schedule(r Rebooter, delay time.Duration, logger zerolog.Logger) *time.Timer {
	logger.Info().Dur("delay", delay).Msg("reboot scheduled")
	return time.AfterFunc(delay, func() {
		if err := r.Reboot(); err != nil {
			logger.Error().Err(err).Msg("reboot failed")
		}
	})
}
