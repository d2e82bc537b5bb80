// Package radio performs the one-shot boot check for the LoRa radio module.
// The rest of the process sees only the resulting boolean.
package radio

import (
	"os"

	"github.com/rs/zerolog"
)

// Probe reports whether the radio device node exists. It runs once at boot;
// an empty path means the device has no radio configured.
func Probe(devicePath string, logger zerolog.Logger) bool {
	if devicePath == "" {
		return false
	}
	_, err := os.Stat(devicePath)
	present := err == nil
	if present {
		logger.Info().Str("device", devicePath).Msg("radio module present")
	} else {
		logger.Warn().Str("device", devicePath).Msg("radio module not present")
	}
	return present
}
