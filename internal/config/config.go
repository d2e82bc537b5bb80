package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Defaults for tunables the environment or config file may override.
const (
	DefaultBind            = ":8080"
	DefaultSlotCapacity    = 4 << 20 // matches the device's OTA partition size
	DefaultWatchdogTimeout = 45 * time.Second
	DefaultRebootDelay     = 500 * time.Millisecond
)

type Config struct {
	Bind     string
	LogLevel zerolog.Level

	// Credentials for the update routes. PassHash is an Argon2id PHC string;
	// when set it takes precedence over the plaintext Pass.
	UpdateUser     string
	UpdatePass     string
	UpdatePassHash string

	DataDir string
	Version string

	SlotCapacity    int64
	WatchdogTimeout time.Duration
	RebootDelay     time.Duration

	// StrictWrites aborts an upload on the first short flash write instead of
	// logging and continuing.
	StrictWrites bool

	RadioDevice string
}

// fileConfig is the YAML shape of the optional config file.
type fileConfig struct {
	Bind            string `yaml:"bind"`
	Log             string `yaml:"log"`
	UpdateUser      string `yaml:"update_user"`
	UpdatePass      string `yaml:"update_pass"`
	UpdatePassHash  string `yaml:"update_pass_hash"`
	DataDir         string `yaml:"data_dir"`
	Version         string `yaml:"version"`
	SlotCapacity    int64  `yaml:"slot_capacity"`
	WatchdogTimeout string `yaml:"watchdog_timeout"`
	RebootDelay     string `yaml:"reboot_delay"`
	StrictWrites    bool   `yaml:"strict_writes"`
	RadioDevice     string `yaml:"radio_device"`
}

// FromEnv builds the configuration from OTAD_* environment variables layered
// over the YAML file named by OTAD_CONFIG (if any) over built-in defaults.
func FromEnv() Config {
	cfg := Config{
		Bind:            DefaultBind,
		LogLevel:        zerolog.InfoLevel,
		UpdateUser:      "admin",
		UpdatePass:      "changeme",
		DataDir:         "/var/lib/otad",
		Version:         "dev",
		SlotCapacity:    DefaultSlotCapacity,
		WatchdogTimeout: DefaultWatchdogTimeout,
		RebootDelay:     DefaultRebootDelay,
	}

	if path := os.Getenv("OTAD_CONFIG"); path != "" {
		applyFile(&cfg, path)
	}

	if v := os.Getenv("OTAD_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("OTAD_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			cfg.LogLevel = l
		}
	}
	if v := os.Getenv("OTAD_UPDATE_USER"); v != "" {
		cfg.UpdateUser = v
	}
	if v := os.Getenv("OTAD_UPDATE_PASS"); v != "" {
		cfg.UpdatePass = v
	}
	if v := os.Getenv("OTAD_UPDATE_PASS_HASH"); v != "" {
		cfg.UpdatePassHash = v
	}
	if v := os.Getenv("OTAD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OTAD_VERSION"); v != "" {
		cfg.Version = v
	}
	if v := os.Getenv("OTAD_SLOT_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.SlotCapacity = n
		}
	}
	if v := os.Getenv("OTAD_WATCHDOG_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.WatchdogTimeout = d
		}
	}
	if v := os.Getenv("OTAD_REBOOT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.RebootDelay = d
		}
	}
	if v := os.Getenv("OTAD_STRICT_WRITES"); v != "" {
		cfg.StrictWrites = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTAD_RADIO_DEVICE"); v != "" {
		cfg.RadioDevice = v
	}

	return cfg
}

func applyFile(cfg *Config, path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var f fileConfig
	if yaml.Unmarshal(b, &f) != nil {
		return
	}
	if f.Bind != "" {
		cfg.Bind = f.Bind
	}
	if f.Log != "" {
		if l, err := zerolog.ParseLevel(f.Log); err == nil {
			cfg.LogLevel = l
		}
	}
	if f.UpdateUser != "" {
		cfg.UpdateUser = f.UpdateUser
	}
	if f.UpdatePass != "" {
		cfg.UpdatePass = f.UpdatePass
	}
	if f.UpdatePassHash != "" {
		cfg.UpdatePassHash = f.UpdatePassHash
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.Version != "" {
		cfg.Version = f.Version
	}
	if f.SlotCapacity > 0 {
		cfg.SlotCapacity = f.SlotCapacity
	}
	if f.WatchdogTimeout != "" {
		if d, err := time.ParseDuration(f.WatchdogTimeout); err == nil && d > 0 {
			cfg.WatchdogTimeout = d
		}
	}
	if f.RebootDelay != "" {
		if d, err := time.ParseDuration(f.RebootDelay); err == nil && d >= 0 {
			cfg.RebootDelay = d
		}
	}
	if f.StrictWrites {
		cfg.StrictWrites = true
	}
	if f.RadioDevice != "" {
		cfg.RadioDevice = f.RadioDevice
	}
}
