package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Bind != DefaultBind {
		t.Fatalf("bind: got %q", cfg.Bind)
	}
	if cfg.SlotCapacity != DefaultSlotCapacity {
		t.Fatalf("slot capacity: got %d", cfg.SlotCapacity)
	}
	if cfg.WatchdogTimeout != DefaultWatchdogTimeout {
		t.Fatalf("watchdog: got %v", cfg.WatchdogTimeout)
	}
	if cfg.StrictWrites {
		t.Fatalf("strict writes should default off")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("OTAD_BIND", ":9090")
	t.Setenv("OTAD_LOG", "debug")
	t.Setenv("OTAD_UPDATE_USER", "ops")
	t.Setenv("OTAD_WATCHDOG_TIMEOUT", "10s")
	t.Setenv("OTAD_STRICT_WRITES", "true")

	cfg := FromEnv()
	if cfg.Bind != ":9090" {
		t.Fatalf("bind: got %q", cfg.Bind)
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Fatalf("log level: got %v", cfg.LogLevel)
	}
	if cfg.UpdateUser != "ops" {
		t.Fatalf("user: got %q", cfg.UpdateUser)
	}
	if cfg.WatchdogTimeout != 10*time.Second {
		t.Fatalf("watchdog: got %v", cfg.WatchdogTimeout)
	}
	if !cfg.StrictWrites {
		t.Fatalf("strict writes not applied")
	}
}

func TestConfigFileLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otad.yaml")
	body := "bind: \":7070\"\nupdate_user: file-user\nreboot_delay: 2s\nstrict_writes: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OTAD_CONFIG", path)
	// Env wins over file.
	t.Setenv("OTAD_UPDATE_USER", "env-user")

	cfg := FromEnv()
	if cfg.Bind != ":7070" {
		t.Fatalf("bind from file: got %q", cfg.Bind)
	}
	if cfg.UpdateUser != "env-user" {
		t.Fatalf("env should win: got %q", cfg.UpdateUser)
	}
	if cfg.RebootDelay != 2*time.Second {
		t.Fatalf("reboot delay: got %v", cfg.RebootDelay)
	}
	if !cfg.StrictWrites {
		t.Fatalf("strict writes from file not applied")
	}
}
