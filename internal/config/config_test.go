package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	for _, key := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "DATABASE_URL", "PULSE_SOURCE", "AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
		t.Setenv(key, "")
	}
	t.Chdir(home)
	return home
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	dataDir := filepath.Join(home, ".local", "share", "podium")
	if cfg.DataDir != dataDir {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.SQLitePath != filepath.Join(dataDir, "podium.db") {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Advisory.Provider != ProviderScripted {
		t.Fatalf("expected scripted provider without keys, got %q", cfg.Advisory.Provider)
	}
	if cfg.Advisory.Timeout != 15*time.Second || cfg.Session.TickInterval != 250*time.Millisecond {
		t.Fatalf("unexpected durations: %+v %+v", cfg.Advisory, cfg.Session)
	}
	if cfg.Audio.InputDevice != "default" || cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.UserID != "local" || cfg.Artifacts.Backend != BackendFile {
		t.Fatalf("unexpected identity or artifacts: %q %+v", cfg.UserID, cfg.Artifacts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileAndEnvironmentOverrides(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, ".config", "podium", "podium.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	contents := `
user_id: dana
store:
  driver: postgres
  postgres_dsn: postgres://localhost/podium
advisory:
  provider: gemini
  timeout: 5s
session:
  tick_interval: 100ms
server:
  allowed_origins: ["http://a.test"]
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("PODIUM_ADVISORY_TIMEOUT", "8s")
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.UserID != "dana" || cfg.Store.Driver != DriverPostgres {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Advisory.Timeout != 8*time.Second {
		t.Fatalf("environment should override file, got %s", cfg.Advisory.Timeout)
	}
	if cfg.Advisory.APIKey != "gem-key" {
		t.Fatalf("expected provider key fallback, got %q", cfg.Advisory.APIKey)
	}
	if cfg.Session.TickInterval != 100*time.Millisecond {
		t.Fatalf("unexpected tick interval %s", cfg.Session.TickInterval)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "http://a.test" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	isolate(t)
	t.Setenv("PODIUM_AUDIO_SAMPLE_RATE", "fast")
	t.Setenv("PODIUM_ADVISORY_TIMEOUT", "soon")
	t.Setenv("PODIUM_SESSION_MIN_ARTIFACT_BYTES", "-5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Advisory.Timeout != 15*time.Second || cfg.Session.MinArtifactBytes != 1024 {
		t.Fatalf("expected defaults for invalid values: %+v %+v %+v", cfg.Audio, cfg.Advisory, cfg.Session)
	}
}

func TestProviderAutoSelection(t *testing.T) {
	isolate(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Advisory.Provider != ProviderOpenAI || cfg.Advisory.APIKey != "sk-test" {
		t.Fatalf("expected openai from environment key, got %+v", cfg.Advisory)
	}
}

func TestLoadExplicitFileMustExist(t *testing.T) {
	home := isolate(t)
	if _, err := Load(filepath.Join(home, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	isolate(t)
	base, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	cases := map[string]func(*Config){
		"postgres without dsn": func(c *Config) { c.Store.Driver = DriverPostgres; c.Store.PostgresDSN = "" },
		"unknown driver":       func(c *Config) { c.Store.Driver = "mysql" },
		"s3 without bucket":    func(c *Config) { c.Artifacts.Backend = BackendS3 },
		"openai without key":   func(c *Config) { c.Advisory.Provider = ProviderOpenAI; c.Advisory.APIKey = "" },
		"unknown provider":     func(c *Config) { c.Advisory.Provider = "oracle" },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestWatchReportsChanges(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "podium.yaml")
	if err := os.WriteFile(path, []byte("advisory:\n  timeout: 5s\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loader, err := NewLoader(path)
	if err != nil {
		t.Fatalf("loader failed: %v", err)
	}
	if loader.Config().Advisory.Timeout != 5*time.Second {
		t.Fatalf("unexpected initial timeout")
	}

	changes := make(chan Config, 8)
	if !loader.Watch(func(cfg Config) { changes <- cfg }) {
		t.Fatalf("expected watch to start")
	}
	if err := os.WriteFile(path, []byte("advisory:\n  timeout: 9s\n"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Advisory.Timeout == 9*time.Second {
				return
			}
		case <-deadline:
			t.Fatalf("config change not observed")
		}
	}
}

func TestWatchWithoutFile(t *testing.T) {
	isolate(t)
	loader, err := NewLoader("")
	if err != nil {
		t.Fatalf("loader failed: %v", err)
	}
	if loader.Watch(func(Config) {}) {
		t.Fatalf("watch should not start without a config file")
	}
}
