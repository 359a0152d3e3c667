package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"podium/internal/config"
	"podium/internal/domain"
	"podium/internal/usecase"
)

func TestBuildSuccess(t *testing.T) {
	cfg := loadConfig(t)

	services, err := Build(context.Background(), cfg, discardLogger(), usecase.NopSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close() })

	if services.Controller == nil || services.Store == nil || services.Artifacts == nil {
		t.Fatalf("expected wired services: %+v", services)
	}
	if _, ok := services.Resolver.Catalog().Lookup("elevator_pitch"); !ok {
		t.Fatalf("expected built-in catalog")
	}
	if status := services.Controller.Status(); status.Active || status.Phase != domain.PhaseSetup {
		t.Fatalf("unexpected initial status: %+v", status)
	}
	if _, err := os.Stat(cfg.Store.SQLitePath); err != nil {
		t.Fatalf("expected sqlite database at %s: %v", cfg.Store.SQLitePath, err)
	}
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	home := isolate(t)
	rules := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(rules, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("PODIUM_ADVISORY_RULES_FILE", rules)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := Build(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestBuildFailsOnInvalidCatalog(t *testing.T) {
	home := isolate(t)
	catalog := filepath.Join(home, "catalog.yaml")
	if err := os.WriteFile(catalog, []byte("activities: []\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("PODIUM_CONTENT_CATALOG_PATH", catalog)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := Build(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatalf("expected build error due to empty catalog")
	}
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Store.Driver = "mysql"

	if _, err := Build(context.Background(), cfg, discardLogger()); err == nil || !strings.Contains(err.Error(), "mysql") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestReloadUpdatesAdvisoryTimeout(t *testing.T) {
	cfg := loadConfig(t)
	var logs bytes.Buffer

	services, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(&logs, nil)))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close() })

	cfg.Advisory.Timeout = 3 * time.Second
	services.Reload(cfg)
	if services.Advisor.Timeout() != 3*time.Second {
		t.Fatalf("expected reloaded timeout, got %v", services.Advisor.Timeout())
	}
	if !strings.Contains(logs.String(), "advisory timeout updated") {
		t.Fatalf("expected reload to be logged, got %q", logs.String())
	}
}

func TestPlayUnknownRecording(t *testing.T) {
	cfg := loadConfig(t)

	services, err := Build(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close() })

	if err := services.Play(context.Background(), "missing", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected log output: %q", buf.String())
	}
}

func loadConfig(t *testing.T) config.Config {
	t.Helper()
	isolate(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Advisory.Provider != config.ProviderScripted {
		t.Fatalf("expected scripted provider without keys, got %q", cfg.Advisory.Provider)
	}
	return cfg
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	for _, key := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY", "DATABASE_URL"} {
		t.Setenv(key, "")
	}
	t.Chdir(home)
	return home
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
