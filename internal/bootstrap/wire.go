package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"podium/internal/artifacts"
	"podium/internal/audio"
	"podium/internal/config"
	"podium/internal/content"
	"podium/internal/ports"
	"podium/internal/providers/gemini"
	"podium/internal/providers/openai"
	"podium/internal/providers/scripted"
	"podium/internal/rules"
	"podium/internal/store/postgres"
	"podium/internal/store/sqlite"
	"podium/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config     config.Config
	Controller *usecase.PracticeController
	Resolver   *content.Resolver
	Store      ports.Store
	Artifacts  ports.ArtifactStore
	Advisor    *usecase.TurnAdvisor
	Capture    *usecase.CaptureController
	Logger     *slog.Logger
}

// Build wires all backend dependencies for the given configuration. Every
// sink receives session events in addition to the log.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, sinks ...ports.EventSink) (Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return Services{}, err
	}

	catalog, err := content.Load(cfg.Content.CatalogPath)
	if err != nil {
		return Services{}, err
	}
	resolver := content.NewResolver(catalog, nil)

	filter, err := rules.NewFilter(cfg.Advisory.RulesFile, cfg.Advisory.RuleIterationLimit)
	if err != nil {
		return Services{}, err
	}

	provider, err := newProvider(ctx, cfg.Advisory)
	if err != nil {
		return Services{}, err
	}
	advisor := usecase.NewTurnAdvisor(provider, filter, usecase.AdvisorConfig{
		Timeout:    cfg.Advisory.Timeout,
		RetryDelay: cfg.Advisory.RetryDelay,
		Logger:     logger,
	})

	artifactStore, err := newArtifactStore(cfg)
	if err != nil {
		return Services{}, err
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return Services{}, err
	}

	var scorer ports.Scorer = advisor
	if provider.Name() == config.ProviderScripted {
		scorer = usecase.PaceScorer{}
	}

	clock := usecase.SystemClock{}
	capture := usecase.NewCaptureController(
		audio.NewFFMPEGDevice(cfg.Audio.RecorderCommand, cfg.Audio.PlayerCommand),
		ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		cfg.Session.CaptureDir,
		clock,
	)

	coordinator := usecase.NewCoordinator(store, artifactStore, scorer, nil, clock, usecase.CoordinatorConfig{
		UserID:     cfg.UserID,
		RetryDelay: cfg.Advisory.RetryDelay,
		Logger:     logger,
	})

	events := usecase.MultiSink{usecase.LogSink{Logger: logger}}
	for _, sink := range sinks {
		if sink != nil {
			events = append(events, sink)
		}
	}

	controller := usecase.NewPracticeController(usecase.ControllerDeps{
		Resolver:    resolver,
		Capture:     capture,
		Advisor:     advisor,
		Coordinator: coordinator,
		Events:      events,
		Clock:       clock,
		IDs:         usecase.UUIDs{},
		Logger:      logger,
	}, usecase.Config{
		TickInterval:     cfg.Session.TickInterval,
		MinArtifactBytes: cfg.Session.MinArtifactBytes,
	})

	logger.Info("podium ready",
		"provider", provider.Name(),
		"store", cfg.Store.Driver,
		"artifacts", cfg.Artifacts.Backend,
	)

	return Services{
		Config:     cfg,
		Controller: controller,
		Resolver:   resolver,
		Store:      store,
		Artifacts:  artifactStore,
		Advisor:    advisor,
		Capture:    capture,
		Logger:     logger,
	}, nil
}

// Reload applies the settings that may change while running.
func (s Services) Reload(cfg config.Config) {
	if s.Advisor != nil && cfg.Advisory.Timeout != s.Advisor.Timeout() {
		s.Advisor.SetTimeout(cfg.Advisory.Timeout)
		s.Logger.Info("advisory timeout updated", "timeout", cfg.Advisory.Timeout)
	}
}

// Close stops the running session and releases the store.
func (s Services) Close() error {
	if s.Controller != nil {
		s.Controller.Close()
	}
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

// NewLogger builds the text logger used by the binaries.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func newProvider(ctx context.Context, cfg config.AdvisoryConfig) (ports.AdvisoryProvider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		opts := []openai.Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		return openai.New(cfg.APIKey, opts...)
	case config.ProviderGemini:
		return gemini.New(ctx, gemini.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	case config.ProviderScripted:
		return scripted.New(), nil
	default:
		return nil, fmt.Errorf("unknown advisory provider %q", cfg.Provider)
	}
}

func newArtifactStore(cfg config.Config) (ports.ArtifactStore, error) {
	switch cfg.Artifacts.Backend {
	case config.BackendS3:
		return artifacts.NewS3Store(artifacts.S3Config{
			Bucket:    cfg.Artifacts.S3.Bucket,
			Region:    cfg.Artifacts.S3.Region,
			Endpoint:  cfg.Artifacts.S3.Endpoint,
			AccessKey: cfg.Artifacts.S3.AccessKey,
			SecretKey: cfg.Artifacts.S3.SecretKey,
			CacheDir:  filepath.Join(cfg.DataDir, "cache"),
		})
	case config.BackendFile:
		return artifacts.NewFileStore(cfg.Artifacts.Dir)
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Artifacts.Backend)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (ports.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath)
	case config.DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres dsn is required")
		}
		return postgres.Open(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Play looks up a persisted recording and plays its local copy.
func (s Services) Play(ctx context.Context, recordingID string, onDone func(error)) error {
	rec, err := s.Store.GetRecording(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("recording %q: %w", recordingID, err)
	}
	path, err := s.Artifacts.Local(ctx, rec.URI)
	if err != nil {
		return fmt.Errorf("recording %q: %w", recordingID, err)
	}
	return s.Controller.Playback(ctx, path, onDone)
}
