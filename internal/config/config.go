package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config stores runtime configuration.
type Config struct {
	DataDir   string
	UserID    string
	LogLevel  string
	Store     StoreConfig
	Audio     AudioConfig
	Advisory  AdvisoryConfig
	Session   SessionConfig
	Artifacts ArtifactsConfig
	Content   ContentConfig
	Server    ServerConfig
}

type StoreConfig struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

type AudioConfig struct {
	RecorderCommand string
	PlayerCommand   string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type AdvisoryConfig struct {
	Provider           string
	APIKey             string
	BaseURL            string
	Model              string
	Timeout            time.Duration
	RetryDelay         time.Duration
	RulesFile          string
	RuleIterationLimit int
}

type SessionConfig struct {
	TickInterval     time.Duration
	MinArtifactBytes int64
	CaptureDir       string
}

type ArtifactsConfig struct {
	Backend string
	Dir     string
	S3      S3Config
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type ContentConfig struct {
	CatalogPath string
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderScripted = "scripted"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendFile = "file"
	BackendS3   = "s3"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultRetryDelay   = 500 * time.Millisecond
	defaultTick         = 250 * time.Millisecond
	defaultMinArtifact  = 1024
	defaultSampleRate   = 16000
	defaultChannels     = 1
	defaultIterations   = 30
	defaultServerAddr   = "127.0.0.1:8737"
	defaultUserID       = "local"
	defaultStoreDriver  = DriverSQLite
	defaultArtifactType = BackendFile
)

// Loader reads podium.yaml and PODIUM_* environment variables on top of
// defaults. The environment wins over the file.
type Loader struct {
	v    *viper.Viper
	home string

	mu sync.Mutex
}

// NewLoader reads configuration. An explicit path must exist; otherwise
// podium.yaml is searched in the config directories and may be absent.
func NewLoader(path string) (*Loader, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New("could not determine home directory")
	}

	v := viper.New()
	v.SetEnvPrefix("PODIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, home)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("podium")
		v.SetConfigType("yaml")
		if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "podium"))
		}
		v.AddConfigPath(filepath.Join(home, ".config", "podium"))
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return &Loader{v: v, home: home}, nil
}

// Load resolves configuration once.
func Load(path string) (Config, error) {
	loader, err := NewLoader(path)
	if err != nil {
		return Config{}, err
	}
	return loader.Config(), nil
}

// File reports the config file in use, if any.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Config returns the current configuration.
func (l *Loader) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return resolve(l.v, l.home)
}

// Watch calls onChange with the new configuration whenever the config file
// changes. It reports false when no file is in use.
func (l *Loader) Watch(onChange func(Config)) bool {
	if l.File() == "" {
		return false
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		onChange(l.Config())
	})
	l.v.WatchConfig()
	return true
}

func setDefaults(v *viper.Viper, home string) {
	dataDir := filepath.Join(home, ".local", "share", "podium")
	if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
		dataDir = filepath.Join(xdg, "podium")
	}

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("user_id", defaultUserID)
	v.SetDefault("log_level", "info")

	v.SetDefault("store.driver", defaultStoreDriver)
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("audio.recorder_command", "ffmpeg")
	v.SetDefault("audio.player_command", "ffplay")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "")
	v.SetDefault("audio.sample_rate", defaultSampleRate)
	v.SetDefault("audio.channels", defaultChannels)

	v.SetDefault("advisory.provider", "")
	v.SetDefault("advisory.api_key", "")
	v.SetDefault("advisory.base_url", "")
	v.SetDefault("advisory.model", "")
	v.SetDefault("advisory.timeout", defaultTimeout.String())
	v.SetDefault("advisory.retry_delay", defaultRetryDelay.String())
	v.SetDefault("advisory.rules_file", "")
	v.SetDefault("advisory.rule_iteration_limit", defaultIterations)

	v.SetDefault("session.tick_interval", defaultTick.String())
	v.SetDefault("session.min_artifact_bytes", defaultMinArtifact)
	v.SetDefault("session.capture_dir", "")

	v.SetDefault("artifacts.backend", defaultArtifactType)
	v.SetDefault("artifacts.dir", "")
	v.SetDefault("artifacts.s3.bucket", "")
	v.SetDefault("artifacts.s3.region", "us-east-1")
	v.SetDefault("artifacts.s3.endpoint", "")
	v.SetDefault("artifacts.s3.access_key", "")
	v.SetDefault("artifacts.s3.secret_key", "")

	v.SetDefault("content.catalog_path", "")

	v.SetDefault("server.addr", defaultServerAddr)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "wails://wails"})
}

func resolve(v *viper.Viper, home string) Config {
	dataDir := firstNonEmpty(v.GetString("data_dir"), filepath.Join(home, ".local", "share", "podium"))

	cfg := Config{
		DataDir:  dataDir,
		UserID:   firstNonEmpty(v.GetString("user_id"), defaultUserID),
		LogLevel: strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		Store: StoreConfig{
			Driver:      strings.ToLower(firstNonEmpty(v.GetString("store.driver"), defaultStoreDriver)),
			SQLitePath:  firstNonEmpty(v.GetString("store.sqlite_path"), filepath.Join(dataDir, "podium.db")),
			PostgresDSN: firstNonEmpty(v.GetString("store.postgres_dsn"), os.Getenv("DATABASE_URL")),
		},
		Audio: AudioConfig{
			RecorderCommand: firstNonEmpty(v.GetString("audio.recorder_command"), "ffmpeg"),
			PlayerCommand:   firstNonEmpty(v.GetString("audio.player_command"), "ffplay"),
			InputFormat:     firstNonEmpty(v.GetString("audio.input_format"), "pulse"),
			InputDevice: firstNonEmpty(
				v.GetString("audio.input_device"),
				os.Getenv("PULSE_SOURCE"),
				"default",
			),
			SampleRate: positiveInt(v.GetInt("audio.sample_rate"), defaultSampleRate),
			Channels:   positiveInt(v.GetInt("audio.channels"), defaultChannels),
		},
		Advisory: AdvisoryConfig{
			Provider:           strings.ToLower(strings.TrimSpace(v.GetString("advisory.provider"))),
			APIKey:             strings.TrimSpace(v.GetString("advisory.api_key")),
			BaseURL:            strings.TrimSpace(v.GetString("advisory.base_url")),
			Model:              strings.TrimSpace(v.GetString("advisory.model")),
			Timeout:            positiveDuration(v.GetDuration("advisory.timeout"), defaultTimeout),
			RetryDelay:         positiveDuration(v.GetDuration("advisory.retry_delay"), defaultRetryDelay),
			RulesFile:          v.GetString("advisory.rules_file"),
			RuleIterationLimit: positiveInt(v.GetInt("advisory.rule_iteration_limit"), defaultIterations),
		},
		Session: SessionConfig{
			TickInterval:     positiveDuration(v.GetDuration("session.tick_interval"), defaultTick),
			MinArtifactBytes: int64(positiveInt(v.GetInt("session.min_artifact_bytes"), defaultMinArtifact)),
			CaptureDir:       firstNonEmpty(v.GetString("session.capture_dir"), filepath.Join(dataDir, "captures")),
		},
		Artifacts: ArtifactsConfig{
			Backend: strings.ToLower(firstNonEmpty(v.GetString("artifacts.backend"), defaultArtifactType)),
			Dir:     firstNonEmpty(v.GetString("artifacts.dir"), filepath.Join(dataDir, "recordings")),
			S3: S3Config{
				Bucket:    v.GetString("artifacts.s3.bucket"),
				Region:    firstNonEmpty(v.GetString("artifacts.s3.region"), os.Getenv("AWS_REGION"), "us-east-1"),
				Endpoint:  v.GetString("artifacts.s3.endpoint"),
				AccessKey: firstNonEmpty(v.GetString("artifacts.s3.access_key"), os.Getenv("AWS_ACCESS_KEY_ID")),
				SecretKey: firstNonEmpty(v.GetString("artifacts.s3.secret_key"), os.Getenv("AWS_SECRET_ACCESS_KEY")),
			},
		},
		Content: ContentConfig{
			CatalogPath: v.GetString("content.catalog_path"),
		},
		Server: ServerConfig{
			Addr:           firstNonEmpty(v.GetString("server.addr"), defaultServerAddr),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
	}

	if cfg.Advisory.RulesFile == "" {
		cfg.Advisory.RulesFile = firstExisting(
			filepath.Join(home, ".config", "podium", "reply.rules"),
			filepath.Join(dataDir, "reply.rules"),
		)
	}
	resolveProvider(&cfg.Advisory)
	return cfg
}

// resolveProvider picks a provider when none is configured and fills the
// key from the provider's conventional environment variable.
func resolveProvider(adv *AdvisoryConfig) {
	openaiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	geminiKey := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))

	if adv.Provider == "" {
		switch {
		case adv.APIKey != "" || openaiKey != "":
			adv.Provider = ProviderOpenAI
		case geminiKey != "":
			adv.Provider = ProviderGemini
		default:
			adv.Provider = ProviderScripted
		}
	}

	switch adv.Provider {
	case ProviderOpenAI:
		adv.APIKey = firstNonEmpty(adv.APIKey, openaiKey)
	case ProviderGemini:
		adv.APIKey = firstNonEmpty(adv.APIKey, geminiKey)
	}
}

// Validate reports configuration that cannot be wired.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Artifacts.Backend {
	case BackendFile:
	case BackendS3:
		if c.Artifacts.S3.Bucket == "" {
			return errors.New("artifacts.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown artifacts backend %q", c.Artifacts.Backend)
	}

	switch c.Advisory.Provider {
	case ProviderScripted:
	case ProviderOpenAI, ProviderGemini:
		if c.Advisory.APIKey == "" {
			return fmt.Errorf("advisory.api_key is required for the %s provider", c.Advisory.Provider)
		}
	default:
		return fmt.Errorf("unknown advisory provider %q", c.Advisory.Provider)
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func positiveInt(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func positiveDuration(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
