package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Queue   QueueConfig
	Models  ModelsConfig
	Storage StorageConfig
	Site    SiteConfig
}

type ServerConfig struct {
	Port int
}

type QueueConfig struct {
	WatchDir     string
	Workers      int
	ScanInterval time.Duration
	StuckGrace   time.Duration
}

type ModelsConfig struct {
	BaseURL string
	APIKey  string

	ClassifierModel   string
	ClassifierTokens  int
	ClassifierTimeout time.Duration

	PremiumModel  string
	PremiumTokens int

	StandardModel  string
	StandardTokens int

	LargeModel  string
	LargeTokens int

	AttemptTimeout time.Duration
}

type StorageConfig struct {
	DataDir string
}

type SiteConfig struct {
	BaseURL string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Queue: QueueConfig{
			WatchDir:     defaultDataDir("requests"),
			Workers:      3,
			ScanInterval: 2 * time.Second,
			StuckGrace:   10 * time.Minute,
		},
		Models: ModelsConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			ClassifierModel:   "openai/gpt-4o",
			ClassifierTokens:  600,
			ClassifierTimeout: 30 * time.Second,
			PremiumModel:      "anthropic/claude-sonnet-4",
			PremiumTokens:     8192,
			StandardModel:     "anthropic/claude-3-5-haiku",
			StandardTokens:    4000,
			LargeModel:        "openai/gpt-4o",
			LargeTokens:       16000,
			AttemptTimeout:    120 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir("db"),
		},
		Site: SiteConfig{
			BaseURL: "http://localhost:4200",
		},
	}
}

func defaultDataDir(sub string) string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "data", sub)
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "forgelet", sub)
}

// Load reads configuration from an optional .env file in the working
// directory, then applies FORGELET_* environment overrides on top of the
// built-in defaults. The model API key is the only required value.
func Load() (Config, error) {
	// A missing .env is fine; env vars and defaults still apply.
	_ = godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Models.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: model API key (set FORGELET_API_KEY)")
	}
	if cfg.Queue.Workers < 1 {
		return Config{}, fmt.Errorf("invalid worker count %d", cfg.Queue.Workers)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Models.APIKey, "FORGELET_API_KEY")
	setString(&cfg.Models.BaseURL, "FORGELET_MODEL_BASE_URL")
	setString(&cfg.Models.ClassifierModel, "FORGELET_CLASSIFIER_MODEL")
	setString(&cfg.Models.PremiumModel, "FORGELET_PREMIUM_MODEL")
	setString(&cfg.Models.StandardModel, "FORGELET_STANDARD_MODEL")
	setString(&cfg.Models.LargeModel, "FORGELET_LARGE_MODEL")
	setString(&cfg.Queue.WatchDir, "FORGELET_WATCH_DIR")
	setString(&cfg.Storage.DataDir, "FORGELET_DATA_DIR")
	setString(&cfg.Site.BaseURL, "FORGELET_SITE_URL")
	setInt(&cfg.Server.Port, "FORGELET_PORT")
	setInt(&cfg.Queue.Workers, "FORGELET_WORKERS")
	setDuration(&cfg.Queue.ScanInterval, "FORGELET_SCAN_INTERVAL")
	setDuration(&cfg.Queue.StuckGrace, "FORGELET_STUCK_GRACE")
	setDuration(&cfg.Models.AttemptTimeout, "FORGELET_ATTEMPT_TIMEOUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
