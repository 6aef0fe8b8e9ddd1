// Package config loads the analyst configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Store backends for sessions.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	BackendURL string        `yaml:"backend_url" env:"ANALYST_BACKEND_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"ANALYST_TIMEOUT"`
	DataDir    string        `yaml:"data_dir" env:"ANALYST_DATA_DIR"`
	Store      string        `yaml:"store" env:"ANALYST_STORE"`
	ChartDir   string        `yaml:"chart_dir" env:"ANALYST_CHART_DIR"`

	// Defaults for new conversations until the user saves preferences.
	Language    string `yaml:"language" env:"ANALYST_LANGUAGE"`
	Audio       bool   `yaml:"audio" env:"ANALYST_AUDIO"`
	AudioPlayer string `yaml:"audio_player" env:"ANALYST_AUDIO_PLAYER"`

	Port      int    `yaml:"port" env:"PORT"`
	AuthToken string `yaml:"auth_token" env:"AUTH_TOKEN"`
	DevMode   bool   `yaml:"dev_mode" env:"DEV_MODE"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

func Default() Config {
	dataDir := ".analyst"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".analyst")
	}
	return Config{
		BackendURL:  "http://localhost:5000",
		Timeout:     2 * time.Minute,
		DataDir:     dataDir,
		Store:       StoreFile,
		Language:    "en",
		AudioPlayer: "mpg123 -q -",
		Port:        8080,
		LogLevel:    "info",
		LogFormat:   "text",
	}
}

// Load builds the configuration. An empty path skips the file; a named file
// must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.ChartDir == "" {
		cfg.ChartDir = filepath.Join(cfg.DataDir, "charts")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend_url must be an http(s) URL, got %q", c.BackendURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	switch c.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("store must be one of file, sqlite, memory, got %q", c.Store)
	}
	if _, err := language.Parse(c.Language); err != nil {
		return fmt.Errorf("language %q is not a valid language tag", c.Language)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// SessionsPath is where the sqlite store keeps its database.
func (c *Config) SessionsPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}
