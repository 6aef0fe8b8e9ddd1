package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/blob"
	"github.com/minesight/analyst/config"
	"github.com/minesight/analyst/logger"
	"github.com/minesight/analyst/metrics"
	"github.com/minesight/analyst/session"
	"github.com/minesight/analyst/settings"
	"github.com/spf13/cobra"
)

var version = "dev"

const appTitle = "Mining Operations Analyst"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "analyst",
		Short:         "Conversational analytics for mining operations",
		Long:          "Ask questions about equipment, production, safety and maintenance. Answers come with KPIs, charts and optional speech.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ANALYST_CONFIG"), "Path to a YAML config file")

	root.AddCommand(
		serveCmd(&configPath),
		chatCmd(&configPath),
		sessionsCmd(&configPath),
		mcpCmd(&configPath),
		statusCmd(&configPath),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// app holds the services shared by every command.
type app struct {
	cfg      *config.Config
	blobs    blob.Store
	sessions *session.BlobStore
	client   *analytics.Client
	metrics  *metrics.Metrics
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg *config.Config, stderr bool) {
	logger.Init(logger.Config{
		DataDir: cfg.DataDir,
		DevMode: cfg.DevMode,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Stderr:  stderr,
	})
}

func openApp(cfg *config.Config) (*app, error) {
	var blobs blob.Store
	switch cfg.Store {
	case config.StoreMemory:
		blobs = blob.NewMemoryStore()
	case config.StoreSQLite:
		db, err := blob.OpenSQLite(cfg.SessionsPath())
		if err != nil {
			return nil, fmt.Errorf("open session db: %w", err)
		}
		blobs = db
	default:
		files, err := blob.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open session dir: %w", err)
		}
		blobs = files
	}

	return &app{
		cfg:      cfg,
		blobs:    blobs,
		sessions: session.NewBlobStore(blobs),
		client:   analytics.NewClient(cfg.BackendURL, analytics.WithTimeout(cfg.Timeout)),
		metrics:  metrics.New(),
	}, nil
}

func (a *app) Close() {
	a.sessions.StopWatching()
	if db, ok := a.blobs.(*blob.SQLiteStore); ok {
		if err := db.Close(); err != nil {
			slog.Warn("failed to close session db", "error", err)
		}
	}
}

// openSettings loads saved preferences. On first run they are seeded from
// the configured language and audio defaults.
func (a *app) openSettings() (*settings.Store, error) {
	path := filepath.Join(a.cfg.DataDir, "settings.json")
	_, statErr := os.Stat(path)

	store, err := settings.NewStore(a.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}

	if errors.Is(statErr, fs.ErrNotExist) {
		seed := settings.Settings{Language: a.cfg.Language, Audio: a.cfg.Audio}
		if seed != store.Get() {
			if err := store.Update(seed); err != nil {
				return nil, fmt.Errorf("seed settings: %w", err)
			}
		}
	}
	return store, nil
}
