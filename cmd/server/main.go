package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/campaignops/flowengine/internal/config"
	"github.com/campaignops/flowengine/internal/database"
	"github.com/campaignops/flowengine/internal/snapshots"
	"github.com/campaignops/flowengine/internal/workflow"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "flowengine",
	Short: "Flow definition engine for campaign approval workflows",
	Long: `flowengine stores approval flow chains per company and replaces their
stage/step graphs atomically.

Examples:
  # Run the HTTP API
  flowengine serve

  # Create or update the schema
  flowengine migrate

  # Replace a chain from a definition file
  flowengine apply --chain <chain-id> --company <company-id> -f approval.yaml`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional config file (yaml, json or env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.SetDefault(newLogger(cfg))
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.App.LogLevel)}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openDatabase connects and pings the configured database.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.HealthCheck(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("database health check failed: %w", err)
	}
	return db, nil
}

// managerOptions builds the workflow options shared by serve and apply.
func managerOptions(ctx context.Context, cfg *config.Config) (workflow.Options, error) {
	opts := workflow.Options{
		RejectCycles:  cfg.Flow.RejectCycles,
		ExposeDetails: !cfg.IsProduction(),
		Logger:        slog.Default(),
	}
	if cfg.Flow.SnapshotsEnabled {
		driver, err := snapshots.NewStorageFromConfig(ctx, cfg.Storage)
		if err != nil {
			return opts, fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
		opts.Snapshots = snapshots.NewService(driver)
	}
	return opts, nil
}
