package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/campaignops/flowengine/internal/auth"
	"github.com/campaignops/flowengine/internal/database"
	"github.com/campaignops/flowengine/internal/metrics"
	"github.com/campaignops/flowengine/internal/middleware"
	"github.com/campaignops/flowengine/internal/workflow"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("configuration loaded successfully",
		"env", cfg.App.Env,
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
		"db_name", cfg.Database.Name,
		"port", cfg.Server.Port,
		"snapshots_enabled", cfg.Flow.SnapshotsEnabled,
		"reject_cycles", cfg.Flow.RejectCycles,
	)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	opts, err := managerOptions(ctx, cfg)
	if err != nil {
		return err
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		opts.Metrics = m
	}

	wm, err := workflow.NewManager(db, opts)
	if err != nil {
		return err
	}
	wm.Start()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.RequestLogger(), middleware.CORS(&cfg.CORS), m.Middleware())

	engine.GET("/healthz", func(c *gin.Context) {
		if err := database.HealthCheck(db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		engine.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := engine.Group("/api/v1", auth.RequireAuth(auth.NewAuthService(db)))
	wm.RegisterRoutes(api)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-quit:
		slog.Info("shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("failed to start server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	if err := wm.Stop(); err != nil {
		slog.Error("failed to stop event bus", "error", err)
	}

	slog.Info("server stopped")
	return runErr
}
