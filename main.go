package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pedalsync/internal/config"
	"pedalsync/internal/database"
	"pedalsync/internal/fitness"
	"pedalsync/internal/garmin"
	"pedalsync/internal/handlers"
	"pedalsync/internal/metrics"
	"pedalsync/internal/middleware"
	"pedalsync/internal/processor"
	"pedalsync/internal/provider"
	"pedalsync/internal/strava"
	"pedalsync/internal/token"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set up logger
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting pedalsync server",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.DatabasePath,
		"log_level", cfg.LogLevel)

	// Open database
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("Database opened successfully")

	// Create provider clients
	stravaClient := strava.NewClient(cfg.StravaClientID, cfg.StravaClientSecret, logger)
	garminClient := garmin.NewClient(cfg.GarminClientID, cfg.GarminClientSecret, logger)

	// Token manager with per-provider refreshers. Strava reports an absolute
	// expiry; Garmin reports a lifetime relative to the response.
	tokens := token.NewManager(db, map[provider.Provider]token.RefreshFunc{
		provider.Strava: func(ctx context.Context, refreshToken string) (string, string, int64, error) {
			resp, err := stravaClient.RefreshToken(ctx, refreshToken)
			if err != nil {
				metrics.TokenRefreshTotal.WithLabelValues(string(provider.Strava), metrics.ResultFailure).Inc()
				return "", "", 0, err
			}
			metrics.TokenRefreshTotal.WithLabelValues(string(provider.Strava), metrics.ResultSuccess).Inc()
			return resp.AccessToken, resp.RefreshToken, resp.ExpiresAt, nil
		},
		provider.Garmin: func(ctx context.Context, refreshToken string) (string, string, int64, error) {
			resp, err := garminClient.RefreshToken(ctx, refreshToken)
			if err != nil {
				metrics.TokenRefreshTotal.WithLabelValues(string(provider.Garmin), metrics.ResultFailure).Inc()
				return "", "", 0, err
			}
			metrics.TokenRefreshTotal.WithLabelValues(string(provider.Garmin), metrics.ResultSuccess).Inc()
			return resp.AccessToken, resp.RefreshToken, time.Now().Unix() + resp.ExpiresIn, nil
		},
	}, logger)

	// Fitness snapshot updater (disabled when no service is configured)
	var snapshots fitness.SnapshotUpdater
	if cfg.FitnessServiceURL != "" {
		snapshots = fitness.NewHTTPUpdater(cfg.FitnessServiceURL, cfg.InternalAPIKey, logger)
	} else {
		logger.Info("Fitness snapshot updates disabled")
		snapshots = fitness.NopUpdater{}
	}

	// Event processor
	proc := processor.New(db, stravaClient, garminClient, tokens, snapshots, cfg.ProcessInterval, cfg.ProcessBatch, logger)

	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()

	go func() {
		logger.Info("Starting event processor", "interval", cfg.ProcessInterval, "batch", cfg.ProcessBatch)
		proc.Start(procCtx)
	}()

	// Create handlers
	stravaHandler := handlers.NewStravaWebhookHandler(db, cfg, proc)
	garminHandler := handlers.NewGarminWebhookHandler(db, cfg)
	internalHandler := handlers.NewInternalHandler(db, cfg, proc, garminClient, tokens)

	// Set up HTTP routes
	mux := http.NewServeMux()

	mux.Handle("/webhooks/strava", middleware.WrapHandler(metrics.EndpointStravaWebhook, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			stravaHandler.HandleVerification(w, r)
		case http.MethodPost:
			stravaHandler.HandleEvent(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}))

	mux.Handle("/webhooks/garmin", middleware.WrapHandler(metrics.EndpointGarminWebhook, garminHandler.HandlePush))

	mux.Handle("/internal/process", middleware.WrapHandler(metrics.EndpointProcess, internalHandler.HandleProcess))
	mux.Handle("/internal/backfill", middleware.WrapHandler(metrics.EndpointBackfill, internalHandler.HandleBackfill))

	mux.Handle("/health", middleware.WrapHandler(metrics.EndpointHealth, internalHandler.HandleHealth))

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  35 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start backlog depth and quota collectors if metrics are enabled
	if cfg.MetricsEnabled {
		go func() {
			logger.Info("Starting backlog collector")
			metrics.StartBacklogCollector(procCtx, db, 15*time.Second)
		}()

		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-procCtx.Done():
					return
				case <-ticker.C:
					status := stravaClient.QuotaStatus()
					metrics.ObserveStravaQuota(status.Limit15Min, status.Usage15Min, status.LimitDaily, status.UsageDaily)
				}
			}
		}()
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())

		metricsAddr := fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort)
		metricsServer = &http.Server{
			Addr:    metricsAddr,
			Handler: metricsMux,
		}

		go func() {
			logger.Info("Metrics server listening", "addr", metricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Start HTTP server in background
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")

	// Stop the processor
	procCancel()

	// Shutdown HTTP servers with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("Server stopped")
}
