package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"citetrack/api"
	"citetrack/app"
	"citetrack/config"
)

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logging)
	if err != nil {
		logging.Fatal("Initialisierung fehlgeschlagen", zap.Error(err))
	}
	defer a.Close()

	if err := a.Repo.Load(ctx); err != nil {
		logging.Fatal("Initiale Daten konnten nicht geladen werden", zap.Error(err))
	}

	// Die Migration läuft vor dem ersten Deep-Consistency-Check des Monitors.
	if _, err := a.Migration.RunIfNeeded(ctx); err != nil {
		logging.Error("Migration fehlgeschlagen, Deep-Check bleibt gesperrt", zap.Error(err))
	}

	if cfg.AutoSyncEnabled {
		if err := a.Monitor.StartMonitoring(); err != nil {
			logging.Fatal("Sync Monitor konnte nicht gestartet werden", zap.Error(err))
		}
	}

	// Setup Cron
	cronScheduler := cron.New()
	if cfg.HistoryRetention > 0 {
		_, err := cronScheduler.AddFunc(cfg.ExpiryCronSchedule, func() {
			logging.Info("Running scheduled history expiry...")
			cutoff := time.Now().Add(-cfg.HistoryRetention)
			deleted, err := a.Repo.ExpireCitationHistory(context.Background(), cutoff)
			if err != nil {
				logging.Error("History expiry failed", zap.Error(err))
				return
			}
			logging.Info("History expiry completed", zap.Int64("deleted", deleted))
		})
		if err != nil {
			logging.Fatal("Invalid EXPIRY_CRON_SCHEDULE", zap.Error(err))
		}
	}
	cronScheduler.Start()
	defer cronScheduler.Stop()

	router := api.NewRouter(&api.Server{
		Repo:         a.Repo,
		Widget:       a.Widget,
		Monitor:      a.Monitor,
		Migration:    a.Migration,
		Logger:       logging,
		APISecretKey: cfg.APISecretKey,
	})

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server shutdown failed", zap.Error(err))
	}
}
