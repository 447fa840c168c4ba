// Package app verdrahtet Record Store, beide Scopes und die Dienste. Server und CLI teilen sich
// diese Verdrahtung.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"citetrack/config"
	"citetrack/services"
	"citetrack/storage"
	"citetrack/store"
)

const defaultGCInterval = 10 * time.Minute

// App hält alle verdrahteten Komponenten.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Local     *storage.BadgerBackend
	Shared    storage.Backend
	Storage   *storage.Unified
	Repo      *services.Repository
	Widget    *services.WidgetService
	Migration *services.MigrationService
	Monitor   *services.SyncMonitor
}

// New öffnet Record Store und Scopes und erstellt die Dienste. Der Monitor wird nicht gestartet.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := store.Open(cfg, log)
	if err != nil {
		return nil, err
	}

	local, err := storage.OpenBadger(storage.BadgerConfig{
		Path:           cfg.LocalStorePath,
		InMemory:       cfg.LocalStoreInMemory,
		SyncWrites:     true,
		Logger:         log.Named("badger"),
		GCInterval:     defaultGCInterval,
		GCDiscardRatio: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("open local scope: %w", err)
	}

	shared, notifier, err := openShared(ctx, cfg, db, log)
	if err != nil {
		if !errors.Is(err, storage.ErrUnavailable) {
			local.Close()
			return nil, err
		}
		log.Warn("Geteilter Scope nicht verfügbar, arbeite nur lokal", zap.Error(err))
		shared, notifier = nil, nil
	}

	unified := storage.NewUnified(local, shared, cfg.StepTimeout, log.Named("storage"))
	repo := services.NewRepository(db, unified, cfg.StepTimeout, log)
	widget := services.NewWidgetService(repo, cfg.WidgetStaleAfter, log)
	migration := services.NewMigrationService(unified, repo, log)

	opts := []services.MonitorOption{
		services.WithMigrationGate(migration.Ready),
		services.WithAutoSync(cfg.AutoSyncEnabled),
	}
	if notifier != nil {
		opts = append(opts, services.WithSharedWatcher(notifier))
	}
	monitor := services.NewSyncMonitor(repo, widget, cfg.FreshnessInterval, cfg.ConsistencyInterval,
		cfg.StepTimeout, log, opts...)

	return &App{
		Config:    cfg,
		Logger:    log,
		DB:        db,
		Local:     local,
		Shared:    shared,
		Storage:   unified,
		Repo:      repo,
		Widget:    widget,
		Migration: migration,
		Monitor:   monitor,
	}, nil
}

// openShared erstellt das Backend des geteilten Scopes. Ein Fehler, der ErrUnavailable trägt,
// bedeutet: ohne geteilten Scope weiterarbeiten.
func openShared(ctx context.Context, cfg *config.Config, db *gorm.DB, log *zap.Logger) (storage.Backend, storage.ChangeNotifier, error) {
	switch cfg.SharedBackend {
	case "none":
		return nil, nil, fmt.Errorf("%w: disabled by configuration", storage.ErrUnavailable)
	case "dir":
		dir, err := storage.NewDirBackend(cfg.SharedDir, log.Named("shared_dir"))
		if err != nil {
			return nil, nil, err
		}
		return dir, dir, nil
	case "s3":
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			URL:    cfg.SharedS3URL,
			Region: cfg.SharedS3Region,
			Key:    cfg.SharedS3Key,
			Secret: cfg.SharedS3Secret,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: s3 client: %v", storage.ErrUnavailable, err)
		}
		return storage.NewS3Backend(client, cfg.SharedS3Bucket, cfg.SharedS3Prefix), nil, nil
	case "sql":
		return storage.NewSQLBackend(db), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown SHARED_BACKEND %q", cfg.SharedBackend)
	}
}

// Close stoppt den Monitor und schließt Streams und Datenbanken.
func (a *App) Close() {
	a.Monitor.StopMonitoring()
	a.Repo.Close()
	if err := a.Local.Close(); err != nil {
		a.Logger.Warn("Lokaler Scope konnte nicht geschlossen werden", zap.Error(err))
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
