// Package store öffnet den persistenten Record Store.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"citetrack/config"
	"citetrack/models"
)

// Open verbindet sich mit der konfigurierten Datenbank und migriert das Schema.
func Open(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.SQLitePath + "?_busy_timeout=5000&_foreign_keys=on")
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("Record Store bereit", zap.String("driver", cfg.DBDriver))
	return db, nil
}

// Migrate legt alle Tabellen an bzw. passt sie an.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Scholar{}, &models.CitationHistory{}, &models.SharedSetting{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
