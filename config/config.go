package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	// Record Store: "postgres" oder "sqlite"
	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"citetrack"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"citetrack"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"citetrack.db"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Prozesslokaler Scope (BadgerDB)
	LocalStorePath     string `envconfig:"LOCAL_STORE_PATH" default:"data/local"`
	LocalStoreInMemory bool   `envconfig:"LOCAL_STORE_IN_MEMORY" default:"false"`

	// Geteilter Scope: dir, s3, sql oder none (simuliert fehlende Berechtigung)
	SharedBackend string `envconfig:"SHARED_BACKEND" default:"dir"`
	SharedDir     string `envconfig:"SHARED_DIR" default:"data/shared"`

	SharedS3Key    string `envconfig:"SHARED_S3_KEY"`
	SharedS3Secret string `envconfig:"SHARED_S3_SECRET"`
	SharedS3URL    string `envconfig:"SHARED_S3_URL"`
	SharedS3Region string `envconfig:"SHARED_S3_REGION" default:"eu-central-1"`
	SharedS3Bucket string `envconfig:"SHARED_S3_BUCKET"`
	SharedS3Prefix string `envconfig:"SHARED_S3_PREFIX" default:"citetrack/"`

	// Sync Monitor
	FreshnessInterval   time.Duration `envconfig:"SYNC_FRESHNESS_INTERVAL" default:"30s"`
	ConsistencyInterval time.Duration `envconfig:"SYNC_CONSISTENCY_INTERVAL" default:"5m"`
	StepTimeout         time.Duration `envconfig:"SYNC_STEP_TIMEOUT" default:"10s"`
	WidgetStaleAfter    time.Duration `envconfig:"WIDGET_STALE_AFTER" default:"1m"`
	AutoSyncEnabled     bool          `envconfig:"AUTO_SYNC_ENABLED" default:"true"`

	// Altersbasierte Bereinigung der Zitationshistorie, 0 deaktiviert den Job
	HistoryRetention   time.Duration `envconfig:"HISTORY_RETENTION" default:"0"`
	ExpiryCronSchedule string        `envconfig:"EXPIRY_CRON_SCHEDULE" default:"0 3 * * *"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Validate prüft Kombinationen, die envconfig allein nicht abdecken kann.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	switch c.SharedBackend {
	case "dir", "sql", "none":
	case "s3":
		if c.SharedS3URL == "" || c.SharedS3Bucket == "" {
			return fmt.Errorf("SHARED_BACKEND=s3 requires SHARED_S3_URL and SHARED_S3_BUCKET")
		}
	default:
		return fmt.Errorf("unknown SHARED_BACKEND %q", c.SharedBackend)
	}
	if c.FreshnessInterval < time.Second {
		return fmt.Errorf("SYNC_FRESHNESS_INTERVAL must be at least 1s, got %s", c.FreshnessInterval)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("SYNC_STEP_TIMEOUT must be positive")
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return &c, err
	}
	return &c, c.Validate()
}
