package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"citetrack/config"
	"citetrack/models"
)

func TestOpen_SQLiteCreatesSchema(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "db", "citetrack.db")}

	db, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)

	for _, table := range []string{"scholars", "citation_history", "shared_settings"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}

	require.NoError(t, db.Create(&models.Scholar{ID: "s1", Name: "Ada"}).Error)
	var n int64
	require.NoError(t, db.Model(&models.Scholar{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(&config.Config{DBDriver: "oracle"}, zap.NewNop())
	assert.Error(t, err)
}

func TestOpen_LogsFailedQueriesThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "citetrack.db")}
	db, err := Open(cfg, zap.New(core))
	require.NoError(t, err)

	var s models.Scholar
	err = db.Where("scholar_id = ?", "ghost").First(&s).Error
	require.Error(t, err)
	assert.Zero(t, logs.FilterMessage("Query fehlgeschlagen").Len(), "record not found is not logged")

	var n int
	require.Error(t, db.Raw("SELECT count(*) FROM missing_table").Scan(&n).Error)
	failed := logs.FilterMessage("Query fehlgeschlagen").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "gorm", failed[0].LoggerName)
	assert.Contains(t, failed[0].ContextMap()["sql"], "missing_table")
	assert.Zero(t, logs.FilterMessage("Query").Len(), "successful queries stay silent")
}
