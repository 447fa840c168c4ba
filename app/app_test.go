package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citetrack/config"
	"citetrack/models"
)

func testConfig(t *testing.T, shared string) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		DBDriver:            "sqlite",
		SQLitePath:          filepath.Join(dir, "citetrack.db"),
		LocalStoreInMemory:  true,
		SharedBackend:       shared,
		SharedDir:           filepath.Join(dir, "shared"),
		FreshnessInterval:   time.Minute,
		ConsistencyInterval: 5 * time.Minute,
		StepTimeout:         5 * time.Second,
		WidgetStaleAfter:    time.Minute,
	}
}

func TestNew_WiresSharedDirectory(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, "dir"), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Storage.SharedAvailable())
	require.NoError(t, a.Repo.SaveScholar(ctx, models.Scholar{ID: "s1", Name: "Ada"}))

	keys, err := a.Shared.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "citetrack.scholars")
}

func TestNew_WithoutSharedScope(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, "none"), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.Storage.SharedAvailable())
	require.NoError(t, a.Repo.SaveScholar(ctx, models.Scholar{ID: "s1", Name: "Ada"}))
	require.NoError(t, a.Monitor.ForceSyncNow(ctx))
	assert.Equal(t, models.SyncSuccess, a.Repo.SyncStatus().Load().State)
}

func TestNew_SQLSharedScope(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, "sql"), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Repo.SaveScholar(ctx, models.Scholar{ID: "s1", Name: "Ada"}))
	var count int64
	require.NoError(t, a.DB.Model(&models.SharedSetting{}).Count(&count).Error)
	assert.Positive(t, count)
}
