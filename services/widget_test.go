package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citetrack/storage"
)

func newWidget(env *testEnv, staleAfter time.Duration) *WidgetService {
	w := NewWidgetService(env.repo, staleAfter, zap.NewNop())
	w.now = env.clock.Now
	return w
}

func TestWidgetService_FreshnessTransitions(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	w := newWidget(env, time.Hour)
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))

	info, err := w.DebugInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.NeedsUpdate)
	assert.Equal(t, "never refreshed", info.Reason)

	require.NoError(t, w.Refresh(ctx))
	needs, err := w.NeedsUpdate(ctx)
	require.NoError(t, err)
	assert.False(t, needs)

	env.mustSaveScholar(t, scholar("s2", "Grace", 5))
	info, err = w.DebugInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scholars changed", info.Reason)
	assert.True(t, info.ScholarsChanged)
	assert.Equal(t, 2, info.ScholarCount)

	require.NoError(t, w.Refresh(ctx))
	env.clock.Advance(2 * time.Hour)
	info, err = w.DebugInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshot stale", info.Reason)
	assert.Equal(t, "1h0m0s", info.StaleAfter)
}

func TestWidgetService_NewerCitationDataNeedsUpdate(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	w := newWidget(env, time.Hour)
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	require.NoError(t, w.Refresh(ctx))

	env.clock.Advance(time.Minute)
	env.mustSaveHistory(t, "s1", env.clock.Now(), 11)

	info, err := w.DebugInfo(ctx)
	require.NoError(t, err)
	assert.True(t, info.NeedsUpdate)
	assert.Equal(t, "citation data refreshed", info.Reason)
	require.NotNil(t, info.StoredRefresh)
}

func TestWidgetService_RefreshWritesBothScopes(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	w := newWidget(env, time.Hour)
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	require.NoError(t, env.shared.Remove(ctx, storage.KeyWidgetData))

	require.NoError(t, w.Refresh(ctx))

	consistency := env.store.ValidateConsistency(ctx, []string{storage.KeyWidgetData})
	assert.True(t, consistency[storage.KeyWidgetData])
	assert.Equal(t, 10, env.repo.WidgetData().Load().TotalCitations)
}
