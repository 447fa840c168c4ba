package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citetrack/models"
	"citetrack/storage"
)

func (e *testEnv) writeShared(t *testing.T, key string, v any) {
	t.Helper()
	raw, err := storage.EncodeCanonical(v)
	require.NoError(t, err)
	require.NoError(t, e.shared.Set(context.Background(), key, raw))
}

func TestSyncFromAppGroup_NewerSharedRecordWins(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	t1 := env.clock.Now().Add(-time.Hour)
	t2 := env.clock.Now()

	local := scholar("s1", "Ada", 10)
	local.LastUpdated = &t1
	env.mustSaveScholar(t, local)

	remote := scholar("s1", "Ada Lovelace", 15)
	remote.LastUpdated = &t2
	env.writeShared(t, storage.KeyScholars, []models.Scholar{remote})

	require.NoError(t, env.repo.SyncFromAppGroup(ctx))
	assert.Equal(t, models.SyncSuccess, env.repo.SyncStatus().Load().State)

	scholars, err := env.repo.FetchScholars(ctx)
	require.NoError(t, err)
	require.Len(t, scholars, 1, "reconciled by id, no duplicates")
	assert.Equal(t, "Ada Lovelace", scholars[0].Name)
	assert.Equal(t, 15, scholars[0].Citations())
}

func TestSyncFromAppGroup_OlderSharedRecordIsIgnored(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	t0 := env.clock.Now().Add(-48 * time.Hour)
	t1 := env.clock.Now()

	local := scholar("s1", "Ada", 10)
	local.LastUpdated = &t1
	env.mustSaveScholar(t, local)

	stale := scholar("s1", "Old Ada", 3)
	stale.LastUpdated = &t0
	env.writeShared(t, storage.KeyScholars, []models.Scholar{stale})

	require.NoError(t, env.repo.SyncFromAppGroup(ctx))

	s, err := env.repo.FetchScholar(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", s.Name)

	// der geteilte Scope trägt danach wieder den lokalen Stand
	var shared []models.Scholar
	ok, err := env.store.ReadJSON(ctx, storage.ScopeShared, storage.KeyScholars, &shared)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, shared, 1)
	assert.Equal(t, "Ada", shared[0].Name)
}

func TestSyncFromAppGroup_AdoptsNewScholarsHistoryAndSelection(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	now := env.clock.Now()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))

	env.writeShared(t, storage.KeyScholars, []models.Scholar{scholar("s1", "Ada", 10), scholar("s2", "Grace", 20)})
	env.writeShared(t, storage.KeyCitationHistory, []models.CitationHistory{
		{ID: "h-1", ScholarID: "s2", Timestamp: now.Add(-time.Hour), CitationCount: 20},
		{ID: "h-2", ScholarID: "ghost", Timestamp: now.Add(-time.Hour), CitationCount: 1},
	})
	env.writeShared(t, storage.KeySelectedScholarID, "s2")

	require.NoError(t, env.repo.SyncFromAppGroup(ctx))

	scholars, err := env.repo.FetchScholars(ctx)
	require.NoError(t, err)
	require.Len(t, scholars, 2)
	assert.Equal(t, []string{"s1", "s2"}, []string{scholars[0].ID, scholars[1].ID})

	history, err := env.repo.FetchAllCitationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1, "history of unknown scholars is skipped")
	assert.Equal(t, "h-1", history[0].ID)

	id, err := env.repo.GetCurrentSelectedScholarID(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "s2", *id)

	assert.Len(t, env.repo.Scholars().Load(), 2)
	for key, consistent := range env.repo.SharedConsistency(ctx) {
		assert.True(t, consistent, key)
	}
}

func TestSyncFromAppGroup_IgnoresUnknownSelection(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	require.NoError(t, env.repo.SetCurrentSelectedScholar(ctx, "s1"))
	env.writeShared(t, storage.KeySelectedScholarID, "ghost")

	require.NoError(t, env.repo.SyncFromAppGroup(ctx))

	id, err := env.repo.GetCurrentSelectedScholarID(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "s1", *id)
}

func TestSyncFromAppGroup_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	env.mustSaveHistory(t, "s1", env.clock.Now(), 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.repo.SyncFromAppGroup(ctx))
	}

	stats, err := env.repo.FetchDataStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalScholars)
	assert.Equal(t, 1, stats.TotalHistoryRecords)
}

func TestSyncFromAppGroup_SkipsInvalidSharedScholars(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.writeShared(t, storage.KeyScholars, []models.Scholar{{ID: "s9"}, scholar("s2", "Grace", 2)})

	require.NoError(t, env.repo.SyncFromAppGroup(ctx))

	scholars, err := env.repo.FetchScholars(ctx)
	require.NoError(t, err)
	require.Len(t, scholars, 1)
	assert.Equal(t, "s2", scholars[0].ID)
}

func TestSyncFromAppGroup_UndecodableSharedDataFails(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	require.NoError(t, env.shared.Set(ctx, storage.KeyScholars, []byte(`{not json`)))

	err := env.repo.SyncFromAppGroup(ctx)
	require.Error(t, err)
	assert.True(t, IsSyncFailure(err))
	assert.Equal(t, models.SyncFailure, env.repo.SyncStatus().Load().State)
}
