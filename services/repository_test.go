package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citetrack/models"
	"citetrack/storage"
)

func TestSaveScholar_UpsertsInPlace(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	env.mustSaveScholar(t, scholar("s1", "Ada Lovelace", 12))

	scholars, err := env.repo.FetchScholars(ctx)
	require.NoError(t, err)
	require.Len(t, scholars, 1)
	assert.Equal(t, "Ada Lovelace", scholars[0].Name)
	assert.Equal(t, 12, scholars[0].Citations())
}

func TestSaveScholar_RejectsInvalidRecord(t *testing.T) {
	env := newTestEnv(t, true)

	err := env.repo.SaveScholar(context.Background(), models.Scholar{ID: "s1"})
	require.Error(t, err)
	assert.True(t, IsInvalidData(err))
	assert.False(t, IsValidationError(err))
	assert.Equal(t, CodeInvalidData, CodeOf(err))

	err = env.repo.UpdateScholar(context.Background(), models.Scholar{ID: "s1"})
	assert.True(t, IsInvalidData(err))

	_, err = env.repo.SaveCitationHistory(context.Background(), models.CitationHistory{ScholarID: "s1", CitationCount: -1})
	assert.True(t, IsInvalidData(err))
}

func TestValidateDataIntegrity_StoreFailureIsValidationError(t *testing.T) {
	env := newTestEnv(t, true)
	sqlDB, err := env.repo.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = env.repo.ValidateDataIntegrity(context.Background())
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Equal(t, CodeValidationError, CodeOf(err))

	_, err = env.repo.RepairDataIntegrity(context.Background())
	assert.True(t, IsValidationError(err))
}

func TestUpdateScholar_UnknownIsNotFound(t *testing.T) {
	env := newTestEnv(t, true)

	err := env.repo.UpdateScholar(context.Background(), scholar("ghost", "Ghost", 1))
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchScholar_UnknownIsNotFound(t *testing.T) {
	env := newTestEnv(t, true)
	_, err := env.repo.FetchScholar(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
}

func TestDeleteScholar_RemovesHistory(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	env.mustSaveScholar(t, scholar("s2", "Grace", 20))
	env.mustSaveHistory(t, "s1", env.clock.Now().Add(-time.Hour), 10)
	env.mustSaveHistory(t, "s2", env.clock.Now().Add(-time.Hour), 20)

	require.NoError(t, env.repo.DeleteScholar(ctx, "s1"))

	_, err := env.repo.FetchScholar(ctx, "s1")
	assert.True(t, IsNotFound(err))
	history, err := env.repo.FetchAllCitationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "s2", history[0].ScholarID)

	assert.True(t, IsNotFound(env.repo.DeleteScholar(ctx, "s1")))
}

func TestDeleteAllScholars(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	env.mustSaveHistory(t, "s1", env.clock.Now(), 10)

	require.NoError(t, env.repo.DeleteAllScholars(ctx))

	stats, err := env.repo.FetchDataStatistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalScholars)
	assert.Zero(t, stats.TotalHistoryRecords)
}

func TestFetchCitationHistory_RangeIsInclusiveAndAscending(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	base := env.clock.Now()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	env.mustSaveHistory(t, "s1", base.Add(-48*time.Hour), 30)
	env.mustSaveHistory(t, "s1", base.Add(-72*time.Hour), 20)
	env.mustSaveHistory(t, "s1", base.Add(-96*time.Hour), 10)

	from := base.Add(-72 * time.Hour)
	to := base.Add(-48 * time.Hour)
	history, err := env.repo.FetchCitationHistory(ctx, "s1", &from, &to)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 20, history[0].CitationCount)
	assert.Equal(t, 30, history[1].CitationCount)

	all, err := env.repo.FetchCitationHistory(ctx, "s1", nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSaveCitationHistory_SameIDIsIgnored(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))

	h := models.CitationHistory{ID: "11111111-1111-1111-1111-111111111111", ScholarID: "s1", Timestamp: env.clock.Now(), CitationCount: 5}
	_, err := env.repo.SaveCitationHistory(ctx, h)
	require.NoError(t, err)
	h.CitationCount = 99
	_, err = env.repo.SaveCitationHistory(ctx, h)
	require.NoError(t, err)

	all, err := env.repo.FetchAllCitationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 5, all[0].CitationCount)
}

func TestExpireCitationHistory(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	now := env.clock.Now()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	env.mustSaveHistory(t, "s1", now.AddDate(0, 0, -400), 1)
	env.mustSaveHistory(t, "s1", now.AddDate(0, 0, -10), 2)

	deleted, err := env.repo.ExpireCitationHistory(ctx, now.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	all, err := env.repo.FetchAllCitationHistory(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].CitationCount)
}

func TestSetCurrentSelectedScholar(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))

	assert.True(t, IsNotFound(env.repo.SetCurrentSelectedScholar(ctx, "ghost")))

	require.NoError(t, env.repo.SetCurrentSelectedScholar(ctx, "s1"))
	id, err := env.repo.GetCurrentSelectedScholarID(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "s1", *id)

	raw, ok, err := env.shared.Get(ctx, storage.KeySelectedScholarID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"s1"`, string(raw))

	data := env.repo.WidgetData().Load()
	require.NotNil(t, data.SelectedScholarID)
	assert.Equal(t, "s1", *data.SelectedScholarID)
}

func TestMutationsPropagateToSharedScope(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	env.mustSaveScholar(t, scholar("s2", "Grace", 5))

	raw, ok, err := env.shared.Get(ctx, storage.KeyScholars)
	require.NoError(t, err)
	require.True(t, ok)
	var shared []models.Scholar
	require.NoError(t, json.Unmarshal(raw, &shared))
	require.Len(t, shared, 2)
	assert.Equal(t, "s1", shared[0].ID)

	raw, ok, err = env.shared.Get(ctx, storage.KeyWidgetData)
	require.NoError(t, err)
	require.True(t, ok)
	var data models.WidgetData
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, 15, data.TotalCitations)

	for key, consistent := range env.repo.SharedConsistency(ctx) {
		assert.True(t, consistent, key)
	}
}

func TestSharedScopeUnavailable(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	require.NoError(t, env.repo.SetCurrentSelectedScholar(ctx, "s1"))

	// lokaler Betrieb läuft weiter
	scholars, err := env.repo.FetchScholars(ctx)
	require.NoError(t, err)
	assert.Len(t, scholars, 1)
	_, ok, err := env.local.Get(ctx, storage.KeyScholars)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, env.repo.SyncToAppGroup(ctx))
	assert.Equal(t, models.SyncSuccess, env.repo.SyncStatus().Load().State)

	require.NoError(t, env.repo.SyncFromAppGroup(ctx))
	assert.Equal(t, models.SyncSuccess, env.repo.SyncStatus().Load().State)

	result, err := env.repo.ValidateDataIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, result.IsValid, result.Issues)
}

func TestSyncToAppGroup_HangingSharedScopeIsSyncFailure(t *testing.T) {
	env := newTestEnvWith(t, storage.NewMemoryBackend(), newHangingBackend(t), nil)
	ctx := context.Background()

	err := env.repo.SyncToAppGroup(ctx)
	require.Error(t, err)
	assert.True(t, IsSyncFailure(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	status := env.repo.SyncStatus().Load()
	assert.Equal(t, models.SyncFailure, status.State)
	assert.NotEmpty(t, status.Message)
}

func TestScholarsStream_ReplaysAndPublishes(t *testing.T) {
	env := newTestEnv(t, true)

	ch, cancel := env.repo.Scholars().Subscribe()
	defer cancel()
	assert.Empty(t, <-ch, "replay of the initial empty list")

	env.mustSaveScholar(t, scholar("s1", "Ada", 10))
	select {
	case got := <-ch:
		require.Len(t, got, 1)
		assert.Equal(t, "s1", got[0].ID)
	case <-time.After(time.Second):
		t.Fatal("no scholars update published")
	}
}

func TestLoad_PublishesCurrentState(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()
	env.mustSaveScholar(t, scholar("s1", "Ada", 10))

	other := NewRepository(env.repo.DB, env.store, time.Second, env.repo.Logger)
	defer other.Close()
	require.NoError(t, other.Load(ctx))

	assert.Len(t, other.Scholars().Load(), 1)
	assert.Equal(t, 10, other.WidgetData().Load().TotalCitations)
}
