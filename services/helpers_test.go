package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"citetrack/config"
	"citetrack/models"
	"citetrack/storage"
	"citetrack/store"
)

type testEnv struct {
	repo   *Repository
	store  *storage.Unified
	local  *storage.MemoryBackend
	shared *storage.MemoryBackend
	clock  *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestEnv erstellt ein Repository über SQLite. withShared=false simuliert einen nicht
// verfügbaren geteilten Scope.
func newTestEnv(t *testing.T, withShared bool) *testEnv {
	t.Helper()
	local := storage.NewMemoryBackend()
	var shared *storage.MemoryBackend
	var sharedBackend storage.Backend
	if withShared {
		shared = storage.NewMemoryBackend()
		sharedBackend = shared
	}
	return newTestEnvWith(t, local, sharedBackend, shared)
}

func newTestEnvWith(t *testing.T, local storage.Backend, sharedBackend storage.Backend, shared *storage.MemoryBackend) *testEnv {
	t.Helper()
	cfg := &config.Config{DBDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "citetrack.db")}
	db, err := store.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	unified := storage.NewUnified(local, sharedBackend, 200*time.Millisecond, zap.NewNop())
	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	repo := NewRepository(db, unified, 5*time.Second, zap.NewNop())
	repo.now = clock.Now
	t.Cleanup(repo.Close)

	env := &testEnv{repo: repo, store: unified, clock: clock, shared: shared}
	if m, ok := local.(*storage.MemoryBackend); ok {
		env.local = m
	}
	return env
}

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func scholar(id, name string, citations int) models.Scholar {
	return models.Scholar{ID: id, Name: name, CitationCount: intPtr(citations)}
}

func (e *testEnv) mustSaveScholar(t *testing.T, s models.Scholar) {
	t.Helper()
	require.NoError(t, e.repo.SaveScholar(context.Background(), s))
}

func (e *testEnv) mustSaveHistory(t *testing.T, scholarID string, ts time.Time, count int) {
	t.Helper()
	_, err := e.repo.SaveCitationHistory(context.Background(), models.CitationHistory{
		ScholarID: scholarID, Timestamp: ts, CitationCount: count,
	})
	require.NoError(t, err)
}

// hangingBackend blockiert jeden Aufruf, bis der Test endet.
type hangingBackend struct {
	release chan struct{}
}

func newHangingBackend(t *testing.T) *hangingBackend {
	h := &hangingBackend{release: make(chan struct{})}
	t.Cleanup(func() { close(h.release) })
	return h
}

func (h *hangingBackend) Get(context.Context, string) ([]byte, bool, error) {
	<-h.release
	return nil, false, nil
}
func (h *hangingBackend) Set(context.Context, string, []byte) error { <-h.release; return nil }
func (h *hangingBackend) Remove(context.Context, string) error      { <-h.release; return nil }
func (h *hangingBackend) Keys(context.Context) ([]string, error)    { <-h.release; return nil, nil }

// failingBackend schlägt beim Schreiben eines bestimmten Schlüssels fehl.
type failingBackend struct {
	*storage.MemoryBackend
	failKey string
}

var errDiskFull = errors.New("disk full")

func (f *failingBackend) Set(ctx context.Context, key string, value []byte) error {
	if key == f.failKey {
		return errDiskFull
	}
	return f.MemoryBackend.Set(ctx, key, value)
}

// deniedBackend ist konfiguriert, meldet aber bei jedem Aufruf ErrUnavailable.
type deniedBackend struct{}

func (deniedBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, storage.ErrUnavailable
}
func (deniedBackend) Set(context.Context, string, []byte) error { return storage.ErrUnavailable }
func (deniedBackend) Remove(context.Context, string) error      { return storage.ErrUnavailable }
func (deniedBackend) Keys(context.Context) ([]string, error)    { return nil, storage.ErrUnavailable }
