package services

import (
	"bytes"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"citetrack/models"
	"citetrack/storage"
)

// WidgetService entscheidet, ob der Widget-Snapshot veraltet ist, und erzeugt ihn neu.
type WidgetService struct {
	Repo       *Repository
	Logger     *zap.Logger
	StaleAfter time.Duration

	now func() time.Time

	mu              sync.Mutex
	lastRefresh     time.Time
	scholarsVersion []byte
}

// NewWidgetService erstellt eine neue Instanz des WidgetService.
func NewWidgetService(repo *Repository, staleAfter time.Duration, logger *zap.Logger) *WidgetService {
	return &WidgetService{
		Repo:       repo,
		Logger:     logger.With(zap.String("component", "widget")),
		StaleAfter: staleAfter,
		now:        time.Now,
	}
}

func scholarsVersion(scholars []models.Scholar) []byte {
	raw, err := storage.EncodeCanonical(scholars)
	if err != nil {
		return nil
	}
	return raw
}

// inspect liefert die Begründung, warum ein Update nötig ist ("" wenn aktuell).
func (w *WidgetService) inspect(ctx context.Context) (models.WidgetDebugInfo, error) {
	w.mu.Lock()
	lastRefresh := w.lastRefresh
	version := w.scholarsVersion
	w.mu.Unlock()

	scholars := w.Repo.Scholars().Load()
	info := models.WidgetDebugInfo{
		StaleAfter:      w.StaleAfter.String(),
		ScholarsChanged: !bytes.Equal(version, scholarsVersion(scholars)),
		ScholarCount:    len(scholars),
	}
	if !lastRefresh.IsZero() {
		info.LastRefresh = &lastRefresh
	}

	stored, err := w.Repo.lastRefreshTime(ctx)
	if err != nil {
		return info, err
	}
	info.StoredRefresh = stored

	switch {
	case lastRefresh.IsZero():
		info.Reason = "never refreshed"
	case w.now().Sub(lastRefresh) > w.StaleAfter:
		info.Reason = "snapshot stale"
	case info.ScholarsChanged:
		info.Reason = "scholars changed"
	case stored != nil && stored.After(lastRefresh):
		info.Reason = "citation data refreshed"
	}
	info.NeedsUpdate = info.Reason != ""
	return info, nil
}

// NeedsUpdate ist true, wenn der Snapshot älter als StaleAfter ist, sich die Scholars geändert
// haben oder neuere Zitationsdaten vorliegen.
func (w *WidgetService) NeedsUpdate(ctx context.Context) (bool, error) {
	info, err := w.inspect(ctx)
	if err != nil {
		return false, err
	}
	return info.NeedsUpdate, nil
}

// Refresh erzeugt den Snapshot neu und schreibt ihn in beide Scopes.
func (w *WidgetService) Refresh(ctx context.Context) error {
	scholars := w.Repo.Scholars().Load()
	data, err := w.Repo.FetchWidgetData(ctx)
	if err != nil {
		return err
	}
	if err := w.Repo.UpdateWidgetData(ctx, data); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastRefresh = w.now()
	w.scholarsVersion = scholarsVersion(scholars)
	w.mu.Unlock()

	w.Logger.Debug("Widget-Snapshot neu erzeugt", zap.Int("scholars", len(data.Scholars)))
	return nil
}

// DebugInfo beschreibt den aktuellen Freshness-Zustand.
func (w *WidgetService) DebugInfo(ctx context.Context) (models.WidgetDebugInfo, error) {
	return w.inspect(ctx)
}
