package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"citetrack/models"
	"citetrack/storage"
)

// maxGrowthWorkers begrenzt die parallelen Wachstumsberechnungen.
const maxGrowthWorkers = 8

// FetchWidgetData baut den Widget-Snapshot aus dem Record Store. Das Wachstum je Scholar wird
// parallel berechnet; die Reihenfolge der Scholars bleibt erhalten.
func (r *Repository) FetchWidgetData(ctx context.Context) (models.WidgetData, error) {
	scholars, err := r.FetchScholars(ctx)
	if err != nil {
		return models.WidgetData{}, err
	}

	infos := make([]models.WidgetScholarInfo, len(scholars))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxGrowthWorkers)
	for i := range scholars {
		g.Go(func() error {
			info := models.NewWidgetScholarInfo(scholars[i])
			for _, p := range []struct {
				days int
				dst  **int
			}{
				{weeklyDays, &info.WeeklyGrowth},
				{monthlyDays, &info.MonthlyGrowth},
				{quarterlyDays, &info.QuarterlyGrowth},
			} {
				growth, err := r.FetchCitationGrowth(gctx, scholars[i].ID, p.days)
				if err != nil {
					return err
				}
				*p.dst = growthDelta(growth)
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.WidgetData{}, err
	}

	data := models.WidgetData{Scholars: infos}
	for _, s := range scholars {
		data.TotalCitations += s.Citations()
	}
	if data.SelectedScholarID, err = r.GetCurrentSelectedScholarID(ctx); err != nil {
		return models.WidgetData{}, err
	}
	if data.LastUpdateTime, err = r.lastRefreshTime(ctx); err != nil {
		return models.WidgetData{}, err
	}
	return data, nil
}

func (r *Repository) lastRefreshTime(ctx context.Context) (*time.Time, error) {
	var t time.Time
	ok, err := r.Storage.ReadJSON(ctx, storage.ScopeLocal, storage.KeyLastRefreshTime, &t)
	if err != nil {
		return nil, storageError("read last refresh time", err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// UpdateWidgetData übernimmt einen extern erzeugten Snapshot in beide Scopes.
func (r *Repository) UpdateWidgetData(ctx context.Context, data models.WidgetData) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if data.Scholars == nil {
		data.Scholars = []models.WidgetScholarInfo{}
	}
	if data.SelectedScholarID != nil {
		if _, err := r.Storage.SyncJSONMirrored(ctx, storage.KeySelectedScholarID, *data.SelectedScholarID); err != nil {
			return syncFailure("write selected scholar", err)
		}
	}
	if data.LastUpdateTime != nil {
		if _, err := r.Storage.SyncJSONMirrored(ctx, storage.KeyLastRefreshTime, data.LastUpdateTime.UTC()); err != nil {
			return syncFailure("write last refresh time", err)
		}
	}
	if _, err := r.Storage.SyncJSONMirrored(ctx, storage.KeyWidgetScholars, data.Scholars); err != nil {
		return syncFailure("write widget scholars", err)
	}
	if _, err := r.Storage.SyncJSONMirrored(ctx, storage.KeyWidgetData, data); err != nil {
		return syncFailure("write widget data", err)
	}

	r.widget.Publish(data)
	r.Logger.Debug("Widget-Daten aktualisiert", zap.Int("scholars", len(data.Scholars)))
	return nil
}

// GetCurrentSelectedScholarID liefert die Auswahl des Widgets oder nil.
func (r *Repository) GetCurrentSelectedScholarID(ctx context.Context) (*string, error) {
	var id string
	ok, err := r.Storage.ReadJSON(ctx, storage.ScopeLocal, storage.KeySelectedScholarID, &id)
	if err != nil {
		return nil, storageError("read selected scholar", err)
	}
	if !ok || id == "" {
		return nil, nil
	}
	return &id, nil
}

// SetCurrentSelectedScholar wählt einen existierenden Scholar für das Widget aus.
func (r *Repository) SetCurrentSelectedScholar(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.FetchScholar(ctx, id); err != nil {
		return err
	}
	if _, err := r.Storage.SyncJSONMirrored(ctx, storage.KeySelectedScholarID, id); err != nil {
		return syncFailure("write selected scholar", err)
	}
	r.Logger.Info("Widget-Auswahl gesetzt", zap.String("scholar_id", id))
	r.propagateLocked(ctx, false)
	return nil
}
