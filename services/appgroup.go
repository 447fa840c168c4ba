package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"citetrack/models"
	"citetrack/storage"
)

// SyncToAppGroup schreibt den aktuellen Stand in beide Scopes und veröffentlicht den Status.
func (r *Repository) SyncToAppGroup(ctx context.Context) error {
	r.status.Publish(models.StatusSyncing())
	if err := r.PushToShared(ctx); err != nil {
		r.status.Publish(models.StatusFailure(err.Error()))
		return err
	}
	r.status.Publish(models.StatusSuccess(r.now()))
	return nil
}

// PushToShared erledigt dieselbe Arbeit wie SyncToAppGroup, ohne den Status zu veröffentlichen.
// Der Sync Monitor ruft es innerhalb seines eigenen Checks auf.
func (r *Repository) PushToShared(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.pushLocked(ctx)
}

type sharedEntry struct {
	key   string
	value any
}

// pushLocked serialisiert Scholars, Historie, Auswahl und Widget-Snapshot in beide Scopes.
// Es wird nur geschrieben, was sich geändert hat.
func (r *Repository) pushLocked(ctx context.Context) error {
	scholars, err := r.FetchScholars(ctx)
	if err != nil {
		return err
	}
	history, err := r.FetchAllCitationHistory(ctx)
	if err != nil {
		return err
	}
	data, err := r.FetchWidgetData(ctx)
	if err != nil {
		return err
	}

	entries := []sharedEntry{
		{storage.KeyScholars, scholars},
		{storage.KeyCitationHistory, history},
		{storage.KeyWidgetScholars, data.Scholars},
		{storage.KeyWidgetData, data},
	}
	if data.SelectedScholarID != nil {
		entries = append(entries, sharedEntry{storage.KeySelectedScholarID, *data.SelectedScholarID})
	}
	if data.LastUpdateTime != nil {
		entries = append(entries, sharedEntry{storage.KeyLastRefreshTime, data.LastUpdateTime.UTC()})
	}

	written := 0
	for _, e := range entries {
		changed, err := r.Storage.SyncJSONMirrored(ctx, e.key, e.value)
		if err != nil {
			return syncFailure(fmt.Sprintf("push %s", e.key), err)
		}
		if changed {
			written++
		}
	}
	if data.SelectedScholarID == nil {
		if err := r.Storage.RemoveMirrored(ctx, storage.KeySelectedScholarID); err != nil {
			return syncFailure("clear selected scholar", err)
		}
	}

	r.widget.Publish(data)
	if written > 0 {
		r.Logger.Debug("In den geteilten Scope synchronisiert", zap.Int("keys_written", written))
	}
	return nil
}

// SyncFromAppGroup übernimmt Änderungen, die andere Prozesse in den geteilten Scope geschrieben
// haben. Scholars werden anhand der ID abgeglichen und nur bei neuerem lastUpdated
// überschrieben; eine gültige Auswahl aus dem geteilten Scope wird übernommen.
func (r *Repository) SyncFromAppGroup(ctx context.Context) error {
	r.status.Publish(models.StatusSyncing())
	if err := r.pullFromShared(ctx); err != nil {
		r.status.Publish(models.StatusFailure(err.Error()))
		return err
	}
	r.status.Publish(models.StatusSuccess(r.now()))
	return nil
}

func (r *Repository) pullFromShared(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.Storage.SharedAvailable() {
		r.Logger.Debug("Geteilter Scope nicht verfügbar, nichts zu übernehmen")
		return nil
	}

	var scholars []models.Scholar
	if _, err := r.Storage.ReadJSON(ctx, storage.ScopeShared, storage.KeyScholars, &scholars); err != nil {
		return syncFailure("read shared scholars", err)
	}
	var history []models.CitationHistory
	if _, err := r.Storage.ReadJSON(ctx, storage.ScopeShared, storage.KeyCitationHistory, &history); err != nil {
		return syncFailure("read shared history", err)
	}
	var selected string
	if _, err := r.Storage.ReadJSON(ctx, storage.ScopeShared, storage.KeySelectedScholarID, &selected); err != nil {
		return syncFailure("read shared selection", err)
	}

	stepCtx, cancel := r.step(ctx)
	err := r.DB.WithContext(stepCtx).Transaction(func(tx *gorm.DB) error {
		for _, s := range scholars {
			if err := r.validate.Struct(s); err != nil {
				r.Logger.Warn("Ungültiger Scholar im geteilten Scope übersprungen", zap.String("scholar_id", s.ID), zap.Error(err))
				continue
			}
			if err := upsertScholar(tx, s, true); err != nil {
				return err
			}
		}
		_, err := insertHistory(tx, r.validate, r.Logger, history)
		return err
	})
	cancel()
	if err != nil {
		return err
	}

	if selected != "" {
		current, err := r.GetCurrentSelectedScholarID(ctx)
		if err != nil {
			return err
		}
		if current == nil || *current != selected {
			if _, err := r.FetchScholar(ctx, selected); err == nil {
				if err := r.Storage.WriteJSON(ctx, storage.ScopeLocal, storage.KeySelectedScholarID, selected); err != nil {
					return storageError("adopt shared selection", err)
				}
				r.Logger.Info("Auswahl aus geteiltem Scope übernommen", zap.String("scholar_id", selected))
			} else if !IsNotFound(err) {
				return err
			}
		}
	}

	all, err := r.FetchScholars(ctx)
	if err != nil {
		return err
	}
	r.scholars.Publish(all)
	return r.pushLocked(ctx)
}

// insertHistory fügt Snapshots ein, deren Scholar existiert, und liefert die Zahl der
// übernommenen Einträge. Vorhandene IDs bleiben unverändert.
func insertHistory(tx *gorm.DB, v interface{ Struct(any) error }, log *zap.Logger, history []models.CitationHistory) (int, error) {
	if len(history) == 0 {
		return 0, nil
	}
	var known []string
	if err := tx.Model(&models.Scholar{}).Distinct().Pluck("scholar_id", &known).Error; err != nil {
		return 0, storageError("list scholar ids", err)
	}
	exists := make(map[string]bool, len(known))
	for _, id := range known {
		exists[id] = true
	}

	batch := make([]models.CitationHistory, 0, len(history))
	unknown := make(map[string]int)
	for _, h := range history {
		if err := v.Struct(h); err != nil {
			log.Warn("Ungültiger Historien-Eintrag übersprungen", zap.String("id", h.ID), zap.Error(err))
			continue
		}
		if !exists[h.ScholarID] {
			unknown[h.ScholarID]++
			continue
		}
		h.Timestamp = h.Timestamp.UTC()
		batch = append(batch, h)
	}
	for id, n := range unknown {
		log.Warn("Historie für unbekannten Scholar übersprungen", zap.String("scholar_id", id), zap.Int("entries", n))
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&batch, 200).Error; err != nil {
		return 0, storageError("insert history", err)
	}
	return len(batch), nil
}

// SharedConsistency vergleicht die geteilten Schlüssel zwischen beiden Scopes. nil bedeutet:
// der geteilte Scope ist nicht konfiguriert oder gerade nicht erreichbar.
func (r *Repository) SharedConsistency(ctx context.Context) map[string]bool {
	if !r.Storage.SharedAvailable() {
		return nil
	}
	report := r.Storage.ValidateConsistency(ctx, storage.SharedKeys)
	if len(report) == 0 {
		return nil
	}
	return report
}

// ScopeKeyCounts zählt die Schlüssel beider Scopes. shared ist nil, wenn der geteilte Scope
// nicht konfiguriert oder nicht erreichbar ist.
func (r *Repository) ScopeKeyCounts(ctx context.Context) (local int, shared *int, err error) {
	localKeys, err := r.Storage.ListKeys(ctx, storage.ScopeLocal)
	if err != nil {
		return 0, nil, storageError("list local keys", err)
	}
	sharedKeys, err := r.Storage.ListKeys(ctx, storage.ScopeShared)
	if err != nil {
		if !errors.Is(err, storage.ErrUnavailable) {
			r.Logger.Warn("Schlüssel des geteilten Scopes nicht lesbar", zap.Error(err))
		}
		return len(localKeys), nil, nil
	}
	n := len(sharedKeys)
	return len(localKeys), &n, nil
}
