package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"citetrack/models"
)

// historyNamespace ist der UUIDv5-Namespace für abgeleitete Historien-IDs.
var historyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("citetrack:citation-history"))

// deterministicHistoryID leitet eine stabile ID aus Scholar, Zeitpunkt und Anzahl ab, damit
// wiederholte Importe keine Duplikate erzeugen.
func deterministicHistoryID(scholarID string, ts time.Time, count int) string {
	name := fmt.Sprintf("%s|%s|%d", scholarID, ts.UTC().Format(time.RFC3339Nano), count)
	return uuid.NewSHA1(historyNamespace, []byte(name)).String()
}

// ExportEntries liefert die gesamte Historie im flachen Backup-Format.
func (r *Repository) ExportEntries(ctx context.Context) ([]models.ExportEntry, error) {
	scholars, err := r.FetchScholars(ctx)
	if err != nil {
		return nil, err
	}
	history, err := r.FetchAllCitationHistory(ctx)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(scholars))
	for _, s := range scholars {
		names[s.ID] = s.DisplayName()
	}

	entries := make([]models.ExportEntry, 0, len(history))
	for _, h := range history {
		name, ok := names[h.ScholarID]
		if !ok {
			continue
		}
		entries = append(entries, models.ExportEntry{
			ScholarID:     h.ScholarID,
			ScholarName:   name,
			Timestamp:     h.Timestamp,
			CitationCount: h.CitationCount,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ScholarID != entries[j].ScholarID {
			return entries[i].ScholarID < entries[j].ScholarID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// ImportEntries übernimmt Einträge im Backup-Format. Fehlende Scholars werden mit dem
// jüngsten Stand angelegt; bereits importierte Einträge werden übersprungen.
func (r *Repository) ImportEntries(ctx context.Context, entries []models.ExportEntry) (*models.ImportResult, error) {
	result := &models.ImportResult{ImportDate: r.now().UTC()}
	if len(entries) == 0 {
		return result, nil
	}

	latest := make(map[string]models.ExportEntry)
	order := make([]string, 0)
	history := make([]models.CitationHistory, 0, len(entries))
	for _, e := range entries {
		if e.ScholarID == "" {
			return nil, invalidData("import entry without scholarId")
		}
		prev, seen := latest[e.ScholarID]
		if !seen {
			order = append(order, e.ScholarID)
		}
		if !seen || e.Timestamp.After(prev.Timestamp) {
			latest[e.ScholarID] = e
		}
		history = append(history, models.CitationHistory{
			ID:            deterministicHistoryID(e.ScholarID, e.Timestamp, e.CitationCount),
			ScholarID:     e.ScholarID,
			Timestamp:     e.Timestamp.UTC(),
			CitationCount: e.CitationCount,
		})
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	err := r.DB.WithContext(stepCtx).Transaction(func(tx *gorm.DB) error {
		for _, id := range order {
			if _, err := findScholar(tx, id); err == nil {
				continue
			} else if !IsNotFound(err) {
				return err
			}
			e := latest[id]
			count := e.CitationCount
			ts := e.Timestamp.UTC()
			s := models.Scholar{ID: id, Name: e.ScholarName, CitationCount: &count, LastUpdated: &ts}
			if s.Name == "" {
				s.Name = s.DisplayName()
			}
			if err := tx.Create(&s).Error; err != nil {
				return storageError("create scholar "+id, err)
			}
			result.ImportedScholars++
		}

		var before int64
		if err := tx.Model(&models.CitationHistory{}).Count(&before).Error; err != nil {
			return storageError("count history", err)
		}
		if _, err := insertHistory(tx, r.validate, r.Logger, history); err != nil {
			return err
		}
		var after int64
		if err := tx.Model(&models.CitationHistory{}).Count(&after).Error; err != nil {
			return storageError("count history", err)
		}
		result.ImportedHistory = int(after - before)
		return nil
	})
	cancel()
	if err != nil {
		return nil, err
	}

	r.Logger.Info("Import abgeschlossen",
		zap.Int("scholars", result.ImportedScholars), zap.Int("history", result.ImportedHistory))
	r.propagateLocked(ctx, result.ImportedScholars > 0)
	return result, nil
}
