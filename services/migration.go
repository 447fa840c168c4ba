package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"citetrack/models"
	"citetrack/storage"
)

// legacyScholar ist das Format der alten Scholar-Liste. Ältere Versionen schrieben die
// Zitationsanzahl als "citations".
type legacyScholar struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Citations     *int       `json:"citations"`
	CitationCount *int       `json:"citationCount"`
	LastUpdated   *time.Time `json:"lastUpdated"`
}

func (l legacyScholar) toScholar() models.Scholar {
	s := models.Scholar{ID: l.ID, Name: l.Name, CitationCount: l.CitationCount, LastUpdated: l.LastUpdated}
	if s.CitationCount == nil {
		s.CitationCount = l.Citations
	}
	if s.Name == "" {
		s.Name = s.DisplayName()
	}
	return s
}

type legacyHistory struct {
	ID            string    `json:"id"`
	ScholarID     string    `json:"scholarId"`
	CitationCount int       `json:"citationCount"`
	Timestamp     time.Time `json:"timestamp"`
}

// Alte Ablageorte. Gelesen wird zuerst lokal, dann im geteilten Scope.
var (
	legacyScholarsSource  = storage.Source{Key: storage.LegacyScholars, Chain: storage.LocalThenShared}
	legacyHistorySource   = storage.Source{Key: storage.LegacyCitationHistory, Chain: storage.LocalThenShared}
	legacySelectionSource = storage.Source{Key: storage.LegacySelectedScholarID, Chain: storage.LocalThenShared}
	legacyWidgetSource    = storage.Source{Key: storage.LegacyWidgetScholars, Chain: storage.LocalThenShared}
	legacyRefreshSource   = storage.Source{Key: storage.LegacyLastRefreshTime, Chain: storage.LocalThenShared}
	legacyThemeSource     = storage.Source{Key: storage.LegacyTheme, Chain: storage.LocalThenShared}
	legacyLanguageSource  = storage.Source{Key: storage.LegacyLanguage, Chain: storage.LocalThenShared}

	legacySources = []storage.Source{
		legacyScholarsSource,
		legacyHistorySource,
		legacySelectionSource,
		legacyWidgetSource,
		legacyRefreshSource,
		legacyThemeSource,
		legacyLanguageSource,
	}

	latchSource = storage.Source{Key: storage.KeyHasMigrated, Chain: storage.LocalThenShared}
)

// MigrationService überträgt die alten, pro Feature verteilten Schlüssel einmalig in das
// vereinheitlichte Schema.
type MigrationService struct {
	Storage *storage.Unified
	Repo    *Repository
	Logger  *zap.Logger

	now func() time.Time
	mu  sync.Mutex
}

// NewMigrationService erstellt eine neue Instanz des MigrationService.
func NewMigrationService(store *storage.Unified, repo *Repository, logger *zap.Logger) *MigrationService {
	return &MigrationService{
		Storage: store,
		Repo:    repo,
		Logger:  logger.With(zap.String("component", "migration")),
		now:     time.Now,
	}
}

// Completed meldet, ob das Latch gesetzt ist.
func (m *MigrationService) Completed(ctx context.Context) bool {
	done, _, ok := storage.ReadFirst[bool](ctx, m.Storage, latchSource)
	return ok && done
}

// Status liefert Latch, Abschlusszeitpunkt und ob noch migriert werden muss.
func (m *MigrationService) Status(ctx context.Context) models.MigrationStatus {
	st := models.MigrationStatus{Completed: m.Completed(ctx)}
	if at, _, ok := storage.ReadFirst[time.Time](ctx, m.Storage,
		storage.Source{Key: storage.KeyMigrationCompletedAt, Chain: storage.LocalThenShared}); ok {
		st.CompletedAt = &at
	}
	st.NeedsMigration = !st.Completed && m.hasLegacyData(ctx)
	return st
}

// NeedsMigration ist true, wenn das Latch nicht gesetzt ist und mindestens ein alter
// Ablageort nicht-leere Daten enthält.
func (m *MigrationService) NeedsMigration(ctx context.Context) bool {
	if m.Completed(ctx) {
		return false
	}
	return m.hasLegacyData(ctx)
}

func (m *MigrationService) hasLegacyData(ctx context.Context) bool {
	for _, src := range legacySources {
		raw, _, ok := storage.ReadFirst[json.RawMessage](ctx, m.Storage, src)
		if ok && !isEmptyJSON(raw) {
			return true
		}
	}
	return false
}

func isEmptyJSON(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	for _, empty := range []string{"", "null", "[]", "{}", `""`} {
		if string(raw) == empty {
			return true
		}
	}
	return false
}

// Ready ist das Gate für den Deep-Consistency-Check des Sync Monitors.
func (m *MigrationService) Ready(ctx context.Context) bool {
	return !m.NeedsMigration(ctx)
}

// RunIfNeeded führt die Migration nur aus, wenn NeedsMigration zutrifft.
func (m *MigrationService) RunIfNeeded(ctx context.Context) (*models.MigrationReport, error) {
	if !m.NeedsMigration(ctx) {
		m.Logger.Info("Keine Migration erforderlich")
		return nil, nil
	}
	return m.PerformMigration(ctx)
}

// PerformMigration überträgt Scholars, Historie, Widget-Schlüssel und Einstellungen, prüft das
// Ergebnis und setzt danach das Latch. Fehlende Quellen gelten als leer; Schreibfehler brechen
// ab. Mehrfaches Ausführen erzeugt keine Duplikate.
func (m *MigrationService) PerformMigration(ctx context.Context) (*models.MigrationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report, err := m.perform(ctx)
	if err != nil {
		migrationsCounter.WithLabelValues("failure").Inc()
		m.Logger.Error("Migration fehlgeschlagen", zap.Error(err))
		return nil, err
	}
	migrationsCounter.WithLabelValues("success").Inc()
	m.Logger.Info("Migration abgeschlossen",
		zap.Int("scholars", report.Scholars),
		zap.Int("history", report.History),
		zap.Int("widget_keys", report.WidgetKeys),
		zap.Int("settings", report.Settings),
	)
	return report, nil
}

// ForceMigration setzt das Latch in beiden Scopes zurück und migriert erneut.
func (m *MigrationService) ForceMigration(ctx context.Context) (*models.MigrationReport, error) {
	for _, key := range []string{storage.KeyHasMigrated, storage.KeyMigrationCompletedAt} {
		if err := m.Storage.RemoveMirrored(ctx, key); err != nil {
			return nil, storageError("reset migration latch", err)
		}
	}
	m.Logger.Info("Migration-Latch zurückgesetzt, starte erneut")
	return m.PerformMigration(ctx)
}

func (m *MigrationService) perform(ctx context.Context) (*models.MigrationReport, error) {
	report := &models.MigrationReport{}

	// 1. Scholars
	legacy, _, _ := storage.ReadFirst[[]legacyScholar](ctx, m.Storage, legacyScholarsSource)
	scholars := make([]models.Scholar, 0, len(legacy))
	for _, l := range legacy {
		if l.ID == "" {
			m.Logger.Warn("Alter Scholar ohne ID übersprungen", zap.String("name", l.Name))
			continue
		}
		scholars = append(scholars, l.toScholar())
	}
	if err := m.Repo.importScholars(ctx, scholars); err != nil {
		return nil, fmt.Errorf("migrate scholars: %w", err)
	}
	report.Scholars = len(scholars)

	// 2. Zitationshistorie
	legacyHist, _, _ := storage.ReadFirst[[]legacyHistory](ctx, m.Storage, legacyHistorySource)
	history := make([]models.CitationHistory, 0, len(legacyHist))
	for _, l := range legacyHist {
		if l.ScholarID == "" || l.Timestamp.IsZero() {
			continue
		}
		id := l.ID
		if id == "" {
			id = deterministicHistoryID(l.ScholarID, l.Timestamp, l.CitationCount)
		}
		history = append(history, models.CitationHistory{
			ID:            id,
			ScholarID:     l.ScholarID,
			Timestamp:     l.Timestamp.UTC(),
			CitationCount: l.CitationCount,
		})
	}
	imported, err := m.Repo.importHistory(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("migrate citation history: %w", err)
	}
	report.History = imported

	// 3. Widget-Schlüssel
	if id, _, ok := storage.ReadFirst[string](ctx, m.Storage, legacySelectionSource); ok && id != "" {
		if err := m.Storage.WriteJSONMirrored(ctx, storage.KeySelectedScholarID, id); err != nil {
			return nil, storageError("migrate selected scholar", err)
		}
		report.WidgetKeys++
	}
	if raw, _, ok := storage.ReadFirst[json.RawMessage](ctx, m.Storage, legacyWidgetSource); ok && !isEmptyJSON(raw) {
		if err := m.Storage.WriteMirrored(ctx, storage.KeyWidgetScholars, storage.Canonicalize(raw)); err != nil {
			return nil, storageError("migrate widget scholars", err)
		}
		report.WidgetKeys++
	}
	if t, _, ok := storage.ReadFirst[time.Time](ctx, m.Storage, legacyRefreshSource); ok && !t.IsZero() {
		if err := m.Storage.WriteJSONMirrored(ctx, storage.KeyLastRefreshTime, t.UTC()); err != nil {
			return nil, storageError("migrate last refresh time", err)
		}
		report.WidgetKeys++
	}

	// 4. Einstellungen
	for _, s := range []struct {
		src storage.Source
		key string
	}{
		{legacyThemeSource, storage.KeyTheme},
		{legacyLanguageSource, storage.KeyLanguage},
	} {
		v, _, ok := storage.ReadFirst[string](ctx, m.Storage, s.src)
		if !ok || v == "" {
			continue
		}
		if err := m.Storage.WriteJSONMirrored(ctx, s.key, v); err != nil {
			return nil, storageError("migrate setting "+s.key, err)
		}
		report.Settings++
	}

	// 5. Validierung
	validation, repair, err := m.validateMigration(ctx, scholars, history)
	if err != nil {
		return nil, err
	}
	report.Validation = validation
	report.Repair = repair

	// 6. Latch
	report.CompletedAt = m.now().UTC()
	if err := m.Storage.WriteJSONMirrored(ctx, storage.KeyHasMigrated, true); err != nil {
		return nil, storageError("set migration latch", err)
	}
	if err := m.Storage.WriteJSONMirrored(ctx, storage.KeyMigrationCompletedAt, report.CompletedAt); err != nil {
		return nil, storageError("set migration timestamp", err)
	}
	return report, nil
}

// validateMigration liest den Record Store erneut, gleicht ihn mit den Quellen ab und lässt
// reparierbare Befunde beheben.
func (m *MigrationService) validateMigration(ctx context.Context, scholars []models.Scholar, history []models.CitationHistory) (models.DataValidationResult, *models.RepairReport, error) {
	for _, s := range scholars {
		if _, err := m.Repo.FetchScholar(ctx, s.ID); err != nil {
			return models.DataValidationResult{}, nil, validationError("migrated scholar missing", err)
		}
	}
	if len(history) > 0 {
		stats, err := m.Repo.FetchDataStatistics(ctx)
		if err != nil {
			return models.DataValidationResult{}, nil, err
		}
		if stats.TotalHistoryRecords == 0 {
			m.Logger.Warn("Keine Historie übernommen, alle Einträge waren verwaist",
				zap.Int("legacy_history", len(history)))
		}
	}

	result, err := m.Repo.ValidateDataIntegrity(ctx)
	if err != nil {
		return result, nil, err
	}
	if result.IsValid {
		return result, nil, m.Repo.PushToShared(ctx)
	}

	m.Logger.Warn("Integritätsprobleme nach Migration", zap.Strings("issues", result.Issues))
	repair, err := m.Repo.RepairDataIntegrity(ctx)
	if err != nil {
		return result, nil, err
	}
	return result, repair, nil
}

// importScholars übernimmt Scholars per Upsert ohne Propagation. Die Migration propagiert
// gesammelt in validateMigration.
func (r *Repository) importScholars(ctx context.Context, scholars []models.Scholar) error {
	if len(scholars) == 0 {
		return nil
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	defer cancel()
	err := r.DB.WithContext(stepCtx).Transaction(func(tx *gorm.DB) error {
		for _, s := range scholars {
			if err := upsertScholar(tx, s, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	all, err := r.FetchScholars(ctx)
	if err != nil {
		return err
	}
	r.scholars.Publish(all)
	return nil
}

// importHistory fügt Snapshots ohne Propagation ein; vorhandene IDs bleiben unverändert.
func (r *Repository) importHistory(ctx context.Context, history []models.CitationHistory) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	defer cancel()
	return insertHistory(r.DB.WithContext(stepCtx), r.validate, r.Logger, history)
}
