package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"citetrack/broadcast"
	"citetrack/models"
	"citetrack/storage"
)

// Repository ist der einzige Schreiber der Domänen-Datensätze. Jede Mutation wird danach in den
// lokalen und den geteilten Scope propagiert und auf den Streams veröffentlicht.
//
// Schreibende Operationen sind über writeMu serialisiert, lesende laufen parallel.
type Repository struct {
	DB          *gorm.DB
	Storage     *storage.Unified
	Logger      *zap.Logger
	StepTimeout time.Duration

	validate *validator.Validate
	now      func() time.Time
	writeMu  sync.Mutex

	scholars *broadcast.Latest[[]models.Scholar]
	widget   *broadcast.Latest[models.WidgetData]
	status   *broadcast.Latest[models.DataSyncStatus]
}

// NewRepository erstellt eine neue Instanz des Repository.
func NewRepository(db *gorm.DB, store *storage.Unified, stepTimeout time.Duration, logger *zap.Logger) *Repository {
	return &Repository{
		DB:          db,
		Storage:     store,
		Logger:      logger.With(zap.String("component", "repository")),
		StepTimeout: stepTimeout,
		validate:    validator.New(),
		now:         time.Now,
		scholars:    broadcast.NewLatest([]models.Scholar{}),
		widget:      broadcast.NewLatest(models.EmptyWidgetData()),
		status:      broadcast.NewLatest(models.StatusIdle()),
	}
}

// Scholars liefert den Stream der Scholar-Liste.
func (r *Repository) Scholars() *broadcast.Latest[[]models.Scholar] { return r.scholars }

// WidgetData liefert den Stream des Widget-Snapshots.
func (r *Repository) WidgetData() *broadcast.Latest[models.WidgetData] { return r.widget }

// SyncStatus liefert den Stream des Sync-Status.
func (r *Repository) SyncStatus() *broadcast.Latest[models.DataSyncStatus] { return r.status }

// PublishSyncStatus veröffentlicht einen neuen Sync-Status.
func (r *Repository) PublishSyncStatus(s models.DataSyncStatus) { r.status.Publish(s) }

// Close beendet alle Streams.
func (r *Repository) Close() {
	r.scholars.Close()
	r.widget.Close()
	r.status.Close()
}

// Load veröffentlicht den aktuellen Stand auf den Streams.
func (r *Repository) Load(ctx context.Context) error {
	scholars, err := r.FetchScholars(ctx)
	if err != nil {
		return err
	}
	r.scholars.Publish(scholars)

	data, err := r.FetchWidgetData(ctx)
	if err != nil {
		return err
	}
	r.widget.Publish(data)
	r.Logger.Info("Initiale Daten geladen", zap.Int("scholars", len(scholars)))
	return nil
}

// step begrenzt einen einzelnen Schritt gegen den Record Store.
func (r *Repository) step(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.StepTimeout)
}

// --- Scholars ---

// FetchScholars liefert alle Scholars in Einfügereihenfolge.
func (r *Repository) FetchScholars(ctx context.Context) ([]models.Scholar, error) {
	ctx, cancel := r.step(ctx)
	defer cancel()

	var scholars []models.Scholar
	if err := r.DB.WithContext(ctx).Order("id").Find(&scholars).Error; err != nil {
		return nil, storageError("fetch scholars", err)
	}
	return scholars, nil
}

// FetchScholar liefert den zuletzt aktualisierten Datensatz zur ID.
func (r *Repository) FetchScholar(ctx context.Context, id string) (*models.Scholar, error) {
	ctx, cancel := r.step(ctx)
	defer cancel()

	s, err := findScholar(r.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func findScholar(db *gorm.DB, id string) (*models.Scholar, error) {
	var s models.Scholar
	err := db.Where("scholar_id = ?", id).Order("updated_at DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("scholar %s", id)
	}
	if err != nil {
		return nil, storageError("fetch scholar "+id, err)
	}
	return &s, nil
}

// SaveScholar legt den Scholar an oder aktualisiert ihn anhand der ID.
func (r *Repository) SaveScholar(ctx context.Context, s models.Scholar) error {
	if err := r.validate.Struct(s); err != nil {
		return invalidRecord("invalid scholar", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	err := upsertScholar(r.DB.WithContext(stepCtx), s, false)
	cancel()
	if err != nil {
		return err
	}
	r.Logger.Info("Scholar gespeichert", zap.String("scholar_id", s.ID))
	r.propagateLocked(ctx, true)
	return nil
}

// UpdateScholar aktualisiert einen bestehenden Scholar.
func (r *Repository) UpdateScholar(ctx context.Context, s models.Scholar) error {
	if err := r.validate.Struct(s); err != nil {
		return invalidRecord("invalid scholar", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	defer cancel()
	db := r.DB.WithContext(stepCtx)
	if _, err := findScholar(db, s.ID); err != nil {
		return err
	}
	if err := upsertScholar(db, s, false); err != nil {
		return err
	}
	r.propagateLocked(ctx, true)
	return nil
}

// upsertScholar aktualisiert den vorhandenen Datensatz in place oder legt einen neuen an.
// Mit onlyIfNewer wird ein vorhandener Datensatz nur überschrieben, wenn s ein neueres
// LastUpdated trägt.
func upsertScholar(db *gorm.DB, s models.Scholar, onlyIfNewer bool) error {
	existing, err := findScholar(db, s.ID)
	if IsNotFound(err) {
		s.RowID = 0
		if err := db.Create(&s).Error; err != nil {
			return storageError("create scholar "+s.ID, err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if onlyIfNewer && !isNewer(s.LastUpdated, existing.LastUpdated) {
		return nil
	}

	existing.Name = s.Name
	existing.Affiliation = s.Affiliation
	existing.CitationCount = s.CitationCount
	existing.HIndex = s.HIndex
	existing.LastUpdated = s.LastUpdated
	if err := db.Save(existing).Error; err != nil {
		return storageError("update scholar "+s.ID, err)
	}
	return nil
}

func isNewer(candidate, current *time.Time) bool {
	if candidate == nil {
		return false
	}
	return current == nil || candidate.After(*current)
}

// DeleteScholar löscht den Scholar samt Historie. Eine Auswahl, die auf ihn zeigt, bleibt
// bestehen und wird vom Integritätscheck bereinigt.
func (r *Repository) DeleteScholar(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	err := r.DB.WithContext(stepCtx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("scholar_id = ?", id).Delete(&models.Scholar{})
		if res.Error != nil {
			return storageError("delete scholar "+id, res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("scholar %s", id)
		}
		if err := tx.Where("scholar_id = ?", id).Delete(&models.CitationHistory{}).Error; err != nil {
			return storageError("delete history of "+id, err)
		}
		return nil
	})
	cancel()
	if err != nil {
		return err
	}
	r.Logger.Info("Scholar gelöscht", zap.String("scholar_id", id))
	r.propagateLocked(ctx, true)
	return nil
}

// DeleteAllScholars löscht alle Scholars und die gesamte Historie.
func (r *Repository) DeleteAllScholars(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	err := r.DB.WithContext(stepCtx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Scholar{}).Error; err != nil {
			return storageError("delete all scholars", err)
		}
		if err := tx.Where("1 = 1").Delete(&models.CitationHistory{}).Error; err != nil {
			return storageError("delete all history", err)
		}
		return nil
	})
	cancel()
	if err != nil {
		return err
	}
	r.Logger.Info("Alle Scholars gelöscht")
	r.propagateLocked(ctx, true)
	return nil
}

// --- Citation History ---

// FetchCitationHistory liefert die Historie eines Scholars aufsteigend nach Zeit. from und to
// sind inklusiv und optional.
func (r *Repository) FetchCitationHistory(ctx context.Context, scholarID string, from, to *time.Time) ([]models.CitationHistory, error) {
	ctx, cancel := r.step(ctx)
	defer cancel()

	q := r.DB.WithContext(ctx).Where("scholar_id = ?", scholarID)
	if from != nil {
		q = q.Where("timestamp >= ?", from.UTC())
	}
	if to != nil {
		q = q.Where("timestamp <= ?", to.UTC())
	}
	var history []models.CitationHistory
	if err := q.Order("timestamp ASC").Find(&history).Error; err != nil {
		return nil, storageError("fetch history of "+scholarID, err)
	}
	return history, nil
}

// FetchAllCitationHistory liefert die gesamte Historie aufsteigend nach Zeit.
func (r *Repository) FetchAllCitationHistory(ctx context.Context) ([]models.CitationHistory, error) {
	ctx, cancel := r.step(ctx)
	defer cancel()

	var history []models.CitationHistory
	if err := r.DB.WithContext(ctx).Order("timestamp ASC").Order("id").Find(&history).Error; err != nil {
		return nil, storageError("fetch history", err)
	}
	return history, nil
}

// SaveCitationHistory hängt einen Snapshot an. Ohne ID wird eine neue UUID vergeben, ohne
// Zeitstempel gilt jetzt. Ein bereits vorhandener Snapshot mit derselben ID bleibt unverändert.
func (r *Repository) SaveCitationHistory(ctx context.Context, h models.CitationHistory) (*models.CitationHistory, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = r.now()
	}
	h.Timestamp = h.Timestamp.UTC()
	if err := r.validate.Struct(h); err != nil {
		return nil, invalidRecord("invalid citation history", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	err := r.DB.WithContext(stepCtx).Clauses(clause.OnConflict{DoNothing: true}).Create(&h).Error
	cancel()
	if err != nil {
		return nil, storageError("save history", err)
	}

	if _, err := r.Storage.SyncJSONMirrored(ctx, storage.KeyLastRefreshTime, r.now().UTC()); err != nil {
		r.Logger.Warn("lastRefreshTime konnte nicht geschrieben werden", zap.Error(err))
	}
	r.propagateLocked(ctx, false)
	return &h, nil
}

// DeleteCitationHistory löscht die Historie eines Scholars.
func (r *Repository) DeleteCitationHistory(ctx context.Context, scholarID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	err := r.DB.WithContext(stepCtx).Where("scholar_id = ?", scholarID).Delete(&models.CitationHistory{}).Error
	cancel()
	if err != nil {
		return storageError("delete history of "+scholarID, err)
	}
	r.propagateLocked(ctx, false)
	return nil
}

// DeleteAllCitationHistory löscht die gesamte Historie.
func (r *Repository) DeleteAllCitationHistory(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	err := r.DB.WithContext(stepCtx).Where("1 = 1").Delete(&models.CitationHistory{}).Error
	cancel()
	if err != nil {
		return storageError("delete all history", err)
	}
	r.propagateLocked(ctx, false)
	return nil
}

// ExpireCitationHistory löscht Snapshots, die älter als olderThan sind.
func (r *Repository) ExpireCitationHistory(ctx context.Context, olderThan time.Time) (int64, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	stepCtx, cancel := r.step(ctx)
	res := r.DB.WithContext(stepCtx).Where("timestamp < ?", olderThan.UTC()).Delete(&models.CitationHistory{})
	cancel()
	if res.Error != nil {
		return 0, storageError("expire history", res.Error)
	}
	if res.RowsAffected > 0 {
		r.Logger.Info("Alte Zitationshistorie gelöscht",
			zap.Int64("deleted", res.RowsAffected), zap.Time("older_than", olderThan))
		r.propagateLocked(ctx, false)
	}
	return res.RowsAffected, nil
}

// --- Propagation ---

// propagateLocked veröffentlicht den neuen Stand und spiegelt ihn in den geteilten Scope.
// Fehler der Propagation machen die bereits gespeicherte Mutation nicht rückgängig; sie werden
// geloggt und als failure auf dem Status-Stream veröffentlicht.
func (r *Repository) propagateLocked(ctx context.Context, scholarsChanged bool) {
	if scholarsChanged {
		scholars, err := r.FetchScholars(ctx)
		if err != nil {
			r.Logger.Error("Scholars konnten nicht neu geladen werden", zap.Error(err))
		} else {
			r.scholars.Publish(scholars)
		}
	}
	if err := r.pushLocked(ctx); err != nil {
		r.Logger.Warn("Propagation in den geteilten Scope fehlgeschlagen", zap.Error(err))
		r.status.Publish(models.StatusFailure(err.Error()))
	}
}
