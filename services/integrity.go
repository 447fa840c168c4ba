package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"citetrack/models"
	"citetrack/storage"
)

// maxRepairPasses begrenzt die Reparaturdurchläufe. Das Löschen fehlerhafter Scholars kann
// neue verwaiste Historie erzeugen, die erst im nächsten Durchlauf sichtbar wird.
const maxRepairPasses = 3

// integrityFindings ist das Rohergebnis eines Integritätsdurchlaufs.
type integrityFindings struct {
	orphanScholarIDs  []string
	orphanRecords     int
	danglingSelection *string
	duplicates        map[string][]models.Scholar
	malformedScholars []models.Scholar
	malformedHistory  []models.CitationHistory
	inconsistentKeys  []string
}

func (f *integrityFindings) clean() bool {
	return f.orphanRecords == 0 && f.danglingSelection == nil && len(f.duplicates) == 0 &&
		len(f.malformedScholars) == 0 && len(f.malformedHistory) == 0 && len(f.inconsistentKeys) == 0
}

// result übersetzt die Befunde in der festen Reihenfolge: verwaiste Historie, verwaiste
// Auswahl, doppelte IDs, fehlerhafte Datensätze, abweichender geteilter Scope.
func (f *integrityFindings) result() models.DataValidationResult {
	var issues []string
	if f.orphanRecords > 0 {
		issues = append(issues, fmt.Sprintf("%d orphaned citation history records (scholars: %s)",
			f.orphanRecords, strings.Join(f.orphanScholarIDs, ", ")))
	}
	if f.danglingSelection != nil {
		issues = append(issues, fmt.Sprintf("selected scholar %q does not exist", *f.danglingSelection))
	}
	dupIDs := make([]string, 0, len(f.duplicates))
	for id := range f.duplicates {
		dupIDs = append(dupIDs, id)
	}
	sort.Strings(dupIDs)
	for _, id := range dupIDs {
		issues = append(issues, fmt.Sprintf("duplicate scholar id %q (%d records)", id, len(f.duplicates[id])))
	}
	for _, s := range f.malformedScholars {
		issues = append(issues, fmt.Sprintf("malformed scholar record %d (id %q)", s.RowID, s.ID))
	}
	for _, h := range f.malformedHistory {
		issues = append(issues, fmt.Sprintf("malformed citation history record %q", h.ID))
	}
	if len(f.inconsistentKeys) > 0 {
		issues = append(issues, fmt.Sprintf("shared scope out of sync: %s", strings.Join(f.inconsistentKeys, ", ")))
	}

	// Alle Befunde sind reparierbar.
	return models.DataValidationResult{
		IsValid:       len(issues) == 0,
		Issues:        nonNil(issues),
		FixableIssues: nonNil(append([]string(nil), issues...)),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *Repository) inspect(ctx context.Context) (*integrityFindings, error) {
	scholars, err := r.FetchScholars(ctx)
	if err != nil {
		return nil, err
	}
	history, err := r.FetchAllCitationHistory(ctx)
	if err != nil {
		return nil, err
	}
	selected, err := r.GetCurrentSelectedScholarID(ctx)
	if err != nil {
		return nil, err
	}

	f := &integrityFindings{duplicates: make(map[string][]models.Scholar)}
	byID := make(map[string][]models.Scholar, len(scholars))
	known := make(map[string]bool, len(scholars))
	for _, s := range scholars {
		if s.ID != "" {
			known[s.ID] = true
		}
		if err := r.validate.Struct(s); err != nil {
			f.malformedScholars = append(f.malformedScholars, s)
			continue
		}
		byID[s.ID] = append(byID[s.ID], s)
	}
	for id, group := range byID {
		if len(group) > 1 {
			f.duplicates[id] = group
		}
	}

	orphans := make(map[string]bool)
	for _, h := range history {
		if err := r.validate.Struct(h); err != nil {
			f.malformedHistory = append(f.malformedHistory, h)
			continue
		}
		if !known[h.ScholarID] {
			f.orphanRecords++
			orphans[h.ScholarID] = true
		}
	}
	for id := range orphans {
		f.orphanScholarIDs = append(f.orphanScholarIDs, id)
	}
	sort.Strings(f.orphanScholarIDs)

	if selected != nil {
		if !known[*selected] {
			f.danglingSelection = selected
		}
	}

	for key, ok := range r.SharedConsistency(ctx) {
		if !ok {
			f.inconsistentKeys = append(f.inconsistentKeys, key)
		}
	}
	sort.Strings(f.inconsistentKeys)
	return f, nil
}

// ValidateDataIntegrity prüft referenzielle und strukturelle Integrität, ohne zu ändern.
func (r *Repository) ValidateDataIntegrity(ctx context.Context) (models.DataValidationResult, error) {
	f, err := r.inspect(ctx)
	if err != nil {
		return models.DataValidationResult{}, validationError("integrity check", err)
	}
	return f.result(), nil
}

// RepairDataIntegrity behebt alle reparierbaren Befunde und synchronisiert danach neu.
// Schlägt eine einzelne Reparatur fehl, wird sie im Report vermerkt und die nächste versucht.
// Ohne Befunde ist die Operation ein No-op.
func (r *Repository) RepairDataIntegrity(ctx context.Context) (*models.RepairReport, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	report := &models.RepairReport{}
	f, err := r.inspect(ctx)
	if err != nil {
		return nil, validationError("integrity check", err)
	}
	if f.clean() {
		return report, nil
	}

	scholarsTouched := false
	for pass := 0; pass < maxRepairPasses && !f.clean(); pass++ {
		before := repairProgress(report)
		r.applyRepairs(ctx, f, report)
		if len(f.duplicates) > 0 || len(f.malformedScholars) > 0 {
			scholarsTouched = true
		}
		if repairProgress(report) == before {
			break
		}
		if f, err = r.inspect(ctx); err != nil {
			return nil, validationError("integrity check", err)
		}
	}

	r.propagateLocked(ctx, scholarsTouched)

	if after, err := r.inspect(ctx); err == nil {
		report.RemainingIssues = after.result().Issues
	} else {
		report.Failures = append(report.Failures, err.Error())
	}
	if len(report.RemainingIssues) == 0 {
		report.RemainingIssues = nil
	}

	repairsCounter.WithLabelValues("orphans").Add(float64(report.OrphansDeleted))
	repairsCounter.WithLabelValues("duplicates").Add(float64(report.DuplicatesRemoved))
	repairsCounter.WithLabelValues("malformed").Add(float64(report.MalformedDropped))
	if report.SelectionCleared {
		repairsCounter.WithLabelValues("selection").Inc()
	}

	r.Logger.Info("Datenintegrität repariert",
		zap.Int("orphans_deleted", report.OrphansDeleted),
		zap.Bool("selection_cleared", report.SelectionCleared),
		zap.Int("duplicates_removed", report.DuplicatesRemoved),
		zap.Int("malformed_dropped", report.MalformedDropped),
		zap.Strings("failures", report.Failures),
		zap.Strings("remaining", report.RemainingIssues),
	)
	return report, nil
}

func repairProgress(r *models.RepairReport) int {
	n := r.OrphansDeleted + r.DuplicatesRemoved + r.MalformedDropped
	if r.SelectionCleared {
		n++
	}
	return n
}

func (r *Repository) applyRepairs(ctx context.Context, f *integrityFindings, report *models.RepairReport) {
	fail := func(what string, err error) {
		r.Logger.Error("Reparatur fehlgeschlagen", zap.String("step", what), zap.Error(err))
		report.Failures = append(report.Failures, fmt.Sprintf("%s: %v", what, err))
	}
	stepCtx, cancel := r.step(ctx)
	defer cancel()
	db := r.DB.WithContext(stepCtx)

	// Verwaiste Historie wird gelöscht, der Scholar nie neu angelegt.
	if len(f.orphanScholarIDs) > 0 {
		res := db.Where("scholar_id IN ?", f.orphanScholarIDs).Delete(&models.CitationHistory{})
		if res.Error != nil {
			fail("delete orphaned history", res.Error)
		} else {
			report.OrphansDeleted += int(res.RowsAffected)
		}
	}

	if f.danglingSelection != nil {
		if err := r.Storage.RemoveMirrored(ctx, storage.KeySelectedScholarID); err != nil {
			fail("clear selection", err)
		} else {
			report.SelectionCleared = true
		}
	}

	// Bei Duplikaten gewinnt der zuletzt aktualisierte Datensatz.
	for id, group := range f.duplicates {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Recency().Equal(group[j].Recency()) {
				return group[i].RowID > group[j].RowID
			}
			return group[i].Recency().After(group[j].Recency())
		})
		for _, loser := range group[1:] {
			if err := db.Delete(&models.Scholar{}, loser.RowID).Error; err != nil {
				fail("remove duplicate "+id, err)
				continue
			}
			report.DuplicatesRemoved++
		}
	}

	for _, s := range f.malformedScholars {
		if err := db.Delete(&models.Scholar{}, s.RowID).Error; err != nil {
			fail(fmt.Sprintf("drop malformed scholar %d", s.RowID), err)
			continue
		}
		report.MalformedDropped++
	}
	for _, h := range f.malformedHistory {
		if err := db.Where("id = ?", h.ID).Delete(&models.CitationHistory{}).Error; err != nil {
			fail("drop malformed history "+h.ID, err)
			continue
		}
		report.MalformedDropped++
	}
}
