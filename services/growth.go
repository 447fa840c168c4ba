package services

import (
	"context"
	"math"

	"citetrack/models"
)

// Zeitfenster für Wochen-, Monats- und Quartalswachstum in Tagen.
const (
	weeklyDays    = 7
	monthlyDays   = 30
	quarterlyDays = 90
)

// FetchDataStatistics liefert Kennzahlen über den gesamten Bestand.
func (r *Repository) FetchDataStatistics(ctx context.Context) (*models.DataStatistics, error) {
	scholars, err := r.FetchScholars(ctx)
	if err != nil {
		return nil, err
	}
	history, err := r.FetchAllCitationHistory(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.DataStatistics{
		TotalScholars:       len(scholars),
		TotalHistoryRecords: len(history),
	}
	withHistory := make(map[string]struct{})
	for i := range history {
		withHistory[history[i].ScholarID] = struct{}{}
		ts := history[i].Timestamp
		if stats.OldestRecord == nil || ts.Before(*stats.OldestRecord) {
			stats.OldestRecord = &ts
		}
		if stats.NewestRecord == nil || ts.After(*stats.NewestRecord) {
			stats.NewestRecord = &ts
		}
	}
	stats.ScholarsWithHistory = len(withHistory)
	return stats, nil
}

// FetchCitationGrowth berechnet das Wachstum im Fenster [jetzt-days, jetzt]. Liegen weniger als
// zwei Snapshots im Fenster, ist das Wachstum undefiniert und das Ergebnis nil.
func (r *Repository) FetchCitationGrowth(ctx context.Context, scholarID string, days int) (*models.CitationGrowth, error) {
	if days <= 0 {
		return nil, invalidData("days must be positive, got %d", days)
	}
	now := r.now()
	from := now.AddDate(0, 0, -days)
	history, err := r.FetchCitationHistory(ctx, scholarID, &from, &now)
	if err != nil {
		return nil, err
	}
	return computeGrowth(scholarID, days, history), nil
}

// computeGrowth erwartet history aufsteigend sortiert.
func computeGrowth(scholarID string, days int, history []models.CitationHistory) *models.CitationGrowth {
	if len(history) < 2 {
		return nil
	}
	first, last := history[0], history[len(history)-1]

	g := &models.CitationGrowth{
		ScholarID:   scholarID,
		Days:        days,
		StartCount:  first.CitationCount,
		EndCount:    last.CitationCount,
		Delta:       last.CitationCount - first.CitationCount,
		ElapsedDays: math.Round(last.Timestamp.Sub(first.Timestamp).Hours()/24*100) / 100,
	}
	if first.CitationCount > 0 {
		g.GrowthPercentage = float64(g.Delta) / float64(first.CitationCount) * 100
	}
	return g
}

// FetchMultiPeriodGrowth liefert Wochen-, Monats- und Quartalswachstum eines Scholars.
func (r *Repository) FetchMultiPeriodGrowth(ctx context.Context, scholarID string) (*models.MultiPeriodGrowth, error) {
	scholar, err := r.FetchScholar(ctx, scholarID)
	if err != nil {
		return nil, err
	}

	out := &models.MultiPeriodGrowth{
		ScholarID:        scholarID,
		CurrentCitations: scholar.Citations(),
	}
	if out.Weekly, err = r.FetchCitationGrowth(ctx, scholarID, weeklyDays); err != nil {
		return nil, err
	}
	if out.Monthly, err = r.FetchCitationGrowth(ctx, scholarID, monthlyDays); err != nil {
		return nil, err
	}
	if out.Quarterly, err = r.FetchCitationGrowth(ctx, scholarID, quarterlyDays); err != nil {
		return nil, err
	}
	return out, nil
}

func growthDelta(g *models.CitationGrowth) *int {
	if g == nil {
		return nil
	}
	d := g.Delta
	return &d
}
