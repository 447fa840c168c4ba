package models

import "time"

// WidgetScholarInfo ist die denormalisierte Projektion eines Scholars für das Widget.
type WidgetScholarInfo struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Affiliation     *string    `json:"affiliation,omitempty"`
	CitationCount   *int       `json:"citationCount,omitempty"`
	HIndex          *int       `json:"hIndex,omitempty"`
	LastUpdated     *time.Time `json:"lastUpdated,omitempty"`
	WeeklyGrowth    *int       `json:"weeklyGrowth,omitempty"`
	MonthlyGrowth   *int       `json:"monthlyGrowth,omitempty"`
	QuarterlyGrowth *int       `json:"quarterlyGrowth,omitempty"`
}

// WidgetData ist der Aggregat-Snapshot, den Extensions aus dem geteilten Scope lesen.
type WidgetData struct {
	Scholars          []WidgetScholarInfo `json:"scholars"`
	SelectedScholarID *string             `json:"selectedScholarId,omitempty"`
	TotalCitations    int                 `json:"totalCitations"`
	LastUpdateTime    *time.Time          `json:"lastUpdateTime,omitempty"`
}

// EmptyWidgetData ist der Startwert des Widget-Streams.
func EmptyWidgetData() WidgetData {
	return WidgetData{Scholars: []WidgetScholarInfo{}}
}

// HasScholar prüft, ob die ID im Snapshot enthalten ist.
func (w WidgetData) HasScholar(id string) bool {
	for _, s := range w.Scholars {
		if s.ID == id {
			return true
		}
	}
	return false
}

// NewWidgetScholarInfo projiziert einen Scholar.
func NewWidgetScholarInfo(s Scholar) WidgetScholarInfo {
	return WidgetScholarInfo{
		ID:            s.ID,
		Name:          s.DisplayName(),
		Affiliation:   s.Affiliation,
		CitationCount: s.CitationCount,
		HIndex:        s.HIndex,
		LastUpdated:   s.LastUpdated,
	}
}

// WidgetDebugInfo beschreibt, warum das Widget als (nicht) aktuell gilt.
type WidgetDebugInfo struct {
	LastRefresh     *time.Time `json:"lastRefresh,omitempty"`
	StoredRefresh   *time.Time `json:"storedRefresh,omitempty"`
	StaleAfter      string     `json:"staleAfter"`
	ScholarsChanged bool       `json:"scholarsChanged"`
	NeedsUpdate     bool       `json:"needsUpdate"`
	Reason          string     `json:"reason,omitempty"`
	ScholarCount    int        `json:"scholarCount"`
}
