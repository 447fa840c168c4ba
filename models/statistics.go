package models

import "time"

// DataStatistics enthält Kennzahlen über den gesamten Datenbestand.
type DataStatistics struct {
	TotalScholars       int        `json:"totalScholars"`
	TotalHistoryRecords int        `json:"totalHistoryRecords"`
	ScholarsWithHistory int        `json:"scholarsWithHistory"`
	OldestRecord        *time.Time `json:"oldestRecord,omitempty"`
	NewestRecord        *time.Time `json:"newestRecord,omitempty"`
}

// CitationGrowth beschreibt das Wachstum innerhalb eines Zeitfensters von Days Tagen.
type CitationGrowth struct {
	ScholarID        string  `json:"scholarId"`
	Days             int     `json:"days"`
	StartCount       int     `json:"startCount"`
	EndCount         int     `json:"endCount"`
	Delta            int     `json:"delta"`
	ElapsedDays      float64 `json:"elapsedDays"`
	GrowthPercentage float64 `json:"growthPercentage"`
}

// MultiPeriodGrowth bündelt Wochen-, Monats- und Quartalswachstum.
type MultiPeriodGrowth struct {
	ScholarID        string          `json:"scholarId"`
	CurrentCitations int             `json:"currentCitations"`
	Weekly           *CitationGrowth `json:"weekly,omitempty"`
	Monthly          *CitationGrowth `json:"monthly,omitempty"`
	Quarterly        *CitationGrowth `json:"quarterly,omitempty"`
}
