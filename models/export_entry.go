package models

import "time"

// ExportEntry ist das flache Backup-Format: ein Eintrag pro Historienpunkt.
type ExportEntry struct {
	ScholarID     string    `json:"scholarId"`
	ScholarName   string    `json:"scholarName"`
	Timestamp     time.Time `json:"timestamp"`
	CitationCount int       `json:"citationCount"`
}

// ImportResult zählt, was ein Import angelegt hat.
type ImportResult struct {
	ImportedScholars int       `json:"importedScholars"`
	ImportedHistory  int       `json:"importedHistory"`
	ImportDate       time.Time `json:"importDate"`
}
