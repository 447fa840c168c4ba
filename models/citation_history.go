package models

import (
	"time"
)

// CitationHistory ist ein unveränderlicher Snapshot der Zitationsanzahl eines Scholars.
// ScholarID ist eine weiche Referenz ohne Foreign Key.
type CitationHistory struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36" validate:"required"`
	CreatedAt     time.Time `json:"-"`
	ScholarID     string    `json:"scholarId" gorm:"index;not null" validate:"required"`
	Timestamp     time.Time `json:"timestamp" gorm:"index" validate:"required"`
	CitationCount int       `json:"citationCount" validate:"gte=0"`
}

// TableName gibt explizit den Tabellennamen an.
func (CitationHistory) TableName() string {
	return "citation_history"
}
