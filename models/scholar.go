package models

import (
	"fmt"
	"time"
)

// Scholar repräsentiert einen Forscher, dessen Zitationen verfolgt werden.
//
// ID ist der stabile externe Identifier (z.B. Google-Scholar-ID). Die Eindeutigkeit wird
// nicht von der Datenbank erzwungen, sondern vom Integritätscheck geprüft, da auch Importe
// und fremde Prozesse Datensätze liefern.
type Scholar struct {
	RowID     uint      `json:"-" gorm:"column:id;primaryKey"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	ID            string     `json:"id" gorm:"column:scholar_id;index;not null" validate:"required"`
	Name          string     `json:"name" validate:"required"`
	Affiliation   *string    `json:"affiliation,omitempty"`
	CitationCount *int       `json:"citationCount,omitempty" validate:"omitempty,gte=0"`
	HIndex        *int       `json:"hIndex,omitempty" validate:"omitempty,gte=0"`
	LastUpdated   *time.Time `json:"lastUpdated,omitempty" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (Scholar) TableName() string {
	return "scholars"
}

// DisplayName liefert den Namen oder einen Platzhalter aus der ID.
func (s Scholar) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	id := s.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("Scholar %s", id)
}

// Citations gibt die Zitationsanzahl zurück, 0 falls unbekannt.
func (s Scholar) Citations() int {
	if s.CitationCount == nil {
		return 0
	}
	return *s.CitationCount
}

// Recency liefert den Zeitpunkt, der bei Duplikaten über "zuletzt aktualisiert" entscheidet.
func (s Scholar) Recency() time.Time {
	if s.LastUpdated != nil && s.LastUpdated.After(s.UpdatedAt) {
		return *s.LastUpdated
	}
	return s.UpdatedAt
}
