package models

import "time"

// SharedSetting ist eine Zeile des SQL-basierten geteilten Scopes.
type SharedSetting struct {
	Key       string    `json:"key" gorm:"primaryKey;size:255"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName gibt explizit den Tabellennamen an.
func (SharedSetting) TableName() string {
	return "shared_settings"
}
