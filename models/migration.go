package models

import "time"

// MigrationReport fasst einen Migrationslauf zusammen.
type MigrationReport struct {
	Scholars    int                  `json:"scholars"`
	History     int                  `json:"history"`
	WidgetKeys  int                  `json:"widgetKeys"`
	Settings    int                  `json:"settings"`
	Validation  DataValidationResult `json:"validation"`
	Repair      *RepairReport        `json:"repair,omitempty"`
	CompletedAt time.Time            `json:"completedAt"`
}

// MigrationStatus ist der Zustand des Migrations-Latches.
type MigrationStatus struct {
	Completed      bool       `json:"completed"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	NeedsMigration bool       `json:"needsMigration"`
}
