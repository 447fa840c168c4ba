package models

import (
	"fmt"
	"time"
)

// SyncState ist der Zustand des Sync Monitors.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncSyncing SyncState = "syncing"
	SyncSuccess SyncState = "success"
	SyncFailure SyncState = "failure"
)

// DataSyncStatus beschreibt das Ergebnis der letzten Sync-Operation. Wird nicht persistiert.
type DataSyncStatus struct {
	State   SyncState  `json:"state"`
	At      *time.Time `json:"at,omitempty"`
	Message string     `json:"message,omitempty"`
}

func StatusIdle() DataSyncStatus    { return DataSyncStatus{State: SyncIdle} }
func StatusSyncing() DataSyncStatus { return DataSyncStatus{State: SyncSyncing} }

func StatusSuccess(t time.Time) DataSyncStatus {
	return DataSyncStatus{State: SyncSuccess, At: &t}
}

func StatusFailure(msg string) DataSyncStatus {
	return DataSyncStatus{State: SyncFailure, Message: msg}
}

// Terminal ist true für success und failure.
func (s DataSyncStatus) Terminal() bool {
	return s.State == SyncSuccess || s.State == SyncFailure
}

func (s DataSyncStatus) String() string {
	switch s.State {
	case SyncSuccess:
		if s.At != nil {
			return fmt.Sprintf("success(%s)", s.At.Format(time.RFC3339))
		}
		return "success"
	case SyncFailure:
		return fmt.Sprintf("failure(%s)", s.Message)
	default:
		return string(s.State)
	}
}

// DataValidationResult ist das Ergebnis eines Integritätsdurchlaufs.
type DataValidationResult struct {
	IsValid       bool     `json:"isValid"`
	Issues        []string `json:"issues"`
	FixableIssues []string `json:"fixableIssues"`
}

// RepairReport fasst zusammen, was repairDataIntegrity tatsächlich geändert hat.
type RepairReport struct {
	OrphansDeleted    int      `json:"orphansDeleted"`
	SelectionCleared  bool     `json:"selectionCleared"`
	DuplicatesRemoved int      `json:"duplicatesRemoved"`
	MalformedDropped  int      `json:"malformedDropped"`
	Failures          []string `json:"failures,omitempty"`
	RemainingIssues   []string `json:"remainingIssues,omitempty"`
}

// Changed ist true, wenn mindestens ein Datensatz angefasst wurde.
func (r RepairReport) Changed() bool {
	return r.OrphansDeleted > 0 || r.SelectionCleared || r.DuplicatesRemoved > 0 || r.MalformedDropped > 0
}

// SyncSummary ist der kompakte Zustand des Sync Monitors.
type SyncSummary struct {
	Running              bool           `json:"running"`
	AutoSyncEnabled      bool           `json:"autoSyncEnabled"`
	Status               DataSyncStatus `json:"status"`
	LastFreshnessCheck   *time.Time     `json:"lastFreshnessCheck,omitempty"`
	LastConsistencyCheck *time.Time     `json:"lastConsistencyCheck,omitempty"`
	InconsistencyCount   int            `json:"inconsistencyCount"`
	ChecksRun            int            `json:"checksRun"`
	FailedChecks         int            `json:"failedChecks"`
	LastError            string         `json:"lastError,omitempty"`
}

// SyncReport erweitert die Zusammenfassung um einen aktuellen Integritäts- und Konsistenzstand.
type SyncReport struct {
	Summary           SyncSummary          `json:"summary"`
	Validation        DataValidationResult `json:"validation"`
	SharedAvailable   bool                 `json:"sharedAvailable"`
	SharedConsistency map[string]bool      `json:"sharedConsistency,omitempty"`
	LocalKeyCount     int                  `json:"localKeyCount"`
	SharedKeyCount    *int                 `json:"sharedKeyCount,omitempty"`
	WidgetNeedsUpdate bool                 `json:"widgetNeedsUpdate"`
	GeneratedAt       time.Time            `json:"generatedAt"`
}
