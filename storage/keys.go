package storage

// Kanonische Schlüssel des vereinheitlichten Schemas.
const (
	KeyScholars             = "citetrack.scholars"
	KeyCitationHistory      = "citetrack.citationHistory"
	KeyWidgetData           = "citetrack.widget.data"
	KeyWidgetScholars       = "citetrack.widget.scholars"
	KeySelectedScholarID    = "citetrack.widget.selectedScholarId"
	KeyLastRefreshTime      = "citetrack.widget.lastRefreshTime"
	KeyTheme                = "citetrack.settings.theme"
	KeyLanguage             = "citetrack.settings.language"
	KeyHasMigrated          = "citetrack.migration.hasMigrated"
	KeyMigrationCompletedAt = "citetrack.migration.completedAt"
)

// Schlüssel der alten, pro Feature verteilten Ablage. Werden nur von der Migration gelesen.
const (
	LegacyScholars          = "ScholarsList"
	LegacyCitationHistory   = "CitationHistoryData"
	LegacySelectedScholarID = "SelectedWidgetScholarId"
	LegacyWidgetScholars    = "WidgetScholars"
	LegacyLastRefreshTime   = "LastRefreshTime"
	LegacyTheme             = "AppTheme"
	LegacyLanguage          = "AppLanguage"
)

// SharedKeys sind die Schlüssel, die Extensions im geteilten Scope erwarten.
var SharedKeys = []string{
	KeyScholars,
	KeyCitationHistory,
	KeyWidgetScholars,
	KeyWidgetData,
	KeySelectedScholarID,
	KeyLastRefreshTime,
}
