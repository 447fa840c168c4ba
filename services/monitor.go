package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"citetrack/broadcast"
	"citetrack/models"
	"citetrack/storage"
)

// SyncTarget ist der Teil des Repository, den der Sync Monitor benötigt.
type SyncTarget interface {
	ValidateDataIntegrity(ctx context.Context) (models.DataValidationResult, error)
	RepairDataIntegrity(ctx context.Context) (*models.RepairReport, error)
	PushToShared(ctx context.Context) error
	SyncFromAppGroup(ctx context.Context) error
	SharedConsistency(ctx context.Context) map[string]bool
	ScopeKeyCounts(ctx context.Context) (local int, shared *int, err error)
	Scholars() *broadcast.Latest[[]models.Scholar]
	SyncStatus() *broadcast.Latest[models.DataSyncStatus]
}

// WidgetSurface entscheidet über die Freshness des Widget-Snapshots.
type WidgetSurface interface {
	NeedsUpdate(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) error
}

// MonitorOption konfiguriert den SyncMonitor.
type MonitorOption func(*SyncMonitor)

// WithMigrationGate verhindert den Deep-Consistency-Check, solange ready false liefert.
func WithMigrationGate(ready func(ctx context.Context) bool) MonitorOption {
	return func(m *SyncMonitor) { m.gate = ready }
}

// WithSharedWatcher abonniert Änderungen anderer Prozesse am geteilten Scope.
func WithSharedWatcher(n storage.ChangeNotifier) MonitorOption {
	return func(m *SyncMonitor) { m.watcher = n }
}

// WithAutoSync setzt den Startwert für die automatische Synchronisation.
func WithAutoSync(enabled bool) MonitorOption {
	return func(m *SyncMonitor) { m.autoSync = enabled }
}

// SyncMonitor überwacht die Konsistenz zwischen Record Store und geteiltem Scope auf zwei
// Kadenzen. Es läuft höchstens ein Check gleichzeitig: Ticks und Änderungs-Trigger, die auf
// einen laufenden Check treffen, werden in diesen eingefaltet; ForceSyncNow wartet.
type SyncMonitor struct {
	target SyncTarget
	widget WidgetSurface
	logger *zap.Logger

	freshness   time.Duration
	consistency time.Duration
	stepTimeout time.Duration
	gate        func(ctx context.Context) bool
	watcher     storage.ChangeNotifier
	now         func() time.Time

	checkMu sync.Mutex
	pending atomic.Bool

	mu                   sync.Mutex
	running              bool
	autoSync             bool
	scheduler            *cron.Cron
	cancel               context.CancelFunc
	lastFreshnessCheck   time.Time
	lastConsistencyCheck time.Time
	inconsistencies      int
	checksRun            int
	failedChecks         int
	lastError            string
}

// NewSyncMonitor erstellt einen gestoppten Monitor.
func NewSyncMonitor(target SyncTarget, widget WidgetSurface, freshness, consistency, stepTimeout time.Duration, logger *zap.Logger, opts ...MonitorOption) *SyncMonitor {
	m := &SyncMonitor{
		target:      target,
		widget:      widget,
		logger:      logger.With(zap.String("component", "sync_monitor")),
		freshness:   freshness,
		consistency: consistency,
		stepTimeout: stepTimeout,
		now:         time.Now,
		autoSync:    true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartMonitoring startet Timer und Abonnements. Ein laufender Monitor bleibt unverändert.
func (m *SyncMonitor) StartMonitoring() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *SyncMonitor) startLocked() error {
	if m.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", m.freshness), m.tick); err != nil {
		cancel()
		return fmt.Errorf("schedule sync monitor: %w", err)
	}
	if m.watcher != nil {
		if err := m.watcher.Watch(ctx, m.onSharedChange); err != nil {
			m.logger.Warn("Geteilter Scope kann nicht beobachtet werden", zap.Error(err))
		}
	}

	ch, unsubscribe := m.target.Scholars().Subscribe()
	go m.watchScholars(ctx, ch, unsubscribe)

	scheduler.Start()
	m.scheduler = scheduler
	m.cancel = cancel
	m.running = true
	m.logger.Info("Sync Monitor gestartet",
		zap.Duration("freshness", m.freshness), zap.Duration("consistency", m.consistency))

	// Der erste Check läuft sofort, nicht erst nach einem Intervall.
	go m.tick()
	return nil
}

// StopMonitoring stoppt Timer und Abonnements. Ein laufender Check darf zu Ende laufen und
// seinen Status veröffentlichen.
func (m *SyncMonitor) StopMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *SyncMonitor) stopLocked() {
	if !m.running {
		return
	}
	m.scheduler.Stop()
	m.cancel()
	m.scheduler = nil
	m.cancel = nil
	m.running = false
	m.logger.Info("Sync Monitor gestoppt")
}

// SetAutoSyncEnabled schaltet die automatische Synchronisation und damit den Timer.
func (m *SyncMonitor) SetAutoSyncEnabled(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoSync = enabled
	if enabled {
		return m.startLocked()
	}
	m.stopLocked()
	return nil
}

// AutoSyncEnabled meldet, ob die automatische Synchronisation aktiv ist.
func (m *SyncMonitor) AutoSyncEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoSync
}

// ResetMonitoringState setzt Zähler und Zeitstempel zurück, ohne Daten anzufassen.
func (m *SyncMonitor) ResetMonitoringState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFreshnessCheck = time.Time{}
	m.lastConsistencyCheck = time.Time{}
	m.inconsistencies = 0
	m.checksRun = 0
	m.failedChecks = 0
	m.lastError = ""
}

func (m *SyncMonitor) watchScholars(ctx context.Context, ch <-chan []models.Scholar, unsubscribe func()) {
	defer unsubscribe()

	// Der erste Wert ist der Replay des aktuellen Stands.
	select {
	case <-ctx.Done():
		return
	case _, ok := <-ch:
		if !ok {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			m.requestSharedSync()
		}
	}
}

func (m *SyncMonitor) onSharedChange(keys []string) {
	relevant := false
	for _, k := range keys {
		if k == storage.KeySelectedScholarID || k == storage.KeyScholars {
			relevant = true
			break
		}
	}
	if !relevant {
		return
	}

	m.checkMu.Lock()
	defer m.unlockCheck()

	ctx, cancel := context.WithTimeout(context.Background(), m.stepTimeout)
	defer cancel()
	if err := m.target.SyncFromAppGroup(ctx); err != nil {
		m.logger.Warn("Übernahme aus dem geteilten Scope fehlgeschlagen", zap.Strings("keys", keys), zap.Error(err))
	}
}

// requestSharedSync merkt eine Synchronisation vor. Läuft bereits ein Check, übernimmt dieser
// die Vormerkung vor seinem Ende.
func (m *SyncMonitor) requestSharedSync() {
	m.pending.Store(true)
	if !m.checkMu.TryLock() {
		coalescedTriggersCounter.Inc()
		return
	}
	defer m.unlockCheck()
	m.runCheck(context.Background(), "trigger", false)
}

// unlockCheck gibt den Check frei und holt eine Vormerkung nach, die nach dem letzten
// Abarbeiten eingetroffen ist.
func (m *SyncMonitor) unlockCheck() {
	m.checkMu.Unlock()
	if m.pending.Load() {
		go m.requestSharedSync()
	}
}

// tick ist der Einstieg der Freshness-Kadenz.
func (m *SyncMonitor) tick() {
	if !m.checkMu.TryLock() {
		coalescedTriggersCounter.Inc()
		m.logger.Debug("Check läuft bereits, Tick eingefaltet")
		return
	}
	defer m.unlockCheck()
	m.runCheck(context.Background(), "tick", true)
}

// ForceSyncNow wartet auf einen laufenden Check und führt dann Widget- und Shared-Sync aus,
// unabhängig von den Kadenzen.
func (m *SyncMonitor) ForceSyncNow(ctx context.Context) error {
	m.checkMu.Lock()
	defer m.unlockCheck()
	return m.runCheck(ctx, "force", false)
}

// runCheck führt einen Check aus; der Aufrufer hält checkMu. Fehler werden als failure
// veröffentlicht und nie an den Scheduler weitergereicht.
func (m *SyncMonitor) runCheck(ctx context.Context, kind string, scheduled bool) (err error) {
	syncChecksInFlight.Inc()
	defer syncChecksInFlight.Dec()

	status := m.target.SyncStatus()
	status.Publish(models.StatusSyncing())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in sync check: %v", r)
		}
		m.finishCheck(kind, err)
	}()

	switch kind {
	case "tick":
		err = m.freshnessCheck(ctx)
		if err == nil && m.consistencyDue() && m.gateOpen(ctx) {
			err = m.consistencyCheck(ctx)
		}
	case "force":
		m.pending.Store(false)
		err = m.step(ctx, m.widget.Refresh)
		if err == nil {
			err = m.step(ctx, m.target.PushToShared)
		}
	}

	for err == nil && m.pending.Swap(false) {
		err = m.step(ctx, m.target.PushToShared)
	}
	return err
}

func (m *SyncMonitor) finishCheck(kind string, err error) {
	now := m.now()

	m.mu.Lock()
	m.checksRun++
	if err != nil {
		m.failedChecks++
		m.lastError = err.Error()
	}
	m.mu.Unlock()

	if err != nil {
		syncChecksCounter.WithLabelValues(kind, "failure").Inc()
		m.logger.Warn("Sync-Check fehlgeschlagen", zap.String("kind", kind), zap.Error(err))
		m.target.SyncStatus().Publish(models.StatusFailure(err.Error()))
		return
	}
	syncChecksCounter.WithLabelValues(kind, "success").Inc()
	m.target.SyncStatus().Publish(models.StatusSuccess(now))
}

// step begrenzt einen einzelnen Schritt durch das Step-Timeout.
func (m *SyncMonitor) step(ctx context.Context, fn func(context.Context) error) error {
	if m.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.stepTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func (m *SyncMonitor) freshnessCheck(ctx context.Context) error {
	var needs bool
	err := m.step(ctx, func(ctx context.Context) error {
		var err error
		needs, err = m.widget.NeedsUpdate(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("widget freshness: %w", err)
	}
	if needs {
		if err := m.step(ctx, m.widget.Refresh); err != nil {
			return fmt.Errorf("widget refresh: %w", err)
		}
	}
	if err := m.step(ctx, m.target.PushToShared); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastFreshnessCheck = m.now()
	m.mu.Unlock()
	return nil
}

func (m *SyncMonitor) consistencyDue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastConsistencyCheck.IsZero() || m.now().Sub(m.lastConsistencyCheck) >= m.consistency
}

func (m *SyncMonitor) gateOpen(ctx context.Context) bool {
	if m.gate == nil {
		return true
	}
	if m.gate(ctx) {
		return true
	}
	m.logger.Debug("Deep-Consistency-Check wartet auf Migration")
	return false
}

// consistencyCheck validiert, zählt Befunde, repariert und synchronisiert neu.
func (m *SyncMonitor) consistencyCheck(ctx context.Context) error {
	var result models.DataValidationResult
	err := m.step(ctx, func(ctx context.Context) error {
		var err error
		result, err = m.target.ValidateDataIntegrity(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("validate integrity: %w", err)
	}

	m.mu.Lock()
	m.inconsistencies += len(result.Issues)
	m.lastConsistencyCheck = m.now()
	m.mu.Unlock()
	integrityIssuesCounter.Add(float64(len(result.Issues)))

	if len(result.FixableIssues) > 0 {
		m.logger.Info("Inkonsistenzen gefunden, starte Reparatur", zap.Strings("issues", result.Issues))
		err := m.step(ctx, func(ctx context.Context) error {
			_, err := m.target.RepairDataIntegrity(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("repair integrity: %w", err)
		}
	}
	return m.step(ctx, m.target.PushToShared)
}

// GetSyncStatusSummary liefert den kompakten Zustand.
func (m *SyncMonitor) GetSyncStatusSummary() models.SyncSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := models.SyncSummary{
		Running:            m.running,
		AutoSyncEnabled:    m.autoSync,
		Status:             m.target.SyncStatus().Load(),
		InconsistencyCount: m.inconsistencies,
		ChecksRun:          m.checksRun,
		FailedChecks:       m.failedChecks,
		LastError:          m.lastError,
	}
	if !m.lastFreshnessCheck.IsZero() {
		t := m.lastFreshnessCheck
		s.LastFreshnessCheck = &t
	}
	if !m.lastConsistencyCheck.IsZero() {
		t := m.lastConsistencyCheck
		s.LastConsistencyCheck = &t
	}
	return s
}

// GetDetailedSyncReport ergänzt die Zusammenfassung um einen frischen Integritäts- und
// Konsistenzstand. Ändert keine Daten.
func (m *SyncMonitor) GetDetailedSyncReport(ctx context.Context) (*models.SyncReport, error) {
	report := &models.SyncReport{
		Summary:     m.GetSyncStatusSummary(),
		GeneratedAt: m.now(),
	}

	err := m.step(ctx, func(ctx context.Context) error {
		var err error
		report.Validation, err = m.target.ValidateDataIntegrity(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	report.SharedConsistency = m.target.SharedConsistency(ctx)
	report.SharedAvailable = report.SharedConsistency != nil

	local, shared, err := m.target.ScopeKeyCounts(ctx)
	if err != nil {
		return nil, err
	}
	report.LocalKeyCount = local
	report.SharedKeyCount = shared

	needs, err := m.widget.NeedsUpdate(ctx)
	if err != nil {
		return nil, err
	}
	report.WidgetNeedsUpdate = needs
	return report, nil
}
