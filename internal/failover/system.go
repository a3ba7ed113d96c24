package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// SystemConfig aggregates the configuration of every subcomponent.
// Immutable after construction.
type SystemConfig struct {
	Monitor     HealthMonitorConfig `yaml:"monitor"`
	Coordinator CoordinatorConfig   `yaml:"coordinator"`
	Recovery    RecoveryConfig      `yaml:"recovery"`
	Backup      BackupConfig        `yaml:"backup"`
	Metrics     MetricsConfig       `yaml:"metrics"`

	// EnableAutomaticFailover gates the failure entry point; when false,
	// failures are logged for manual intervention.
	EnableAutomaticFailover bool `yaml:"enable_automatic_failover"`
	// HealthCheckInterval is the tick of the system health assessment loop.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	// SuccessRateFloor is the minimum failover success rate for CanOperate.
	SuccessRateFloor float64 `yaml:"success_rate_floor"`
}

// DefaultSystemConfig returns production defaults.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Monitor:                 DefaultHealthMonitorConfig(),
		Coordinator:             DefaultCoordinatorConfig(),
		Recovery:                DefaultRecoveryConfig(),
		Backup:                  DefaultBackupConfig(),
		Metrics:                 DefaultMetricsConfig(),
		EnableAutomaticFailover: true,
		HealthCheckInterval:     30 * time.Second,
		SuccessRateFloor:        0.8,
	}
}

// System is the failover facade. It wires the health monitor, standby
// pool, recovery manager, metrics collector and coordinator together, runs
// the periodic system-health assessment, and is the single entry point the
// request router calls on a detected failure.
type System struct {
	cfg    SystemConfig
	logger *zap.Logger

	monitor     *HealthMonitor
	coordinator *Coordinator
	recovery    *RecoveryManager
	backups     *BackupManager
	collector   *MetricsCollector

	failuresHandled prometheus.Counter
	healthScore     prometheus.Gauge

	mu          sync.RWMutex
	health      SystemHealthStatus
	initialized bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewSystem builds the facade and its subcomponents. A nil registry
// disables prometheus export.
func NewSystem(cfg SystemConfig, reg *prometheus.Registry, logger *zap.Logger) (*System, error) {
	monitor := NewHealthMonitor(cfg.Monitor, logger)
	backups := NewBackupManager(cfg.Backup, logger)
	collector := NewMetricsCollector(cfg.Metrics, reg, logger)
	recovery := NewRecoveryManager(cfg.Recovery, monitor, collector, logger)

	coordinator, err := NewCoordinator(cfg.Coordinator, monitor, backups, collector, logger)
	if err != nil {
		return nil, fmt.Errorf("build failover system: %w", err)
	}

	s := &System{
		cfg:         cfg,
		logger:      logger,
		monitor:     monitor,
		coordinator: coordinator,
		recovery:    recovery,
		backups:     backups,
		collector:   collector,
		health: SystemHealthStatus{
			OverallHealth:   HealthGood,
			StandbyCoverage: 1.0,
			LastHealthCheck: time.Now(),
		},
	}

	s.failuresHandled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_model_failures_handled_total",
		Help: "Model failures routed through the failover system",
	})
	s.healthScore = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_system_health_score",
		Help: "Ratio of healthy to total registered models",
	})
	if reg != nil {
		reg.MustRegister(s.failuresHandled)
		reg.MustRegister(s.healthScore)
	}

	// A recovered model no longer counts as an active failover.
	collector.Subscribe(func(ev EventRecord) {
		if ev.Type == EventRecoverySucceeded {
			coordinator.ClearFailover(ev.ModelID)
		}
	})

	return s, nil
}

// Initialize starts every subcomponent in dependency order plus the
// health-assessment loop. Idempotent.
func (s *System) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}

	s.monitor.StartMonitoring()
	s.backups.StartManagement()
	s.recovery.StartRecoveryManagement()
	s.coordinator.StartCoordination()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.healthLoop(ctx)

	s.initialized = true
	s.logger.Info("failover system initialized")
	return nil
}

// Shutdown stops the assessment loop and every subcomponent. No loop is
// left running when it returns. Idempotent.
func (s *System) Shutdown() error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.coordinator.StopCoordination()
	s.recovery.StopRecoveryManagement()
	s.backups.StopManagement()
	s.monitor.StopMonitoring()

	s.logger.Info("failover system shut down")
	return nil
}

// RegisterModel registers a model instance with the monitor and attaches
// its standby pool. An id is assigned when the payload carries none.
func (s *System) RegisterModel(info ModelInfo) (ModelID, error) {
	if info.ID == "" {
		info.ID = NewModelID()
	}
	if err := s.monitor.RegisterModel(info); err != nil {
		return "", err
	}
	if err := s.backups.RegisterPrimaryModel(info); err != nil {
		s.monitor.DeregisterModel(info.ID)
		return "", err
	}
	return info.ID, nil
}

// ReportModelHealth forwards a runtime metrics snapshot to the monitor.
func (s *System) ReportModelHealth(id ModelID, m ModelMetrics) error {
	return s.monitor.ReportHealth(id, m)
}

// HandleModelFailure is the single externally-called failure entry point.
// It delegates to the coordinator and, when no replacement exists,
// escalates to the recovery manager.
func (s *System) HandleModelFailure(ctx context.Context, id ModelID, reason string) (Decision, error) {
	if !s.isInitialized() {
		return Decision{}, fmt.Errorf("handle failure for %s: system not initialized: %w", id, ErrServiceUnavailable)
	}
	if !s.cfg.EnableAutomaticFailover {
		s.logger.Warn("automatic failover disabled, manual intervention required",
			zap.String("model", id.String()))
		return Decision{
			FailedModel: id,
			Reason:      "automatic failover disabled",
			Timestamp:   time.Now(),
		}, nil
	}

	s.failuresHandled.Inc()

	decision, err := s.coordinator.HandleModelFailure(ctx, id, reason)
	if err != nil {
		// The decision path failed outright; recovery is the fallback.
		if recErr := s.initiateRecovery(id, reason); recErr != nil {
			s.logger.Error("recovery escalation failed", zap.Error(recErr))
		}
		return Decision{}, err
	}

	if !decision.Resolved() {
		if recErr := s.initiateRecovery(id, reason); recErr != nil {
			return decision, fmt.Errorf("no replacement and recovery not engaged: %w", errors.Join(ErrResolutionFailed, recErr))
		}
		return decision, nil
	}

	if decision.FromStandby {
		s.adoptStandby(id, *decision.ReplacementModel)
	}
	return decision, nil
}

// initiateRecovery engages the recovery manager, tolerating an already
// running workflow.
func (s *System) initiateRecovery(id ModelID, reason string) error {
	err := s.recovery.InitiateRecovery(id, reason)
	if err != nil && errors.Is(err, ErrAlreadyRecovering) {
		return nil
	}
	return err
}

// adoptStandby registers a promoted standby as a tracked model instance so
// redirected traffic stays monitored.
func (s *System) adoptStandby(failed, standbyID ModelID) {
	standby, ok := s.backups.Standby(standbyID)
	if !ok {
		return
	}
	info := ModelInfo{
		ID:           standby.ID,
		Name:         fmt.Sprintf("standby-of-%s", failed),
		Capabilities: standby.Capabilities,
		Metrics:      ModelMetrics{ReportedAt: time.Now()},
	}
	if err := s.monitor.RegisterModel(info); err != nil {
		s.logger.Warn("adopt standby failed", zap.Error(err))
	}
}

// GetSystemHealth returns the latest periodic assessment snapshot.
func (s *System) GetSystemHealth() SystemHealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// CanOperate is the single boolean gate operators should trust: the
// coordinator is running, at least one standby is ready, and the failover
// success rate is above the configured floor.
func (s *System) CanOperate() bool {
	if !s.coordinator.CanOperate() {
		return false
	}
	if s.backups.GetMetrics().ReadyStandbyModels == 0 {
		return false
	}
	return s.collector.GetMetrics().FailoverSuccessRate > s.cfg.SuccessRateFloor
}

// GenerateFailoverReport composes the operator-facing report.
func (s *System) GenerateFailoverReport() Report {
	return Report{
		SystemHealth:    s.GetSystemHealth(),
		FailoverMetrics: s.collector.GetMetrics(),
		BackupMetrics:   s.backups.GetMetrics(),
		RecoveryMetrics: s.recovery.GetMetrics(),
		RecentEvents:    s.collector.RecentEvents(20),
		Recommendations: s.recommendations(),
		GeneratedAt:     time.Now(),
	}
}

// RecentEvents exposes the audit stream for external pipelines.
func (s *System) RecentEvents(n int) []EventRecord {
	return s.collector.RecentEvents(n)
}

// SubscribeEvents registers a listener on the audit stream.
func (s *System) SubscribeEvents(fn func(EventRecord)) {
	s.collector.Subscribe(fn)
}

func (s *System) isInitialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *System) healthLoop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = DefaultSystemConfig().HealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.assessHealth()
		case <-ctx.Done():
			return
		}
	}
}

// assessHealth recomputes the aggregate snapshot from a consistent, though
// possibly slightly stale, view of the subcomponents.
func (s *System) assessHealth() {
	total, healthy := s.monitor.Totals()
	active := s.coordinator.ActiveFailovers()
	coverage := s.backups.GetMetrics().StandbyCoverageRatio

	score := 1.0
	if total > 0 {
		score = float64(healthy) / float64(total)
	}
	s.healthScore.Set(score)

	status := SystemHealthStatus{
		OverallHealth:   computeOverallHealth(score, active),
		ActiveFailovers: active,
		ModelsAtRisk:    total - healthy,
		StandbyCoverage: coverage,
		LastHealthCheck: time.Now(),
	}

	s.mu.Lock()
	s.health = status
	s.mu.Unlock()
}

// computeOverallHealth grades the system. The tiers deliberately mix
// AND/OR conditions, and the Excellent tier requires the score to clear
// 0.9, not merely meet it: a 9-of-10 fleet with no active failovers grades
// Good.
func computeOverallHealth(score float64, activeFailovers int) SystemHealth {
	switch {
	case score > 0.9 && activeFailovers == 0:
		return HealthExcellent
	case score >= 0.7 && activeFailovers <= 1:
		return HealthGood
	case score >= 0.5 || activeFailovers <= 2:
		return HealthFair
	case score >= 0.3 || activeFailovers <= 5:
		return HealthPoor
	default:
		return HealthCritical
	}
}

// recommendations produces plain-text advisories. Informational only,
// never auto-acted.
func (s *System) recommendations() []string {
	var recs []string

	health := s.GetSystemHealth()
	metrics := s.collector.GetMetrics()
	backup := s.backups.GetMetrics()

	if health.OverallHealth == HealthCritical {
		recs = append(recs, "Critical system health - immediate intervention required")
	}
	if metrics.FailoverSuccessRate < 0.8 {
		recs = append(recs, "Low failover success rate - review failover strategies")
	}
	if backup.StandbyCoverageRatio < 0.5 {
		recs = append(recs, "Insufficient standby model coverage - increase standby instances")
	}
	if health.ActiveFailovers > 3 {
		recs = append(recs, "High number of active failovers - investigate root causes")
	}
	if len(recs) == 0 {
		recs = append(recs, "System operating normally")
	}
	return recs
}
