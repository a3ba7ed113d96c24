package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackupConfig configures the standby model pool. Immutable after
// construction.
type BackupConfig struct {
	// StandbysPerModel is the desired warm standby count per primary.
	StandbysPerModel int `yaml:"standbys_per_model"`
	// MaxStandbyModels caps the pool across all primaries.
	MaxStandbyModels int `yaml:"max_standby_models"`
	// WarmupTime is how long a standby takes to become ready.
	WarmupTime time.Duration `yaml:"warmup_time"`
	// WarmupTimeout marks a standby failed if warm-up exceeds it.
	WarmupTimeout time.Duration `yaml:"warmup_timeout"`
	// ManageInterval is the tick of the warm-up/bookkeeping loop.
	ManageInterval time.Duration `yaml:"manage_interval"`
}

// DefaultBackupConfig returns production defaults.
func DefaultBackupConfig() BackupConfig {
	return BackupConfig{
		StandbysPerModel: 1,
		MaxStandbyModels: 16,
		WarmupTime:       30 * time.Second,
		WarmupTimeout:    2 * time.Minute,
		ManageInterval:   5 * time.Second,
	}
}

// StandbyStatus is the lifecycle state of one standby instance.
type StandbyStatus string

const (
	StandbyInactive  StandbyStatus = "inactive"
	StandbyWarmingUp StandbyStatus = "warming_up"
	StandbyReady     StandbyStatus = "ready"
	StandbyPromoted  StandbyStatus = "promoted"
	StandbyFailed    StandbyStatus = "failed"
)

// StandbyModel is one pre-warmed instance attached to a primary model.
type StandbyModel struct {
	ID              ModelID       `json:"id"`
	PrimaryID       ModelID       `json:"primary_id"`
	Status          StandbyStatus `json:"status"`
	Capabilities    []string      `json:"capabilities,omitempty"`
	WarmupStartedAt time.Time     `json:"warmup_started_at,omitempty"`
	PromotedAt      time.Time     `json:"promoted_at,omitempty"`
}

// BackupManager maintains warm standby instances per primary model.
// Standbys are provisioned lazily and warmed by a background loop; a
// promoted standby is replenished asynchronously so callers never block.
type BackupManager struct {
	cfg    BackupConfig
	logger *zap.Logger

	mu        sync.Mutex
	standbys  map[ModelID]*StandbyModel
	byPrimary map[ModelID][]ModelID
	primaries int

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBackupManager creates a standby pool manager.
func NewBackupManager(cfg BackupConfig, logger *zap.Logger) *BackupManager {
	return &BackupManager{
		cfg:       cfg,
		logger:    logger,
		standbys:  make(map[ModelID]*StandbyModel),
		byPrimary: make(map[ModelID][]ModelID),
	}
}

// RegisterPrimaryModel attaches a standby pool to a newly registered
// primary, sized per config and subject to the global cap.
func (b *BackupManager) RegisterPrimaryModel(info ModelInfo) error {
	if info.ID == "" {
		return fmt.Errorf("register primary: id required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.byPrimary[info.ID]; ok {
		return fmt.Errorf("register primary %s: already registered", info.ID)
	}

	b.primaries++
	b.byPrimary[info.ID] = nil
	for i := 0; i < b.cfg.StandbysPerModel; i++ {
		b.provisionLocked(info.ID, info.Capabilities)
	}

	b.logger.Info("primary registered with standby pool",
		zap.String("model", info.ID.String()),
		zap.Int("standbys", len(b.byPrimary[info.ID])))
	return nil
}

// provisionLocked creates one inactive standby for a primary, respecting
// the global cap. Caller holds the lock.
func (b *BackupManager) provisionLocked(primary ModelID, capabilities []string) {
	if len(b.standbys) >= b.cfg.MaxStandbyModels {
		b.logger.Warn("standby pool at capacity, skipping provision",
			zap.String("primary", primary.String()))
		return
	}
	standby := &StandbyModel{
		ID:           NewModelID(),
		PrimaryID:    primary,
		Status:       StandbyInactive,
		Capabilities: append([]string(nil), capabilities...),
	}
	b.standbys[standby.ID] = standby
	b.byPrimary[primary] = append(b.byPrimary[primary], standby.ID)
}

// AcquireStandby atomically consumes a ready standby for the failed
// primary. Replenishment is scheduled in the same step but warmed in the
// background; the caller never waits on it.
func (b *BackupManager) AcquireStandby(primary ModelID) (StandbyModel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, id := range b.byPrimary[primary] {
		standby := b.standbys[id]
		if standby.Status != StandbyReady {
			continue
		}
		standby.Status = StandbyPromoted
		standby.PromotedAt = time.Now()

		// Replace the consumed slot; the manage loop warms it up.
		b.provisionLocked(primary, standby.Capabilities)

		b.logger.Info("standby promoted",
			zap.String("standby", id.String()),
			zap.String("primary", primary.String()))
		return *standby, true
	}
	return StandbyModel{}, false
}

// GetMetrics returns the current pool aggregate. The coverage ratio is
// ready standbys over desired standbys, clamped to [0,1].
func (b *BackupManager) GetMetrics() BackupMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := BackupMetrics{
		DesiredStandbyModels: b.primaries * b.cfg.StandbysPerModel,
	}
	for _, standby := range b.standbys {
		switch standby.Status {
		case StandbyReady:
			m.ReadyStandbyModels++
			m.TotalStandbyModels++
		case StandbyFailed:
			m.FailedStandbyModels++
			m.TotalStandbyModels++
		case StandbyInactive, StandbyWarmingUp:
			m.TotalStandbyModels++
		}
	}
	if m.DesiredStandbyModels > 0 {
		m.StandbyCoverageRatio = clamp01(float64(m.ReadyStandbyModels) / float64(m.DesiredStandbyModels))
	}
	return m
}

// StandbysFor returns copies of the standby records attached to a primary.
func (b *BackupManager) StandbysFor(primary ModelID) []StandbyModel {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]StandbyModel, 0, len(b.byPrimary[primary]))
	for _, id := range b.byPrimary[primary] {
		out = append(out, *b.standbys[id])
	}
	return out
}

// Standby looks up a single standby record by its own id.
func (b *BackupManager) Standby(id ModelID) (StandbyModel, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb, ok := b.standbys[id]
	if !ok {
		return StandbyModel{}, false
	}
	return *sb, true
}

// StartManagement launches the warm-up loop. Idempotent.
func (b *BackupManager) StartManagement() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running = true

	b.wg.Add(1)
	go b.manageLoop(ctx)
	b.logger.Info("standby management started",
		zap.Duration("interval", b.cfg.ManageInterval))
}

// StopManagement stops the loop and waits for it. Idempotent.
func (b *BackupManager) StopManagement() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	b.mu.Unlock()

	cancel()
	b.wg.Wait()
	b.logger.Info("standby management stopped")
}

func (b *BackupManager) manageLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.ManageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.warmStandbys(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// warmStandbys advances standby lifecycles: inactive standbys begin
// warming, warmed standbys become ready, and overdue warm-ups fail.
func (b *BackupManager) warmStandbys(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, standby := range b.standbys {
		switch standby.Status {
		case StandbyInactive:
			standby.Status = StandbyWarmingUp
			standby.WarmupStartedAt = now
			// Zero warm-up time readies the standby in the same tick.
			if b.cfg.WarmupTime <= 0 {
				standby.Status = StandbyReady
			}
		case StandbyWarmingUp:
			elapsed := now.Sub(standby.WarmupStartedAt)
			switch {
			case elapsed >= b.cfg.WarmupTime:
				standby.Status = StandbyReady
			case b.cfg.WarmupTimeout > 0 && elapsed >= b.cfg.WarmupTimeout:
				standby.Status = StandbyFailed
				b.logger.Warn("standby warm-up timed out",
					zap.String("standby", standby.ID.String()))
			}
		}
	}
}
