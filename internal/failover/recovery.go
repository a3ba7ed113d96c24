package failover

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecoveryConfig configures recovery workflows. Immutable after
// construction.
type RecoveryConfig struct {
	// MaxAttempts bounds retries before a model is quarantined.
	MaxAttempts int `yaml:"max_attempts"`
	// AttemptDelay is the base backoff between attempts.
	AttemptDelay time.Duration `yaml:"attempt_delay"`
	// BackoffMultiplier grows the delay per attempt: delay * m^(attempt-1).
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration `yaml:"max_delay"`
	// AttemptTimeout bounds one recovery attempt.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	// ManageInterval is the tick of the recovery loop.
	ManageInterval time.Duration `yaml:"manage_interval"`
}

// DefaultRecoveryConfig returns production defaults.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxAttempts:       3,
		AttemptDelay:      30 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Minute,
		AttemptTimeout:    30 * time.Second,
		ManageInterval:    5 * time.Second,
	}
}

// RecoveryProbe attempts to restore one failed model instance (restart,
// reload) and reports whether it came back. Probes run inside the recovery
// loop, never on a caller's path.
type RecoveryProbe func(ctx context.Context, id ModelID) error

// RecoveryStatus is the lifecycle state of one recovery operation.
type RecoveryStatus string

const (
	RecoveryInProgress RecoveryStatus = "in_progress"
	RecoverySucceeded  RecoveryStatus = "succeeded"
	RecoveryFailed     RecoveryStatus = "failed"
	RecoveryCancelled  RecoveryStatus = "cancelled"
)

// RecoveryOperation tracks one model's recovery workflow.
type RecoveryOperation struct {
	ModelID       ModelID        `json:"model_id"`
	Reason        string         `json:"reason"`
	Status        RecoveryStatus `json:"status"`
	Attempts      int            `json:"attempts"`
	StartedAt     time.Time      `json:"started_at"`
	LastAttemptAt time.Time      `json:"last_attempt_at,omitempty"`
	CompletedAt   time.Time      `json:"completed_at,omitempty"`
}

// EventRecorder receives failover-relevant events. Recording failures are
// observability-path errors: callers log them and move on.
type EventRecorder interface {
	RecordFailoverEvent(EventRecord) error
}

// RecoveryManager nurses failed models back to service, decoupled from the
// failover path: a model recovers in the background while its traffic has
// already been redirected. Terminal failure quarantines the model; it never
// aborts the orchestrator.
type RecoveryManager struct {
	cfg      RecoveryConfig
	monitor  *HealthMonitor
	recorder EventRecorder
	logger   *zap.Logger

	mu      sync.Mutex
	probe   RecoveryProbe
	active  map[ModelID]*RecoveryOperation
	history []RecoveryOperation

	totalOps      uint64
	totalAttempts uint64
	successes     uint64
	failures      uint64
	recoveryTime  time.Duration // accumulated over successful operations
	running       bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

const recoveryHistoryLimit = 256

// NewRecoveryManager creates a recovery manager. The default probe declares
// success once the monitor classifies the model healthy again; integrations
// override it with SetProbe to hook real restart/reload paths.
func NewRecoveryManager(cfg RecoveryConfig, monitor *HealthMonitor, recorder EventRecorder, logger *zap.Logger) *RecoveryManager {
	r := &RecoveryManager{
		cfg:      cfg,
		monitor:  monitor,
		recorder: recorder,
		logger:   logger,
		active:   make(map[ModelID]*RecoveryOperation),
	}
	r.probe = r.defaultProbe
	return r
}

// SetProbe replaces the recovery probe. Call before StartRecoveryManagement.
func (r *RecoveryManager) SetProbe(probe RecoveryProbe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if probe != nil {
		r.probe = probe
	}
}

func (r *RecoveryManager) defaultProbe(_ context.Context, id ModelID) error {
	if r.monitor.ModelState(id) == StateHealthy {
		return nil
	}
	return fmt.Errorf("model %s still unhealthy", id)
}

// InitiateRecovery enqueues a recovery workflow for a failed model. The
// workflow runs on the background loop; this call returns promptly.
func (r *RecoveryManager) InitiateRecovery(id ModelID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("initiate recovery for %s: %w", id, ErrServiceUnavailable)
	}
	if !r.monitor.IsRegistered(id) {
		return fmt.Errorf("initiate recovery for %s: %w", id, ErrNotRegistered)
	}
	if _, inFlight := r.active[id]; inFlight {
		return fmt.Errorf("initiate recovery for %s: %w", id, ErrAlreadyRecovering)
	}

	r.active[id] = &RecoveryOperation{
		ModelID:   id,
		Reason:    reason,
		Status:    RecoveryInProgress,
		StartedAt: time.Now(),
	}
	r.totalOps++

	r.logger.Info("recovery initiated",
		zap.String("model", id.String()),
		zap.String("reason", reason))
	return nil
}

// CancelRecovery abandons an in-flight recovery.
func (r *RecoveryManager) CancelRecovery(id ModelID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.active[id]
	if !ok {
		return
	}
	op.Status = RecoveryCancelled
	op.CompletedAt = time.Now()
	r.retireLocked(id, op)
	r.logger.Info("recovery cancelled", zap.String("model", id.String()))
}

// RecoveryStatusFor returns the active operation for a model, if any.
func (r *RecoveryManager) RecoveryStatusFor(id ModelID) (RecoveryOperation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if op, ok := r.active[id]; ok {
		return *op, true
	}
	return RecoveryOperation{}, false
}

// History returns the most recent completed operations, newest first.
func (r *RecoveryManager) History(n int) []RecoveryOperation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > len(r.history) {
		n = len(r.history)
	}
	out := make([]RecoveryOperation, 0, n)
	for i := len(r.history) - 1; i >= len(r.history)-n; i-- {
		out = append(out, r.history[i])
	}
	return out
}

// GetMetrics returns the recovery aggregate.
func (r *RecoveryManager) GetMetrics() RecoveryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := RecoveryMetrics{
		TotalOperations:  r.totalOps,
		TotalAttempts:    r.totalAttempts,
		Successes:        r.successes,
		Failures:         r.failures,
		ActiveRecoveries: len(r.active),
	}
	if r.successes > 0 {
		m.MeanTimeToRecovery = r.recoveryTime / time.Duration(r.successes)
	}
	return m
}

// StartRecoveryManagement launches the recovery loop. Idempotent.
func (r *RecoveryManager) StartRecoveryManagement() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go r.recoveryLoop(ctx)
	r.logger.Info("recovery management started",
		zap.Duration("interval", r.cfg.ManageInterval))
}

// StopRecoveryManagement stops the loop, letting an in-flight attempt
// finish. Idempotent.
func (r *RecoveryManager) StopRecoveryManagement() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.logger.Info("recovery management stopped")
}

func (r *RecoveryManager) recoveryLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.ManageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runPending(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// runPending executes one attempt for every operation whose backoff has
// elapsed.
func (r *RecoveryManager) runPending(ctx context.Context, now time.Time) {
	r.mu.Lock()
	due := make([]ModelID, 0, len(r.active))
	for id, op := range r.active {
		if op.LastAttemptAt.IsZero() || now.Sub(op.LastAttemptAt) >= r.backoff(op.Attempts) {
			due = append(due, id)
		}
	}
	probe := r.probe
	r.mu.Unlock()

	for _, id := range due {
		if ctx.Err() != nil {
			return
		}
		r.attempt(ctx, id, probe)
	}
}

// attempt runs one bounded recovery attempt and records the outcome.
func (r *RecoveryManager) attempt(ctx context.Context, id ModelID, probe RecoveryProbe) {
	attemptCtx := ctx
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}

	err := probe(attemptCtx, id)

	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.active[id]
	if !ok || op.Status != RecoveryInProgress {
		return
	}
	op.Attempts++
	op.LastAttemptAt = time.Now()
	r.totalAttempts++

	switch {
	case err == nil:
		op.Status = RecoverySucceeded
		op.CompletedAt = time.Now()
		r.successes++
		r.recoveryTime += op.CompletedAt.Sub(op.StartedAt)
		r.retireLocked(id, op)

		if markErr := r.monitor.MarkRecovered(id); markErr != nil {
			r.logger.Warn("mark recovered failed", zap.Error(markErr))
		}
		r.record(EventRecord{
			ModelID:   id,
			Type:      EventRecoverySucceeded,
			Timestamp: op.CompletedAt,
			Duration:  op.CompletedAt.Sub(op.StartedAt),
			Success:   true,
			Details:   fmt.Sprintf("recovered after %d attempt(s)", op.Attempts),
		})
		r.logger.Info("recovery succeeded",
			zap.String("model", id.String()),
			zap.Int("attempts", op.Attempts))

	case op.Attempts >= r.cfg.MaxAttempts:
		op.Status = RecoveryFailed
		op.CompletedAt = time.Now()
		r.failures++
		r.retireLocked(id, op)

		// Terminal failure: the model leaves the candidate set for good.
		if qErr := r.monitor.Quarantine(id); qErr != nil {
			r.logger.Warn("quarantine failed", zap.Error(qErr))
		}
		r.record(EventRecord{
			ModelID:   id,
			Type:      EventRecoveryFailed,
			Timestamp: op.CompletedAt,
			Duration:  op.CompletedAt.Sub(op.StartedAt),
			Success:   false,
			Details:   fmt.Sprintf("exhausted %d attempts: %v", op.Attempts, err),
		})
		r.logger.Warn("recovery failed, model quarantined",
			zap.String("model", id.String()),
			zap.Int("attempts", op.Attempts),
			zap.Error(err))

	default:
		// Transient failure, retries remain. Internal only.
		r.logger.Debug("recovery attempt failed, will retry",
			zap.String("model", id.String()),
			zap.Int("attempt", op.Attempts),
			zap.Error(err))
	}
}

// retireLocked moves a finished operation to history. Caller holds the lock.
func (r *RecoveryManager) retireLocked(id ModelID, op *RecoveryOperation) {
	delete(r.active, id)
	r.history = append(r.history, *op)
	if len(r.history) > recoveryHistoryLimit {
		r.history = r.history[1:]
	}
}

// record forwards an event; recording failures are logged, never surfaced.
func (r *RecoveryManager) record(ev EventRecord) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordFailoverEvent(ev); err != nil {
		r.logger.Warn("event recording failed", zap.Error(err))
	}
}

// backoff computes the delay before the next attempt.
func (r *RecoveryManager) backoff(attempts int) time.Duration {
	if attempts <= 1 {
		return r.cfg.AttemptDelay
	}
	multiplier := r.cfg.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := time.Duration(float64(r.cfg.AttemptDelay) * math.Pow(multiplier, float64(attempts-1)))
	if r.cfg.MaxDelay > 0 && delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	return delay
}
