package failover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitorConfig configures model health classification. Immutable
// after construction.
type HealthMonitorConfig struct {
	// CheckInterval is the tick of the staleness sweep.
	CheckInterval time.Duration `yaml:"check_interval"`
	// DegradedBelow / UnhealthyBelow are rolling-score boundaries.
	DegradedBelow  float64 `yaml:"degraded_below"`
	UnhealthyBelow float64 `yaml:"unhealthy_below"`
	// StaleAfter degrades a model that has not reported for this long.
	StaleAfter time.Duration `yaml:"stale_after"`
	// ScoreSmoothing is the EMA weight given to the newest report.
	ScoreSmoothing float64 `yaml:"score_smoothing"`
	// MaxLatency is the latency normalization ceiling for scoring.
	MaxLatency time.Duration `yaml:"max_latency"`
}

// DefaultHealthMonitorConfig returns production defaults.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckInterval:  10 * time.Second,
		DegradedBelow:  0.7,
		UnhealthyBelow: 0.4,
		StaleAfter:     2 * time.Minute,
		ScoreSmoothing: 0.4,
		MaxLatency:     2 * time.Second,
	}
}

// Candidate is a monitor-side view of a model offered to failover
// strategies for ranking.
type Candidate struct {
	ID     ModelID
	Load   float64
	Score  float64
	Weight float64
	Seq    uint64 // registration order
}

type modelEntry struct {
	info       ModelInfo
	seq        uint64
	score      float64
	state      HealthState
	lastReport time.Time
}

// HealthMonitor tracks registered model instances and classifies them from
// reported metrics. A model crossing into unhealthy only changes its
// candidacy; it never triggers a failover by itself.
type HealthMonitor struct {
	cfg    HealthMonitorConfig
	logger *zap.Logger

	mu      sync.RWMutex
	models  map[ModelID]*modelEntry
	order   []ModelID
	nextSeq uint64

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHealthMonitor creates a monitor. Monitoring starts on StartMonitoring.
func NewHealthMonitor(cfg HealthMonitorConfig, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		cfg:    cfg,
		logger: logger,
		models: make(map[ModelID]*modelEntry),
	}
}

// RegisterModel adds a model with its initial metrics snapshot.
func (h *HealthMonitor) RegisterModel(info ModelInfo) error {
	if info.ID == "" {
		return fmt.Errorf("register model: id required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.models[info.ID]; ok {
		return fmt.Errorf("register model %s: already registered", info.ID)
	}

	entry := &modelEntry{
		info:       info,
		seq:        h.nextSeq,
		score:      h.scoreOf(info.Metrics),
		lastReport: time.Now(),
	}
	entry.state = h.classify(entry.score)
	h.nextSeq++

	h.models[info.ID] = entry
	h.order = append(h.order, info.ID)

	h.logger.Info("model registered",
		zap.String("model", info.ID.String()),
		zap.String("state", entry.state.String()),
		zap.Float64("score", entry.score))
	return nil
}

// DeregisterModel removes a model from tracking.
func (h *HealthMonitor) DeregisterModel(id ModelID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.models[id]; !ok {
		return
	}
	delete(h.models, id)
	for i, mid := range h.order {
		if mid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// ReportHealth folds a fresh metrics snapshot into the model's rolling
// score and reclassifies it.
func (h *HealthMonitor) ReportHealth(id ModelID, m ModelMetrics) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.models[id]
	if !ok {
		return fmt.Errorf("report health for %s: %w", id, ErrNotRegistered)
	}

	alpha := h.cfg.ScoreSmoothing
	entry.score = alpha*h.scoreOf(m) + (1-alpha)*entry.score
	entry.info.Metrics = m
	entry.lastReport = time.Now()

	if entry.state != StateQuarantined {
		h.transition(entry, h.classify(entry.score))
	}
	return nil
}

// MarkRecovered resets a model to a healthy baseline after a successful
// recovery workflow.
func (h *HealthMonitor) MarkRecovered(id ModelID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.models[id]
	if !ok {
		return fmt.Errorf("mark recovered %s: %w", id, ErrNotRegistered)
	}
	entry.score = 1.0
	entry.lastReport = time.Now()
	h.transition(entry, StateHealthy)
	return nil
}

// Quarantine marks a model permanently unhealthy. Quarantined models never
// re-enter the candidate set automatically.
func (h *HealthMonitor) Quarantine(id ModelID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.models[id]
	if !ok {
		return fmt.Errorf("quarantine %s: %w", id, ErrNotRegistered)
	}
	h.transition(entry, StateQuarantined)
	return nil
}

// StartMonitoring launches the staleness sweep. Idempotent.
func (h *HealthMonitor) StartMonitoring() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.running = true

	h.wg.Add(1)
	go h.sweepLoop(ctx)
	h.logger.Info("health monitoring started",
		zap.Duration("interval", h.cfg.CheckInterval))
}

// StopMonitoring stops the sweep and waits for it to exit. Idempotent and
// safe to call at any time.
func (h *HealthMonitor) StopMonitoring() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.cancel
	h.mu.Unlock()

	cancel()
	h.wg.Wait()
	h.logger.Info("health monitoring stopped")
}

func (h *HealthMonitor) sweepLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweepStale()
		case <-ctx.Done():
			return
		}
	}
}

// sweepStale degrades models whose runtime has gone quiet.
func (h *HealthMonitor) sweepStale() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for _, entry := range h.models {
		if entry.state == StateQuarantined {
			continue
		}
		if now.Sub(entry.lastReport) <= h.cfg.StaleAfter {
			continue
		}
		switch entry.state {
		case StateHealthy:
			h.transition(entry, StateDegraded)
		case StateDegraded:
			h.transition(entry, StateUnhealthy)
		}
	}
}

// FailoverCandidates returns healthy models in registration order,
// excluding the given ids. An empty registry yields an empty set.
func (h *HealthMonitor) FailoverCandidates(exclude ...ModelID) []ModelID {
	candidates := h.Candidates(exclude...)
	ids := make([]ModelID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	return ids
}

// Candidates is FailoverCandidates with the load/score/weight detail the
// ranking strategies need.
func (h *HealthMonitor) Candidates(exclude ...ModelID) []Candidate {
	excluded := make(map[ModelID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	candidates := make([]Candidate, 0, len(h.order))
	for _, id := range h.order {
		if _, skip := excluded[id]; skip {
			continue
		}
		entry := h.models[id]
		if entry.state != StateHealthy {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:     id,
			Load:   entry.info.Metrics.Load,
			Score:  entry.score,
			Weight: entry.info.Weight,
			Seq:    entry.seq,
		})
	}
	return candidates
}

// ModelState returns the current classification for a model.
func (h *HealthMonitor) ModelState(id ModelID) HealthState {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if entry, ok := h.models[id]; ok {
		return entry.state
	}
	return StateUnknown
}

// IsRegistered reports whether the id is currently tracked.
func (h *HealthMonitor) IsRegistered(id ModelID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.models[id]
	return ok
}

// Totals returns (total, healthy) model counts for system scoring.
func (h *HealthMonitor) Totals() (int, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	healthy := 0
	for _, entry := range h.models {
		if entry.state == StateHealthy {
			healthy++
		}
	}
	return len(h.models), healthy
}

// scoreOf computes the instantaneous health score of one snapshot.
func (h *HealthMonitor) scoreOf(m ModelMetrics) float64 {
	latencyFactor := 1.0
	if h.cfg.MaxLatency > 0 {
		ratio := float64(m.Latency) / float64(h.cfg.MaxLatency)
		if ratio > 1 {
			ratio = 1
		}
		latencyFactor = 1 - ratio
	}

	errorRate := clamp01(m.ErrorRate)
	load := clamp01(m.Load)

	return 0.5*(1-errorRate) + 0.3*latencyFactor + 0.2*(1-load)
}

func (h *HealthMonitor) classify(score float64) HealthState {
	switch {
	case score >= h.cfg.DegradedBelow:
		return StateHealthy
	case score >= h.cfg.UnhealthyBelow:
		return StateDegraded
	default:
		return StateUnhealthy
	}
}

// transition updates state and logs the change. Caller holds the lock.
func (h *HealthMonitor) transition(entry *modelEntry, next HealthState) {
	if entry.state == next {
		return
	}
	h.logger.Info("model health transition",
		zap.String("model", entry.info.ID.String()),
		zap.String("from", entry.state.String()),
		zap.String("to", next.String()),
		zap.Float64("score", entry.score))
	entry.state = next
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
