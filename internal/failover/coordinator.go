package failover

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// CoordinatorConfig configures the failover decision engine. Immutable
// after construction.
type CoordinatorConfig struct {
	// Strategy names the candidate-ranking strategy (first-fit,
	// least-loaded, weighted).
	Strategy string `yaml:"strategy"`
	// Cooldown is the minimum spacing between failover decisions across
	// the whole coordinator. Zero disables it.
	Cooldown time.Duration `yaml:"cooldown"`
	// CooldownBurst is how many decisions may run back-to-back before the
	// cooldown applies.
	CooldownBurst int `yaml:"cooldown_burst"`
	// BreakerThreshold is how many consecutive unresolved failovers for one
	// model trip its circuit breaker.
	BreakerThreshold uint32 `yaml:"breaker_threshold"`
	// BreakerOpenFor is how long a tripped breaker stays open.
	BreakerOpenFor time.Duration `yaml:"breaker_open_for"`
	// DecisionRetention is how long resolved decisions stay in the active
	// set before the coordination loop prunes them.
	DecisionRetention time.Duration `yaml:"decision_retention"`
	// ManageInterval is the tick of the coordination loop.
	ManageInterval time.Duration `yaml:"manage_interval"`
	// HistoryLimit bounds the decision history ring.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultCoordinatorConfig returns production defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Strategy:          StrategyLeastLoaded,
		Cooldown:          0,
		CooldownBurst:     1,
		BreakerThreshold:  5,
		BreakerOpenFor:    time.Minute,
		DecisionRetention: 10 * time.Minute,
		ManageInterval:    10 * time.Second,
		HistoryLimit:      1000,
	}
}

type activeFailover struct {
	decision   Decision
	recordedAt time.Time
}

// Coordinator is the failover decision engine. Given a failure
// notification it consumes a ready standby or picks a healthy peer via the
// configured strategy; with neither available it escalates (replacement
// nil) and the caller engages recovery.
//
// Failures for different models are decided in parallel; failures for the
// same model are serialized, so a concurrent second call observes the
// in-flight decision rather than re-deciding.
type Coordinator struct {
	cfg      CoordinatorConfig
	strategy Strategy
	monitor  *HealthMonitor
	standbys *BackupManager
	recorder EventRecorder
	logger   *zap.Logger
	limiter  *rate.Limiter

	flight singleflight.Group

	mu       sync.Mutex
	breakers map[ModelID]*gobreaker.CircuitBreaker
	active   map[ModelID]activeFailover
	history  []Decision

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator creates a decision engine.
func NewCoordinator(cfg CoordinatorConfig, monitor *HealthMonitor, standbys *BackupManager, recorder EventRecorder, logger *zap.Logger) (*Coordinator, error) {
	strategy, err := StrategyByName(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultCoordinatorConfig().HistoryLimit
	}

	var limiter *rate.Limiter
	if cfg.Cooldown > 0 {
		burst := cfg.CooldownBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(cfg.Cooldown), burst)
	}

	return &Coordinator{
		cfg:      cfg,
		strategy: strategy,
		monitor:  monitor,
		standbys: standbys,
		recorder: recorder,
		logger:   logger,
		limiter:  limiter,
		breakers: make(map[ModelID]*gobreaker.CircuitBreaker),
		active:   make(map[ModelID]activeFailover),
	}, nil
}

// StartCoordination launches the coordination loop. Idempotent.
func (c *Coordinator) StartCoordination() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.coordinationLoop(ctx)
	c.logger.Info("failover coordination started",
		zap.String("strategy", c.strategy.Name()))
}

// StopCoordination stops the loop and waits for it. Idempotent.
func (c *Coordinator) StopCoordination() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
	c.logger.Info("failover coordination stopped")
}

// CanOperate reports whether the coordinator is able to decide failovers:
// true only while its background loop is running.
func (c *Coordinator) CanOperate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// HandleModelFailure decides how to absorb one model failure. The failure
// is recorded, candidates are evaluated and the decision is returned within
// the caller's deadline. Concurrent calls for the same model share one
// decision.
func (c *Coordinator) HandleModelFailure(ctx context.Context, id ModelID, reason string) (Decision, error) {
	if !c.CanOperate() {
		return Decision{}, fmt.Errorf("handle failure for %s: %w", id, ErrServiceUnavailable)
	}
	if !c.monitor.IsRegistered(id) {
		return Decision{}, fmt.Errorf("handle failure for %s: %w", id, ErrNotRegistered)
	}

	v, err, _ := c.flight.Do(string(id), func() (interface{}, error) {
		return c.decide(ctx, id, reason)
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

func (c *Coordinator) decide(ctx context.Context, id ModelID, reason string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("failover cooldown active", zap.String("model", id.String()))
		return Decision{}, ErrCooldown
	}

	// Observability first, fire-and-forget: a recording failure never
	// blocks the decision.
	c.record(EventRecord{
		ModelID:   id,
		Type:      EventModelFailure,
		Timestamp: time.Now(),
		Success:   false,
		Details:   reason,
	})

	started := time.Now()
	replacement, fromStandby, resolveErr := c.resolveReplacement(id)

	decision := Decision{
		FailedModel: id,
		Timestamp:   time.Now(),
	}

	switch {
	case resolveErr == nil:
		decision.ReplacementModel = &replacement
		decision.FromStandby = fromStandby
		source := "peer"
		if fromStandby {
			source = "standby"
		}
		decision.Reason = fmt.Sprintf("model %s failed (%s); redirecting to %s %s", id, reason, source, replacement)

		c.record(EventRecord{
			ModelID:   id,
			Type:      EventFailoverExecuted,
			Timestamp: decision.Timestamp,
			Duration:  time.Since(started),
			Success:   true,
			Details:   decision.Reason,
		})
		c.logger.Info("failover executed",
			zap.String("failed", id.String()),
			zap.String("replacement", replacement.String()),
			zap.Bool("from_standby", fromStandby))

	case errors.Is(resolveErr, gobreaker.ErrOpenState):
		decision.Reason = fmt.Sprintf("model %s failed (%s); failover breaker open, escalating to recovery", id, reason)
		c.logger.Warn("failover breaker open",
			zap.String("model", id.String()))

	default:
		decision.Reason = fmt.Sprintf("model %s failed (%s); no replacement available, escalating to recovery", id, reason)
		c.logger.Warn("no failover replacement",
			zap.String("model", id.String()),
			zap.String("reason", reason))
	}

	c.remember(id, decision)
	return decision, nil
}

// resolveReplacement runs candidate selection inside the failed model's
// circuit breaker: repeated unresolved failovers for one model trip it, and
// while open the coordinator escalates immediately instead of re-deciding.
func (c *Coordinator) resolveReplacement(id ModelID) (ModelID, bool, error) {
	breaker := c.breakerFor(id)

	type resolution struct {
		replacement ModelID
		fromStandby bool
	}

	v, err := breaker.Execute(func() (interface{}, error) {
		if standby, ok := c.standbys.AcquireStandby(id); ok {
			return resolution{replacement: standby.ID, fromStandby: true}, nil
		}
		ranked := c.strategy.Rank(c.monitor.Candidates(id))
		if len(ranked) == 0 {
			return nil, fmt.Errorf("no candidates for %s: %w", id, ErrResolutionFailed)
		}
		return resolution{replacement: ranked[0].ID}, nil
	})
	if err != nil {
		return "", false, err
	}
	res := v.(resolution)
	return res.replacement, res.fromStandby, nil
}

func (c *Coordinator) breakerFor(id ModelID) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if breaker, ok := c.breakers[id]; ok {
		return breaker
	}
	threshold := c.cfg.BreakerThreshold
	if threshold == 0 {
		threshold = DefaultCoordinatorConfig().BreakerThreshold
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(id),
		MaxRequests: 1,
		Timeout:     c.cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("failover breaker state change",
				zap.String("model", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	c.breakers[id] = breaker
	return breaker
}

// remember stores the decision in the active set and history ring.
func (c *Coordinator) remember(id ModelID, decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active[id] = activeFailover{decision: decision, recordedAt: time.Now()}
	c.history = append(c.history, decision)
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[1:]
	}
}

// ClearFailover drops a model's active failover entry, e.g. once the model
// has recovered.
func (c *Coordinator) ClearFailover(id ModelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
}

// ActiveFailovers returns the count of in-effect failovers.
func (c *Coordinator) ActiveFailovers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// History returns the most recent decisions, newest first.
func (c *Coordinator) History(n int) []Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n > len(c.history) {
		n = len(c.history)
	}
	out := make([]Decision, 0, n)
	for i := len(c.history) - 1; i >= len(c.history)-n; i-- {
		out = append(out, c.history[i])
	}
	return out
}

func (c *Coordinator) coordinationLoop(ctx context.Context) {
	defer c.wg.Done()

	interval := c.cfg.ManageInterval
	if interval <= 0 {
		interval = DefaultCoordinatorConfig().ManageInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.pruneActive(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// pruneActive expires active failover entries past their retention.
func (c *Coordinator) pruneActive(now time.Time) {
	if c.cfg.DecisionRetention <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, entry := range c.active {
		if now.Sub(entry.recordedAt) > c.cfg.DecisionRetention {
			delete(c.active, id)
		}
	}
}

// record forwards an event; recording failures are logged, never surfaced.
func (c *Coordinator) record(ev EventRecord) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordFailoverEvent(ev); err != nil {
		c.logger.Warn("event recording failed", zap.Error(err))
	}
}
