package failover

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCoordinatorConfig() CoordinatorConfig {
	cfg := DefaultCoordinatorConfig()
	cfg.ManageInterval = time.Hour
	return cfg
}

type coordinatorFixture struct {
	monitor     *HealthMonitor
	backups     *BackupManager
	collector   *MetricsCollector
	coordinator *Coordinator
}

func newCoordinatorFixture(t *testing.T, cfg CoordinatorConfig) *coordinatorFixture {
	t.Helper()

	monitor := newTestMonitor(t)
	backups := NewBackupManager(testBackupConfig(), zap.NewNop())
	collector := NewMetricsCollector(DefaultMetricsConfig(), nil, zap.NewNop())

	coordinator, err := NewCoordinator(cfg, monitor, backups, collector, zap.NewNop())
	require.NoError(t, err)

	coordinator.StartCoordination()
	t.Cleanup(coordinator.StopCoordination)

	return &coordinatorFixture{
		monitor:     monitor,
		backups:     backups,
		collector:   collector,
		coordinator: coordinator,
	}
}

// registerWithStandby registers a primary and warms its standby to ready.
func (f *coordinatorFixture) registerWithStandby(t *testing.T) ModelID {
	t.Helper()

	id := NewModelID()
	require.NoError(t, f.monitor.RegisterModel(ModelInfo{ID: id, Metrics: goodMetrics()}))
	require.NoError(t, f.backups.RegisterPrimaryModel(ModelInfo{ID: id}))
	f.backups.warmStandbys(time.Now())
	return id
}

func TestCoordinator_UnknownStrategy(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.Strategy = "coin-flip"

	_, err := NewCoordinator(cfg, nil, nil, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestCoordinator_FailoverToStandby(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())
	failed := f.registerWithStandby(t)

	decision, err := f.coordinator.HandleModelFailure(context.Background(), failed, "latency spike")
	require.NoError(t, err)

	require.True(t, decision.Resolved())
	assert.True(t, decision.FromStandby)
	assert.Equal(t, failed, decision.FailedModel)
	assert.NotEqual(t, failed, *decision.ReplacementModel)

	assert.Equal(t, 1, f.coordinator.ActiveFailovers())

	// Exactly one failure event and one executed failover were recorded
	m := f.collector.GetMetrics()
	assert.Equal(t, uint64(1), m.TotalFailures)
	assert.Equal(t, uint64(1), m.ExecutedFailovers)
	assert.Equal(t, 1.0, m.FailoverSuccessRate)
}

func TestCoordinator_FailoverToHealthyPeer(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())

	failed, idle, busy := NewModelID(), NewModelID(), NewModelID()
	require.NoError(t, f.monitor.RegisterModel(ModelInfo{ID: failed, Metrics: goodMetrics()}))
	require.NoError(t, f.monitor.RegisterModel(ModelInfo{ID: busy, Metrics: ModelMetrics{Load: 0.9, ReportedAt: time.Now()}}))
	require.NoError(t, f.monitor.RegisterModel(ModelInfo{ID: idle, Metrics: ModelMetrics{Load: 0.1, ReportedAt: time.Now()}}))

	decision, err := f.coordinator.HandleModelFailure(context.Background(), failed, "crash")
	require.NoError(t, err)

	require.True(t, decision.Resolved())
	assert.False(t, decision.FromStandby)
	assert.Equal(t, idle, *decision.ReplacementModel) // least-loaded wins
}

func TestCoordinator_EscalatesWithoutCandidates(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())

	failed := NewModelID()
	require.NoError(t, f.monitor.RegisterModel(ModelInfo{ID: failed, Metrics: goodMetrics()}))

	decision, err := f.coordinator.HandleModelFailure(context.Background(), failed, "crash")
	require.NoError(t, err) // escalation is an outcome, not an error

	assert.False(t, decision.Resolved())
	assert.Contains(t, decision.Reason, "escalating to recovery")

	m := f.collector.GetMetrics()
	assert.Equal(t, uint64(1), m.TotalFailures)
	assert.Equal(t, uint64(0), m.ExecutedFailovers)
	assert.Equal(t, uint64(1), m.EscalatedFailures)
}

func TestCoordinator_NotRunning(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())
	f.coordinator.StopCoordination()

	_, err := f.coordinator.HandleModelFailure(context.Background(), NewModelID(), "crash")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.False(t, f.coordinator.CanOperate())
}

func TestCoordinator_UnregisteredModel(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())

	_, err := f.coordinator.HandleModelFailure(context.Background(), NewModelID(), "crash")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestCoordinator_Cooldown(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.Cooldown = time.Hour
	cfg.CooldownBurst = 1
	f := newCoordinatorFixture(t, cfg)

	first := f.registerWithStandby(t)
	second := f.registerWithStandby(t)

	_, err := f.coordinator.HandleModelFailure(context.Background(), first, "crash")
	require.NoError(t, err)

	_, err = f.coordinator.HandleModelFailure(context.Background(), second, "crash")
	assert.ErrorIs(t, err, ErrServiceUnavailable) // cooldown is a service-unavailable condition
}

func TestCoordinator_BreakerOpensAfterRepeatedEscalation(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.BreakerThreshold = 2
	f := newCoordinatorFixture(t, cfg)

	failed := NewModelID()
	require.NoError(t, f.monitor.RegisterModel(ModelInfo{ID: failed, Metrics: goodMetrics()}))

	// Two unresolved failovers trip the breaker
	for i := 0; i < 2; i++ {
		decision, err := f.coordinator.HandleModelFailure(context.Background(), failed, "crash")
		require.NoError(t, err)
		assert.Contains(t, decision.Reason, "no replacement available")
	}

	decision, err := f.coordinator.HandleModelFailure(context.Background(), failed, "crash")
	require.NoError(t, err)
	assert.False(t, decision.Resolved())
	assert.Contains(t, decision.Reason, "breaker open")
}

func TestCoordinator_ConcurrentFailuresGetDistinctStandbys(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())

	first := f.registerWithStandby(t)
	second := f.registerWithStandby(t)

	var wg sync.WaitGroup
	decisions := make([]Decision, 2)
	for i, id := range []ModelID{first, second} {
		wg.Add(1)
		go func(i int, id ModelID) {
			defer wg.Done()
			d, err := f.coordinator.HandleModelFailure(context.Background(), id, "crash")
			assert.NoError(t, err)
			decisions[i] = d
		}(i, id)
	}
	wg.Wait()

	require.True(t, decisions[0].Resolved())
	require.True(t, decisions[1].Resolved())
	assert.NotEqual(t, *decisions[0].ReplacementModel, *decisions[1].ReplacementModel)
}

func TestCoordinator_SameModelConcurrencySharesOutcome(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())
	failed := f.registerWithStandby(t)

	const callers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	replacements := make(map[ModelID]struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.coordinator.HandleModelFailure(context.Background(), failed, "crash")
			assert.NoError(t, err)
			if d.Resolved() {
				mu.Lock()
				replacements[*d.ReplacementModel] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Only one standby was ever ready, so at most one replacement id exists
	// and the model holds a single active failover.
	assert.LessOrEqual(t, len(replacements), 1)
	assert.Equal(t, 1, f.coordinator.ActiveFailovers())
}

func TestCoordinator_ClearAndPrune(t *testing.T) {
	cfg := testCoordinatorConfig()
	cfg.DecisionRetention = time.Nanosecond
	f := newCoordinatorFixture(t, cfg)
	failed := f.registerWithStandby(t)

	_, err := f.coordinator.HandleModelFailure(context.Background(), failed, "crash")
	require.NoError(t, err)
	require.Equal(t, 1, f.coordinator.ActiveFailovers())

	f.coordinator.pruneActive(time.Now().Add(time.Second))
	assert.Equal(t, 0, f.coordinator.ActiveFailovers())

	// History is unaffected by pruning
	assert.Len(t, f.coordinator.History(10), 1)
}

func TestCoordinator_History(t *testing.T) {
	f := newCoordinatorFixture(t, testCoordinatorConfig())

	first := f.registerWithStandby(t)
	second := f.registerWithStandby(t)

	_, err := f.coordinator.HandleModelFailure(context.Background(), first, "crash")
	require.NoError(t, err)
	_, err = f.coordinator.HandleModelFailure(context.Background(), second, "crash")
	require.NoError(t, err)

	history := f.coordinator.History(10)
	require.Len(t, history, 2)
	assert.Equal(t, second, history[0].FailedModel) // newest first
	assert.Equal(t, first, history[1].FailedModel)
}
