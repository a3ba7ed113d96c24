package failover

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(cfg MetricsConfig) *MetricsCollector {
	return NewMetricsCollector(cfg, nil, zap.NewNop())
}

func failureEvent(id ModelID) EventRecord {
	return EventRecord{ModelID: id, Type: EventModelFailure, Timestamp: time.Now(), Details: "crash"}
}

func TestMetricsCollector_RejectsMalformedEvents(t *testing.T) {
	c := newTestCollector(DefaultMetricsConfig())

	err := c.RecordFailoverEvent(EventRecord{Type: EventModelFailure})
	assert.Error(t, err)

	err = c.RecordFailoverEvent(EventRecord{ModelID: NewModelID(), Type: "exploded"})
	assert.Error(t, err)

	assert.Equal(t, 0, c.EventCount())
}

func TestMetricsCollector_Aggregates(t *testing.T) {
	c := newTestCollector(DefaultMetricsConfig())

	id := NewModelID()
	require.NoError(t, c.RecordFailoverEvent(failureEvent(id)))
	require.NoError(t, c.RecordFailoverEvent(failureEvent(id)))
	require.NoError(t, c.RecordFailoverEvent(EventRecord{
		ModelID: id, Type: EventFailoverExecuted, Success: true,
	}))
	require.NoError(t, c.RecordFailoverEvent(EventRecord{
		ModelID: id, Type: EventRecoverySucceeded, Success: true,
	}))

	m := c.GetMetrics()
	assert.Equal(t, uint64(2), m.TotalFailures)
	assert.Equal(t, uint64(1), m.ExecutedFailovers)
	assert.Equal(t, uint64(1), m.EscalatedFailures) // failure without a replacement
	assert.Equal(t, uint64(1), m.RecoverySuccesses)
	assert.Equal(t, 0.5, m.FailoverSuccessRate)
}

func TestMetricsCollector_SuccessRateWithoutSamples(t *testing.T) {
	c := newTestCollector(DefaultMetricsConfig())
	assert.Equal(t, 1.0, c.GetMetrics().FailoverSuccessRate)
}

func TestMetricsCollector_BoundedBuffer(t *testing.T) {
	c := newTestCollector(MetricsConfig{MaxEvents: 2})

	for i := 0; i < 5; i++ {
		ev := failureEvent(NewModelID())
		ev.Details = fmt.Sprintf("failure %d", i)
		require.NoError(t, c.RecordFailoverEvent(ev))
	}

	assert.Equal(t, 2, c.EventCount())

	// Newest first, oldest evicted
	events := c.RecentEvents(10)
	require.Len(t, events, 2)
	assert.Equal(t, "failure 4", events[0].Details)
	assert.Equal(t, "failure 3", events[1].Details)

	// Aggregates survive eviction
	assert.Equal(t, uint64(5), c.GetMetrics().TotalFailures)
}

func TestMetricsCollector_Subscribers(t *testing.T) {
	c := newTestCollector(DefaultMetricsConfig())

	var seen []EventRecord
	c.Subscribe(func(ev EventRecord) { seen = append(seen, ev) })

	id := NewModelID()
	require.NoError(t, c.RecordFailoverEvent(failureEvent(id)))

	require.Len(t, seen, 1)
	assert.Equal(t, id, seen[0].ModelID)
	assert.Equal(t, EventModelFailure, seen[0].Type)
}

func TestMetricsCollector_FillsTimestamp(t *testing.T) {
	c := newTestCollector(DefaultMetricsConfig())

	require.NoError(t, c.RecordFailoverEvent(EventRecord{ModelID: NewModelID(), Type: EventModelFailure}))

	events := c.RecentEvents(1)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}
