package failover

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MetricsConfig configures the event collector. Immutable after
// construction.
type MetricsConfig struct {
	// MaxEvents bounds the rolling event buffer; oldest evicted first.
	MaxEvents int `yaml:"max_events"`
}

// DefaultMetricsConfig returns production defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{MaxEvents: 1000}
}

// MetricsCollector records every failover-relevant event and keeps rolling
// aggregates, updated in the same operation as the append. It has no
// decision authority and must never fail a caller's failover path: callers
// log recording errors and continue.
type MetricsCollector struct {
	cfg    MetricsConfig
	logger *zap.Logger

	mu          sync.RWMutex
	events      []EventRecord
	subscribers []func(EventRecord)

	totalFailures     uint64
	executedFailovers uint64
	escalatedFailures uint64
	recoverySuccesses uint64
	recoveryFailures  uint64

	eventCounter *prometheus.CounterVec
	successRate  prometheus.Gauge
}

// NewMetricsCollector creates a collector. A nil registry disables
// prometheus export (used by tests).
func NewMetricsCollector(cfg MetricsConfig, reg *prometheus.Registry, logger *zap.Logger) *MetricsCollector {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMetricsConfig().MaxEvents
	}
	c := &MetricsCollector{
		cfg:    cfg,
		logger: logger,
	}

	c.eventCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_failover_events_total",
			Help: "Total failover events by type",
		},
		[]string{"type"},
	)
	c.successRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_failover_success_rate",
		Help: "Rolling failover success rate",
	})
	c.successRate.Set(1)

	if reg != nil {
		reg.MustRegister(c.eventCounter)
		reg.MustRegister(c.successRate)
	}
	return c
}

// Subscribe registers a listener for the event stream. Listeners are
// invoked synchronously in submission order; slow listeners slow the
// recording path, so keep them cheap.
func (c *MetricsCollector) Subscribe(fn func(EventRecord)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// RecordFailoverEvent appends to the bounded buffer and updates the rolling
// aggregates in the same operation. Returns an error only for malformed
// events.
func (c *MetricsCollector) RecordFailoverEvent(ev EventRecord) error {
	if ev.ModelID == "" {
		return fmt.Errorf("record event: model id required")
	}
	switch ev.Type {
	case EventModelFailure, EventFailoverExecuted, EventRecoverySucceeded, EventRecoveryFailed:
	default:
		return fmt.Errorf("record event: unknown type %q", ev.Type)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.events = append(c.events, ev)
	if len(c.events) > c.cfg.MaxEvents {
		c.events = c.events[1:]
	}

	switch ev.Type {
	case EventModelFailure:
		c.totalFailures++
	case EventFailoverExecuted:
		if ev.Success {
			c.executedFailovers++
		} else {
			c.escalatedFailures++
		}
	case EventRecoverySucceeded:
		c.recoverySuccesses++
	case EventRecoveryFailed:
		c.recoveryFailures++
	}

	rate := c.successRateLocked()
	subscribers := make([]func(EventRecord), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	c.eventCounter.WithLabelValues(string(ev.Type)).Inc()
	c.successRate.Set(rate)

	for _, fn := range subscribers {
		fn(ev)
	}
	return nil
}

// GetMetrics returns the rolling aggregate. With no failures yet the
// success rate is 1.0.
func (c *MetricsCollector) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Every failure either produced a replacement or escalated.
	escalated := c.escalatedFailures
	if c.totalFailures > c.executedFailovers+c.escalatedFailures {
		escalated = c.totalFailures - c.executedFailovers
	}

	return Metrics{
		TotalFailures:       c.totalFailures,
		ExecutedFailovers:   c.executedFailovers,
		EscalatedFailures:   escalated,
		RecoverySuccesses:   c.recoverySuccesses,
		RecoveryFailures:    c.recoveryFailures,
		FailoverSuccessRate: c.successRateLocked(),
	}
}

// successRateLocked computes executed/total. Caller holds at least RLock.
func (c *MetricsCollector) successRateLocked() float64 {
	if c.totalFailures == 0 {
		return 1.0
	}
	return float64(c.executedFailovers) / float64(c.totalFailures)
}

// RecentEvents returns the most recent n events, newest first.
func (c *MetricsCollector) RecentEvents(n int) []EventRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.events) {
		n = len(c.events)
	}
	out := make([]EventRecord, 0, n)
	for i := len(c.events) - 1; i >= len(c.events)-n; i-- {
		out = append(out, c.events[i])
	}
	return out
}

// EventCount returns the number of buffered events.
func (c *MetricsCollector) EventCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}
