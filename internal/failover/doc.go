// Package failover keeps inference traffic flowing when individual model
// instances fail, by promoting warm standbys, redirecting to healthy peers,
// and nursing failed instances back to service.
//
// # Overview
//
// The package implements a complete failover control plane:
//   - Health monitoring with rolling score classification
//   - Warm standby pools with background warm-up and atomic promotion
//   - Failure decisions with pluggable ranking strategies
//   - Per-model circuit breakers and a coordinator-wide cooldown
//   - Background recovery workflows with bounded, backed-off retries
//   - An append-only event stream with rolling aggregates and
//     Prometheus export
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                       System                            │
//	│  (facade, lifecycle, health scoring loop, report)       │
//	├──────────────────┬──────────────────────────────────────┤
//	│   Coordinator    │          RecoveryManager             │
//	│  (decisions)     │     (retry loop, quarantine)         │
//	├──────────────────┴───────────┬──────────────────────────┤
//	│        HealthMonitor         │      BackupManager       │
//	│  (states, candidate set)     │   (standby lifecycle)    │
//	├──────────────────────────────┴──────────────────────────┤
//	│                   MetricsCollector                      │
//	│  (event ring, aggregates, subscribers, prometheus)      │
//	└─────────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	system, err := failover.NewSystem(failover.DefaultSystemConfig(), registry, logger)
//	if err != nil {
//		return err
//	}
//	if err := system.Initialize(); err != nil {
//		return err
//	}
//	defer system.Shutdown()
//
//	// Register model instances; each gets a warm standby pool.
//	id, err := system.RegisterModel(failover.ModelInfo{
//		Name:         "gpt-large-1",
//		Capabilities: []string{"chat", "completion"},
//	})
//
//	// Feed runtime metrics so classification stays current.
//	system.ReportModelHealth(id, failover.ModelMetrics{
//		Latency:   120 * time.Millisecond,
//		ErrorRate: 0.01,
//		Load:      0.4,
//	})
//
//	// On a detected failure, ask for a replacement.
//	decision, err := system.HandleModelFailure(ctx, id, "latency spike")
//	if err != nil {
//		return err
//	}
//	if decision.Resolved() {
//		routeTrafficTo(*decision.ReplacementModel)
//	}
//
// A decision without a replacement is an escalation, not an error: the
// recovery manager has been engaged and the caller should shed or queue
// load for that model.
//
// # States
//
// Model instances classify from their rolling health score:
//
//	Healthy ──(low score)──► Degraded ──(lower)──► Unhealthy
//	   ▲                                               │
//	   └──────────(recovery success)───────────────────┘
//
// Quarantined is terminal short of an explicit recovery; quarantined
// models never re-enter the candidate set on their own.
//
// # Thread Safety
//
// All components are safe for concurrent use. Failure decisions for
// different models proceed in parallel; decisions for the same model are
// serialized so one standby is never granted twice.
package failover
