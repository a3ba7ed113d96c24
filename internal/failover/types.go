package failover

import (
	"time"

	"github.com/google/uuid"
)

// ModelID uniquely identifies one logical model instance. IDs are assigned
// at registration and never reused.
type ModelID string

// NewModelID returns a fresh UUID-backed model id.
func NewModelID() ModelID {
	return ModelID(uuid.NewString())
}

func (id ModelID) String() string { return string(id) }

// HealthState classifies a registered model instance.
type HealthState int

const (
	StateHealthy HealthState = iota
	StateDegraded
	StateUnhealthy
	StateQuarantined // permanently unhealthy after terminal recovery failure
	StateUnknown
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	case StateQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// ModelMetrics is a point-in-time performance snapshot reported by the
// inference runtime for one model instance.
type ModelMetrics struct {
	Latency    time.Duration `json:"latency"`
	ErrorRate  float64       `json:"error_rate"` // [0,1]
	Load       float64       `json:"load"`       // [0,1], current utilization
	Throughput float64       `json:"throughput"` // requests/sec
	ReportedAt time.Time     `json:"reported_at"`
}

// ModelInfo is the registration payload for a model instance.
type ModelInfo struct {
	ID           ModelID      `json:"id"`
	Name         string       `json:"name"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Weight       float64      `json:"weight,omitempty"` // capability weight for weighted strategies
	Metrics      ModelMetrics `json:"metrics"`
}

// EventType identifies a failover-relevant event.
type EventType string

const (
	EventModelFailure      EventType = "model_failure"
	EventFailoverExecuted  EventType = "failover_executed"
	EventRecoverySucceeded EventType = "recovery_succeeded"
	EventRecoveryFailed    EventType = "recovery_failed"
)

// EventRecord is one append-only audit entry. Immutable once recorded.
type EventRecord struct {
	ModelID   ModelID       `json:"model_id"`
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
	Success   bool          `json:"success"`
	Details   string        `json:"details,omitempty"`
}

// Decision is the coordinator's output for one failure event.
type Decision struct {
	FailedModel      ModelID   `json:"failed_model"`
	ReplacementModel *ModelID  `json:"replacement_model,omitempty"`
	FromStandby      bool      `json:"from_standby,omitempty"`
	Reason           string    `json:"reason"`
	Timestamp        time.Time `json:"timestamp"`
}

// Resolved reports whether the decision carries a replacement.
func (d Decision) Resolved() bool { return d.ReplacementModel != nil }

// SystemHealth grades the overall system.
type SystemHealth string

const (
	HealthExcellent SystemHealth = "excellent"
	HealthGood      SystemHealth = "good"
	HealthFair      SystemHealth = "fair"
	HealthPoor      SystemHealth = "poor"
	HealthCritical  SystemHealth = "critical"
)

// SystemHealthStatus is the periodically recomputed aggregate snapshot.
type SystemHealthStatus struct {
	OverallHealth   SystemHealth `json:"overall_health"`
	ActiveFailovers int          `json:"active_failovers"`
	ModelsAtRisk    int          `json:"models_at_risk"`
	StandbyCoverage float64      `json:"standby_coverage"`
	LastHealthCheck time.Time    `json:"last_health_check"`
}

// Metrics is the rolling failover aggregate exposed by the collector.
type Metrics struct {
	TotalFailures       uint64  `json:"total_failures"`
	ExecutedFailovers   uint64  `json:"executed_failovers"`
	EscalatedFailures   uint64  `json:"escalated_failures"`
	RecoverySuccesses   uint64  `json:"recovery_successes"`
	RecoveryFailures    uint64  `json:"recovery_failures"`
	FailoverSuccessRate float64 `json:"failover_success_rate"`
}

// BackupMetrics is the standby pool aggregate.
type BackupMetrics struct {
	TotalStandbyModels   int     `json:"total_standby_models"`
	ReadyStandbyModels   int     `json:"ready_standby_models"`
	FailedStandbyModels  int     `json:"failed_standby_models"`
	DesiredStandbyModels int     `json:"desired_standby_models"`
	StandbyCoverageRatio float64 `json:"standby_coverage_ratio"`
}

// RecoveryMetrics is the recovery manager aggregate.
type RecoveryMetrics struct {
	TotalOperations    uint64        `json:"total_operations"`
	TotalAttempts      uint64        `json:"total_attempts"`
	Successes          uint64        `json:"successes"`
	Failures           uint64        `json:"failures"`
	ActiveRecoveries   int           `json:"active_recoveries"`
	MeanTimeToRecovery time.Duration `json:"mean_time_to_recovery"`
}

// Report is the on-demand composite handed to operators.
type Report struct {
	SystemHealth    SystemHealthStatus `json:"system_health"`
	FailoverMetrics Metrics            `json:"failover_metrics"`
	BackupMetrics   BackupMetrics      `json:"backup_metrics"`
	RecoveryMetrics RecoveryMetrics    `json:"recovery_metrics"`
	RecentEvents    []EventRecord      `json:"recent_events"`
	Recommendations []string           `json:"recommendations"`
	GeneratedAt     time.Time          `json:"generated_at"`
}
