package failover

import (
	"errors"
	"fmt"
)

// Error classes. Decision-path errors (coordinator, recovery) propagate to
// the facade; metrics-path errors are logged by the caller and never block a
// failover decision.
var (
	// ErrServiceUnavailable means the system or a required component is not
	// running. Fatal to the calling operation.
	ErrServiceUnavailable = errors.New("failover: service unavailable")

	// ErrResolutionFailed means no replacement candidate exists and recovery
	// could not be engaged. Surfaced as an escalation, never a crash.
	ErrResolutionFailed = errors.New("failover: resolution failed")

	// ErrAlreadyRecovering means a recovery workflow is already in flight
	// for the model.
	ErrAlreadyRecovering = errors.New("failover: recovery already in progress")

	// ErrNotRegistered means the model id was never registered.
	ErrNotRegistered = errors.New("failover: model not registered")
)

// ErrCooldown means the coordinator's failover cooldown is active. It is a
// service-unavailable condition: errors.Is(err, ErrServiceUnavailable)
// holds.
var ErrCooldown = fmt.Errorf("failover: cooldown active: %w", ErrServiceUnavailable)
