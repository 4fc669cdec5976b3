package v1

import (
	"context"
	"time"

	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/completion"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/events"
	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/metrics"
	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/tracing"
)

// OrchestratorV1 defines the public interface for the emupilot automation engine.
type OrchestratorV1 interface {
	// Run executes the enabled task lists of the named instances concurrently,
	// one worker per instance, and blocks until all workers finish. An empty
	// instances slice selects every configured profile. A second Run while one
	// is in flight returns a ConfigError.
	Run(ctx context.Context, instances []string) (*RunReport, error)

	// Status returns a point-in-time snapshot of every active worker. Safe to
	// call concurrently with Run.
	Status() []InstanceStatus

	// Cancel requests cooperative cancellation of one instance's worker. The
	// worker finishes its in-flight bridge command, reaches Aborted, and stops.
	Cancel(instance string) error
	// CancelAll requests cancellation of every active worker.
	CancelAll()

	// MetricsRegistryProvider returns the underlying metrics provider.
	MetricsRegistryProvider() metrics.RegistryProvider
	// TracerProvider returns the underlying tracing provider.
	TracerProvider() tracing.TracerProvider

	// Setter methods for configuring engine components programmatically.
	SetCompletionStore(store completion.Store) error
	SetEventBus(bus events.Bus) error
	SetTaskRegistry(registry task.Registry) error
	SetMetricsRegistryProvider(provider metrics.RegistryProvider) error
	SetTracerProvider(provider tracing.TracerProvider) error
	SetForce(force bool) error
}

// OrchestratorOption is a function type used to configure the orchestrator at creation.
type OrchestratorOption func(OrchestratorV1) error

// TaskResult holds the final outcome of a single task execution on one instance.
type TaskResult struct {
	Kind      string        `json:"kind"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// InstanceResult summarizes one worker's run: the per-task outcomes plus the
// worker-level status. A worker failure never appears in another instance's
// result; failure domains are independent.
type InstanceResult struct {
	Instance    string        `json:"instance"`
	Endpoint    string        `json:"endpoint"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`
	TaskResults []TaskResult  `json:"task_results"`
}

// RunReport provides a comprehensive summary of a completed run.
type RunReport struct {
	OverallStatus  string                    `json:"overall_status"`
	StartTime      time.Time                 `json:"start_time"`
	EndTime        time.Time                 `json:"end_time"`
	Duration       time.Duration             `json:"duration"`
	TotalTasks     int                       `json:"total_tasks"`
	CompletedTasks int                       `json:"completed_tasks"`
	SkippedTasks   int                       `json:"skipped_tasks"`
	FailedTasks    int                       `json:"failed_tasks"`
	AbortedTasks   int                       `json:"aborted_tasks"`
	Error          string                    `json:"error,omitempty"`
	Instances      map[string]InstanceResult `json:"instances"`
}

// InstanceStatus is one row of the orchestrator's observable status stream.
type InstanceStatus struct {
	Instance string `json:"instance"`
	Task     string `json:"task,omitempty"`
	State    string `json:"state"`
	Running  bool   `json:"running"`
}

// WithCompletionStore is an option to provide a custom completion store.
func WithCompletionStore(store completion.Store) OrchestratorOption {
	return func(o OrchestratorV1) error {
		if store == nil {
			return eperrors.NewConfigError("completion store cannot be nil", nil)
		}
		return o.SetCompletionStore(store)
	}
}

// WithEventBus is an option to provide a custom event bus.
func WithEventBus(bus events.Bus) OrchestratorOption {
	return func(o OrchestratorV1) error {
		if bus == nil {
			return eperrors.NewConfigError("event bus cannot be nil", nil)
		}
		return o.SetEventBus(bus)
	}
}

// WithTaskRegistry is an option to provide a custom task registry.
func WithTaskRegistry(registry task.Registry) OrchestratorOption {
	return func(o OrchestratorV1) error {
		if registry == nil {
			return eperrors.NewConfigError("task registry cannot be nil", nil)
		}
		return o.SetTaskRegistry(registry)
	}
}

// WithMetricsRegistryProvider is an option to provide a custom metrics provider.
func WithMetricsRegistryProvider(provider metrics.RegistryProvider) OrchestratorOption {
	return func(o OrchestratorV1) error {
		if provider == nil {
			return eperrors.NewConfigError("metrics registry provider cannot be nil", nil)
		}
		return o.SetMetricsRegistryProvider(provider)
	}
}

// WithTracerProvider is an option to provide a custom tracing provider.
func WithTracerProvider(provider tracing.TracerProvider) OrchestratorOption {
	return func(o OrchestratorV1) error {
		if provider == nil {
			return eperrors.NewConfigError("tracer provider cannot be nil", nil)
		}
		return o.SetTracerProvider(provider)
	}
}

// WithForce is an option to bypass the idempotence gate and re-execute tasks
// already recorded done today.
func WithForce(force bool) OrchestratorOption {
	return func(o OrchestratorV1) error {
		return o.SetForce(force)
	}
}
