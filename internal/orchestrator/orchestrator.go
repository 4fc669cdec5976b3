package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emupilot-labs/emupilot/internal/command"
	"github.com/emupilot-labs/emupilot/internal/completion"
	"github.com/emupilot-labs/emupilot/internal/config"
	intevents "github.com/emupilot-labs/emupilot/internal/events"
	intmetrics "github.com/emupilot-labs/emupilot/internal/metrics"
	inttask "github.com/emupilot-labs/emupilot/internal/task"
	inttracing "github.com/emupilot-labs/emupilot/internal/tracing"
	epv1 "github.com/emupilot-labs/emupilot/pkg/emupilot/v1"
	epcompletion "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/completion"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	epevents "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/events"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
	epmetrics "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/metrics"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
	eptracing "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/tracing"
)

// Run/task status strings used in reports.
const (
	StatusCompleted = "Completed"
	StatusSkipped   = "Skipped"
	StatusFailed    = "Failed"
	StatusAborted   = "Aborted"
)

// Orchestrator runs one worker goroutine per selected instance profile.
// Workers are independent failure domains: a device loss or task failure on
// one instance never propagates to another. The orchestrator owns the shared
// services (completion store, event bus, metrics, tracing) and hands each
// worker its own bridge client, dispatcher and perceiver.
type Orchestrator struct {
	cfg    *config.Config
	log    eplog.Logger
	runner command.Runner

	store           epcompletion.Store
	ownsStore       bool
	bus             epevents.Bus
	registry        eptask.Registry
	metricsProvider epmetrics.RegistryProvider
	engineMetrics   *intmetrics.EngineMetrics
	tracerProvider  eptracing.TracerProvider
	force           bool

	mu      sync.Mutex
	running bool
	workers map[string]*worker
}

// Compile-time check against the public interface.
var _ epv1.OrchestratorV1 = (*Orchestrator)(nil)

// New creates an orchestrator for the given validated config. Options
// override the default component wiring; the default completion store is a
// FileStore at cfg.StorePath, created lazily on the first Run.
func New(cfg *config.Config, log eplog.Logger, opts ...epv1.OrchestratorOption) (*Orchestrator, error) {
	if cfg == nil {
		return nil, eperrors.NewConfigError("orchestrator config cannot be nil", nil)
	}
	if log == nil {
		return nil, eperrors.NewConfigError("orchestrator logger cannot be nil", nil)
	}

	noopTracer, err := inttracing.NewNoOpProvider()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:             cfg,
		log:             log.With("component", "Orchestrator"),
		runner:          command.NewRunner(),
		bus:             intevents.NewNoOpEventBus(),
		registry:        inttask.DefaultStaticRegistryGetter,
		metricsProvider: intmetrics.NewPrometheusRegistryProvider(),
		tracerProvider:  noopTracer,
		workers:         make(map[string]*worker),
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	o.engineMetrics = intmetrics.NewEngineMetrics(o.metricsProvider.Registry())
	return o, nil
}

// SetCommandRunner overrides the external command runner. Used by tests; not
// part of the public interface because command execution is an internal concern.
func (o *Orchestrator) SetCommandRunner(runner command.Runner) error {
	if runner == nil {
		return eperrors.NewConfigError("command runner cannot be nil", nil)
	}
	o.runner = runner
	return nil
}

func (o *Orchestrator) SetCompletionStore(store epcompletion.Store) error {
	o.store = store
	o.ownsStore = false
	return nil
}

func (o *Orchestrator) SetEventBus(bus epevents.Bus) error {
	o.bus = bus
	return nil
}

func (o *Orchestrator) SetTaskRegistry(registry eptask.Registry) error {
	o.registry = registry
	return nil
}

func (o *Orchestrator) SetMetricsRegistryProvider(provider epmetrics.RegistryProvider) error {
	o.metricsProvider = provider
	return nil
}

func (o *Orchestrator) SetTracerProvider(provider eptracing.TracerProvider) error {
	o.tracerProvider = provider
	return nil
}

func (o *Orchestrator) SetForce(force bool) error {
	o.force = force
	return nil
}

func (o *Orchestrator) MetricsRegistryProvider() epmetrics.RegistryProvider {
	return o.metricsProvider
}

// EngineMetrics exposes the collector bundle, mainly so the event-driven
// metrics listener can share it.
func (o *Orchestrator) EngineMetrics() *intmetrics.EngineMetrics {
	return o.engineMetrics
}

func (o *Orchestrator) TracerProvider() eptracing.TracerProvider {
	return o.tracerProvider
}

// Store returns the active completion store, opening the default FileStore on
// first use.
func (o *Orchestrator) Store() (epcompletion.Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.storeLocked()
}

func (o *Orchestrator) storeLocked() (epcompletion.Store, error) {
	if o.store != nil {
		return o.store, nil
	}
	fileStore, err := completion.NewFileStore(o.cfg.StorePath, o.log)
	if err != nil {
		return nil, err
	}
	o.store = fileStore
	o.ownsStore = true
	return o.store, nil
}

// Close releases orchestrator-owned resources.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ownsStore && o.store != nil {
		err := o.store.Close()
		o.store = nil
		return err
	}
	return nil
}

// Run executes the enabled task lists of the named instances. Worker starts
// are staggered by the configured offset so a fleet of emulators does not
// launch the game simultaneously. Run blocks until every worker reaches a
// terminal state or the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context, instances []string) (*epv1.RunReport, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, eperrors.NewConfigError("a run is already in progress", nil)
	}
	profiles, err := o.selectProfiles(instances)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	store, err := o.storeLocked()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.running = true
	o.workers = make(map[string]*worker)
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.workers = make(map[string]*worker)
		o.mu.Unlock()
	}()

	report := &epv1.RunReport{
		StartTime: time.Now().UTC(),
		Instances: make(map[string]epv1.InstanceResult),
	}
	o.emit(epevents.RunStart, "", map[string]interface{}{"instances": len(profiles)})
	o.log.Infof("Run started with %d instance(s)", len(profiles))

	stagger := o.cfg.Timing.Stagger()
	var wg sync.WaitGroup
	results := make([]epv1.InstanceResult, len(profiles))

	for i := range profiles {
		profile := profiles[i]
		workerCtx, cancel := context.WithCancel(ctx)
		w := newWorker(o, profile, store, cancel)

		o.mu.Lock()
		o.workers[profile.Name] = w
		o.mu.Unlock()

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer cancel()
			// Fixed start offset per worker slot.
			if idx > 0 {
				if err := sleepCtx(workerCtx, time.Duration(idx)*stagger); err != nil {
					results[idx] = w.abortedBeforeStart()
					return
				}
			}
			results[idx] = w.run(workerCtx)
		}(i)
	}
	wg.Wait()

	for _, result := range results {
		report.Instances[result.Instance] = result
		for _, tr := range result.TaskResults {
			report.TotalTasks++
			switch tr.Status {
			case StatusCompleted:
				report.CompletedTasks++
			case StatusSkipped:
				report.SkippedTasks++
			case StatusFailed:
				report.FailedTasks++
			case StatusAborted:
				report.AbortedTasks++
			}
		}
	}

	report.EndTime = time.Now().UTC()
	report.Duration = report.EndTime.Sub(report.StartTime)
	report.OverallStatus = overallStatus(results)
	if report.OverallStatus == StatusFailed {
		report.Error = firstError(results)
	}

	o.emit(epevents.RunEnd, "", map[string]interface{}{"status": report.OverallStatus})
	o.log.Infof("Run finished: %s (%d tasks, %d completed, %d skipped, %d failed, %d aborted)",
		report.OverallStatus, report.TotalTasks, report.CompletedTasks,
		report.SkippedTasks, report.FailedTasks, report.AbortedTasks)

	if report.OverallStatus == StatusFailed {
		return report, fmt.Errorf("run finished with %d failed task(s): %s", report.FailedTasks, report.Error)
	}
	return report, nil
}

// Status returns a snapshot of every active worker.
func (o *Orchestrator) Status() []epv1.InstanceStatus {
	o.mu.Lock()
	workers := make([]*worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.mu.Unlock()

	statuses := make([]epv1.InstanceStatus, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Instance < statuses[j].Instance
	})
	return statuses
}

// Cancel requests cooperative cancellation of one instance's worker.
func (o *Orchestrator) Cancel(instance string) error {
	o.mu.Lock()
	w, ok := o.workers[instance]
	o.mu.Unlock()
	if !ok {
		return eperrors.NewConfigError("no active worker for instance '"+instance+"'", nil)
	}
	w.cancel()
	return nil
}

// CancelAll requests cancellation of every active worker.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	workers := make([]*worker, 0, len(o.workers))
	for _, w := range o.workers {
		workers = append(workers, w)
	}
	o.mu.Unlock()
	for _, w := range workers {
		w.cancel()
	}
}

// selectProfiles resolves the instance name selection against the config.
// An empty selection means every configured profile.
func (o *Orchestrator) selectProfiles(instances []string) ([]*config.Profile, error) {
	if len(instances) == 0 {
		profiles := make([]*config.Profile, len(o.cfg.Profiles))
		for i := range o.cfg.Profiles {
			profiles[i] = &o.cfg.Profiles[i]
		}
		return profiles, nil
	}
	profiles := make([]*config.Profile, 0, len(instances))
	for _, name := range instances {
		profile, ok := o.cfg.ProfileByName(name)
		if !ok {
			return nil, eperrors.NewConfigError("unknown instance '"+name+"'", nil)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func (o *Orchestrator) emit(eventType epevents.EventType, instance string, payload map[string]interface{}) {
	if o.bus == nil {
		return
	}
	o.bus.Emit(epevents.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Instance:  instance,
		Payload:   payload,
	})
}

// overallStatus folds the per-instance statuses: any failure wins, then any
// abort, otherwise completed.
func overallStatus(results []epv1.InstanceResult) string {
	status := StatusCompleted
	for _, r := range results {
		switch r.Status {
		case StatusFailed:
			return StatusFailed
		case StatusAborted:
			status = StatusAborted
		}
	}
	return status
}

func firstError(results []epv1.InstanceResult) string {
	for _, r := range results {
		if r.Error != "" {
			return r.Error
		}
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
