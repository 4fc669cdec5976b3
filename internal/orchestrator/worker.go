package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emupilot-labs/emupilot/internal/bridge"
	"github.com/emupilot-labs/emupilot/internal/config"
	"github.com/emupilot-labs/emupilot/internal/machine"
	"github.com/emupilot-labs/emupilot/internal/ocr"
	"github.com/emupilot-labs/emupilot/internal/perception"
	epv1 "github.com/emupilot-labs/emupilot/pkg/emupilot/v1"
	epcompletion "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/completion"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	epevents "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/events"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

// worker drives one instance through its enabled task list. It owns the
// instance's bridge client, dispatcher and perceiver; nothing it holds is
// shared with another worker except the completion store and the bus, both of
// which are concurrency-safe.
type worker struct {
	orch    *Orchestrator
	profile *config.Profile
	store   epcompletion.Store
	cancel  context.CancelFunc
	log     eplog.Logger

	mu      sync.Mutex
	running bool
	task    string
	machine *machine.Machine
}

func newWorker(orch *Orchestrator, profile *config.Profile, store epcompletion.Store, cancel context.CancelFunc) *worker {
	return &worker{
		orch:    orch,
		profile: profile,
		store:   store,
		cancel:  cancel,
		log:     orch.log.With("instance", profile.Name),
	}
}

// status returns a point-in-time view of the worker for the status stream.
func (w *worker) status() epv1.InstanceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	state := eptask.Idle.String()
	if w.machine != nil {
		state = w.machine.State().String()
	}
	return epv1.InstanceStatus{
		Instance: w.profile.Name,
		Task:     w.task,
		State:    state,
		Running:  w.running,
	}
}

// abortedBeforeStart builds the result for a worker cancelled during its
// stagger wait, before it touched the device.
func (w *worker) abortedBeforeStart() epv1.InstanceResult {
	now := time.Now().UTC()
	return epv1.InstanceResult{
		Instance:  w.profile.Name,
		Endpoint:  w.profile.Endpoint(),
		Status:    StatusAborted,
		Error:     "cancelled before start",
		StartTime: now,
		EndTime:   now,
	}
}

// run executes the worker to completion. It never panics another worker's
// run; every failure is folded into the returned InstanceResult.
func (w *worker) run(ctx context.Context) epv1.InstanceResult {
	result := epv1.InstanceResult{
		Instance:  w.profile.Name,
		Endpoint:  w.profile.Endpoint(),
		StartTime: time.Now().UTC(),
	}

	tracer := w.orch.tracerProvider.GetTracer("emupilot.orchestrator")
	ctx, span := tracer.Start(ctx, "worker.run", trace.WithAttributes(
		attribute.String("emupilot.instance", w.profile.Name),
		attribute.String("emupilot.endpoint", w.profile.Endpoint()),
	))
	defer span.End()

	w.setRunning(true)
	defer w.setRunning(false)
	w.orch.emit(epevents.WorkerStart, w.profile.Name, nil)
	w.log.Infof("Worker started for endpoint %s", w.profile.Endpoint())

	client := bridge.NewClient(w.orch.cfg.ADBPath, w.profile.Name, w.profile.Endpoint(), w.orch.runner, w.log)
	dispatcher := bridge.NewDispatcher(client,
		w.orch.cfg.Timing.SettleDelay(),
		w.orch.cfg.Recovery.MaxRetries+1,
		w.orch.bus, w.log)
	ocrEngine := ocr.NewTesseractEngine(
		w.orch.cfg.OCR.TesseractPath,
		w.orch.cfg.OCR.Timeout(),
		w.orch.runner, w.log)
	perceiver := perception.NewPerceiver(w.profile.Name, dispatcher, ocrEngine,
		w.profile.Regions, w.orch.engineMetrics, w.log)

	if err := dispatcher.Connect(ctx); err != nil {
		w.log.Errorf("Bridge connection failed: %v", err)
		result.Status = StatusFailed
		result.Error = err.Error()
		span.SetStatus(codes.Error, "bridge connection failed")
		return w.finish(result)
	}

	deviceLost := false
	aborted := false
	for _, kind := range w.profile.Tasks {
		if deviceLost || aborted {
			break
		}
		taskResult, lost := w.runTask(ctx, tracer, kind, dispatcher, perceiver)
		result.TaskResults = append(result.TaskResults, taskResult)
		switch taskResult.Status {
		case StatusAborted:
			aborted = true
		case StatusFailed:
			// A failed task does not stop the worker unless the device itself
			// is gone; the remaining tasks may still succeed.
			if lost {
				deviceLost = true
			}
		}
	}

	if w.profile.CloseAfterRun && !deviceLost {
		if err := dispatcher.CloseApp(ctx, w.profile.Package); err != nil {
			w.log.Warnf("Failed to close app after run: %v", err)
		}
	}

	result.Status = instanceStatus(result.TaskResults, deviceLost, aborted)
	if result.Status == StatusFailed {
		result.Error = firstTaskError(result.TaskResults)
		span.SetStatus(codes.Error, result.Error)
	}
	return w.finish(result)
}

// runTask executes one task kind through a fresh script and machine. The
// second return reports whether the failure was a device loss, which ends the
// worker's task list.
func (w *worker) runTask(ctx context.Context, tracer trace.Tracer, kind string,
	dispatcher *bridge.Dispatcher, perceiver *perception.Perceiver) (epv1.TaskResult, bool) {

	taskResult := epv1.TaskResult{
		Kind:      kind,
		StartTime: time.Now().UTC(),
	}
	finish := func(status, errMsg string) epv1.TaskResult {
		taskResult.Status = status
		taskResult.Error = errMsg
		taskResult.EndTime = time.Now().UTC()
		taskResult.Duration = taskResult.EndTime.Sub(taskResult.StartTime)
		return taskResult
	}

	factory, err := w.orch.registry.Get(kind)
	if err != nil {
		w.log.Errorf("Task kind '%s' not registered", kind)
		return finish(StatusFailed, err.Error()), false
	}
	script := factory()
	if err := script.Configure(w.profile.TaskParams(kind)); err != nil {
		w.log.Errorf("Task '%s' rejected its parameters: %v", kind, err)
		return finish(StatusFailed, err.Error()), false
	}

	m := machine.New(w.profile, script, dispatcher, perceiver, w.store, w.orch.bus, w.log, machine.Options{
		MaxStallCycles: w.orch.cfg.Recovery.MaxStallCycles,
		MaxRetries:     w.orch.cfg.Recovery.MaxRetries,
		GameLoadWait:   w.orch.cfg.Timing.GameLoadWait(),
		PollInterval:   w.orch.cfg.Timing.SettleDelay(),
		Force:          w.orch.force,
	})
	w.setCurrent(kind, m)
	defer w.setCurrent("", nil)

	ctx, span := tracer.Start(ctx, "task.run", trace.WithAttributes(
		attribute.String("emupilot.instance", w.profile.Name),
		attribute.String("emupilot.task", kind),
	))
	defer span.End()

	runErr := m.Run(ctx)
	switch {
	case runErr == nil && m.Outcome() == machine.OutcomeSkipped:
		return finish(StatusSkipped, ""), false
	case runErr == nil:
		return finish(StatusCompleted, ""), false
	case eperrors.IsAborted(runErr):
		return finish(StatusAborted, runErr.Error()), false
	default:
		span.SetStatus(codes.Error, runErr.Error())
		w.saveDebugFrame(dispatcher, kind)
		return finish(StatusFailed, runErr.Error()), eperrors.IsDeviceUnavailable(runErr)
	}
}

// saveDebugFrame dumps the last captured frame for a failed task, so the
// screen the perceiver was stuck on can be inspected offline.
func (w *worker) saveDebugFrame(dispatcher *bridge.Dispatcher, kind string) {
	dir := w.orch.cfg.OCR.DebugDir
	if dir == "" {
		return
	}
	path, err := dispatcher.SaveLastFrame(dir, kind)
	if err != nil {
		w.log.Warnf("Could not save debug frame for task '%s': %v", kind, err)
		return
	}
	w.log.Infof("Saved debug frame for failed task '%s' to %s", kind, path)
}

func (w *worker) finish(result epv1.InstanceResult) epv1.InstanceResult {
	result.EndTime = time.Now().UTC()
	result.Duration = result.EndTime.Sub(result.StartTime)
	w.orch.emit(epevents.WorkerEnd, w.profile.Name, map[string]interface{}{"status": result.Status})
	w.log.Infof("Worker finished: %s", result.Status)
	return result
}

func (w *worker) setRunning(running bool) {
	w.mu.Lock()
	w.running = running
	w.mu.Unlock()
}

func (w *worker) setCurrent(kind string, m *machine.Machine) {
	w.mu.Lock()
	w.task = kind
	w.machine = m
	w.mu.Unlock()
}

// instanceStatus folds task outcomes into the worker-level status.
func instanceStatus(results []epv1.TaskResult, deviceLost, aborted bool) string {
	if deviceLost {
		return StatusFailed
	}
	if aborted {
		return StatusAborted
	}
	status := StatusCompleted
	for _, r := range results {
		if r.Status == StatusFailed {
			status = StatusFailed
		}
	}
	return status
}

func firstTaskError(results []epv1.TaskResult) string {
	for _, r := range results {
		if r.Error != "" {
			return r.Error
		}
	}
	return ""
}
