package machine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emupilot-labs/emupilot/internal/config"
	"github.com/emupilot-labs/emupilot/internal/perception"
	epcompletion "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/completion"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	epevents "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/events"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

// Dispatcher is the slice of the bridge dispatcher the machine needs.
type Dispatcher interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x, y, x2, y2, durationMs int) error
	KeyBack(ctx context.Context) error
	LaunchApp(ctx context.Context, pkg, activity string) error
	CloseApp(ctx context.Context, pkg string) error
}

// Perceiver is the slice of the perception unit the machine needs.
type Perceiver interface {
	Perceive(ctx context.Context, region string) (*perception.Observation, error)
	RecordMiss()
}

// Outcome values carried on TaskEnd events.
const (
	OutcomeCompleted = "completed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeAborted   = "aborted"
)

// Machine interprets one task script against one instance. It owns the
// transition discipline: the idempotence gate before any dispatch, the stall
// counter and recovery escalation, and cooperative cancellation at every
// state boundary. One Machine executes one task once; it is not reused.
type Machine struct {
	profile   *config.Profile
	script    eptask.Script
	disp      Dispatcher
	perceiver Perceiver
	store     epcompletion.Store
	bus       epevents.Bus
	log       eplog.Logger

	maxStallCycles int
	maxRetries     int
	gameLoadWait   time.Duration
	pollInterval   time.Duration
	force          bool

	mu      sync.Mutex
	state   eptask.State
	outcome string
}

// Options bundles the tunables for one machine run.
type Options struct {
	// MaxStallCycles is the number of consecutive unmatched perceive cycles
	// tolerated before recovery triggers.
	MaxStallCycles int
	// MaxRetries is the number of recovery rounds tolerated before Failed.
	MaxRetries int
	// GameLoadWait is slept after the launch command before the first perceive.
	GameLoadWait time.Duration
	// PollInterval paces repeated perceive cycles on an unsatisfied step.
	PollInterval time.Duration
	// Force bypasses the idempotence gate and re-executes a done task.
	Force bool
}

// New builds a machine for one (instance, task) execution.
func New(profile *config.Profile, script eptask.Script, disp Dispatcher, perceiver Perceiver,
	store epcompletion.Store, bus epevents.Bus, log eplog.Logger, opts Options) *Machine {
	if opts.MaxStallCycles < 1 {
		opts.MaxStallCycles = config.DefaultMaxStallCycles
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Machine{
		profile:        profile,
		script:         script,
		disp:           disp,
		perceiver:      perceiver,
		store:          store,
		bus:            bus,
		log:            log.With("component", "Machine", "instance", profile.Name, "task", script.Kind()),
		maxStallCycles: opts.MaxStallCycles,
		maxRetries:     opts.MaxRetries,
		gameLoadWait:   opts.GameLoadWait,
		pollInterval:   opts.PollInterval,
		force:          opts.Force,
		state:          eptask.Idle,
	}
}

// State returns the machine's current state. Safe to call from other
// goroutines; the orchestrator's status stream reads it.
func (m *Machine) State() eptask.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Outcome returns the terminal outcome string, empty until Run finishes.
func (m *Machine) Outcome() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

func (m *Machine) setOutcome(outcome string) {
	m.mu.Lock()
	m.outcome = outcome
	m.mu.Unlock()
}

// Run executes the task to a terminal state. The returned error is nil for
// Completed and for the skipped short-circuit; Aborted returns an
// AbortedError, Failed returns the causing error.
func (m *Machine) Run(ctx context.Context) error {
	kind := m.script.Kind()
	m.emit(epevents.TaskStart, nil)

	// Idempotence gate: a task already recorded done today performs zero
	// dispatches, unless the caller forced a rerun.
	if !m.force {
		done, err := m.store.IsDone(m.profile.Name, kind, epcompletion.Today())
		if err != nil {
			return m.fail(eperrors.NewTaskExecutionError(m.profile.Name, kind, err))
		}
		if done {
			m.log.Infof("Task already completed today, skipping")
			m.setState(eptask.Completed)
			m.setOutcome(OutcomeSkipped)
			m.emit(epevents.TaskEnd, map[string]interface{}{"outcome": OutcomeSkipped})
			return nil
		}
	}

	if err := m.launch(ctx); err != nil {
		return m.terminate(err)
	}

	retries := 0
	for {
		err := m.walkSteps(ctx)
		if err == nil {
			break
		}
		stallErr, stalled := err.(*stallError)
		if !stalled {
			return m.terminate(err)
		}

		// Stall threshold tripped. Run the recovery sequence and restart the
		// script from the top, up to the retry budget.
		if retries >= m.maxRetries {
			return m.fail(eperrors.NewStallExceededError(kind, stallErr.phase.String(), retries))
		}
		retries++
		m.setState(eptask.Recovering)
		m.emit(epevents.RecoveryTriggered, map[string]interface{}{
			"phase": stallErr.phase.String(),
			"round": retries,
		})
		m.log.Warnf("Stalled in %s, running recovery (round %d/%d)", stallErr.phase, retries, m.maxRetries)
		if err := m.dispatchActions(ctx, m.script.Recovery()); err != nil {
			return m.terminate(err)
		}
	}

	// The Verifying step matched: record completion before reporting success.
	if _, err := m.store.MarkDone(m.profile.Name, kind, epcompletion.Today()); err != nil {
		return m.fail(eperrors.NewTaskExecutionError(m.profile.Name, kind, err))
	}
	m.emit(epevents.CompletionMarked, map[string]interface{}{"date": epcompletion.Today()})

	m.setState(eptask.Completed)
	m.setOutcome(OutcomeCompleted)
	m.emit(epevents.TaskEnd, map[string]interface{}{"outcome": OutcomeCompleted})
	m.log.Infof("Task completed")
	return nil
}

// launch brings the game process up and waits out the load window.
func (m *Machine) launch(ctx context.Context) error {
	if err := m.checkCancelled(ctx); err != nil {
		return err
	}
	m.setState(eptask.Launching)
	if err := m.disp.LaunchApp(ctx, m.profile.Package, m.profile.Activity); err != nil {
		return err
	}
	if m.gameLoadWait > 0 {
		m.log.Debugf("Waiting %v for the game to load", m.gameLoadWait)
		if err := sleepCtx(ctx, m.gameLoadWait); err != nil {
			return err
		}
	}
	return nil
}

// stallError is the internal signal that a step exhausted its stall budget.
type stallError struct {
	phase eptask.State
}

func (e *stallError) Error() string {
	return fmt.Sprintf("stalled in state %s", e.phase)
}

// walkSteps executes the script's steps strictly in order. It returns a
// *stallError when a step's stall budget runs out, nil when the final
// (Verifying) step is satisfied.
func (m *Machine) walkSteps(ctx context.Context) error {
	for _, step := range m.script.Steps() {
		if err := m.checkCancelled(ctx); err != nil {
			return err
		}
		m.setState(step.Phase)

		if len(step.Expect) > 0 {
			if err := m.awaitMatch(ctx, step); err != nil {
				return err
			}
		}
		if err := m.dispatchActions(ctx, step.Actions); err != nil {
			return err
		}
	}
	return nil
}

// awaitMatch perceives the step's region until one of its expected labels
// matches. Each unmatched cycle bumps the stall counter; a match resets it.
func (m *Machine) awaitMatch(ctx context.Context, step eptask.Step) error {
	stall := 0
	for {
		if err := m.checkCancelled(ctx); err != nil {
			return err
		}
		obs, err := m.perceiver.Perceive(ctx, step.Region)
		if err != nil {
			if eperrors.IsDeviceUnavailable(err) {
				return err
			}
			// Recognition failures (OCR timeout, malformed frame) count as
			// stall cycles rather than killing the task outright.
			m.log.Warnf("Perceive failed in %s: %v", step.Phase, err)
		} else if label, ok := obs.Matches(step.Expect); ok {
			m.log.Debugf("Step %s satisfied by label %q", step.Phase, label)
			return nil
		}

		m.perceiver.RecordMiss()
		stall++
		if stall >= m.maxStallCycles {
			return &stallError{phase: step.Phase}
		}
		if err := sleepCtx(ctx, m.pollInterval); err != nil {
			return err
		}
	}
}

// dispatchActions issues the scripted actions in order.
func (m *Machine) dispatchActions(ctx context.Context, actions []eptask.Action) error {
	for _, action := range actions {
		if err := m.checkCancelled(ctx); err != nil {
			return err
		}
		var err error
		switch action.Kind {
		case eptask.ActionTap:
			err = m.disp.Tap(ctx, action.X, action.Y)
		case eptask.ActionSwipe:
			err = m.disp.Swipe(ctx, action.X, action.Y, action.X2, action.Y2, action.DurationMs)
		case eptask.ActionKeyBack:
			err = m.disp.KeyBack(ctx)
		case eptask.ActionLaunchApp:
			err = m.disp.LaunchApp(ctx, m.profile.Package, m.profile.Activity)
		case eptask.ActionCloseApp:
			err = m.disp.CloseApp(ctx, m.profile.Package)
		case eptask.ActionWait:
			err = sleepCtx(ctx, time.Duration(action.DurationMs)*time.Millisecond)
		default:
			err = fmt.Errorf("unknown action kind %d", action.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// terminate maps an in-flight error to the appropriate terminal state.
func (m *Machine) terminate(err error) error {
	if eperrors.IsAborted(err) {
		m.setState(eptask.Aborted)
		m.setOutcome(OutcomeAborted)
		m.emit(epevents.TaskEnd, map[string]interface{}{"outcome": OutcomeAborted})
		m.log.Infof("Task aborted")
		return err
	}
	return m.fail(err)
}

// fail moves the machine to Failed and reports the cause.
func (m *Machine) fail(err error) error {
	m.setState(eptask.Failed)
	m.setOutcome(OutcomeFailed)
	m.emit(epevents.TaskEnd, map[string]interface{}{
		"outcome": OutcomeFailed,
		"error":   err.Error(),
	})
	m.log.Errorf("Task failed: %v", err)
	return err
}

// checkCancelled turns a done context into an AbortedError. Called at every
// state boundary and before every dispatch, so cancellation never interrupts
// a command mid-flight.
func (m *Machine) checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return eperrors.NewAbortedError(ctx.Err().Error())
	default:
		return nil
	}
}

// setState records a transition and announces it on the bus.
func (m *Machine) setState(next eptask.State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()
	if prev == next {
		return
	}
	m.log.Debugf("State %s -> %s", prev, next)
	m.emit(epevents.StateChanged, map[string]interface{}{
		"from": prev.String(),
		"to":   next.String(),
	})
}

// emit publishes an event with the machine's identity attached.
func (m *Machine) emit(eventType epevents.EventType, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(epevents.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Instance:  m.profile.Name,
		Task:      m.script.Kind(),
		Payload:   payload,
	})
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return eperrors.NewAbortedError(ctx.Err().Error())
	}
}
