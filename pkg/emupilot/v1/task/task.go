package task

// State identifies one state of a task's automation state machine.
type State int

const (
	// Idle is the initial state, before the idempotence gate.
	Idle State = iota
	// Launching brings the game process up via the device bridge.
	Launching
	// AwaitingLogin waits for the login/character-selection screen.
	AwaitingLogin
	// Navigating walks menus toward the task's action screen.
	Navigating
	// ExecutingAction performs the task's core interaction.
	ExecutingAction
	// Verifying waits for the success indicator before marking completion.
	Verifying
	// Recovering runs the deterministic return-to-known-screen sequence.
	// Reachable from any non-terminal state when the stall threshold trips.
	Recovering
	// Completed, Failed and Aborted are terminal.
	Completed
	Failed
	Aborted
)

var stateNames = map[State]string{
	Idle:            "Idle",
	Launching:       "Launching",
	AwaitingLogin:   "AwaitingLogin",
	Navigating:      "Navigating",
	ExecutingAction: "ExecutingAction",
	Verifying:       "Verifying",
	Recovering:      "Recovering",
	Completed:       "Completed",
	Failed:          "Failed",
	Aborted:         "Aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsTerminal reports whether the state is terminal.
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Failed, Aborted:
		return true
	default:
		return false
	}
}

// ActionKind identifies one kind of synthetic input dispatched to a bridge.
type ActionKind int

const (
	ActionTap ActionKind = iota
	ActionSwipe
	ActionKeyBack
	ActionLaunchApp
	ActionCloseApp
	ActionWait
)

var actionNames = map[ActionKind]string{
	ActionTap:       "tap",
	ActionSwipe:     "swipe",
	ActionKeyBack:   "back",
	ActionLaunchApp: "launch",
	ActionCloseApp:  "close",
	ActionWait:      "wait",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

// Action is one scripted input command. Coordinates are in screen pixels.
// LaunchApp and CloseApp take their package/activity from the instance
// profile; Wait pauses for DurationMs without touching the device.
type Action struct {
	Kind       ActionKind
	X, Y       int
	X2, Y2     int
	DurationMs int
}

// Tap builds a tap action.
func Tap(x, y int) Action { return Action{Kind: ActionTap, X: x, Y: y} }

// Swipe builds a swipe action with the given duration.
func Swipe(x, y, x2, y2, durationMs int) Action {
	return Action{Kind: ActionSwipe, X: x, Y: y, X2: x2, Y2: y2, DurationMs: durationMs}
}

// Back builds a back-key action.
func Back() Action { return Action{Kind: ActionKeyBack} }

// Wait builds a no-dispatch pause action.
func Wait(durationMs int) Action { return Action{Kind: ActionWait, DurationMs: durationMs} }

// Step is one row of a task's scripted transition table: the machine state it
// belongs to, the perception region to sample, the recognized labels that
// satisfy it, and the actions issued once a label matches. The state machine
// walks a script's steps strictly in order; this keeps transitions data-driven
// and testable without a live emulator.
type Step struct {
	// Phase is the machine state the worker reports while on this step.
	Phase State
	// Region names the perception region (from the instance profile) to sample.
	Region string
	// Expect lists the recognized labels that satisfy this step. An empty list
	// means the step advances without perception (pure action step).
	Expect []string
	// Actions are dispatched, in order, once the step is satisfied.
	Actions []Action
}

// Script is the public interface every task kind implements. A Script is a
// pure description: it owns no device handles and performs no I/O. The state
// machine interprets it against one instance.
type Script interface {
	// Kind returns the unique task kind name used in profiles and the
	// completion tracker (e.g. "donation").
	Kind() string

	// Configure validates and applies the per-task parameter map from the
	// instance profile. It is called once before the script's steps are read.
	Configure(params map[string]interface{}) error

	// Steps returns the scripted transition table, ordered. The final step
	// must carry the Verifying phase; its match is the success indicator.
	Steps() []Step

	// Recovery returns the deterministic return-to-known-screen action
	// sequence issued when the stall threshold trips.
	Recovery() []Action
}

// Factory is a function type that creates new instances of a specific Script.
// Each task package registers a factory function of this type.
type Factory func() Script

// Registry defines the public interface for the engine's task registry.
// It provides a mechanism for registering and retrieving script factories by kind.
type Registry interface {
	// Get retrieves the factory function for a given task kind.
	// It returns an errors.TaskNotFoundError if the kind is not registered.
	Get(kind string) (Factory, error)

	// Register associates a task kind with its factory function.
	// This should be concurrency-safe. It returns an error if the kind is
	// empty, the factory is nil, or the kind is already registered.
	Register(kind string, factory Factory) error

	// List returns a slice containing the kinds of all registered tasks.
	// The order of kinds in the returned slice is not guaranteed.
	List() []string
}
