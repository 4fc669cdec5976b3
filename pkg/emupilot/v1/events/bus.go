package events

import "time"

// EventType represents the type of an emupilot engine event.
type EventType string

// Standard engine event types.
const (
	RunStart          EventType = "RunStart"          // Orchestrator begins a run
	RunEnd            EventType = "RunEnd"            // All workers finished
	WorkerStart       EventType = "WorkerStart"       // A per-instance worker began
	WorkerEnd         EventType = "WorkerEnd"         // A per-instance worker finished
	TaskStart         EventType = "TaskStart"         // State machine entered Launching (or short-circuited)
	TaskEnd           EventType = "TaskEnd"           // State machine reached a terminal state
	StateChanged      EventType = "StateChanged"      // State machine transition
	RecoveryTriggered EventType = "RecoveryTriggered" // Stall threshold crossed, recovery sequence issued
	CommandDispatched EventType = "CommandDispatched" // A bridge command was sent
	CompletionMarked  EventType = "CompletionMarked"  // Completion tracker recorded a task done
	DeviceLost        EventType = "DeviceLost"        // Bridge endpoint became unreachable
)

// Event represents a significant occurrence within the emupilot engine.
type Event struct {
	// Type categorizes the event.
	Type EventType `json:"type"`
	// Timestamp marks when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// Instance identifies the emulator instance context, if applicable.
	Instance string `json:"instance,omitempty"`
	// Task identifies the task kind context, if applicable.
	Task string `json:"task,omitempty"`
	// Payload contains event-specific data, e.g. the old and new state names
	// for StateChanged or the command verb for CommandDispatched.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Bus defines the interface for publishing events within the engine.
// The orchestrator's observable status stream is built on top of this bus;
// implementations could also log events or forward them to a message queue.
type Bus interface {
	// Emit publishes an event to the bus.
	// Implementations should be non-blocking or handle blocking carefully
	// to avoid slowing down a worker's perceive/act cycle.
	Emit(event Event)
}
