package events

import (
	// Import the public events interface definition and types.
	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/events"
	// Import the public logger interface definition.
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
)

// ChannelEventBus implements the public events.Bus interface using a buffered Go channel.
// It provides a simple, in-process, decoupled event distribution mechanism; the
// orchestrator's status stream and the metrics listener both consume it.
// Its primary characteristic is non-blocking emission of events: a worker mid
// perceive/act cycle is never held up by a slow consumer.
type ChannelEventBus struct {
	// channel is the buffered Go channel that holds events pending delivery.
	channel chan events.Event
	// log is used for internal operational messages, such as warning about dropped
	// events when the channel buffer is full.
	log eplog.Logger
}

// NewChannelEventBus creates a new ChannelEventBus with the specified buffer size.
// If bufferSize is non-positive, a default buffer size is used.
// A non-nil logger instance (implementing eplog.Logger) is required.
// Panics if the provided logger is nil.
func NewChannelEventBus(bufferSize int, log eplog.Logger) *ChannelEventBus {
	const defaultBufferSize = 100
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if log == nil {
		// Cannot operate without a logger. Fail fast during setup.
		panic("ChannelEventBus requires a non-nil logger")
	}

	bus := &ChannelEventBus{
		channel: make(chan events.Event, bufferSize),
		log:     log.With("component", "ChannelEventBus"),
	}
	bus.log.Debugf("ChannelEventBus initialized with buffer size %d", bufferSize)
	return bus
}

// Emit sends an event onto the internal buffered channel.
// To prevent blocking the caller, this operation is non-blocking.
// If the channel buffer is full at the time of the call, the event is dropped,
// and a warning is logged using the configured logger.
// This implements the events.Bus interface method.
func (c *ChannelEventBus) Emit(event events.Event) {
	select {
	case c.channel <- event:
		c.log.Debugf("Emitted event type '%s'", event.Type)
	default:
		// The channel buffer is full; the send would block.
		c.log.Warnf("Event channel buffer full, dropping event type '%s'", event.Type)
	}
}

// GetChannel returns the underlying event channel for consumers.
// This method is specific to the ChannelEventBus implementation and is NOT part
// of the public events.Bus interface. It allows external components within the
// same process (like the status stream or the metrics listener) to directly
// consume events from the channel. The returned channel is read-only.
func (c *ChannelEventBus) GetChannel() <-chan events.Event {
	return c.channel
}

// Close closes the underlying event channel.
// This signals to consumers reading from GetChannel() that no more events will be sent.
// This method is specific to the ChannelEventBus implementation.
func (c *ChannelEventBus) Close() {
	c.log.Debugf("Closing ChannelEventBus channel.")
	close(c.channel)
}

// Ensure ChannelEventBus implements the public events.Bus interface at compile time.
var _ events.Bus = (*ChannelEventBus)(nil)
