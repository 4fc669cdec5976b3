package events

import (
	"context"

	"github.com/emupilot-labs/emupilot/internal/metrics"
	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/events"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
)

// MetricsEventListener subscribes to an engine event bus and updates Prometheus
// metrics based on the events it receives. It keeps the workers free of any
// direct metrics plumbing beyond emitting events.
type MetricsEventListener struct {
	bus     *ChannelEventBus
	log     eplog.Logger
	metrics *metrics.EngineMetrics
}

// NewMetricsEventListener creates a new listener.
// It requires a ChannelEventBus to subscribe to and the engine metrics bundle
// it updates.
func NewMetricsEventListener(bus *ChannelEventBus, m *metrics.EngineMetrics, log eplog.Logger) *MetricsEventListener {
	if bus == nil || m == nil || log == nil {
		// A nil logger would cause a panic, so we check all dependencies.
		panic("MetricsEventListener requires a non-nil ChannelEventBus, EngineMetrics, and Logger")
	}
	return &MetricsEventListener{
		bus:     bus,
		log:     log.With("component", "MetricsEventListener"),
		metrics: m,
	}
}

// Start begins listening for events on the bus in the calling goroutine.
// The provided context is used to signal shutdown; callers normally run this
// in a dedicated goroutine.
func (l *MetricsEventListener) Start(ctx context.Context) {
	l.log.Debugf("Starting metrics event listener...")
	for {
		select {
		case event, ok := <-l.bus.GetChannel():
			if !ok {
				l.log.Debugf("Event bus channel closed, stopping listener.")
				return
			}
			l.handleEvent(event)
		case <-ctx.Done():
			l.log.Debugf("Context cancelled, stopping metrics event listener.")
			return
		}
	}
}

// handleEvent processes a single event, incrementing metrics as needed.
func (l *MetricsEventListener) handleEvent(event events.Event) {
	switch event.Type {
	case events.CommandDispatched:
		verb, _ := event.Payload["verb"].(string)
		l.metrics.CommandsDispatched.WithLabelValues(event.Instance, verb).Inc()
	case events.RecoveryTriggered:
		l.metrics.RecoveriesTriggered.WithLabelValues(event.Instance).Inc()
	case events.TaskEnd:
		outcome, _ := event.Payload["outcome"].(string)
		l.metrics.TasksTotal.WithLabelValues(outcome).Inc()
	}
}
