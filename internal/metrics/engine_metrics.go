package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics bundles the Prometheus collectors maintained by the automation
// engine. All collectors are registered on construction; registration errors
// panic because they indicate duplicate collector wiring, a programming mistake.
type EngineMetrics struct {
	// TasksTotal counts terminal task outcomes, labeled by outcome
	// (Completed, Failed, Aborted).
	TasksTotal *prometheus.CounterVec
	// CommandsDispatched counts bridge commands, labeled by instance and verb.
	CommandsDispatched *prometheus.CounterVec
	// RecoveriesTriggered counts stall-threshold recoveries, labeled by instance.
	RecoveriesTriggered *prometheus.CounterVec
	// PerceptionMisses counts perception cycles that matched no expected label.
	PerceptionMisses *prometheus.CounterVec
	// OCRTimeouts counts OCR invocations that hit their deadline.
	OCRTimeouts prometheus.Counter
}

// NewEngineMetrics creates the engine collector bundle and registers it on reg.
func NewEngineMetrics(reg *prometheus.Registry) *EngineMetrics {
	m := &EngineMetrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emupilot_tasks_total",
			Help: "Terminal task outcomes by outcome.",
		}, []string{"outcome"}),
		CommandsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emupilot_commands_dispatched_total",
			Help: "Bridge commands dispatched, by instance and verb.",
		}, []string{"instance", "verb"}),
		RecoveriesTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emupilot_recoveries_total",
			Help: "Recovery sequences triggered by stall detection, by instance.",
		}, []string{"instance"}),
		PerceptionMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emupilot_perception_misses_total",
			Help: "Perception cycles that matched no expected label, by instance.",
		}, []string{"instance"}),
		OCRTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emupilot_ocr_timeouts_total",
			Help: "OCR invocations that exceeded their deadline.",
		}),
	}
	reg.MustRegister(
		m.TasksTotal,
		m.CommandsDispatched,
		m.RecoveriesTriggered,
		m.PerceptionMisses,
		m.OCRTimeouts,
	)
	return m
}
