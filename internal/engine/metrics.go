package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/protoengine/internal/action"
	"github.com/roach88/protoengine/internal/ir"
)

// engineMetrics holds Prometheus metrics for one engine. A nil
// *engineMetrics records nothing.
type engineMetrics struct {
	actions         *prometheus.CounterVec   // By action type
	commands        *prometheus.CounterVec   // By command type and status
	commandDuration *prometheus.HistogramVec // By command type
	errors          *prometheus.CounterVec   // By error code
	queued          prometheus.Gauge
	runs            *prometheus.CounterVec // By terminal status
}

func newEngineMetrics(reg prometheus.Registerer) (*engineMetrics, error) {
	if reg == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protoengine",
			Name:      "actions_total",
			Help:      "Actions applied to run state",
		}, []string{"type"}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protoengine",
			Name:      "commands_total",
			Help:      "Commands that reached a terminal status",
		}, []string{"command_type", "status"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "protoengine",
			Name:      "command_duration_seconds",
			Help:      "Time from command start to completion",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"command_type"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protoengine",
			Name:      "errors_total",
			Help:      "Errors recorded in run state",
		}, []string{"code"}),

		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "protoengine",
			Name:      "queued_commands",
			Help:      "Commands waiting to run",
		}),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "protoengine",
			Name:      "runs_total",
			Help:      "Runs that reached a terminal status",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{m.actions, m.commands, m.commandDuration, m.errors, m.queued, m.runs} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *engineMetrics) recordAction(a action.Action) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(string(a.Type())).Inc()
}

func (m *engineMetrics) recordCommand(cmd ir.Command, duration time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(cmd.Kind), string(cmd.Status)).Inc()
	m.commandDuration.WithLabelValues(string(cmd.Kind)).Observe(duration.Seconds())
}

func (m *engineMetrics) recordError(code ir.ErrorCode) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(string(code)).Inc()
}

func (m *engineMetrics) setQueued(n int) {
	if m == nil {
		return
	}
	m.queued.Set(float64(n))
}

func (m *engineMetrics) recordRun(status ir.RunStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}
