package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the orchestrator's prometheus instruments, registered
// through promauto the same way pkg/observability/prometheus does for the
// teacher's HTTP/EventBus/verticle surfaces.
type metrics struct {
	machineCount   prometheus.Gauge
	mailboxDepth   *prometheus.GaugeVec
	stepDuration   *prometheus.HistogramVec
	stepOutcomes   *prometheus.CounterVec
}

// newMetrics registers the orchestrator's instruments against registerer.
// A nil registerer falls back to prometheus.DefaultRegisterer.
func newMetrics(registerer prometheus.Registerer) *metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &metrics{
		machineCount: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "statecore_machines_registered",
				Help: "Number of machines currently registered with the orchestrator",
			},
		),
		mailboxDepth: promauto.With(registerer).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "statecore_mailbox_depth",
				Help: "Number of envelopes currently queued in a machine's mailbox",
			},
			[]string{"machine_id"},
		),
		stepDuration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statecore_step_duration_seconds",
				Help:    "Time from SendEvent submission to the reply being received",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"machine_id", "event"},
		),
		stepOutcomes: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "statecore_step_outcomes_total",
				Help: "Total delivered events by outcome (ok or an ErrorKind)",
			},
			[]string{"machine_id", "event", "outcome"},
		),
	}
}

func (m *metrics) setMachineCount(n int) {
	if m == nil {
		return
	}
	m.machineCount.Set(float64(n))
}

func (m *metrics) setMailboxDepth(machineID string, depth int) {
	if m == nil {
		return
	}
	m.mailboxDepth.WithLabelValues(machineID).Set(float64(depth))
}

func (m *metrics) recordStep(machineID, event string, d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(machineID, event).Observe(d.Seconds())
	m.stepOutcomes.WithLabelValues(machineID, event, outcome).Inc()
}
