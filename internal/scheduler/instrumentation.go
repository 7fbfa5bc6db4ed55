package scheduler

import "github.com/prometheus/client_golang/prometheus"

// instrumentation holds the scheduler-level prometheus series: a gauge of
// actions currently in flight per phase, and a counter of actions reaching
// each terminal state.
type instrumentation struct {
	actionsRunning *prometheus.GaugeVec
	actionsTotal   *prometheus.CounterVec
}

func newInstrumentation() *instrumentation {
	return &instrumentation{
		actionsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sdlb",
			Subsystem: "scheduler",
			Name:      "actions_running",
			Help:      "Actions currently executing a phase.",
		}, []string{"phase"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdlb",
			Subsystem: "scheduler",
			Name:      "actions_total",
			Help:      "Actions reaching a terminal state, by state.",
		}, []string{"state"}),
	}
}

// Describe implements prometheus.Collector.
func (i *instrumentation) Describe(ch chan<- *prometheus.Desc) {
	i.actionsRunning.Describe(ch)
	i.actionsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (i *instrumentation) Collect(ch chan<- prometheus.Metric) {
	i.actionsRunning.Collect(ch)
	i.actionsTotal.Collect(ch)
}

func (i *instrumentation) enter(phase string) { i.actionsRunning.WithLabelValues(phase).Inc() }
func (i *instrumentation) leave(phase string) { i.actionsRunning.WithLabelValues(phase).Dec() }
func (i *instrumentation) terminal(state string) { i.actionsTotal.WithLabelValues(state).Inc() }
