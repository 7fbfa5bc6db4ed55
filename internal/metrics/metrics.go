// Package metrics implements a per-(action,output) accumulator guarded by
// a single mutex (it is not lock-free), exposed as a prometheus.Collector
// for scraping. Its totals are not merged into action state.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
)

// Collector accumulates numeric metrics per (action, output) pair and
// doubles as a prometheus.Collector so a driver can register it directly
// with an HTTP exposition handler.
type Collector struct {
	mu      sync.Mutex
	records map[key]map[string]float64

	recordsTotal *prometheus.CounterVec
	rowsTotal    *prometheus.GaugeVec
}

type key struct {
	action idtype.ActionID
	output idtype.DataObjectID
}

// New constructs an empty Collector.
func New() *Collector {
	return &Collector{
		records: make(map[key]map[string]float64),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sdlb",
			Name:      "action_runs_total",
			Help:      "Number of output metric records reported by an action.",
		}, []string{"action"}),
		rowsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sdlb",
			Name:      "action_output_rows",
			Help:      "Row count last reported for an (action, output) pair.",
		}, []string{"action", "output"}),
	}
}

// Record merges m into the accumulated metrics for (actionID, outputID)
// and updates the corresponding prometheus series. Safe for concurrent
// use by multiple in-flight actions.
func (c *Collector) Record(actionID idtype.ActionID, outputID idtype.DataObjectID, m map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{action: actionID, output: outputID}
	acc, ok := c.records[k]
	if !ok {
		acc = make(map[string]float64, len(m))
		c.records[k] = acc
	}
	for name, val := range m {
		acc[name] += val
	}

	c.recordsTotal.WithLabelValues(actionID.String()).Inc()
	if rows, ok := m["rows"]; ok {
		c.rowsTotal.WithLabelValues(actionID.String(), outputID.String()).Set(rows)
	}
}

// Snapshot returns the accumulated metrics for (actionID, outputID), or
// nil if nothing has been recorded yet.
func (c *Collector) Snapshot(actionID idtype.ActionID, outputID idtype.DataObjectID) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, ok := c.records[key{action: actionID, output: outputID}]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(acc))
	for k, v := range acc {
		out[k] = v
	}
	return out
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.recordsTotal.Describe(ch)
	c.rowsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.recordsTotal.Collect(ch)
	c.rowsTotal.Collect(ch)
}
