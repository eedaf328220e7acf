// Package metrics records operational metrics for ingest runs behind a small
// backend-agnostic interface.
//
// A global backend defaults to a no-op, so instrumentation is always safe to
// call. Concrete systems live in subpackages (prompush, datadog) and are
// installed with SetBackend by the CLI when configured.
//
// Four series are emitted, all labelled with the job name:
//
//	amcache_step_total{step,status}             one per acquire/convert/open/... step
//	amcache_step_duration_seconds{step,status}  latency of the same steps
//	amcache_records_total{kind}                 rows, persisted and skipped counts
//	amcache_tables_total{table,outcome}         processed, failed or cancelled tables
//
// Callers use the Record* helpers rather than the Backend directly, so label
// sets stay consistent across backends. Backends that buffer (the
// Pushgateway one in particular) send nothing until Flush, which the CLI
// calls once when the process is done:
//
//	b, err := prompush.NewBackend("case-0042", "http://pushgateway:9091")
//	if err != nil {
//		return err
//	}
//	metrics.SetBackend(b)
//	defer metrics.Flush()
//
//	metrics.RecordStep("case-0042", "convert", err, time.Since(t0))
package metrics

import "time"

// Metric names emitted by this package.
const (
	StepTotal           = "amcache_step_total"
	StepDurationSeconds = "amcache_step_duration_seconds"
	RecordsTotal        = "amcache_records_total"
	TablesTotal         = "amcache_tables_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of a run step and records its latency.
// Steps are "open", "discover", "register", "project" and "convert".
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments the row counter for kind ("rows", "persisted" or
// "skipped").
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordTable counts one table outcome ("processed", "failed" or
// "cancelled").
func RecordTable(job, table, outcome string) {
	backend.IncCounter(TablesTotal, 1, Labels{
		"job":     job,
		"table":   table,
		"outcome": outcome,
	})
}
