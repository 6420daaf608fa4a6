// Package telemetrytest collects telemetry.Metrics in memory for tests.
package telemetrytest

import (
	"context"
	"testing"

	"github.com/roach88/runctl/internal/telemetry"
)

// Recorder reads back the instruments created by New.
type Recorder struct {
	t         testing.TB
	collector *telemetry.Collector
}

// New returns metrics backed by an in-memory reader.
func New(t testing.TB) (*telemetry.Metrics, *Recorder) {
	t.Helper()
	m, c, err := telemetry.NewCollector()
	if err != nil {
		t.Fatalf("telemetry.NewCollector() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return m, &Recorder{t: t, collector: c}
}

// Total returns the named counter sum or histogram count. Unknown names
// return 0.
func (r *Recorder) Total(name string) int64 {
	r.t.Helper()
	totals, err := r.collector.Totals(context.Background())
	if err != nil {
		r.t.Fatalf("collect metrics: %v", err)
	}
	return totals[name]
}
