package telemetry

import (
	"context"
	"fmt"
	"sort"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Collector keeps every instrument of one Metrics in memory so a command
// can report totals when it finishes.
type Collector struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// NewCollector creates instruments backed by an in-memory reader.
func NewCollector() (*Metrics, *Collector, error) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(provider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, nil, err
	}
	return m, &Collector{reader: reader, provider: provider}, nil
}

// Totals sums the data points of every instrument by name. Counters report
// their sum, histograms their observation count.
func (c *Collector) Totals(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					totals[m.Name] += dp.Value
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					totals[m.Name] += int64(dp.Count)
				}
			}
		}
	}
	return totals, nil
}

// Shutdown releases the provider.
func (c *Collector) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}

// Names returns the keys of totals in sorted order.
func Names(totals map[string]int64) []string {
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
