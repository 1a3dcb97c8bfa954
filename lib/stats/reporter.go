package stats

import (
	"context"
	"fmt"
	gometrics "github.com/rcrowley/go-metrics"
	"sort"
	"strings"
	"time"
)

// RunReporter logs a stats line every interval until the context is cancelled.
// An interval <= 0 returns immediately.
func (c *Collector) RunReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Logger.Infof("%s", c.Summary())
		}
	}
}

// Summary renders the current values of the registry as one line, sorted by name
func (c *Collector) Summary() string {
	var parts []string
	c.registry.Each(func(name string, metric interface{}) {
		switch m := metric.(type) {
		case gometrics.Counter:
			parts = append(parts, fmt.Sprintf("%s=%d", name, m.Count()))
		case gometrics.Gauge:
			parts = append(parts, fmt.Sprintf("%s=%d", name, m.Value()))
		case gometrics.Histogram:
			h := m.Snapshot()
			if h.Count() == 0 {
				parts = append(parts, fmt.Sprintf("%s=-", name))
				break
			}
			ps := h.Percentiles([]float64{0.5, 0.99})
			parts = append(parts, fmt.Sprintf("%s(p50/p99/max)=%.0f/%.0f/%d", name, ps[0], ps[1], h.Max()))
		}
	})
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
