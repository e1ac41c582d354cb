package maxsim

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives timing and outcome information for engine
// operations. Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordBuild records an index build over docs documents producing
	// chunks chunks.
	RecordBuild(docs, chunks int, duration time.Duration, err error)

	// RecordOpen records an engine open.
	RecordOpen(duration time.Duration, err error)

	// RecordSearch records a query with the requested k and the number of
	// candidate documents that were scored.
	RecordSearch(k, candidates int, duration time.Duration, err error)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordBuild(docs, chunks int, duration time.Duration, err error) {}

func (NoopMetricsCollector) RecordOpen(duration time.Duration, err error) {}

func (NoopMetricsCollector) RecordSearch(k, candidates int, duration time.Duration, err error) {}

// BasicMetricsCollector counts operations with atomic counters. Useful for
// tests and simple monitoring; for Prometheus export see the prommetrics
// package.
type BasicMetricsCollector struct {
	BuildCount      atomic.Int64
	BuildErrors     atomic.Int64
	BuildTotalNanos atomic.Int64

	OpenCount  atomic.Int64
	OpenErrors atomic.Int64

	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	SearchCandidates atomic.Int64
}

func (c *BasicMetricsCollector) RecordBuild(docs, chunks int, duration time.Duration, err error) {
	c.BuildCount.Add(1)
	c.BuildTotalNanos.Add(int64(duration))

	if err != nil {
		c.BuildErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordOpen(duration time.Duration, err error) {
	c.OpenCount.Add(1)

	if err != nil {
		c.OpenErrors.Add(1)
	}
}

func (c *BasicMetricsCollector) RecordSearch(k, candidates int, duration time.Duration, err error) {
	c.SearchCount.Add(1)
	c.SearchTotalNanos.Add(int64(duration))
	c.SearchCandidates.Add(int64(candidates))

	if err != nil {
		c.SearchErrors.Add(1)
	}
}

// BasicMetricsStats is a point-in-time snapshot of a BasicMetricsCollector.
type BasicMetricsStats struct {
	BuildCount        int64
	BuildErrors       int64
	AvgBuildDuration  time.Duration
	OpenCount         int64
	OpenErrors        int64
	SearchCount       int64
	SearchErrors      int64
	AvgSearchDuration time.Duration
	AvgCandidates     float64
}

// GetStats returns a snapshot of the collected metrics.
func (c *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		BuildCount:        c.BuildCount.Load(),
		BuildErrors:       c.BuildErrors.Load(),
		AvgBuildDuration:  c.avgBuildDuration(),
		OpenCount:         c.OpenCount.Load(),
		OpenErrors:        c.OpenErrors.Load(),
		SearchCount:       c.SearchCount.Load(),
		SearchErrors:      c.SearchErrors.Load(),
		AvgSearchDuration: c.avgSearchDuration(),
		AvgCandidates:     c.avgCandidates(),
	}
}

func (c *BasicMetricsCollector) avgBuildDuration() time.Duration {
	n := c.BuildCount.Load()
	if n == 0 {
		return 0
	}

	return time.Duration(c.BuildTotalNanos.Load() / n)
}

func (c *BasicMetricsCollector) avgSearchDuration() time.Duration {
	n := c.SearchCount.Load()
	if n == 0 {
		return 0
	}

	return time.Duration(c.SearchTotalNanos.Load() / n)
}

func (c *BasicMetricsCollector) avgCandidates() float64 {
	n := c.SearchCount.Load()
	if n == 0 {
		return 0
	}

	return float64(c.SearchCandidates.Load()) / float64(n)
}
