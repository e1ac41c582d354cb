// Package prommetrics exports engine metrics to Prometheus.
//
// The collector satisfies maxsim.MetricsCollector, so wiring it up is a
// single option:
//
//	reg := prometheus.NewRegistry()
//	mc, err := prommetrics.New(reg)
//	if err != nil { ... }
//
//	eng, err := maxsim.Open(ctx, store, maxsim.WithMetricsCollector(mc))
package prommetrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "maxsim"

var (
	buildDurationBuckets  = prometheus.ExponentialBuckets(0.1, 2, 16)    // ~100ms to 54min
	searchDurationBuckets = prometheus.ExponentialBuckets(0.0005, 2, 16) // ~0.5ms to 16s
	candidateBuckets      = prometheus.ExponentialBuckets(1, 4, 12)      // 1 to ~4M
)

// Collector implements maxsim.MetricsCollector on Prometheus primitives.
// It holds no state of its own and is safe for concurrent use.
type Collector struct {
	buildsTotal   *prometheus.CounterVec
	buildDocs     prometheus.Counter
	buildDuration prometheus.Histogram

	opensTotal *prometheus.CounterVec

	searchesTotal    *prometheus.CounterVec
	searchDuration   prometheus.Histogram
	searchCandidates prometheus.Histogram
}

// New creates a collector and registers its metrics with reg. If reg is
// nil, prometheus.DefaultRegisterer is used. A metric that is already
// registered with identical descriptors is reused, so several engines can
// share one registry.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{}

	var err error

	c.buildsTotal, err = newCounterVec(reg,
		"builds_total", "Count of index builds by status", "status")
	if err != nil {
		return nil, err
	}

	c.buildDocs, err = newCounter(reg,
		"build_docs_total", "Count of documents indexed by completed builds")
	if err != nil {
		return nil, err
	}

	c.buildDuration, err = newHistogram(reg,
		"build_duration_seconds", "Duration of completed index builds", buildDurationBuckets)
	if err != nil {
		return nil, err
	}

	c.opensTotal, err = newCounterVec(reg,
		"opens_total", "Count of engine opens by status", "status")
	if err != nil {
		return nil, err
	}

	c.searchesTotal, err = newCounterVec(reg,
		"searches_total", "Count of queries by status", "status")
	if err != nil {
		return nil, err
	}

	c.searchDuration, err = newHistogram(reg,
		"search_duration_seconds", "Duration of successful queries", searchDurationBuckets)
	if err != nil {
		return nil, err
	}

	c.searchCandidates, err = newHistogram(reg,
		"search_candidates", "Documents scored exactly per query", candidateBuckets)
	if err != nil {
		return nil, err
	}

	return c, nil
}

// MustNew is like New but panics on registration failure.
func MustNew(reg prometheus.Registerer) *Collector {
	c, err := New(reg)
	if err != nil {
		panic(err)
	}

	return c
}

func (c *Collector) RecordBuild(docs, chunks int, duration time.Duration, err error) {
	c.buildsTotal.WithLabelValues(status(err)).Inc()

	if err == nil {
		c.buildDocs.Add(float64(docs))
		c.buildDuration.Observe(duration.Seconds())
	}
}

func (c *Collector) RecordOpen(duration time.Duration, err error) {
	c.opensTotal.WithLabelValues(status(err)).Inc()
}

func (c *Collector) RecordSearch(k, candidates int, duration time.Duration, err error) {
	c.searchesTotal.WithLabelValues(status(err)).Inc()

	if err == nil {
		c.searchDuration.Observe(duration.Seconds())
		c.searchCandidates.Observe(float64(candidates))
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}

func newCounter(reg prometheus.Registerer, name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})

	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if counter, ok := e.ExistingCollector.(prometheus.Counter); ok {
				return counter, nil
			}

			return nil, fmt.Errorf("metric %s already registered but not as a Counter", name)
		}

		return nil, err
	}

	return c, nil
}

func newCounterVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)

	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if vec, ok := e.ExistingCollector.(*prometheus.CounterVec); ok {
				return vec, nil
			}

			return nil, fmt.Errorf("metric %s already registered but not as a CounterVec", name)
		}

		return nil, err
	}

	return c, nil
}

func newHistogram(reg prometheus.Registerer, name, help string, buckets []float64) (prometheus.Histogram, error) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	})

	if err := reg.Register(h); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if hist, ok := e.ExistingCollector.(prometheus.Histogram); ok {
				return hist, nil
			}

			return nil, fmt.Errorf("metric %s already registered but not as a Histogram", name)
		}

		return nil, err
	}

	return h, nil
}
