package prommetrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	maxsim "github.com/hupe1980/maxsim"
	"github.com/hupe1980/maxsim/blobstore"
	"github.com/hupe1980/maxsim/indexer"
	"github.com/hupe1980/maxsim/prommetrics"
	"github.com/hupe1980/maxsim/testutil"
)

var _ maxsim.MetricsCollector = (*prommetrics.Collector)(nil)

func TestNew_RegistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	c, err := prommetrics.New(reg)
	require.NoError(t, err)

	c.RecordBuild(100, 4, 2*time.Second, nil)
	c.RecordBuild(0, 0, time.Second, assert.AnError)
	c.RecordOpen(time.Millisecond, nil)
	c.RecordSearch(10, 42, time.Millisecond, nil)
	c.RecordSearch(10, 0, time.Millisecond, assert.AnError)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}

	assert.Contains(t, names, "maxsim_builds_total")
	assert.Contains(t, names, "maxsim_build_docs_total")
	assert.Contains(t, names, "maxsim_build_duration_seconds")
	assert.Contains(t, names, "maxsim_opens_total")
	assert.Contains(t, names, "maxsim_searches_total")
	assert.Contains(t, names, "maxsim_search_duration_seconds")
	assert.Contains(t, names, "maxsim_search_candidates")

	assert.Equal(t, float64(1), counterValue(t, reg, "maxsim_builds_total", "ok"))
	assert.Equal(t, float64(1), counterValue(t, reg, "maxsim_builds_total", "error"))
	assert.Equal(t, float64(1), counterValue(t, reg, "maxsim_searches_total", "error"))
}

func TestNew_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	a, err := prommetrics.New(reg)
	require.NoError(t, err)

	b, err := prommetrics.New(reg)
	require.NoError(t, err)

	// Both collectors feed the same registered counters.
	a.RecordOpen(time.Millisecond, nil)
	b.RecordOpen(time.Millisecond, nil)

	assert.Equal(t, float64(2), counterValue(t, reg, "maxsim_opens_total", "ok"))
}

func TestMustNew_PanicsOnConflict(t *testing.T) {
	reg := prometheus.NewRegistry()

	// Occupy a name with an incompatible collector type.
	require.NoError(t, reg.Register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "maxsim",
		Name:      "build_docs_total",
		Help:      "conflicting",
	})))

	require.Panics(t, func() {
		prommetrics.MustNew(reg)
	})
}

func TestCollector_WithEngine(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	mc := prommetrics.MustNew(reg)

	store := blobstore.NewMemoryStore()
	enc := testutil.NewHashEncoder(16)

	docs := indexer.SliceCollection{
		"amber circuit relay",
		"solar wind plasma stream",
		"granite fjord",
	}

	_, err := maxsim.Build(ctx, store, enc, docs,
		maxsim.WithNumCentroids(2),
		maxsim.WithSeed(3),
		maxsim.WithMetricsCollector(mc))
	require.NoError(t, err)

	eng, err := maxsim.Open(ctx, store,
		maxsim.WithEncoder(enc),
		maxsim.WithMetricsCollector(mc))
	require.NoError(t, err)

	t.Cleanup(func() { _ = eng.Close() })

	_, err = eng.SearchText(ctx, "solar wind", 2)
	require.NoError(t, err)

	assert.Equal(t, float64(1), counterValue(t, reg, "maxsim_builds_total", "ok"))
	assert.Equal(t, float64(1), counterValue(t, reg, "maxsim_opens_total", "ok"))
	assert.Equal(t, float64(1), counterValue(t, reg, "maxsim_searches_total", "ok"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, status string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}

		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status" && l.GetValue() == status {
					return m.GetCounter().GetValue()
				}
			}
		}
	}

	t.Fatalf("metric %s{status=%q} not found", name, status)

	return 0
}
