package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogops/metaquality/pkg/cache"
	"github.com/catalogops/metaquality/pkg/snowflake"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	qc := cache.NewQueryCache(cache.QueryCacheConfig{})
	mc := cache.NewMetadataCache(cache.MetadataCacheConfig{})
	sessions := snowflake.NewManager(snowflake.ManagerConfig{})
	defer func() { _ = sessions.Close() }()

	Register(reg, qc, mc, sessions)

	names := gatherNames(t, reg)
	assert.True(t, names["metaquality_active_sessions"])
	assert.True(t, names["metaquality_query_cache_entries"])
	assert.True(t, names["metaquality_query_cache_hits_total"])
	assert.True(t, names["metaquality_query_cache_misses_total"])
	assert.True(t, names["metaquality_metadata_cache_entries"])
}

func TestRegisterReadsLiveCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	qc := cache.NewQueryCache(cache.QueryCacheConfig{})
	Register(reg, qc, nil, nil)

	qc.Set("SELECT 1", nil, []map[string]any{{"n": 1}})
	_, _ = qc.Get("SELECT 1", nil)
	_, _ = qc.Get("other", nil)

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if g := m.GetGauge(); g != nil {
				values[mf.GetName()] = g.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				values[mf.GetName()] = c.GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["metaquality_query_cache_entries"])
	assert.Equal(t, 1.0, values["metaquality_query_cache_hits_total"])
	assert.Equal(t, 1.0, values["metaquality_query_cache_misses_total"])
}

func TestRegisterTierLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := cache.NewMetadataCache(cache.MetadataCacheConfig{})
	Register(reg, nil, mc, nil)

	mc.SetDatabases("ACCT", []string{"DB1"})

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)

	metrics := families[0].GetMetric()
	assert.Len(t, metrics, 4, "one series per metadata tier")

	byTier := make(map[string]float64)
	for _, m := range metrics {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "tier" {
				byTier[lp.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, byTier["databases"])
	assert.Equal(t, 0.0, byTier["schemas"])
}
