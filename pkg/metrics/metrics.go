// Package metrics exposes Prometheus instrumentation over the platform's
// caches and session registry. Collectors read the components' own
// counters on scrape instead of maintaining parallel state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/catalogops/metaquality/pkg/cache"
	"github.com/catalogops/metaquality/pkg/snowflake"
)

// Register wires cache and session gauges into the registry. Any nil
// component is skipped.
func Register(reg prometheus.Registerer, qc *cache.QueryCache, mc *cache.MetadataCache, sessions *snowflake.Manager) {
	if qc != nil {
		registerQueryCache(reg, qc)
	}
	if mc != nil {
		registerMetadataCache(reg, mc)
	}
	if sessions != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "metaquality_active_sessions",
				Help: "Number of sessions currently registered.",
			},
			func() float64 { return float64(sessions.Stats(false).ActiveSessions) },
		))
	}
}

func registerQueryCache(reg prometheus.Registerer, qc *cache.QueryCache) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "metaquality_query_cache_entries",
			Help: "Entries currently held by the query result cache.",
		},
		func() float64 { return float64(qc.Stats().Size) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "metaquality_query_cache_hits_total",
			Help: "Query cache hits since startup.",
		},
		func() float64 { return float64(qc.Stats().Hits) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "metaquality_query_cache_misses_total",
			Help: "Query cache misses since startup.",
		},
		func() float64 { return float64(qc.Stats().Misses) },
	))
}

func registerMetadataCache(reg prometheus.Registerer, mc *cache.MetadataCache) {
	tiers := []struct {
		name  string
		count func(cache.MetadataCacheStats) int
	}{
		{"databases", func(s cache.MetadataCacheStats) int { return s.Databases }},
		{"schemas", func(s cache.MetadataCacheStats) int { return s.Schemas }},
		{"tables", func(s cache.MetadataCacheStats) int { return s.Tables }},
		{"columns", func(s cache.MetadataCacheStats) int { return s.Columns }},
	}
	for _, tier := range tiers {
		count := tier.count
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "metaquality_metadata_cache_entries",
				Help:        "Entries currently held per metadata cache tier.",
				ConstLabels: prometheus.Labels{"tier": tier.name},
			},
			func() float64 { return float64(count(mc.Stats())) },
		))
	}
}
