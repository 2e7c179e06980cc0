package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StorageMetrics records backend-internal events such as cache activity.
type StorageMetrics interface {
	// CacheHit counts a hit in the named backend cache.
	CacheHit(cache string)

	// CacheMiss counts a miss in the named backend cache.
	CacheMiss(cache string)
}

// NopStorageMetrics is a StorageMetrics that records nothing.
type NopStorageMetrics struct{}

func (NopStorageMetrics) CacheHit(string)  {}
func (NopStorageMetrics) CacheMiss(string) {}

type storageMetrics struct {
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
}

// NewStorageMetrics creates a Prometheus-backed StorageMetrics.
// Returns a no-op implementation when metrics are disabled.
func NewStorageMetrics() StorageMetrics {
	if !IsEnabled() {
		return NopStorageMetrics{}
	}

	reg := GetRegistry()

	return &storageMetrics{
		cacheHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "daosnfs_storage_cache_hits_total",
				Help: "Total backend cache hits by cache name",
			},
			[]string{"cache"},
		),
		cacheMisses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "daosnfs_storage_cache_misses_total",
				Help: "Total backend cache misses by cache name",
			},
			[]string{"cache"},
		),
	}
}

func (m *storageMetrics) CacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

func (m *storageMetrics) CacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}
