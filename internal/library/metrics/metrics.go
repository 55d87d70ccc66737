// Package metrics holds the prometheus collectors of the query engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "sqlite_explorer"

	queryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "executed_total",
			Help:      "Total number of executed statements by kind and status",
		},
		[]string{"kind", "status"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Statement execution time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"kind"},
	)

	uploadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "accepted_total",
			Help:      "Total number of uploads by outcome",
		},
		[]string{"status"},
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upload",
			Name:      "bytes_total",
			Help:      "Total bytes of accepted uploads",
		},
	)

	connectionOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "open",
			Help:      "Whether a data file is currently open (0=closed, 1=open)",
		},
	)

	catalogCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "cache_lookups_total",
			Help:      "Catalog cache lookups by result",
		},
		[]string{"result"},
	)
)

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveQuery records one executed statement.
func ObserveQuery(kind string, elapsed time.Duration, err error) {
	queryTotal.WithLabelValues(kind, status(err)).Inc()
	queryDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveUpload records one upload attempt.
func ObserveUpload(size int64, err error) {
	uploadTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		uploadBytes.Add(float64(size))
	}
}

// SetConnectionOpen tracks the active connection state.
func SetConnectionOpen(open bool) {
	if open {
		connectionOpen.Set(1)
		return
	}
	connectionOpen.Set(0)
}

// ObserveCatalogLookup records a catalog cache hit or miss.
func ObserveCatalogLookup(hit bool) {
	if hit {
		catalogCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	catalogCacheTotal.WithLabelValues("miss").Inc()
}
