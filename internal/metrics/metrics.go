// Package metrics exposes the Prometheus collectors the HTTP layer
// records against: commit throughput, LFS batch sizes, and GC sweeps.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kohakuhub_commit_duration_seconds",
			Help:    "NDJSON commit handling duration by repo type",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"repo_type", "status"},
	)

	lfsBatchObjects = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kohakuhub_lfs_batch_objects",
			Help:    "Number of objects requested per LFS batch call",
			Buckets: prometheus.LinearBuckets(1, 5, 10),
		},
		[]string{"operation"},
	)

	lfsBatchBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kohakuhub_lfs_batch_bytes_total",
			Help: "Total bytes planned for upload across LFS batch calls",
		},
		[]string{"repo_type"},
	)

	gcObjectsReclaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kohakuhub_gc_objects_reclaimed_total",
			Help: "LFS objects deleted by retention GC",
		},
		[]string{"reason"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kohakuhub_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)
)

// RecordCommit observes how long a commit handler took.
func RecordCommit(repoType string, d time.Duration, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	commitDuration.WithLabelValues(repoType, status).Observe(d.Seconds())
}

// RecordLFSBatch observes the shape of one batch request.
func RecordLFSBatch(operation, repoType string, objectCount int, newBytes int64) {
	lfsBatchObjects.WithLabelValues(operation).Observe(float64(objectCount))
	if newBytes > 0 {
		lfsBatchBytes.WithLabelValues(repoType).Add(float64(newBytes))
	}
}

// RecordGCReclaim increments the reclaimed-object counter for reason
// ("keep_versions", "repo_delete", ...).
func RecordGCReclaim(reason string, count int) {
	gcObjectsReclaimed.WithLabelValues(reason).Add(float64(count))
}

// RecordHTTPRequest observes one completed request.
func RecordHTTPRequest(route, method, status string, d time.Duration) {
	httpRequestDuration.WithLabelValues(route, method, status).Observe(d.Seconds())
}
