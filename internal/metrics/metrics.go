// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "castdrop"

// Finalize label values.
const (
	PathSingle    = "single"
	PathMultipart = "multipart"
	PathExisting  = "existing"
	PathNone      = "none"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultClient  = "client_error"
)

// Metrics groups every collector. Fields are safe for concurrent use.
type Metrics struct {
	UploadsInitialized prometheus.Counter
	ChunksUploaded     prometheus.Counter
	ChunkBytes         prometheus.Counter
	DirectUploads      prometheus.Counter
	Finalizations      *prometheus.CounterVec
	VideoRequests      *prometheus.CounterVec
	Deletes            prometheus.Counter
	SweepDeleted       *prometheus.CounterVec
	SweepFailures      *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	HTTPDuration       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		UploadsInitialized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_initialized_total",
			Help:      "Chunked upload sessions started.",
		}),
		ChunksUploaded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_uploaded_total",
			Help:      "Chunks stored.",
		}),
		ChunkBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes received in chunk uploads.",
		}),
		DirectUploads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_uploads_total",
			Help:      "Videos stored through the single-shot upload path.",
		}),
		Finalizations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalize_total",
			Help:      "Finalize attempts by assembly path and result.",
		}, []string{"path", "result"}),
		VideoRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_requests_total",
			Help:      "Video serve requests by response status.",
		}, []string{"status"}),
		Deletes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Video delete requests.",
		}),
		SweepDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Expired objects removed by the sweeper.",
		}, []string{"prefix"}),
		SweepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweeper list or delete failures.",
		}, []string{"prefix"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}
}

// Discard returns collectors on a private registry that nothing scrapes.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
