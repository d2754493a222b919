package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Job outcomes recorded on docpipe_ingest_jobs_total.
const (
	OutcomeProcessed   = "processed"
	OutcomeRetried     = "retried"
	OutcomeFailed      = "failed"
	OutcomeInterrupted = "interrupted"
)

// Metrics holds the pipeline collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ingestJobs       *prometheus.CounterVec
	chunksStored     prometheus.Counter
	batchDuration    prometheus.Histogram
	queueRetries     prometheus.Counter
	queueDeadLetters prometheus.Counter
	retrievals       *prometheus.CounterVec
	staleFailed      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ingestJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_ingest_jobs_total",
			Help: "Ingestion job attempts by outcome.",
		}, []string{"outcome"}),
		chunksStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpipe_ingest_chunks_stored_total",
			Help: "Chunks embedded and written to the vector store.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docpipe_ingest_batch_duration_seconds",
			Help:    "Time to embed and store one chunk batch.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		queueRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpipe_queue_retries_total",
			Help: "Envelopes rescheduled after a failed attempt.",
		}),
		queueDeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpipe_queue_dead_letters_total",
			Help: "Envelopes moved to the dead-letter stream.",
		}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docpipe_retrieval_requests_total",
			Help: "Retrieval requests by outcome.",
		}, []string{"outcome"}),
		staleFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docpipe_stale_documents_failed_total",
			Help: "Documents failed by the stale processing sweep.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestJobs, m.chunksStored, m.batchDuration,
		m.queueRetries, m.queueDeadLetters, m.retrievals, m.staleFailed,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IngestJob(outcome string) {
	if m == nil {
		return
	}
	m.ingestJobs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BatchStored(n int, took time.Duration) {
	if m == nil {
		return
	}
	m.chunksStored.Add(float64(n))
	m.batchDuration.Observe(took.Seconds())
}

func (m *Metrics) QueueRetry() {
	if m == nil {
		return
	}
	m.queueRetries.Inc()
}

func (m *Metrics) QueueDeadLetter() {
	if m == nil {
		return
	}
	m.queueDeadLetters.Inc()
}

func (m *Metrics) Retrieval(outcome string) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StaleFailed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.staleFailed.Add(float64(n))
}
