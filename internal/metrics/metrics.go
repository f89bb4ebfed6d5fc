package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	ingestions     *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	chunksCreated  prometheus.Counter
	ocrResults     *prometheus.CounterVec
	embedBatches   *prometheus.CounterVec
	queries        *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
	httpDuration   *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ingestions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citedoc_ingestions_total",
			Help: "Document ingestions by outcome kind",
		}, []string{"outcome"}),
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "citedoc_ingest_duration_seconds",
			Help:    "Wall time of a full document ingestion",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		chunksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "citedoc_chunks_created_total",
			Help: "Chunks written to the vector index",
		}),
		ocrResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citedoc_ocr_results_total",
			Help: "OCR outcomes per image element",
		}, []string{"result"}),
		embedBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citedoc_embed_batches_total",
			Help: "Embedding provider calls by outcome",
		}, []string{"outcome"}),
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "citedoc_queries_total",
			Help: "Questions answered by outcome",
		}, []string{"outcome"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citedoc_llm_duration_seconds",
			Help:    "Latency of LLM completion attempts",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "citedoc_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Ingestion(outcome string, took time.Duration, chunks int) {
	if m == nil {
		return
	}
	m.ingestions.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.ingestDuration.Observe(took.Seconds())
		m.chunksCreated.Add(float64(chunks))
	}
}

// OCR records one of "ok", "low_confidence", "failed".
func (m *Metrics) OCR(result string) {
	if m == nil {
		return
	}
	m.ocrResults.WithLabelValues(result).Inc()
}

func (m *Metrics) EmbedBatch(err error) {
	if m == nil {
		return
	}
	m.embedBatches.WithLabelValues(outcome(err)).Inc()
}

// Query records one of "answered", "no_grounding", "unavailable", "error".
func (m *Metrics) Query(outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LLMCall(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmDuration.WithLabelValues(outcome(err)).Observe(took.Seconds())
}

func (m *Metrics) HTTPRequest(method, route, status string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(took.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
