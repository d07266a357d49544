package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query outcomes recorded by Metrics.
const (
	outcomeOK       = "ok"
	outcomePrompted = "prompted"
	outcomeError    = "error"
)

// Metrics holds the Prometheus collectors of the ingest and query flows.
// A nil *Metrics records nothing.
type Metrics struct {
	// queriesTotal counts Ask calls by outcome.
	queriesTotal *prometheus.CounterVec

	// queryDuration records Ask latency for answered queries.
	queryDuration prometheus.Histogram

	// documentsTotal counts ingested documents by outcome ("ok", "skipped").
	documentsTotal *prometheus.CounterVec

	// indexChunks is the chunk count of the last persisted index.
	indexChunks prometheus.Gauge

	// ingestDuration records the wall-clock time of each ingestion.
	ingestDuration prometheus.Histogram
}

// NewMetrics registers the pipeline collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "total",
			Help:      "Questions handled by the query flow, partitioned by outcome.",
		}, []string{"outcome"}),
		queryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Retrieval plus synthesis latency of answered questions.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		documentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents seen by ingestion, partitioned by outcome.",
		}, []string{"outcome"}),
		indexChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "index",
			Name:      "chunks",
			Help:      "Number of chunks in the most recently persisted index.",
		}),
		ingestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of each ingestion.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

func (m *Metrics) observeQuery(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	if outcome == outcomeOK {
		m.queryDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeIngest(report *IngestReport) {
	if m == nil {
		return
	}
	m.documentsTotal.WithLabelValues(outcomeOK).Add(float64(report.Documents))
	m.documentsTotal.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	m.indexChunks.Set(float64(report.Chunks))
	m.ingestDuration.Observe(report.Elapsed.Seconds())
}
