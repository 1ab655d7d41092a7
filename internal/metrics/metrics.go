// Package metrics exposes catwatch statistics to Prometheus.
//
// Components keep their own atomic counters; the collectors here read them
// at scrape time through CounterFunc and GaugeFunc, so nothing on the
// ingestion path touches Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtxerr/catwatch/internal/broadcast"
	"github.com/xtxerr/catwatch/internal/ingest"
	"github.com/xtxerr/catwatch/internal/sink"
	"github.com/xtxerr/catwatch/internal/storage"
)

const namespace = "catwatch"

// Registry owns the Prometheus registry of the daemon.
type Registry struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a registry with Go runtime and process collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Instrument counts requests and observes latency for one route.
func (r *Registry) Instrument(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(
		r.httpDuration.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(r.httpRequests.MustCurryWith(labels), h),
	)
}

func counter(name, help string, fn func() float64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

func gauge(name, help string, fn func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// RegisterIngest exports ingestion loop and store health statistics.
func (r *Registry) RegisterIngest(l *ingest.Loop) error {
	stat := func(f func(ingest.Stats) int64) func() float64 {
		return func() float64 { return float64(f(l.Stats())) }
	}

	return register(r.reg,
		counter("samples_received_total", "Raw samples taken from the source.",
			stat(func(s ingest.Stats) int64 { return s.SamplesReceived })),
		counter("readings_ingested_total", "Readings stored and published.",
			stat(func(s ingest.Stats) int64 { return s.ReadingsIngested })),
		counter("samples_dropped_total", "Samples that did not become readings.",
			stat(func(s ingest.Stats) int64 { return s.Dropped() })),
		counter("parse_errors_total", "Samples dropped as malformed.",
			stat(func(s ingest.Stats) int64 { return s.ParseErrors })),
		counter("derivation_errors_total", "Samples dropped with non-finite derived values.",
			stat(func(s ingest.Stats) int64 { return s.DerivationErrors })),
		counter("store_errors_total", "Readings lost to store append failures.",
			stat(func(s ingest.Stats) int64 { return s.StoreErrors })),
		counter("clock_clamps_total", "Ingest timestamps clamped after a clock step backwards.",
			stat(func(s ingest.Stats) int64 { return s.ClockClamps })),
		gauge("last_ingest_timestamp_seconds", "Unix time of the last ingested reading.",
			func() float64 {
				t := l.Stats().LastIngest
				if t.IsZero() {
					return 0
				}
				return float64(t.UnixNano()) / 1e9
			}),
		gauge("ingest_health_level", "Store health level: 0 normal, 1 warning, 2 critical, 3 emergency.",
			func() float64 { return float64(l.Health().Level()) }),
		gauge("store_failure_ratio", "Store append failure ratio over the health window.",
			func() float64 { return l.Health().FailureRatio() }),
	)
}

// RegisterStore exports reading log statistics.
func (r *Registry) RegisterStore(s *storage.Store) error {
	return register(r.reg,
		gauge("store_readings", "Readings held in the log.",
			func() float64 { return float64(s.Len()) }),
		counter("store_wal_bytes_total", "Bytes written to the write-ahead log.",
			func() float64 { return float64(s.Stats().WAL.BytesWritten) }),
	)
}

// RegisterBroadcast exports fan-out statistics.
func (r *Registry) RegisterBroadcast(b *broadcast.Broadcaster) error {
	return register(r.reg,
		gauge("broadcast_subscribers", "Live subscribers.",
			func() float64 { return float64(b.Stats().Subscribers) }),
		counter("broadcast_published_total", "Readings published to subscribers.",
			func() float64 { return float64(b.Stats().Published) }),
		counter("broadcast_dropped_total", "Readings evicted from full subscriber queues.",
			func() float64 { return float64(b.Stats().Dropped) }),
	)
}

// RegisterArchive exports archive and query statistics.
func (r *Registry) RegisterArchive(svc *storage.Service) error {
	if svc.Archiver() == nil {
		return nil
	}
	a, q := svc.Archiver(), svc.Query()

	return register(r.reg,
		counter("archive_days_total", "Days written to the parquet archive.",
			func() float64 { return float64(a.Stats().DaysArchived) }),
		counter("archive_rows_total", "Rows written to the parquet archive.",
			func() float64 { return float64(a.Stats().RowsWritten) }),
		counter("archive_errors_total", "Failed day archives.",
			func() float64 { return float64(a.Stats().Errors) }),
		counter("archive_queries_total", "DuckDB archive queries.",
			func() float64 { return float64(q.Stats().QueriesExecuted) }),
	)
}

// RegisterKafka exports Kafka sink statistics.
func (r *Registry) RegisterKafka(k *sink.Kafka) error {
	return register(r.reg,
		counter("kafka_sent_total", "Readings written to Kafka.",
			func() float64 { return float64(k.Stats().Sent) }),
		counter("kafka_failed_total", "Readings in failed Kafka batches.",
			func() float64 { return float64(k.Stats().Failed) }),
		counter("kafka_dropped_total", "Readings the sink lost to queue overflow.",
			func() float64 { return float64(k.Stats().Dropped) }),
	)
}

func register(reg *prometheus.Registry, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
