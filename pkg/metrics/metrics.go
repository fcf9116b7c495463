// Package metrics provides Prometheus collectors for statline runs.
//
// A batch run has no scrape endpoint, so the CLI pushes the registry to a
// Pushgateway once all datasets are processed:
//
//	reg := prometheus.NewRegistry()
//	collector := metrics.NewCollector(reg)
//	...
//	collector.DatasetDone("published")
//	_ = collector.Push(ctx, "http://pushgateway:9091", "statline")
//
// # Metrics
//
//	statline_http_requests_total{host,code}
//	statline_http_request_duration_seconds{host}
//	statline_pages_fetched_total{version,role}
//	statline_rows_staged_total{version,role}
//	statline_tables_total{status}
//	statline_datasets_total{status}
//	statline_stage_duration_seconds{stage}
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Collector groups statline's metrics on one registry. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pages           *prometheus.CounterVec
	rows            *prometheus.CounterVec
	tables          *prometheus.CounterVec
	datasets        *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
}

// NewCollector registers statline's metrics on reg.
func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statline_http_requests_total",
				Help: "OData requests by host and status code; code 0 is a transport error",
			},
			[]string{"host", "code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statline_http_request_duration_seconds",
				Help:    "OData request latency",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"host"},
		),
		pages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statline_pages_fetched_total",
				Help: "Pages fetched and staged",
			},
			[]string{"version", "role"},
		),
		rows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statline_rows_staged_total",
				Help: "Rows staged to local disk",
			},
			[]string{"version", "role"},
		),
		tables: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statline_tables_total",
				Help: "Tables processed by outcome",
			},
			[]string{"status"},
		),
		datasets: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statline_datasets_total",
				Help: "Dataset runs by outcome",
			},
			[]string{"status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "statline_stage_duration_seconds",
				Help:    "Time spent per pipeline stage",
				Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
			},
			[]string{"stage"},
		),
	}
}

// ObserveRequest matches clients.RequestObserver.
func (c *Collector) ObserveRequest(host string, status int, duration time.Duration, _ error) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(host, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// PageStaged counts one staged page and its rows.
func (c *Collector) PageStaged(version, role string, rows int) {
	if c == nil {
		return
	}
	c.pages.WithLabelValues(version, role).Inc()
	c.rows.WithLabelValues(version, role).Add(float64(rows))
}

// TableDone counts a table outcome: converted, empty or failed.
func (c *Collector) TableDone(status string) {
	if c == nil {
		return
	}
	c.tables.WithLabelValues(status).Inc()
}

// DatasetDone counts a dataset outcome.
func (c *Collector) DatasetDone(status string) {
	if c == nil {
		return
	}
	c.datasets.WithLabelValues(status).Inc()
}

// ObserveStage records the time spent in a stage.
func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Push sends the registry to a Pushgateway under job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(c.registry).PushContext(ctx)
}
