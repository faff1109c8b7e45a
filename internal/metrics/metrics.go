// Package metrics provides Prometheus metrics for the document API
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	UploadsTotal       *prometheus.CounterVec
	UploadBytesTotal   prometheus.Counter
	SavesTotal         *prometheus.CounterVec
	SaveDuration       prometheus.Histogram
	VersionsAppended   prometheus.Counter
	OpenEditSessions   prometheus.Gauge
	SharesTotal        *prometheus.CounterVec
	SearchQueriesTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartdocs_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartdocs_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartdocs_uploads_total",
				Help: "Uploads by media kind and outcome",
			},
			[]string{"kind", "status"},
		),
		UploadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "smartdocs_upload_bytes_total",
			Help: "Bytes accepted by successful uploads",
		}),
		SavesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartdocs_edit_saves_total",
				Help: "Edit session saves by outcome",
			},
			[]string{"status"},
		),
		SaveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartdocs_edit_save_duration_seconds",
			Help:    "Duration of edit session saves in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		VersionsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "smartdocs_versions_appended_total",
			Help: "Version snapshots written before saves",
		}),
		OpenEditSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "smartdocs_edit_sessions_open",
			Help: "Edit sessions currently open",
		}),
		SharesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartdocs_shares_total",
				Help: "Share grants by result",
			},
			[]string{"result"},
		),
		SearchQueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartdocs_search_queries_total",
				Help: "Search queries by backend",
			},
			[]string{"backend"},
		),
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveUpload(kind string, size int64, err error) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(kind, outcome(err)).Inc()
	if err == nil {
		m.UploadBytesTotal.Add(float64(size))
	}
}

func (m *Metrics) ObserveSave(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.SavesTotal.WithLabelValues(outcome(err)).Inc()
	m.SaveDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) VersionAppended() {
	if m == nil {
		return
	}
	m.VersionsAppended.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.OpenEditSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.OpenEditSessions.Dec()
}

func (m *Metrics) ShareGranted(created bool) {
	if m == nil {
		return
	}
	result := "updated"
	if created {
		result = "created"
	}
	m.SharesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SearchServed(backend string) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(backend).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
