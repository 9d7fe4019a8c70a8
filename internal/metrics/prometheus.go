// Package metrics provides Prometheus metrics for the Amdox server.
package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "amdox"

// Cache lookup results recorded by RecordPDFCache.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// PrometheusMetrics holds the collectors exported on /metrics.
type PrometheusMetrics struct {
	// CertificatesIssued counts certificates committed by bulk imports.
	CertificatesIssued prometheus.Counter
	// RowsSkipped counts spreadsheet rows rejected, by reason.
	RowsSkipped *prometheus.CounterVec
	// InsertFailures counts per-record insert failures, by status.
	InsertFailures *prometheus.CounterVec
	// Verifications counts verification lookups, by result.
	Verifications *prometheus.CounterVec
	// PDFCache counts PDF cache lookups, by hit or miss.
	PDFCache *prometheus.CounterVec
	// RenderDuration observes PDF render time in seconds, by outcome.
	RenderDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// Registering twice on the same registry fails.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		CertificatesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_issued_total",
			Help:      "Total number of certificates issued by bulk imports.",
		}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_skipped_total",
			Help:      "Spreadsheet rows rejected during import, by reason.",
		}, []string{"reason"}),
		InsertFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_insert_failures_total",
			Help:      "Certificate insert failures during import, by status.",
		}, []string{"status"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificate_verifications_total",
			Help:      "Certificate verification lookups, by result.",
		}, []string{"result"}),
		PDFCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificate_pdf_cache_total",
			Help:      "Certificate PDF cache lookups, by result.",
		}, []string{"result"}),
		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "certificate_pdf_render_seconds",
			Help:      "Time spent rendering certificate PDFs.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		m.CertificatesIssued,
		m.RowsSkipped,
		m.InsertFailures,
		m.Verifications,
		m.PDFCache,
		m.RenderDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}

	return m, nil
}

// RecordIssued adds n to the issued certificates counter.
func (m *PrometheusMetrics) RecordIssued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CertificatesIssued.Add(float64(n))
}

// RecordSkipped increments the skipped rows counter for reason.
func (m *PrometheusMetrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.RowsSkipped.WithLabelValues(reason).Inc()
}

// RecordInsertFailure increments the insert failure counter for status.
func (m *PrometheusMetrics) RecordInsertFailure(status string) {
	if m == nil {
		return
	}
	m.InsertFailures.WithLabelValues(status).Inc()
}

// RecordVerification increments the verification counter for result.
func (m *PrometheusMetrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(result).Inc()
}

// RecordPDFCache increments the cache lookup counter for result.
func (m *PrometheusMetrics) RecordPDFCache(result string) {
	if m == nil {
		return
	}
	m.PDFCache.WithLabelValues(result).Inc()
}

// RecordRender observes a render duration in seconds.
func (m *PrometheusMetrics) RecordRender(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RenderDuration.WithLabelValues(outcome).Observe(seconds)
}

// Handler returns an HTTP handler serving the registered metrics.
func (m *PrometheusMetrics) Handler() (http.Handler, error) {
	if m == nil || m.gatherer == nil {
		return nil, errors.New("metrics registry does not support gathering")
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}), nil
}
