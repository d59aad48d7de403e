package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the application counters exported at /metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ArticleViews  prometheus.Counter
	MailSent      prometheus.Counter
	MailFailed    prometheus.Counter
	CodesIssued   *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec
}

// NewMetrics registers the application collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ArticleViews: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forum", Name: "article_views_total",
			Help: "Unique article views counted.",
		}),
		MailSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forum", Name: "mail_sent_total",
			Help: "Outbound emails delivered.",
		}),
		MailFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forum", Name: "mail_failed_total",
			Help: "Outbound emails given up on after retries.",
		}),
		CodesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forum", Name: "confirmation_codes_issued_total",
			Help: "Confirmation codes generated, by flow.",
		}, []string{"flow"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forum", Name: "http_requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "code"}),
		HTTPDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forum", Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ArticleViews, m.MailSent, m.MailFailed, m.CodesIssued,
		m.HTTPRequests, m.HTTPDurations,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ViewCounted() {
	if m != nil {
		m.ArticleViews.Inc()
	}
}

func (m *Metrics) MailDelivered() {
	if m != nil {
		m.MailSent.Inc()
	}
}

func (m *Metrics) MailAbandoned() {
	if m != nil {
		m.MailFailed.Inc()
	}
}

func (m *Metrics) CodeIssued(flow string) {
	if m != nil {
		m.CodesIssued.WithLabelValues(flow).Inc()
	}
}
