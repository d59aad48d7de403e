package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "forum", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, span := p.StartSpan(context.Background(), "noop")
	p.RecordRequest(ctx)
	p.RecordError(ctx)
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ViewCounted()
	m.MailDelivered()
	m.MailAbandoned()
	m.CodeIssued("registration")
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.ViewCounted()
	m.ViewCounted()
	m.CodeIssued("registration")
	m.MailDelivered()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ArticleViews))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CodesIssued.WithLabelValues("registration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailSent))
}

func TestMiddleware_RecordsRequests(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	m := NewMetrics()

	h := Middleware(p, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/blog/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "5xx")))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(w.Body.String(), "forum_http_requests_total"))
}
