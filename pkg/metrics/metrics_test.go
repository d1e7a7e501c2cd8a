package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := metrics.New()
	b := metrics.New()
	a.DocumentsAddedTotal.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.DocumentsAddedTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.DocumentsAddedTotal))
}

func TestNewServer_MountsHandlers(t *testing.T) {
	m := metrics.New()
	m.SimilarDocumentsTotal.WithLabelValues("duplicate").Inc()
	extra := map[string]http.Handler{
		"/health/live": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
	}
	srv := httptest.NewServer(metrics.NewServer(0, m, extra).Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `shingles_similar_documents_total{kind="duplicate"} 1`)

	resp, err = http.Get(srv.URL + "/health/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
