package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.UploadsInitialized.Inc()
	m.Finalizations.WithLabelValues(PathMultipart, ResultSuccess).Inc()
	m.SweepDeleted.WithLabelValues("videos/").Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UploadsInitialized))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Finalizations.WithLabelValues(PathMultipart, ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepDeleted.WithLabelValues("videos/")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_PanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := Discard()
	m.Deletes.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "castdrop_deletes_total 1")
}
