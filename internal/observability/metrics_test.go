package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMeasure_CountsByStatus(t *testing.T) {
	h := Measure(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("418"))
	clientErrs := testutil.ToFloat64(RequestErrors.WithLabelValues("client"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("418")))
	assert.Equal(t, clientErrs+1, testutil.ToFloat64(RequestErrors.WithLabelValues("client")))
	assert.Equal(t, float64(0), testutil.ToFloat64(InFlight))
}
