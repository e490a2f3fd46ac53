package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacksonlee411/metaregistry/internal/events"
)

func TestSubscribeCountsCommittedChanges(t *testing.T) {
	m := New()
	bus := events.NewBus(nil)
	m.Subscribe(bus)

	evt := events.MetadataChanged{TenantID: "acme", EntityKind: events.KindConcept, ChangeType: events.ChangeCreated}
	require.NoError(t, bus.Emit(context.Background(), evt, func() error { return nil }))
	require.NoError(t, bus.Emit(context.Background(), evt, func() error { return nil }))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.changes.WithLabelValues("concept", "CREATED")))
}

func TestInstrumentHandler(t *testing.T) {
	m := New()
	h := m.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), func(*http.Request) string { return "/api/v1/concepts" })

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/concepts?x=1", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/v1/concepts", "418")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveEngineError("CONFLICT")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `metaregistry_engine_errors_total{code="CONFLICT"} 1`))
}
