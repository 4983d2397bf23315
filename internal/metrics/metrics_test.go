package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rosepetal/storefront/internal/circuitbreaker"
	"github.com/rosepetal/storefront/internal/events"
	"github.com/rosepetal/storefront/pkg/models"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m := New("orders")
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/2", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/orders/{id}", "GET", "404")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderPlaced(20)
		m.Payment("settled")
		m.Refund("unguarded")
		m.Invoice("created")
		m.StatusTransition("placed", "delivering")
		m.BreakerStateChanged("kafka", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	})
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, events.Event) error { return errors.New("down") }

func TestInstrumentPublisher(t *testing.T) {
	m := New("orders")
	p := m.InstrumentPublisher(failingPublisher{})

	err := p.Publish(context.Background(), events.New(events.OrderPaid, &models.Order{ID: 1}))
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("order.paid", "error")))
}

func TestHandlerExposesDomainCounters(t *testing.T) {
	m := New("orders")
	m.OrderPlaced(20)
	m.BreakerStateChanged("kafka", circuitbreaker.StateClosed, circuitbreaker.StateOpen)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_orders_placed_total 1")
	assert.Contains(t, rec.Body.String(), `storefront_circuit_breaker_state{name="kafka"} 1`)
}
