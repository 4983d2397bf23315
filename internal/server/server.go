// Package server assembles the HTTP surface of the order service.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/circuitbreaker"
	"github.com/rosepetal/storefront/internal/httpx"
	"github.com/rosepetal/storefront/internal/invoices"
	"github.com/rosepetal/storefront/internal/metrics"
)

// RouteRegistrar is implemented by every domain handler.
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Handlers []RouteRegistrar
	Store    Pinger
	Breakers *circuitbreaker.Manager
	Metrics  *metrics.Metrics
	// WebSocket serves /ws when set.
	WebSocket  http.HandlerFunc
	InvoiceDir string
	CORSOrigin string
	Logger     *logrus.Logger
}

func New(deps Deps) http.Handler {
	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware(deps.Logger))
	router.Use(deps.Metrics.Middleware)

	router.HandleFunc("/health", healthHandler(deps)).Methods("GET")
	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler()).Methods("GET")
	}
	if deps.WebSocket != nil {
		router.HandleFunc("/ws", deps.WebSocket)
	}
	if deps.InvoiceDir != "" {
		router.PathPrefix(invoices.PublicPrefix).Handler(
			http.StripPrefix(invoices.PublicPrefix, http.FileServer(http.Dir(deps.InvoiceDir))),
		).Methods("GET")
	}

	for _, h := range deps.Handlers {
		h.RegisterRoutes(router)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondWithJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "route_not_found",
			"message": "route not found",
		})
	})

	return corsMiddleware(deps.CORSOrigin)(router)
}

type healthResponse struct {
	Status   string                    `json:"status"`
	Service  string                    `json:"service"`
	Database string                    `json:"database"`
	Breakers []circuitbreaker.Snapshot `json:"breakers,omitempty"`
	Time     time.Time                 `json:"time"`
}

// healthHandler reports 503 when the store is unreachable. An open breaker
// only degrades the status: events are best-effort.
func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:   "healthy",
			Service:  "order-service",
			Database: "up",
			Time:     time.Now().UTC(),
		}
		code := http.StatusOK

		if deps.Store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Store.Ping(ctx); err != nil {
				deps.Logger.WithError(err).Warn("Health check: database unreachable")
				resp.Status = "unhealthy"
				resp.Database = "down"
				code = http.StatusServiceUnavailable
			}
		}
		if deps.Breakers != nil {
			resp.Breakers = deps.Breakers.Snapshots()
			if code == http.StatusOK && deps.Breakers.AnyOpen() {
				resp.Status = "degraded"
			}
		}

		httpx.RespondWithJSON(w, code, resp)
	}
}
