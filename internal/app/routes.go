package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"bedsync/internal/handlers"
	"bedsync/internal/middleware"
)

// SetupRoutes configures all HTTP routes for the application
func SetupRoutes(router *mux.Router, h *handlers.Handlers, rateLimiter *middleware.IPRateLimiter) {
	// Request ids first so the logging middleware sees them
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware)

	// Health check
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Withings notifications and reachability probe. Withings retries on
	// anything but 200, so these stay outside the rate limiter.
	router.HandleFunc("/webhook", h.Notify).Methods(http.MethodPost)
	router.HandleFunc("/webhook", h.NotifyProbe).Methods(http.MethodHead)

	// Browser-facing OAuth flow
	oauth := router.NewRoute().Subrouter()
	if rateLimiter != nil {
		oauth.Use(rateLimiter.Middleware)
	}
	oauth.HandleFunc("/authorize", h.Authorize).Methods(http.MethodGet)
	oauth.HandleFunc("/webhook", h.Callback).Methods(http.MethodGet)
}
