package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bedsync/internal/common/logging"
	"bedsync/internal/handlers"
	"bedsync/internal/server"
)

// Handler builds the router with all handlers configured
func (app *App) Handler() http.Handler {
	h := handlers.New(app.Tokens, app.Withings, app.Detector, handlers.NewStateStore(handlers.DefaultStateTTL), nil)

	if app.RedisClient != nil {
		h.AddHealthCheck("redis", app.RedisClient.Health)
	}
	if app.Settings != nil {
		h.AddHealthCheck("database", app.Settings.Health)
	}

	router := mux.NewRouter()
	SetupRoutes(router, h, app.RateLimiter)
	return router
}

// RunServer creates the HTTP server; the caller starts it.
func (app *App) RunServer() (*server.Server, http.Handler) {
	handler := app.Handler()
	srv := server.New(handler, app.Config.Port, app.Config.TLSCertFile, app.Config.TLSKeyFile)
	return srv, handler
}

// Shutdown stops the HTTP server and then the background workers.
func (app *App) Shutdown(ctx context.Context, srv *server.Server) error {
	start := time.Now()
	err := srv.Shutdown(ctx)
	app.Cleanup()
	app.Logger.Info("Shutdown complete", logging.Duration("took", time.Since(start)))
	return err
}
