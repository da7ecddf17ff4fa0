// Package server assembles the HTTP surface and runs it until the context ends.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/poi-viewport-cache/internal/core/middleware"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/router"
)

// Routes is what the router serves beyond liveness.
type Routes struct {
	Entities http.HandlerFunc
	Ready    health.ReadinessReporter
	Metrics  http.Handler
}

func NewRouter(logger *slog.Logger, rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if rt.Ready != nil {
		r.Get("/readyz", health.Readiness(rt.Ready))
	}
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}
	if rt.Entities != nil {
		r.Get(router.EntitiesRoute, rt.Entities)
	}
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
