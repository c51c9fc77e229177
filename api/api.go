// Package api exposes the send pipeline over HTTP with chi.
//
// Every dispatching route accepts ?mode=wait (the default) or ?mode=async.
// In wait mode the request blocks until the job is terminal and the job
// result is returned; in async mode the response is 202 with a ticket and
// GET /v1/jobs/{id} reports progress.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/herald/engine"
	"github.com/xraph/herald/facade"
	"github.com/xraph/herald/send"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Option configures the API.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithWaitTimeout bounds how long a wait-mode request blocks. Zero means
// only the client's own cancellation ends the wait.
func WithWaitTimeout(d time.Duration) Option {
	return func(a *API) { a.waitTimeout = d }
}

// WithHealthCheck adds a check run by GET /healthz.
func WithHealthCheck(name string, fn HealthFunc) Option {
	return func(a *API) { a.health[name] = fn }
}

// API wires the HTTP handlers to the engine.
type API struct {
	eng         *engine.Engine
	facade      *facade.Facade
	sends       *send.Service
	logger      *slog.Logger
	waitTimeout time.Duration
	health      map[string]HealthFunc
}

// New creates an API.
func New(eng *engine.Engine, f *facade.Facade, sends *send.Service, opts ...Option) *API {
	a := &API{
		eng:         eng,
		facade:      f,
		sends:       sends,
		logger:      eng.Logger(),
		waitTimeout: 30 * time.Second,
		health:      make(map[string]HealthFunc),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.logRequests)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers every route on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sends/contact", a.sendContact)
		r.Post("/sends/group", a.sendGroup)
		r.Post("/sends/bulk", a.sendBulk)
		r.Post("/imports", a.importContacts)

		r.Get("/jobs/{jobId}", a.getJob)
		r.Get("/balances/{userId}/{channel}/estimate", a.estimate)

		r.Get("/dlq", a.listDLQ)
		r.Post("/dlq/{entryId}/replay", a.replayDLQ)

		r.Get("/stats", a.stats)
	})
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range a.health {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
