// Package server exposes call ingestion, sync status and live caption
// websockets over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rsvedant/a2apayments-sub000/internal/captions"
	"github.com/rsvedant/a2apayments-sub000/internal/crmsync"
	"github.com/rsvedant/a2apayments-sub000/internal/ingest"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
)

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Response, error)
	Reprocess(ctx context.Context, callID string) (crmsync.Result, error)
}

type CallStore interface {
	GetCall(id string) (storage.Call, error)
	ListActionables(callID string) ([]storage.Actionable, error)
	ListCallSyncStatuses(callID string) ([]storage.SyncStatus, error)
}

type Retrigger interface {
	Retrigger(ctx context.Context, entityType, entityID string) error
}

// SessionFactory starts the live pipeline for one caption connection.
type SessionFactory func(ctx context.Context, callID string, listener captions.Listener) *captions.Session

type Deps struct {
	Hub        *Hub
	Calls      CallStore
	Ingester   Ingester
	Retrigger  Retrigger
	NewSession SessionFactory
}

func Handler(deps Deps) http.Handler {
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(CORS)

	registerAPIRoutes(r, deps)
	registerWSRoutes(r, deps)

	return r
}

// CORS allows any origin and answers preflight requests with 204.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
