package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rsvedant/a2apayments-sub000/internal/crmsync"
	"github.com/rsvedant/a2apayments-sub000/internal/ingest"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
)

const maxBodyBytes = 10 << 20

func registerAPIRoutes(r chi.Router, deps Deps) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/calls/create", createCall(deps))
		r.Get("/calls/{id}", getCall(deps))
		r.Post("/calls/{id}/process", processCall(deps))
		r.Post("/sync/{entityType}/{entityId}/reset", resetSync(deps))
	})
}

func createCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "request body too large or unreadable")
			return
		}

		req, err := ingest.DecodeRequest(body)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}

		resp, err := deps.Ingester.Ingest(r.Context(), req)
		if err != nil {
			var verr *ingest.ValidationError
			if errors.As(err, &verr) {
				writeFailure(w, http.StatusBadRequest, verr.Message)
				return
			}
			slog.Error("create call failed", "error", err)
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		call, err := deps.Calls.GetCall(id)
		if err != nil {
			writeStoreError(w, "get call", err)
			return
		}

		actionables, err := deps.Calls.ListActionables(id)
		if err != nil {
			writeStoreError(w, "list actionables", err)
			return
		}
		statuses, err := deps.Calls.ListCallSyncStatuses(id)
		if err != nil {
			writeStoreError(w, "list sync statuses", err)
			return
		}
		if actionables == nil {
			actionables = []storage.Actionable{}
		}
		if statuses == nil {
			statuses = []storage.SyncStatus{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"call":        call,
			"actionables": actionables,
			"syncStatus":  statuses,
		})
	}
}

func processCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Ingester.Reprocess(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeFailure(w, http.StatusNotFound, "call not found")
		case errors.Is(err, crmsync.ErrInProgress):
			writeFailure(w, http.StatusConflict, err.Error())
		case err != nil:
			writeFailure(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
		}
	}
}

func resetSync(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entityType := chi.URLParam(r, "entityType")
		entityID := chi.URLParam(r, "entityId")

		err := deps.Retrigger.Retrigger(r.Context(), entityType, entityID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeFailure(w, http.StatusNotFound, "sync status not found")
		case errors.Is(err, crmsync.ErrUnsupportedEntity):
			writeFailure(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, crmsync.ErrInProgress):
			writeFailure(w, http.StatusConflict, err.Error())
		case err != nil:
			writeFailure(w, http.StatusBadGateway, fmt.Sprintf("retry failed: %v", err))
		default:
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		}
	}
}

func writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", op, err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure writes the {success:false,error} envelope of the ingestion API.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
