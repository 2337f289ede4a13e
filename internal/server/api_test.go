package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rsvedant/a2apayments-sub000/internal/crmsync"
	"github.com/rsvedant/a2apayments-sub000/internal/ingest"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
)

type fakeIngester struct {
	mu          sync.Mutex
	requests    []ingest.Request
	resp        ingest.Response
	err         error
	reprocessed []string
	reprocErr   error
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request) (ingest.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return ingest.Response{}, f.err
	}
	return f.resp, nil
}

func (f *fakeIngester) Reprocess(_ context.Context, callID string) (crmsync.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reprocessed = append(f.reprocessed, callID)
	if f.reprocErr != nil {
		return crmsync.Result{}, f.reprocErr
	}
	return crmsync.Result{CallID: callID, Processed: true, Outcome: crmsync.Succeeded}, nil
}

func (f *fakeIngester) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeCallStore struct {
	calls    map[string]storage.Call
	statuses map[string][]storage.SyncStatus
}

func (f *fakeCallStore) GetCall(id string) (storage.Call, error) {
	c, ok := f.calls[id]
	if !ok {
		return storage.Call{}, fmt.Errorf("call %s: %w", id, storage.ErrNotFound)
	}
	return c, nil
}

func (f *fakeCallStore) ListActionables(string) ([]storage.Actionable, error) { return nil, nil }

func (f *fakeCallStore) ListCallSyncStatuses(callID string) ([]storage.SyncStatus, error) {
	return f.statuses[callID], nil
}

type fakeRetrigger struct {
	err   error
	calls []string
}

func (f *fakeRetrigger) Retrigger(_ context.Context, entityType, entityID string) error {
	f.calls = append(f.calls, entityType+"/"+entityID)
	return f.err
}

func newTestHandler(ing *fakeIngester, calls *fakeCallStore, rt *fakeRetrigger) http.Handler {
	if calls == nil {
		calls = &fakeCallStore{}
	}
	if rt == nil {
		rt = &fakeRetrigger{}
	}
	return Handler(Deps{Hub: NewHub(), Calls: calls, Ingester: ing, Retrigger: rt})
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestCreateCallMissingTitleIsRejected(t *testing.T) {
	ing := &fakeIngester{}
	h := newTestHandler(ing, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/calls/create", strings.NewReader(`{"userId":"user-1","transcription":"Dana: hi"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false || body["error"] != "title is required" {
		t.Fatalf("unexpected body %#v", body)
	}
	if ing.requestCount() != 0 {
		t.Fatal("expected nothing persisted for an invalid request")
	}
}

func TestCreateCallReturnsProcessingResult(t *testing.T) {
	tickets, deals := 2, 1
	ing := &fakeIngester{resp: ingest.Response{Success: true, CallID: "call-1", Processed: true, TicketsCreated: &tickets, DealsCreated: &deals}}
	h := newTestHandler(ing, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/calls/create", strings.NewReader(`{"userId":"user-1","title":"Acme","transcription":"Dana: hi","duration":12}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != true || body["callId"] != "call-1" || body["processed"] != true || body["ticketsCreated"] != float64(2) {
		t.Fatalf("unexpected body %#v", body)
	}
	if got := ing.requests[0]; got.Title != "Acme" || got.Duration != 12 {
		t.Fatalf("unexpected ingested request %#v", got)
	}
}

func TestCreateCallPersistenceFailureIs500(t *testing.T) {
	ing := &fakeIngester{err: errors.New("save call: disk full")}
	h := newTestHandler(ing, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/calls/create", strings.NewReader(`{"userId":"u","title":"t","transcription":"x"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["success"] != false || body["error"] == "" {
		t.Fatalf("unexpected body %#v", body)
	}
}

func TestPreflightAllowsAnyOrigin(t *testing.T) {
	h := newTestHandler(&fakeIngester{}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/calls/create", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestGetCallIncludesSyncStatuses(t *testing.T) {
	calls := &fakeCallStore{
		calls: map[string]storage.Call{"call-1": {ID: "call-1", Title: "Acme"}},
		statuses: map[string][]storage.SyncStatus{
			"call-1": {{EntityType: storage.EntityCall, EntityID: "call-1", Status: storage.SyncCompleted}},
		},
	}
	h := newTestHandler(&fakeIngester{}, calls, nil)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/calls/call-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if statuses, ok := body["syncStatus"].([]any); !ok || len(statuses) != 1 {
		t.Fatalf("expected one sync status, got %#v", body["syncStatus"])
	}
	if actionables, ok := body["actionables"].([]any); !ok || len(actionables) != 0 {
		t.Fatalf("expected empty actionables list, got %#v", body["actionables"])
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/calls/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestProcessCallStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", want: http.StatusOK},
		{name: "missing", err: fmt.Errorf("call x: %w", storage.ErrNotFound), want: http.StatusNotFound},
		{name: "busy", err: crmsync.ErrInProgress, want: http.StatusConflict},
		{name: "extraction", err: errors.New("extract call x: malformed"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeIngester{reprocErr: tt.err}, nil, nil)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/calls/x/process", nil))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestResetSyncStatusRetriggers(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "ok", want: http.StatusOK},
		{name: "missing", err: fmt.Errorf("sync status: %w", storage.ErrNotFound), want: http.StatusNotFound},
		{name: "contact", err: crmsync.ErrUnsupportedEntity, want: http.StatusBadRequest},
		{name: "still failing", err: errors.New("hubspot 503"), want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &fakeRetrigger{err: tt.err}
			h := newTestHandler(&fakeIngester{}, nil, rt)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/sync/actionable/a-1/reset", nil))
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if len(rt.calls) != 1 || rt.calls[0] != "actionable/a-1" {
				t.Fatalf("unexpected retrigger calls %v", rt.calls)
			}
		})
	}
}
