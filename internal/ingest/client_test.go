package ingest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientSubmit(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/calls/create" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"callId":"call-1","processed":true,"ticketsCreated":1,"dealsCreated":0}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL+"/").Submit(context.Background(), Request{
		UserID:        "user-1",
		Title:         "Acme",
		Transcription: "Speaker 1: hi\n",
		Duration:      61.5,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !resp.Success || resp.CallID != "call-1" || resp.TicketsCreated == nil || *resp.TicketsCreated != 1 {
		t.Fatalf("unexpected response %#v", resp)
	}
	if got.UserID != "user-1" || got.Duration != 61.5 || got.Transcription != "Speaker 1: hi\n" {
		t.Fatalf("unexpected submitted request %#v", got)
	}
}

func TestClientSubmitReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"title is required"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Submit(context.Background(), Request{UserID: "u"})
	if err == nil || !strings.Contains(err.Error(), "title is required") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}
