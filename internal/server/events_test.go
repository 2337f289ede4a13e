package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rsvedant/a2apayments-sub000/internal/segment"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
	"github.com/rsvedant/a2apayments-sub000/internal/suggest"
)

func TestEventSerialization(t *testing.T) {
	events := []any{
		ChunkEvent{Event: newEvent("chunk", time.Unix(1, 0)), CallID: "c", Speaker: "Speaker 1", Text: "hello"},
		SuggestionsEvent{Event: newEvent("suggestions", time.Unix(1, 0)), CallID: "c", Suggestions: []string{"a", "b", "c"}},
		SummaryEvent{Event: newEvent("summary", time.Unix(1, 0)), CallID: "c", Summary: "ok"},
		CallEndedEvent{Event: newEvent("call_ended", time.Unix(1, 0)), CallID: "c", Chunks: 2},
		CallProcessedEvent{Event: newEvent("call_processed", time.Unix(1, 0)), CallID: "c"},
		SyncStatusEvent{Event: newEvent("sync_status", time.Unix(1, 0)), EntityType: "call", EntityID: "c", Status: "failed"},
		ConnectionEvent{Event: newEvent("connection", time.Time{}), Connected: true},
	}

	for _, event := range events {
		b, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if payload["type"] == nil {
			t.Fatalf("missing type in payload: %s", string(b))
		}
		if payload["version"] == nil {
			t.Fatalf("missing version in payload: %s", string(b))
		}
		if payload["timestamp"] == "" || payload["timestamp"] == nil {
			t.Fatalf("missing timestamp in payload: %s", string(b))
		}
	}
}

func receive(t *testing.T, ch chan []byte) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		return payload
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
		return nil
	}
}

func TestHubBroadcastsPipelineEvents(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	chunk := segment.Chunk{Text: "We need SSO.", Speaker: "Speaker 1", CompletedAt: time.Now()}
	hub.BroadcastChunk("call-1", chunk)
	hub.BroadcastSuggestions("call-1", chunk, suggest.Result{Error: suggest.ReasonRateLimited})
	hub.BroadcastSyncStatus(storage.SyncStatus{EntityType: storage.EntityCall, EntityID: "call-1", Status: storage.SyncFailed, RetryCount: 2})

	if got := receive(t, ch); got["type"] != "chunk" || got["speaker"] != "Speaker 1" || got["call_id"] != "call-1" {
		t.Fatalf("unexpected chunk event %#v", got)
	}
	got := receive(t, ch)
	if got["type"] != "suggestions" || got["error"] != suggest.ReasonRateLimited {
		t.Fatalf("unexpected suggestions event %#v", got)
	}
	if list, ok := got["suggestions"].([]any); !ok || len(list) != 0 {
		t.Fatalf("expected empty suggestions list, got %#v", got["suggestions"])
	}
	if got := receive(t, ch); got["type"] != "sync_status" || got["retry_count"] != float64(2) {
		t.Fatalf("unexpected sync status event %#v", got)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for range 200 {
			hub.BroadcastCallProcessed("call-1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected subscriber buffer full, got %d/%d", len(ch), cap(ch))
	}
}
