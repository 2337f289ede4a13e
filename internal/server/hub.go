package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rsvedant/a2apayments-sub000/internal/ingest"
	"github.com/rsvedant/a2apayments-sub000/internal/segment"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
	"github.com/rsvedant/a2apayments-sub000/internal/suggest"
)

// Hub fans pipeline events out to every /ws/events subscriber. Slow
// subscribers drop messages rather than block publishers.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastChunk(callID string, chunk segment.Chunk) {
	h.broadcastEvent(chunkEvent(callID, chunk))
}

func (h *Hub) BroadcastSuggestions(callID string, chunk segment.Chunk, result suggest.Result) {
	h.broadcastEvent(suggestionsEvent(callID, chunk, result))
}

func (h *Hub) BroadcastSummary(callID, summary string) {
	h.broadcastEvent(SummaryEvent{
		Event:   newEvent("summary", time.Now().UTC()),
		CallID:  callID,
		Summary: summary,
	})
}

func (h *Hub) BroadcastCallEnded(callID string, chunks int, resp ingest.Response) {
	h.broadcastEvent(CallEndedEvent{
		Event:           newEvent("call_ended", time.Now().UTC()),
		CallID:          callID,
		StoredCallID:    resp.CallID,
		Chunks:          chunks,
		Processed:       resp.Processed,
		ProcessingError: resp.ProcessingError,
	})
}

func (h *Hub) BroadcastCallProcessed(callID string) {
	h.broadcastEvent(CallProcessedEvent{
		Event:  newEvent("call_processed", time.Now().UTC()),
		CallID: callID,
	})
}

func (h *Hub) BroadcastSyncStatus(st storage.SyncStatus) {
	h.broadcastEvent(SyncStatusEvent{
		Event:        newEvent("sync_status", st.UpdatedAt),
		EntityType:   st.EntityType,
		EntityID:     st.EntityID,
		Status:       st.Status,
		RetryCount:   st.RetryCount,
		CRMEntityID:  st.CRMEntityID,
		ErrorMessage: st.ErrorMessage,
	})
}

func (h *Hub) broadcastEvent(event any) {
	if payload, ok := encodeEvent(event); ok {
		h.Broadcast(payload)
	}
}

func chunkEvent(callID string, chunk segment.Chunk) ChunkEvent {
	return ChunkEvent{
		Event:       newEvent("chunk", chunk.CompletedAt),
		CallID:      callID,
		Speaker:     chunk.Speaker,
		Text:        chunk.Text,
		CompletedAt: chunk.CompletedAt.UTC().Format(time.RFC3339Nano),
	}
}

func suggestionsEvent(callID string, chunk segment.Chunk, result suggest.Result) SuggestionsEvent {
	suggestions := result.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return SuggestionsEvent{
		Event:       newEvent("suggestions", result.GeneratedAt),
		CallID:      callID,
		Speaker:     chunk.Speaker,
		Statement:   chunk.Text,
		Suggestions: suggestions,
		Error:       result.Error,
	}
}

func encodeEvent(event any) ([]byte, bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal failed", "error", err)
		return nil, false
	}
	return payload, true
}
