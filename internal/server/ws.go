package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rsvedant/a2apayments-sub000/internal/ingest"
	"github.com/rsvedant/a2apayments-sub000/internal/segment"
	"github.com/rsvedant/a2apayments-sub000/internal/suggest"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func registerWSRoutes(r chi.Router, deps Deps) {
	r.Get("/ws/events", eventsSocket(deps.Hub))
	r.Get("/ws/captions", captionsSocket(deps))
}

func eventsSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		if payload, ok := encodeEvent(ConnectionEvent{Event: newEvent("connection", time.Now().UTC()), Connected: true}); ok {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		for msg := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// captionMessage is one inbound frame on /ws/captions. A frame of type
// "end" finishes the call; any other frame is a caption snapshot, sent
// either as text or as the visible caption lines.
type captionMessage struct {
	Type      string    `json:"type,omitempty"`
	Text      string    `json:"text"`
	Lines     []string  `json:"lines,omitempty"`
	Speaker   string    `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}

func (m captionMessage) sample() segment.CaptionSample {
	text := m.Text
	if len(m.Lines) > 0 {
		text = segment.JoinLines(m.Lines)
	}
	return segment.CaptionSample{Text: text, Speaker: m.Speaker, Timestamp: m.Timestamp}
}

// captionListener relays session output to the caption connection and the
// event hub.
type captionListener struct {
	hub *Hub
	out chan []byte
}

func (l *captionListener) OnChunk(callID string, chunk segment.Chunk) {
	l.send(chunkEvent(callID, chunk))
}

func (l *captionListener) OnSuggestions(callID string, chunk segment.Chunk, result suggest.Result) {
	l.send(suggestionsEvent(callID, chunk, result))
}

func (l *captionListener) OnSummary(callID, summary string) {
	l.send(SummaryEvent{Event: newEvent("summary", time.Now().UTC()), CallID: callID, Summary: summary})
}

func (l *captionListener) send(event any) {
	payload, ok := encodeEvent(event)
	if !ok {
		return
	}
	l.hub.Broadcast(payload)
	select {
	case l.out <- payload:
	default:
	}
}

// captionsSocket runs a live call over one websocket: caption snapshots in,
// chunk and suggestion events out. When the connection ends the transcript
// is handed to ingestion.
func captionsSocket(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID := strings.TrimSpace(q.Get("userId"))
		title := strings.TrimSpace(q.Get("title"))
		switch {
		case deps.NewSession == nil:
			writeJSONError(w, http.StatusServiceUnavailable, "live captions are not enabled")
			return
		case userID == "":
			writeFailure(w, http.StatusBadRequest, "userId is required")
			return
		case title == "":
			writeFailure(w, http.StatusBadRequest, "title is required")
			return
		}
		callID := q.Get("callId")
		if callID == "" {
			callID = uuid.New().String()
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		if payload, ok := encodeEvent(ConnectionEvent{Event: newEvent("connection", time.Now().UTC()), Connected: true, CallID: callID}); ok {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		listener := &captionListener{hub: deps.Hub, out: make(chan []byte, 64)}
		session := deps.NewSession(r.Context(), callID, listener)
		started := time.Now()

		written := make(chan struct{})
		go func() {
			defer close(written)
			for msg := range listener.out {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					slog.Debug("caption socket write failed", "call_id", callID, "error", err)
				}
			}
		}()

		slog.Info("live call started", "call_id", callID, "user_id", userID)
		for {
			var msg captionMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("caption socket closed", "call_id", callID, "error", err)
				}
				break
			}
			if msg.Type == "end" {
				break
			}
			session.Observe(msg.sample())
		}

		transcript := session.End()
		resp := handOff(r.Context(), deps, callID, ingest.Request{
			UserID:        userID,
			Title:         title,
			Transcription: transcript.String(),
			Participants:  participantsParam(q.Get("participants")),
			Duration:      time.Since(started).Seconds(),
		}, transcript.Len())

		if payload, ok := encodeEvent(CallEndedEvent{
			Event:           newEvent("call_ended", time.Now().UTC()),
			CallID:          callID,
			StoredCallID:    resp.CallID,
			Chunks:          transcript.Len(),
			Processed:       resp.Processed,
			ProcessingError: resp.ProcessingError,
		}); ok {
			listener.out <- payload
		}
		close(listener.out)
		<-written
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

// handOff submits a finished live call for ingestion. Calls without any
// chunk are not stored.
func handOff(ctx context.Context, deps Deps, callID string, req ingest.Request, chunks int) ingest.Response {
	if chunks == 0 {
		slog.Info("live call ended without transcript", "call_id", callID)
		deps.Hub.BroadcastCallEnded(callID, 0, ingest.Response{})
		return ingest.Response{}
	}

	resp, err := deps.Ingester.Ingest(context.WithoutCancel(ctx), req)
	if err != nil {
		slog.Error("live call ingestion failed", "call_id", callID, "error", err)
		resp = ingest.Response{ProcessingError: err.Error()}
	} else {
		slog.Info("live call ingested", "call_id", callID, "stored_call_id", resp.CallID, "processed", resp.Processed)
	}
	deps.Hub.BroadcastCallEnded(callID, chunks, resp)
	return resp
}

// participantsParam accepts the participants query value as a JSON array.
func participantsParam(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return nil
	}
	return json.RawMessage(raw)
}
