package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ChunkEvent struct {
	Event
	CallID      string `json:"call_id"`
	Speaker     string `json:"speaker"`
	Text        string `json:"text"`
	CompletedAt string `json:"completed_at"`
}

type SuggestionsEvent struct {
	Event
	CallID      string   `json:"call_id"`
	Speaker     string   `json:"speaker"`
	Statement   string   `json:"statement"`
	Suggestions []string `json:"suggestions"`
	Error       string   `json:"error,omitempty"`
}

type SummaryEvent struct {
	Event
	CallID  string `json:"call_id"`
	Summary string `json:"summary"`
}

// CallEndedEvent reports the hand-off of a live call's transcript to
// ingestion. StoredCallID is empty when nothing was saved.
type CallEndedEvent struct {
	Event
	CallID          string `json:"call_id"`
	StoredCallID    string `json:"stored_call_id,omitempty"`
	Chunks          int    `json:"chunks"`
	Processed       bool   `json:"processed"`
	ProcessingError string `json:"processing_error,omitempty"`
}

type CallProcessedEvent struct {
	Event
	CallID string `json:"call_id"`
}

type SyncStatusEvent struct {
	Event
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	CRMEntityID  string `json:"crm_entity_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool   `json:"connected"`
	CallID    string `json:"call_id,omitempty"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
