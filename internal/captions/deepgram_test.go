package captions

import (
	"encoding/json"
	"testing"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/rsvedant/a2apayments-sub000/internal/segment"
)

func intPtr(i int) *int { return &i }

func TestGroupBySpeaker(t *testing.T) {
	words := []Word{
		{Speaker: intPtr(0), PunctuatedWord: "Hello", Start: 0.0, End: 0.5},
		{Speaker: intPtr(0), PunctuatedWord: "world.", Start: 0.5, End: 1.0},
		{Speaker: intPtr(1), PunctuatedWord: "Hi", Start: 1.2, End: 1.5},
		{Speaker: intPtr(1), PunctuatedWord: "there.", Start: 1.5, End: 2.0},
		{Speaker: intPtr(0), PunctuatedWord: "How", Start: 2.2, End: 2.5},
		{Speaker: intPtr(0), PunctuatedWord: "are", Start: 2.5, End: 2.7},
		{Speaker: intPtr(0), PunctuatedWord: "you?", Start: 2.7, End: 3.0},
	}

	runs := GroupBySpeaker(words)

	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].Speaker != 0 || runs[0].Text != "Hello world." {
		t.Errorf("run 0: got speaker=%d text=%q", runs[0].Speaker, runs[0].Text)
	}
	if runs[1].Speaker != 1 || runs[1].Text != "Hi there." {
		t.Errorf("run 1: got speaker=%d text=%q", runs[1].Speaker, runs[1].Text)
	}
	if runs[2].Speaker != 0 || runs[2].Text != "How are you?" || runs[2].EndTime != 3.0 {
		t.Errorf("run 2: got %#v", runs[2])
	}
}

func TestGroupBySpeakerNilSpeaker(t *testing.T) {
	runs := GroupBySpeaker([]Word{{PunctuatedWord: "Hello"}})
	if len(runs) != 1 || runs[0].Speaker != -1 {
		t.Fatalf("expected one unattributed run, got %#v", runs)
	}
	if SpeakerLabel(runs[0].Speaker) != segment.UnknownSpeaker {
		t.Fatalf("expected unknown label, got %q", SpeakerLabel(runs[0].Speaker))
	}
	if SpeakerLabel(2) != "Speaker 2" {
		t.Fatalf("unexpected label %q", SpeakerLabel(2))
	}
}

func mustMessage(t *testing.T, raw string) *api.MessageResponse {
	t.Helper()
	var msg api.MessageResponse
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal deepgram message failed: %v", err)
	}
	return &msg
}

func TestDeepgramSourceBuildsRewrittenSurface(t *testing.T) {
	var samples []segment.CaptionSample
	src := NewDeepgramSource(func(s segment.CaptionSample) { samples = append(samples, s) })

	messages := []string{
		`{"is_final": false, "channel": {"alternatives": [{"transcript": "we need",
			"words": [{"speaker": 1, "punctuated_word": "we"}, {"speaker": 1, "punctuated_word": "need"}]}]}}`,
		`{"is_final": true, "channel": {"alternatives": [{"transcript": "We need pricing.",
			"words": [{"speaker": 1, "punctuated_word": "We"}, {"speaker": 1, "punctuated_word": "need"}, {"speaker": 1, "punctuated_word": "pricing."}]}]}}`,
		`{"is_final": false, "channel": {"alternatives": [{"transcript": "Sure",
			"words": [{"speaker": 0, "punctuated_word": "Sure"}]}]}}`,
		`{"is_final": false, "channel": {"alternatives": [{"transcript": "   "}]}}`,
	}
	for _, raw := range messages {
		if err := src.Message(mustMessage(t, raw)); err != nil {
			t.Fatalf("Message failed: %v", err)
		}
	}

	want := []segment.CaptionSample{
		{Text: "we need", Speaker: "Speaker 1"},
		{Text: "We need pricing.", Speaker: "Speaker 1"},
		{Text: "We need pricing. Sure", Speaker: "Speaker 0"},
	}
	if len(samples) != len(want) {
		t.Fatalf("expected %d samples, got %#v", len(want), samples)
	}
	for i := range want {
		if samples[i].Text != want[i].Text || samples[i].Speaker != want[i].Speaker {
			t.Errorf("sample %d: got %q/%q, want %q/%q", i, samples[i].Text, samples[i].Speaker, want[i].Text, want[i].Speaker)
		}
		if samples[i].Timestamp.IsZero() {
			t.Errorf("sample %d missing timestamp", i)
		}
	}
}

func TestDeepgramSourceKeepsSpeakerWithoutWords(t *testing.T) {
	var last segment.CaptionSample
	src := NewDeepgramSource(func(s segment.CaptionSample) { last = s })

	_ = src.Message(mustMessage(t, `{"is_final": true, "channel": {"alternatives": [{"transcript": "Hello.",
		"words": [{"speaker": 3, "punctuated_word": "Hello."}]}]}}`))
	_ = src.Message(mustMessage(t, `{"is_final": false, "channel": {"alternatives": [{"transcript": "again"}]}}`))

	if last.Speaker != "Speaker 3" || last.Text != "Hello. again" {
		t.Fatalf("unexpected sample %#v", last)
	}
}
