package captions

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/rsvedant/a2apayments-sub000/internal/segment"
)

// Word is one diarized word from a live transcription result.
type Word struct {
	Speaker        *int
	PunctuatedWord string
	Start          float64
	End            float64
}

// SpeakerRun is a maximal sequence of consecutive words from one speaker.
// Speaker is -1 when the provider did not attribute the words.
type SpeakerRun struct {
	Speaker   int
	Text      string
	StartTime float64
	EndTime   float64
}

// GroupBySpeaker splits words into consecutive same-speaker runs.
func GroupBySpeaker(words []Word) []SpeakerRun {
	if len(words) == 0 {
		return nil
	}

	var runs []SpeakerRun
	var current SpeakerRun
	started := false

	for _, w := range words {
		speaker := -1
		if w.Speaker != nil {
			speaker = *w.Speaker
		}

		if started && speaker == current.Speaker {
			current.Text += " " + w.PunctuatedWord
			current.EndTime = w.End
			continue
		}
		if started {
			runs = append(runs, current)
		}
		current = SpeakerRun{Speaker: speaker, Text: w.PunctuatedWord, StartTime: w.Start, EndTime: w.End}
		started = true
	}

	return append(runs, current)
}

// SpeakerLabel names a diarized speaker. Unattributed speech gets the
// segmenter's unknown label.
func SpeakerLabel(speaker int) string {
	if speaker < 0 {
		return segment.UnknownSpeaker
	}
	return fmt.Sprintf("Speaker %d", speaker)
}

// DeepgramSource turns Deepgram live transcription messages into snapshots
// of a continuously rewritten caption surface: finalized text followed by the
// current interim hypothesis. It implements the SDK's LiveMessageCallback.
type DeepgramSource struct {
	observe func(segment.CaptionSample)
	now     func() time.Time

	mu        sync.Mutex
	committed string
	speaker   string
}

var _ api.LiveMessageCallback = (*DeepgramSource)(nil)

func NewDeepgramSource(observe func(segment.CaptionSample)) *DeepgramSource {
	if observe == nil {
		observe = func(segment.CaptionSample) {}
	}
	return &DeepgramSource{observe: observe, now: time.Now}
}

func (d *DeepgramSource) Message(mr *api.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return nil
	}

	words := make([]Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, Word{Speaker: w.Speaker, PunctuatedWord: w.PunctuatedWord, Start: w.Start, End: w.End})
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if runs := GroupBySpeaker(words); len(runs) > 0 {
		d.speaker = SpeakerLabel(runs[len(runs)-1].Speaker)
	}

	surface := segment.JoinLines([]string{d.committed, text})
	if mr.IsFinal {
		d.committed = surface
	}
	d.observe(segment.CaptionSample{Text: surface, Timestamp: d.now(), Speaker: d.speaker})
	return nil
}

func (d *DeepgramSource) Open(*api.OpenResponse) error {
	slog.Info("connected to Deepgram")
	return nil
}

func (d *DeepgramSource) Metadata(*api.MetadataResponse) error { return nil }

func (d *DeepgramSource) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (d *DeepgramSource) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (d *DeepgramSource) Close(*api.CloseResponse) error {
	slog.Info("disconnected from Deepgram")
	return nil
}

func (d *DeepgramSource) Error(er *api.ErrorResponse) error {
	slog.Warn("deepgram error", "code", er.ErrCode, "description", er.Description)
	return nil
}

func (d *DeepgramSource) UnhandledEvent([]byte) error { return nil }
