// Package segment turns a continuously rewritten caption surface into
// discrete, speaker-attributed utterance chunks.
package segment

import (
	"strings"
	"sync"
	"time"
)

const (
	MinSpeakingDuration      = 4000 * time.Millisecond
	ExtendedSpeakingDuration = 8000 * time.Millisecond
	ChunkTimeout             = 5000 * time.Millisecond

	UnknownSpeaker = "Unknown"
)

// CaptionSample is one snapshot of the caption surface.
type CaptionSample struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   string    `json:"speaker"`
}

// Chunk is one finished speaker turn.
type Chunk struct {
	Text        string    `json:"text"`
	Speaker     string    `json:"speaker"`
	CompletedAt time.Time `json:"completed_at"`
}

// State is the segmenter's position in its turn state machine.
type State int

const (
	Idle State = iota
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "idle"
}

// JoinLines concatenates visible caption lines into a single snapshot text.
func JoinLines(lines []string) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// Segmenter owns the turn state of one live call. Observe never blocks on
// emission timing; silence handling runs on a deferred timer.
type Segmenter struct {
	clock   Clock
	onChunk func(Chunk)

	mu        sync.Mutex
	closed    bool
	lastText  string
	base      string
	speaker   string
	buffer    string
	startedAt time.Time
	lastSeen  time.Time
	timer     Timer
	timerGen  uint64
}

// New creates a segmenter that reports finished turns to onChunk. A nil
// clock uses the wall clock.
func New(clock Clock, onChunk func(Chunk)) *Segmenter {
	if clock == nil {
		clock = SystemClock{}
	}
	if onChunk == nil {
		onChunk = func(Chunk) {}
	}
	return &Segmenter{clock: clock, onChunk: onChunk}
}

// State reports whether a speaker turn is currently being buffered.
func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speaker == "" {
		return Idle
	}
	return Accumulating
}

// Speaker returns the tracked speaker, or "" when idle.
func (s *Segmenter) Speaker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker
}

// Observe feeds one caption snapshot.
func (s *Segmenter) Observe(sample CaptionSample) {
	var emitted []Chunk

	s.mu.Lock()
	if s.closed || sample.Text == s.lastText {
		s.mu.Unlock()
		return
	}

	now := sample.Timestamp
	if now.IsZero() {
		now = s.clock.Now()
	}
	speaker := strings.TrimSpace(sample.Speaker)
	if speaker == "" {
		speaker = UnknownSpeaker
	}
	previousText := s.lastText
	s.lastText = sample.Text

	switch {
	case s.speaker == "":
		s.speaker = speaker
		s.startedAt = now
	case speaker != s.speaker && speaker != UnknownSpeaker:
		if now.Sub(s.startedAt) >= MinSpeakingDuration {
			if chunk, ok := s.takeLocked(now); ok {
				emitted = append(emitted, chunk)
			}
		}
		s.base = previousText
		s.buffer = ""
		s.speaker = speaker
		s.startedAt = now
		s.cancelTimerLocked()
	}

	s.buffer = s.unattributed(sample.Text)
	s.lastSeen = now

	elapsed := now.Sub(s.startedAt)
	trimmed := strings.TrimSpace(s.buffer)
	switch {
	case trimmed == "":
	case endsSentence(trimmed) && elapsed >= MinSpeakingDuration:
		if chunk, ok := s.emitLocked(now); ok {
			emitted = append(emitted, chunk)
		}
	case elapsed >= ExtendedSpeakingDuration:
		if chunk, ok := s.emitLocked(now); ok {
			emitted = append(emitted, chunk)
		}
	default:
		s.armTimerLocked()
	}
	s.mu.Unlock()

	for _, chunk := range emitted {
		s.onChunk(chunk)
	}
}

// Flush emits the buffered turn if it already satisfies the minimum speaking
// duration, and discards it otherwise. Used when a call ends.
func (s *Segmenter) Flush() {
	s.mu.Lock()
	chunk, ok := s.settleLocked()
	s.mu.Unlock()
	if ok {
		s.onChunk(chunk)
	}
}

// Close stops the segmenter. No chunk is emitted after Close returns.
func (s *Segmenter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cancelTimerLocked()
}

func (s *Segmenter) onSilence(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	chunk, ok := s.settleLocked()
	s.mu.Unlock()
	if ok {
		s.onChunk(chunk)
	}
}

// settleLocked ends the current turn after silence. Speaking duration is
// measured up to the last caption change, not to the moment of the call.
func (s *Segmenter) settleLocked() (Chunk, bool) {
	if s.speaker == "" {
		return Chunk{}, false
	}
	var (
		chunk Chunk
		ok    bool
	)
	if s.lastSeen.Sub(s.startedAt) >= MinSpeakingDuration {
		chunk, ok = s.takeLocked(s.clock.Now())
	}
	s.cancelTimerLocked()
	s.base = s.lastText
	s.buffer = ""
	s.speaker = ""
	s.startedAt = time.Time{}
	return chunk, ok
}

// emitLocked finishes the turn and keeps accumulating for the same speaker.
func (s *Segmenter) emitLocked(now time.Time) (Chunk, bool) {
	chunk, ok := s.takeLocked(now)
	s.base = s.lastText
	s.buffer = ""
	s.startedAt = now
	s.cancelTimerLocked()
	return chunk, ok
}

func (s *Segmenter) takeLocked(now time.Time) (Chunk, bool) {
	text := strings.TrimSpace(s.buffer)
	if text == "" {
		return Chunk{}, false
	}
	return Chunk{Text: text, Speaker: s.speaker, CompletedAt: now}, true
}

// unattributed strips the prefix of the caption surface that already belongs
// to an earlier turn. A rewritten surface resets attribution.
func (s *Segmenter) unattributed(text string) string {
	if s.base == "" {
		return text
	}
	if rest, ok := strings.CutPrefix(text, s.base); ok {
		return rest
	}
	s.base = ""
	return text
}

func (s *Segmenter) armTimerLocked() {
	s.cancelTimerLocked()
	s.timerGen++
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(ChunkTimeout, func() { s.onSilence(gen) })
}

func (s *Segmenter) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func endsSentence(text string) bool {
	switch text[len(text)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
