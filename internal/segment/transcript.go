package segment

import (
	"fmt"
	"strings"
	"sync"
)

// Transcript accumulates emitted chunks into the full call transcript. It is
// append-only for the lifetime of a call.
type Transcript struct {
	mu     sync.Mutex
	chunks []Chunk
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a finished chunk.
func (t *Transcript) Append(chunk Chunk) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, chunk)
}

// Chunks returns a copy of the accumulated chunks.
func (t *Transcript) Chunks() []Chunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.chunks) == 0 {
		return nil
	}
	out := make([]Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// Len returns the number of chunks.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chunks)
}

// Speakers returns the distinct speaker labels in order of first appearance,
// excluding the unknown label.
func (t *Transcript) Speakers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]struct{}, len(t.chunks))
	var speakers []string
	for _, c := range t.chunks {
		if c.Speaker == UnknownSpeaker {
			continue
		}
		if _, ok := seen[c.Speaker]; ok {
			continue
		}
		seen[c.Speaker] = struct{}{}
		speakers = append(speakers, c.Speaker)
	}
	return speakers
}

// String renders one "Speaker: text" line per chunk.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, c := range t.chunks {
		b.WriteString(FormatLine(c))
		b.WriteString("\n")
	}
	return b.String()
}

// FormatLine renders a chunk as a transcript line.
func FormatLine(c Chunk) string {
	return fmt.Sprintf("%s: %s", c.Speaker, strings.TrimSpace(c.Text))
}
