package segment

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.done
	t.done = true
	return wasActive
}

// Advance moves time forward and fires every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if !t.done && !t.at.After(c.now) {
				due = t
				break
			}
		}
		if due != nil {
			due.done = true
		}
		c.mu.Unlock()

		if due == nil {
			return
		}
		due.f()
	}
}

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []Chunk
}

func (r *chunkRecorder) record(c Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, c)
}

func (r *chunkRecorder) all() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Chunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

func newTestSegmenter() (*Segmenter, *fakeClock, *chunkRecorder) {
	clock := newFakeClock()
	rec := &chunkRecorder{}
	return New(clock, rec.record), clock, rec
}

func say(s *Segmenter, clock *fakeClock, speaker, text string) {
	s.Observe(CaptionSample{Text: text, Speaker: speaker, Timestamp: clock.Now()})
}

func TestShortTurnFollowedBySilenceIsDiscarded(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "hello")
	clock.Advance(2000 * time.Millisecond)
	say(seg, clock, "Alice", "hello there")
	clock.Advance(MinSpeakingDuration - 1*time.Millisecond - 2000*time.Millisecond)
	say(seg, clock, "Alice", "hello there friend")

	clock.Advance(ChunkTimeout + time.Second)

	if got := rec.all(); len(got) != 0 {
		t.Fatalf("expected no chunks, got %#v", got)
	}
	if seg.State() != Idle {
		t.Fatalf("expected idle after silence, got %s", seg.State())
	}
}

func TestLongMonologueIsCutAtExtendedDuration(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	words := []string{}
	step := 500 * time.Millisecond
	for elapsed := time.Duration(0); elapsed <= 2*ExtendedSpeakingDuration; elapsed += step {
		words = append(words, fmt.Sprintf("w%d", len(words)))
		say(seg, clock, "Alice", strings.Join(words, " "))

		switch elapsed {
		case ExtendedSpeakingDuration - step:
			if n := len(rec.all()); n != 0 {
				t.Fatalf("expected no chunk before extended duration, got %d", n)
			}
		case ExtendedSpeakingDuration:
			if n := len(rec.all()); n != 1 {
				t.Fatalf("expected exactly one chunk at extended duration, got %d", n)
			}
		case 2*ExtendedSpeakingDuration - step:
			if n := len(rec.all()); n != 1 {
				t.Fatalf("expected buffering to reset after first cut, got %d chunks", n)
			}
		}
		clock.Advance(step)
	}

	got := rec.all()
	if len(got) != 2 {
		t.Fatalf("expected two chunks for two extended monologues, got %d", len(got))
	}
	if got[0].Text != strings.Join(words[:17], " ") {
		t.Fatalf("unexpected first chunk %q", got[0].Text)
	}
	if strings.Contains(got[1].Text, "w0 ") {
		t.Fatalf("second chunk repeated already emitted text: %q", got[1].Text)
	}
	if got[1].Text != strings.Join(words[17:33], " ") {
		t.Fatalf("unexpected second chunk %q", got[1].Text)
	}
}

func TestSpeakerChangeDiscardsShortTurn(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "Hi there")
	clock.Advance(2000 * time.Millisecond)
	say(seg, clock, "Bob", "Hi there Hello")

	if seg.Speaker() != "Bob" {
		t.Fatalf("expected tracked speaker to switch to Bob, got %q", seg.Speaker())
	}

	clock.Advance(2 * ChunkTimeout)
	if got := rec.all(); len(got) != 0 {
		t.Fatalf("expected Alice's short turn to be discarded, got %#v", got)
	}
}

func TestSpeakerChangeEmitsPreviousSpeaker(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "Hi there")
	clock.Advance(4500 * time.Millisecond)
	say(seg, clock, "Alice", "Hi there how are you")
	clock.Advance(500 * time.Millisecond)
	say(seg, clock, "Bob", "Hi there how are you Good thanks")

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected Alice's turn to be emitted, got %d chunks", len(got))
	}
	if got[0].Speaker != "Alice" || got[0].Text != "Hi there how are you" {
		t.Fatalf("unexpected chunk %#v", got[0])
	}

	clock.Advance(MinSpeakingDuration)
	say(seg, clock, "Bob", "Hi there how are you Good thanks, and you?")
	got = rec.all()
	if len(got) != 2 {
		t.Fatalf("expected Bob's punctuated turn, got %d chunks", len(got))
	}
	if got[1].Speaker != "Bob" || got[1].Text != "Good thanks, and you?" {
		t.Fatalf("unexpected Bob chunk %#v", got[1])
	}
}

func TestPunctuationEmitsOnlyAfterMinimumDuration(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "Sure.")
	if len(rec.all()) != 0 {
		t.Fatal("punctuation before the minimum duration must not emit")
	}

	clock.Advance(MinSpeakingDuration)
	say(seg, clock, "Alice", "Sure. We need a quote for forty seats.")

	got := rec.all()
	if len(got) != 1 {
		t.Fatalf("expected one chunk, got %d", len(got))
	}
	if got[0].Text != "Sure. We need a quote for forty seats." {
		t.Fatalf("unexpected chunk text %q", got[0].Text)
	}
	if seg.State() != Accumulating || seg.Speaker() != "Alice" {
		t.Fatalf("expected to keep accumulating for Alice, got %s/%q", seg.State(), seg.Speaker())
	}
}

func TestSilenceEmitsLongEnoughTurn(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "we should")
	clock.Advance(4500 * time.Millisecond)
	say(seg, clock, "Alice", "we should talk pricing")

	clock.Advance(ChunkTimeout - time.Millisecond)
	if len(rec.all()) != 0 {
		t.Fatal("silence timer fired early")
	}

	clock.Advance(time.Millisecond)
	got := rec.all()
	if len(got) != 1 || got[0].Text != "we should talk pricing" {
		t.Fatalf("expected silence-triggered chunk, got %#v", got)
	}
}

func TestUnknownSpeakerAloneNeverEmits(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "", "Hello")
	clock.Advance(3 * ChunkTimeout)

	if got := rec.all(); len(got) != 0 {
		t.Fatalf("expected no chunks, got %#v", got)
	}
}

func TestUnknownSpeakerDoesNotTriggerChange(t *testing.T) {
	seg, clock, _ := newTestSegmenter()

	say(seg, clock, "Alice", "let me check")
	clock.Advance(time.Second)
	say(seg, clock, UnknownSpeaker, "let me check the calendar")

	if seg.Speaker() != "Alice" {
		t.Fatalf("expected Alice to remain the tracked speaker, got %q", seg.Speaker())
	}
}

func TestUnchangedTextIsIgnored(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "a b")
	clock.Advance(4500 * time.Millisecond)
	say(seg, clock, "Alice", "a b")
	clock.Advance(ChunkTimeout)

	if got := rec.all(); len(got) != 0 {
		t.Fatalf("duplicate snapshot must not extend the turn, got %#v", got)
	}
}

func TestCloseStopsEmission(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "we should")
	clock.Advance(4500 * time.Millisecond)
	say(seg, clock, "Alice", "we should talk pricing")
	seg.Close()
	clock.Advance(2 * ChunkTimeout)
	say(seg, clock, "Alice", "we should talk pricing today.")

	if got := rec.all(); len(got) != 0 {
		t.Fatalf("expected no chunks after Close, got %#v", got)
	}
}

func TestFlushEmitsPendingTurn(t *testing.T) {
	seg, clock, rec := newTestSegmenter()

	say(seg, clock, "Alice", "send the contract")
	clock.Advance(4200 * time.Millisecond)
	say(seg, clock, "Alice", "send the contract tomorrow")
	seg.Flush()

	got := rec.all()
	if len(got) != 1 || got[0].Text != "send the contract tomorrow" {
		t.Fatalf("expected flushed chunk, got %#v", got)
	}

	clock.Advance(2 * ChunkTimeout)
	if len(rec.all()) != 1 {
		t.Fatal("flush must cancel the pending silence timer")
	}
}

func TestJoinLines(t *testing.T) {
	got := JoinLines([]string{" Hello ", "", "world.  "})
	if got != "Hello world." {
		t.Fatalf("unexpected joined text %q", got)
	}
}
