package suggest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rsvedant/a2apayments-sub000/internal/segment"
)

// Sink receives pipeline output. Implementations must be safe for
// concurrent use; callbacks arrive from background goroutines.
type Sink interface {
	OnSuggestions(chunk segment.Chunk, result Result)
	OnSummary(summary string)
}

// Options configure a Pipeline.
type Options struct {
	// SelfSpeaker is the label of the user's own speech. Chunks from this
	// speaker update history and summary but never request suggestions.
	SelfSpeaker string
}

// Pipeline keeps bounded chunk history and the rolling summary for one call
// and requests suggestions for chunks from the other party. Work is done in
// background goroutines so HandleChunk never blocks the caption path.
type Pipeline struct {
	gen        *Generator
	summarizer *Summarizer
	sink       Sink
	opts       Options

	mu           sync.Mutex
	history      []segment.Chunk
	summary      string
	sinceSummary int
	summarizing  bool

	wg sync.WaitGroup
}

func NewPipeline(gen *Generator, summarizer *Summarizer, sink Sink, opts Options) *Pipeline {
	return &Pipeline{gen: gen, summarizer: summarizer, sink: sink, opts: opts}
}

// HandleChunk records chunk and dispatches summary and suggestion work.
func (p *Pipeline) HandleChunk(ctx context.Context, chunk segment.Chunk) {
	p.mu.Lock()
	p.history = append(p.history, chunk)
	if len(p.history) > HistoryLimit {
		p.history = append([]segment.Chunk(nil), p.history[len(p.history)-HistoryLimit:]...)
	}
	p.sinceSummary++

	// Chunks stay counted until a summary update folds them in, so a failed
	// update is retried with them on the next chunk.
	var recent []segment.Chunk
	pending := p.sinceSummary
	existing := p.summary
	if p.summarizer != nil && !p.summarizing && len(p.history) >= SummaryBatch && pending >= SummaryBatch {
		recent = append(recent, p.history[len(p.history)-min(pending, len(p.history)):]...)
		p.summarizing = true
	}

	// history excludes the chunk itself; it is sent separately as the statement.
	history := append([]segment.Chunk(nil), p.history[:len(p.history)-1]...)
	summary := p.summary
	p.mu.Unlock()

	if recent != nil {
		p.wg.Add(1)
		go p.updateSummary(ctx, existing, recent, pending)
	}

	if p.opts.SelfSpeaker != "" && chunk.Speaker == p.opts.SelfSpeaker {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		result := p.gen.Generate(ctx, chunk, history, summary)
		if result.Error != "" {
			slog.Debug("suggestions unavailable", "speaker", chunk.Speaker, "reason", result.Error)
		}
		if p.sink != nil {
			p.sink.OnSuggestions(chunk, result)
		}
	}()
}

func (p *Pipeline) updateSummary(ctx context.Context, existing string, recent []segment.Chunk, folded int) {
	defer p.wg.Done()

	updated, err := p.summarizer.Update(ctx, existing, recent)

	p.mu.Lock()
	p.summarizing = false
	if err == nil {
		p.summary = updated
		p.sinceSummary -= folded
	}
	p.mu.Unlock()

	if err != nil {
		slog.Warn("rolling summary update failed", "error", err)
		return
	}
	if p.sink != nil {
		p.sink.OnSummary(updated)
	}
}

// Summary returns the current rolling summary.
func (p *Pipeline) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

// History returns a copy of the bounded chunk history.
func (p *Pipeline) History() []segment.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]segment.Chunk(nil), p.history...)
}

// Wait blocks until in-flight work finishes.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
