package captions

import (
	"context"
	"sync"

	"github.com/rsvedant/a2apayments-sub000/internal/segment"
	"github.com/rsvedant/a2apayments-sub000/internal/suggest"
)

// Listener receives live output of a Session. Callbacks may arrive from
// background goroutines.
type Listener interface {
	OnChunk(callID string, chunk segment.Chunk)
	OnSuggestions(callID string, chunk segment.Chunk, result suggest.Result)
	OnSummary(callID string, summary string)
}

// SessionConfig wires one live call.
type SessionConfig struct {
	CallID      string
	Clock       segment.Clock
	Generator   *suggest.Generator
	Summarizer  *suggest.Summarizer
	SelfSpeaker string
	Listener    Listener
}

// Session owns the segmenter, transcript and suggestion pipeline of one live
// call. A failed suggestion never affects segmentation.
type Session struct {
	callID     string
	ctx        context.Context
	cancel     context.CancelFunc
	segmenter  *segment.Segmenter
	transcript *segment.Transcript
	pipeline   *suggest.Pipeline
	listener   Listener

	endOnce sync.Once
}

func NewSession(ctx context.Context, cfg SessionConfig) *Session {
	gen := cfg.Generator
	if gen == nil {
		gen = suggest.NewGenerator(nil, 0)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		callID:     cfg.CallID,
		ctx:        sctx,
		cancel:     cancel,
		transcript: segment.NewTranscript(),
		listener:   cfg.Listener,
	}
	s.pipeline = suggest.NewPipeline(gen, cfg.Summarizer, s, suggest.Options{SelfSpeaker: cfg.SelfSpeaker})
	s.segmenter = segment.New(cfg.Clock, s.handleChunk)
	return s
}

func (s *Session) CallID() string { return s.callID }

// Observe feeds one caption snapshot.
func (s *Session) Observe(sample segment.CaptionSample) {
	s.segmenter.Observe(sample)
}

// Transcript returns the accumulated transcript.
func (s *Session) Transcript() *segment.Transcript { return s.transcript }

// Summary returns the current rolling summary.
func (s *Session) Summary() string { return s.pipeline.Summary() }

// End flushes the pending turn, stops the segmenter and waits for in-flight
// suggestion work. It returns the final transcript and is safe to call more
// than once.
func (s *Session) End() *segment.Transcript {
	s.endOnce.Do(func() {
		s.segmenter.Flush()
		s.segmenter.Close()
		s.pipeline.Wait()
		s.cancel()
	})
	return s.transcript
}

func (s *Session) handleChunk(chunk segment.Chunk) {
	s.transcript.Append(chunk)
	if s.listener != nil {
		s.listener.OnChunk(s.callID, chunk)
	}
	s.pipeline.HandleChunk(s.ctx, chunk)
}

func (s *Session) OnSuggestions(chunk segment.Chunk, result suggest.Result) {
	if s.listener != nil {
		s.listener.OnSuggestions(s.callID, chunk, result)
	}
}

func (s *Session) OnSummary(summary string) {
	if s.listener != nil {
		s.listener.OnSummary(s.callID, summary)
	}
}
