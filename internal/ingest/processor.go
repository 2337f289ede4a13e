// Package ingest accepts finished calls, persists them and drives their
// processing inline and through periodic sweeps.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rsvedant/a2apayments-sub000/internal/crmsync"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
)

type Store interface {
	CreateCall(c storage.Call) error
	GetCall(id string) (storage.Call, error)
	ListUnprocessedCalls(limit, maxAttempts int) ([]storage.Call, error)
	ResetProcessed(id string) error
}

type Syncer interface {
	SyncCall(ctx context.Context, callID string) (crmsync.Result, error)
	RetryFailed(ctx context.Context) (crmsync.SweepReport, error)
}

// Response reports persistence and processing separately so a saved call
// is never mistaken for a synced one.
type Response struct {
	Success         bool   `json:"success"`
	CallID          string `json:"callId"`
	Processed       bool   `json:"processed"`
	TicketsCreated  *int   `json:"ticketsCreated,omitempty"`
	DealsCreated    *int   `json:"dealsCreated,omitempty"`
	ProcessingError string `json:"processingError,omitempty"`
}

// ProcessedHook runs after a call is processed.
type ProcessedHook func(ctx context.Context, callID string)

type Processor struct {
	store         Store
	syncer        Syncer
	inlineTimeout time.Duration
	onProcessed   []ProcessedHook
	now           func() time.Time
	newID         func() string
}

type Option func(*Processor)

// WithInlineTimeout bounds inline processing after the call is saved.
func WithInlineTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.inlineTimeout = d
		}
	}
}

func WithProcessedHook(h ProcessedHook) Option {
	return func(p *Processor) {
		if h != nil {
			p.onProcessed = append(p.onProcessed, h)
		}
	}
}

func NewProcessor(store Store, syncer Syncer, opts ...Option) *Processor {
	p := &Processor{
		store:         store,
		syncer:        syncer,
		inlineTimeout: 2 * time.Minute,
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest persists the call, then processes it inline. Only a persistence
// failure is returned as an error; processing failures are reported in the
// response and left for the unprocessed-call sweep.
func (p *Processor) Ingest(ctx context.Context, req Request) (Response, error) {
	participants, err := req.ParticipantsJSON()
	if err != nil {
		return Response{}, err
	}

	call := storage.Call{
		ID:               p.newID(),
		UserID:           req.UserID,
		Title:            req.Title,
		Transcript:       req.Transcription,
		ParticipantsJSON: participants,
		Duration:         int(math.Round(req.Duration)),
		RecordingURL:     req.RecordingURL,
		CreatedAt:        p.now(),
	}
	if err := p.store.CreateCall(call); err != nil {
		return Response{}, fmt.Errorf("save call: %w", err)
	}
	slog.Info("call saved", "call_id", call.ID, "user_id", call.UserID, "transcript_bytes", len(call.Transcript))

	resp := Response{Success: true, CallID: call.ID}

	// Processing outlives the request so a disconnecting client does not
	// abort a CRM sync halfway.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.inlineTimeout)
	defer cancel()

	res, err := p.process(pctx, call.ID)
	if err != nil {
		resp.ProcessingError = err.Error()
		slog.Warn("inline processing failed; call left for sweep", "call_id", call.ID, "error", err)
		return resp, nil
	}

	resp.Processed = res.Processed
	tickets, deals := res.TicketsCreated, res.DealsCreated
	resp.TicketsCreated = &tickets
	resp.DealsCreated = &deals
	if res.Outcome == crmsync.Partial {
		resp.ProcessingError = res.ErrorText()
	}
	return resp, nil
}

// Reprocess is the manual re-trigger for one call: it clears the processed
// flag and failure count, then processes the call again.
func (p *Processor) Reprocess(ctx context.Context, callID string) (crmsync.Result, error) {
	if _, err := p.store.GetCall(callID); err != nil {
		return crmsync.Result{}, err
	}
	if err := p.store.ResetProcessed(callID); err != nil {
		return crmsync.Result{}, err
	}
	return p.process(ctx, callID)
}

// SweepStats summarizes one unprocessed-call sweep.
type SweepStats struct {
	Found     int
	Processed int
	Failed    int
}

// ProcessUnprocessed processes up to limit calls still awaiting automatic
// processing, oldest first.
func (p *Processor) ProcessUnprocessed(ctx context.Context, limit int) (SweepStats, error) {
	calls, err := p.store.ListUnprocessedCalls(limit, crmsync.MaxProcessingAttempts)
	if err != nil {
		return SweepStats{}, err
	}

	stats := SweepStats{Found: len(calls)}
	for _, call := range calls {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		res, err := p.process(ctx, call.ID)
		switch {
		case errors.Is(err, crmsync.ErrInProgress):
			continue
		case err != nil:
			stats.Failed++
			slog.Warn("sweep processing failed", "call_id", call.ID, "error", err)
		case res.Processed:
			stats.Processed++
		}
	}

	if stats.Found > 0 {
		slog.Info("unprocessed call sweep finished", "found", stats.Found, "processed", stats.Processed, "failed", stats.Failed)
	}
	return stats, nil
}

func (p *Processor) process(ctx context.Context, callID string) (crmsync.Result, error) {
	res, err := p.syncer.SyncCall(ctx, callID)
	if err != nil {
		return res, err
	}
	if res.Processed && !res.AlreadyProcessed {
		for _, hook := range p.onProcessed {
			hook(ctx, callID)
		}
	}
	return res, nil
}
