// Package crmsync projects extracted call entities into the CRM, tracks a
// sync status per entity and retries failures with bounded backoff.
package crmsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rsvedant/a2apayments-sub000/internal/config"
	"github.com/rsvedant/a2apayments-sub000/internal/crm"
	"github.com/rsvedant/a2apayments-sub000/internal/extract"
	"github.com/rsvedant/a2apayments-sub000/internal/storage"
)

// ErrInProgress is returned when the call is already being processed in
// this process.
var ErrInProgress = errors.New("call processing already in progress")

// ErrUnsupportedEntity is returned for sync records that cannot be retried.
var ErrUnsupportedEntity = errors.New("unsupported sync entity type")

// MaxProcessingAttempts bounds automatic reprocessing of a call whose
// extraction keeps failing.
const MaxProcessingAttempts = 3

// Store is the persistence the engine needs.
type Store interface {
	GetCall(id string) (storage.Call, error)
	MarkProcessed(id, summary string, topics []string, at time.Time) (bool, error)
	RecordProcessingFailure(id, message string) error
	SaveActionables(items []storage.Actionable) error
	GetActionable(id string) (storage.Actionable, error)
	UpsertSyncStatus(u storage.SyncUpdate) (storage.SyncStatus, error)
	ListCallSyncStatuses(callID string) ([]storage.SyncStatus, error)
	ListFailedSyncStatuses() ([]storage.SyncStatus, error)
	GetSyncStatus(entityType, entityID string) (storage.SyncStatus, error)
	ClaimRetry(entityType, entityID string, now time.Time, maxRetries int, backoff []time.Duration) (bool, error)
	ReleaseClaim(entityType, entityID, message string, at time.Time) (bool, error)
	ReclaimStaleSyncing(staleBefore time.Time) (int64, error)
	ResetSyncStatus(entityType, entityID string) error
}

type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (extract.Bundle, error)
}

type Engine struct {
	store       Store
	crm         crm.Client
	extractor   Extractor
	extraction  config.ExtractionContext
	policy      RetryPolicy
	concurrency int
	now         func() time.Time
	newID       func() string
	observer    func(storage.SyncStatus)

	inflight sync.Map
}

type Option func(*Engine)

func WithExtractionContext(c config.ExtractionContext) Option {
	return func(e *Engine) { e.extraction = c }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithConcurrency bounds concurrent retries in a sweep.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithStatusObserver is called after every sync status write.
func WithStatusObserver(fn func(storage.SyncStatus)) Option {
	return func(e *Engine) { e.observer = fn }
}

func New(store Store, client crm.Client, extractor Extractor, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		crm:         client,
		extractor:   extractor,
		policy:      DefaultRetryPolicy(),
		concurrency: 4,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncCall extracts entities from a stored call and writes them to the CRM
// in a fixed order: contacts, tickets, deals, note, meeting. Entity
// failures are isolated. The call is marked processed once extraction
// succeeds, even when some entities fail; those are left for the retry
// sweep. Extraction failure leaves the call unprocessed.
func (e *Engine) SyncCall(ctx context.Context, callID string) (Result, error) {
	if _, busy := e.inflight.LoadOrStore(callID, struct{}{}); busy {
		return Result{CallID: callID, Outcome: Failed}, ErrInProgress
	}
	defer e.inflight.Delete(callID)

	res := Result{CallID: callID}

	call, err := e.store.GetCall(callID)
	if err != nil {
		res.settle()
		return res, err
	}
	if call.Processed {
		res.Processed = true
		res.AlreadyProcessed = true
		res.settle()
		return res, nil
	}

	bundle, err := e.extract(ctx, call)
	if err != nil {
		if recErr := e.store.RecordProcessingFailure(callID, err.Error()); recErr != nil {
			slog.Error("record processing failure", "call_id", callID, "error", recErr)
		}
		res.fail(err.Error())
		res.settle()
		return res, fmt.Errorf("extract call %s: %w", callID, err)
	}

	actionables := e.persistActionables(call, bundle)

	res.ContactIDs = e.resolveContacts(ctx, call.ID, bundle.Contacts, &res)

	for _, a := range actionables {
		_, err := e.syncActionable(ctx, a, res.ContactIDs)
		switch {
		case a.Kind == storage.KindTicket && err == nil:
			res.TicketsCreated++
		case a.Kind == storage.KindTicket:
			res.TicketsFailed++
			res.fail(fmt.Sprintf("ticket %q: %v", a.Title, err))
		case err == nil:
			res.DealsCreated++
		default:
			res.DealsFailed++
			res.fail(fmt.Sprintf("deal %q: %v", a.Title, err))
		}
	}

	e.syncCallRecords(ctx, call, bundle, res.ContactIDs, &res)

	flipped, err := e.store.MarkProcessed(callID, bundle.Note, bundle.Topics, e.now())
	if err != nil {
		res.fail(err.Error())
		res.settle()
		return res, fmt.Errorf("mark call %s processed: %w", callID, err)
	}
	res.Processed = true
	if !flipped {
		slog.Warn("call was already marked processed", "call_id", callID)
	}
	res.settle()

	slog.Info("call synced",
		"call_id", callID,
		"outcome", res.Outcome.String(),
		"contacts", len(res.ContactIDs),
		"tickets", res.TicketsCreated,
		"deals", res.DealsCreated,
		"failures", len(res.Errors),
	)
	return res, nil
}

func (e *Engine) extract(ctx context.Context, call storage.Call) (extract.Bundle, error) {
	if e.extractor == nil {
		return extract.Bundle{}, errors.New("extractor not configured")
	}
	return e.extractor.Extract(ctx, extract.Input{
		Transcript:       call.Transcript,
		ParticipantsJSON: call.ParticipantsJSON,
		SystemPrompt:     e.extraction.SystemPrompt,
		SalesScript:      e.extraction.SalesScript,
		CompanyDocs:      e.extraction.CompanyDocs,
		CallTime:         call.CreatedAt,
	})
}

func (e *Engine) persistActionables(call storage.Call, bundle extract.Bundle) []storage.Actionable {
	items := make([]storage.Actionable, 0, len(bundle.Tickets)+len(bundle.Deals))
	now := e.now()
	for _, t := range bundle.Tickets {
		payload, _ := json.Marshal(t)
		items = append(items, storage.Actionable{
			ID: e.newID(), CallID: call.ID, Kind: storage.KindTicket,
			Title: t.Subject, Description: t.Content, Payload: payload, CreatedAt: now,
		})
	}
	for _, d := range bundle.Deals {
		payload, _ := json.Marshal(d)
		items = append(items, storage.Actionable{
			ID: e.newID(), CallID: call.ID, Kind: storage.KindDeal,
			Title: d.Name, Payload: payload, CreatedAt: now,
		})
	}
	if err := e.store.SaveActionables(items); err != nil {
		slog.Warn("persist actionables failed; syncing without retry tracking", "call_id", call.ID, "error", err)
	}
	return items
}

// resolveContacts finds or creates every participant and returns the IDs
// that resolved. Contact statuses are recorded for visibility only.
func (e *Engine) resolveContacts(ctx context.Context, callID string, contacts []extract.Contact, res *Result) []string {
	ids := make([]string, 0, len(contacts))
	seen := map[string]bool{}
	for _, c := range contacts {
		props := ContactProperties(c)
		key := contactKey(c)
		if key == "" {
			continue
		}

		ref, err := e.FindOrCreateContact(ctx, props)
		update := storage.SyncUpdate{
			EntityType:  storage.EntityContact,
			EntityID:    callID + "/" + key,
			AttemptedAt: e.now(),
		}
		if err != nil {
			res.ContactsFailed++
			res.fail(fmt.Sprintf("contact %q: %v", key, err))
			slog.Warn("contact sync failed", "call_id", callID, "contact", key, "error", err)
			update.Status = storage.SyncFailed
			update.ErrorMessage = err.Error()
		} else {
			update.Status = storage.SyncCompleted
			update.CRMEntityID = ref.ID
			update.CRMEntityType = crm.ObjectContact
			if !seen[ref.ID] {
				seen[ref.ID] = true
				ids = append(ids, ref.ID)
			}
		}
		e.recordStatus(update)
	}
	return ids
}

func contactKey(c extract.Contact) string {
	if email := strings.ToLower(strings.TrimSpace(c.Email)); email != "" {
		return email
	}
	return c.FullName()
}

// syncCallRecords creates the note and meeting for a call. Both are always
// attempted; the call's sync status records the outcome.
func (e *Engine) syncCallRecords(ctx context.Context, call storage.Call, bundle extract.Bundle, contactIDs []string, res *Result) error {
	e.recordStatus(storage.SyncUpdate{EntityType: storage.EntityCall, EntityID: call.ID, Status: storage.SyncSyncing, AttemptedAt: e.now()})

	var errs []string
	noteID, err := e.CreateNote(ctx, bundle.Note, call.CreatedAt, contactIDs)
	if err != nil {
		errs = append(errs, fmt.Sprintf("note: %v", err))
	} else {
		res.NoteID = noteID
	}

	meetingID, err := e.CreateMeeting(ctx, bundle.Meeting, call.CreatedAt, time.Duration(call.Duration)*time.Second, contactIDs)
	if err != nil {
		errs = append(errs, fmt.Sprintf("meeting: %v", err))
	} else {
		res.MeetingID = meetingID
	}

	update := storage.SyncUpdate{EntityType: storage.EntityCall, EntityID: call.ID, AttemptedAt: e.now()}
	switch {
	case len(errs) > 0:
		update.Status = storage.SyncFailed
		update.ErrorMessage = strings.Join(errs, "; ")
		for _, msg := range errs {
			res.fail(msg)
		}
		slog.Warn("call record sync failed", "call_id", call.ID, "error", update.ErrorMessage)
	default:
		update.Status = storage.SyncCompleted
		update.CRMEntityID = meetingID
		update.CRMEntityType = crm.ObjectMeeting
	}
	e.recordStatus(update)

	if len(errs) > 0 {
		return errors.New(update.ErrorMessage)
	}
	return nil
}

// syncActionable creates one stored ticket or deal and records its status.
func (e *Engine) syncActionable(ctx context.Context, a storage.Actionable, contactIDs []string) (string, error) {
	e.recordStatus(storage.SyncUpdate{EntityType: storage.EntityActionable, EntityID: a.ID, Status: storage.SyncSyncing, AttemptedAt: e.now()})

	var (
		id      string
		err     error
		crmType string
	)
	switch a.Kind {
	case storage.KindTicket:
		crmType = crm.ObjectTicket
		var t extract.Ticket
		if err = json.Unmarshal(a.Payload, &t); err == nil {
			id, err = e.CreateTicket(ctx, t, contactIDs)
		}
	case storage.KindDeal:
		crmType = crm.ObjectDeal
		var d extract.Deal
		if err = json.Unmarshal(a.Payload, &d); err == nil {
			id, err = e.CreateDeal(ctx, d, contactIDs)
		}
	default:
		err = fmt.Errorf("unknown actionable kind %q", a.Kind)
	}

	update := storage.SyncUpdate{EntityType: storage.EntityActionable, EntityID: a.ID, AttemptedAt: e.now()}
	if err != nil {
		update.Status = storage.SyncFailed
		update.ErrorMessage = err.Error()
		slog.Warn("actionable sync failed", "actionable_id", a.ID, "kind", a.Kind, "error", err)
	} else {
		update.Status = storage.SyncCompleted
		update.CRMEntityID = id
		update.CRMEntityType = crmType
	}
	e.recordStatus(update)
	return id, err
}

func (e *Engine) recordStatus(u storage.SyncUpdate) {
	st, err := e.store.UpsertSyncStatus(u)
	if err != nil {
		slog.Error("write sync status", "entity_type", u.EntityType, "entity_id", u.EntityID, "error", err)
		return
	}
	if e.observer != nil {
		e.observer(st)
	}
}
