package crmsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rsvedant/a2apayments-sub000/internal/storage"
)

// RetryPolicy bounds automatic retries. Backoff[i] is the wait after the
// i-th retry attempt, measured from the last attempt; the last entry
// applies to every later attempt. A record left in syncing for longer than
// Lease is treated as an interrupted attempt and becomes failed again.
type RetryPolicy struct {
	MaxRetries int
	Backoff    []time.Duration
	Lease      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		Backoff:    []time.Duration{5 * time.Minute, 15 * time.Minute, 45 * time.Minute},
		Lease:      30 * time.Minute,
	}
}

// BackoffFor returns the wait required after attempt.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.Backoff) {
		attempt = len(p.Backoff) - 1
	}
	return p.Backoff[attempt]
}

// Eligible reports whether a failed record may be retried at now.
func (p RetryPolicy) Eligible(st storage.SyncStatus, now time.Time) bool {
	if st.Status != storage.SyncFailed || st.RetryCount >= p.MaxRetries {
		return false
	}
	if st.LastAttempt == nil {
		return true
	}
	return !now.Before(st.LastAttempt.Add(p.BackoffFor(st.RetryCount)))
}

// SweepReport summarizes one retry sweep.
type SweepReport struct {
	Failed    int
	Attempted int
	Succeeded int
	Skipped   int
}

// RetryFailed retries every eligible failed call and actionable record.
// Each record is claimed atomically before dispatch, which increments its
// retry count; records still inside their backoff window are skipped.
// Contact records are tracking-only and never retried here.
func (e *Engine) RetryFailed(ctx context.Context) (SweepReport, error) {
	if e.policy.Lease > 0 {
		n, err := e.store.ReclaimStaleSyncing(e.now().Add(-e.policy.Lease))
		if err != nil {
			return SweepReport{}, err
		}
		if n > 0 {
			slog.Warn("reclaimed interrupted syncs", "count", n)
		}
	}

	failed, err := e.store.ListFailedSyncStatuses()
	if err != nil {
		return SweepReport{}, fmt.Errorf("list failed sync statuses: %w", err)
	}

	var attempted, succeeded, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, st := range failed {
		if st.EntityType == storage.EntityContact {
			skipped.Add(1)
			continue
		}
		now := e.now()
		if !e.policy.Eligible(st, now) {
			skipped.Add(1)
			continue
		}

		g.Go(func() error {
			claimed, err := e.store.ClaimRetry(st.EntityType, st.EntityID, now, e.policy.MaxRetries, e.policy.Backoff)
			if err != nil {
				slog.Error("claim retry", "entity_type", st.EntityType, "entity_id", st.EntityID, "error", err)
				return nil
			}
			if !claimed {
				skipped.Add(1)
				return nil
			}

			attempted.Add(1)
			if err := e.dispatchRetry(gctx, st); err != nil {
				slog.Warn("retry failed",
					"entity_type", st.EntityType,
					"entity_id", st.EntityID,
					"attempt", st.RetryCount+1,
					"error", err,
				)
				e.releaseClaim(st.EntityType, st.EntityID, err)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}

	_ = g.Wait()
	report := SweepReport{
		Failed:    len(failed),
		Attempted: int(attempted.Load()),
		Succeeded: int(succeeded.Load()),
		Skipped:   int(skipped.Load()),
	}
	if report.Attempted > 0 {
		slog.Info("retry sweep finished", "failed", report.Failed, "attempted", report.Attempted, "succeeded", report.Succeeded)
	}
	return report, ctx.Err()
}

// Retrigger is the manual re-trigger for one failed record: the retry count
// returns to zero and the record is retried immediately as attempt one.
func (e *Engine) Retrigger(ctx context.Context, entityType, entityID string) error {
	if entityType != storage.EntityCall && entityType != storage.EntityActionable {
		return fmt.Errorf("%w %q", ErrUnsupportedEntity, entityType)
	}
	if err := e.store.ResetSyncStatus(entityType, entityID); err != nil {
		if errors.Is(err, storage.ErrSyncInProgress) {
			return fmt.Errorf("%s %s: %w", entityType, entityID, ErrInProgress)
		}
		return err
	}
	claimed, err := e.store.ClaimRetry(entityType, entityID, e.now(), e.policy.MaxRetries, e.policy.Backoff)
	if err != nil {
		return err
	}
	if !claimed {
		return ErrInProgress
	}
	slog.Info("manual retry", "entity_type", entityType, "entity_id", entityID)
	if err := e.dispatchRetry(ctx, storage.SyncStatus{EntityType: entityType, EntityID: entityID}); err != nil {
		e.releaseClaim(entityType, entityID, err)
		return err
	}
	return nil
}

// releaseClaim puts a record the failed retry left in syncing back to
// failed, so it stays a candidate until its retries run out.
func (e *Engine) releaseClaim(entityType, entityID string, cause error) {
	released, err := e.store.ReleaseClaim(entityType, entityID, cause.Error(), e.now())
	if err != nil {
		slog.Error("release retry claim", "entity_type", entityType, "entity_id", entityID, "error", err)
		return
	}
	if !released || e.observer == nil {
		return
	}
	if st, err := e.store.GetSyncStatus(entityType, entityID); err == nil {
		e.observer(st)
	}
}

func (e *Engine) dispatchRetry(ctx context.Context, st storage.SyncStatus) error {
	switch st.EntityType {
	case storage.EntityCall:
		return e.RetryCall(ctx, st.EntityID)
	case storage.EntityActionable:
		_, err := e.SyncActionable(ctx, st.EntityID)
		return err
	default:
		return fmt.Errorf("%w %q", ErrUnsupportedEntity, st.EntityType)
	}
}

// SyncActionable creates one stored ticket or deal, associating it with the
// contacts already resolved for its call.
func (e *Engine) SyncActionable(ctx context.Context, actionableID string) (string, error) {
	a, err := e.store.GetActionable(actionableID)
	if err != nil {
		return "", err
	}
	contactIDs, err := e.resolvedContactIDs(a.CallID)
	if err != nil {
		return "", err
	}
	return e.syncActionable(ctx, a, contactIDs)
}

// RetryCall redoes the call-level CRM write: extraction, contact
// resolution, note and meeting. Tickets and deals carry their own statuses
// and are not recreated.
func (e *Engine) RetryCall(ctx context.Context, callID string) error {
	if _, busy := e.inflight.LoadOrStore(callID, struct{}{}); busy {
		return ErrInProgress
	}
	defer e.inflight.Delete(callID)

	call, err := e.store.GetCall(callID)
	if err != nil {
		return err
	}

	bundle, err := e.extract(ctx, call)
	if err != nil {
		e.recordStatus(storage.SyncUpdate{
			EntityType:   storage.EntityCall,
			EntityID:     callID,
			Status:       storage.SyncFailed,
			ErrorMessage: err.Error(),
			AttemptedAt:  e.now(),
		})
		return fmt.Errorf("extract call %s: %w", callID, err)
	}

	var res Result
	res.ContactIDs = e.resolveContacts(ctx, callID, bundle.Contacts, &res)
	return e.syncCallRecords(ctx, call, bundle, res.ContactIDs, &res)
}

func (e *Engine) resolvedContactIDs(callID string) ([]string, error) {
	statuses, err := e.store.ListCallSyncStatuses(callID)
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := map[string]bool{}
	for _, st := range statuses {
		if st.EntityType != storage.EntityContact || st.Status != storage.SyncCompleted || st.CRMEntityID == "" {
			continue
		}
		if !seen[st.CRMEntityID] {
			seen[st.CRMEntityID] = true
			ids = append(ids, st.CRMEntityID)
		}
	}
	return ids, nil
}
