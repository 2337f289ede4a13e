package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sync entity types.
const (
	EntityCall       = "call"
	EntityActionable = "actionable"
	EntityContact    = "contact"
)

// Sync statuses.
const (
	SyncPending   = "pending"
	SyncSyncing   = "syncing"
	SyncCompleted = "completed"
	SyncFailed    = "failed"
)

// ErrSyncInProgress is returned when a record is held by a running sync.
var ErrSyncInProgress = errors.New("sync in progress")

// SyncStatus tracks the CRM projection of one entity. There is at most one
// row per (EntityType, EntityID).
type SyncStatus struct {
	ID            int64      `json:"id"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	CRMEntityID   string     `json:"crm_entity_id,omitempty"`
	CRMEntityType string     `json:"crm_entity_type,omitempty"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// SyncUpdate is the patch applied by UpsertSyncStatus. Empty CRM fields
// leave stored values untouched.
type SyncUpdate struct {
	EntityType    string
	EntityID      string
	Status        string
	CRMEntityID   string
	CRMEntityType string
	ErrorMessage  string
	AttemptedAt   time.Time
}

const syncColumns = `id, entity_type, entity_id, crm_entity_id, crm_entity_type, status, retry_count,
	last_attempt, error_message, created_at, updated_at`

// UpsertSyncStatus looks up the record for the entity and patches it, or
// inserts one when none exists. RetryCount is never changed here.
func (s *SQLiteStore) UpsertSyncStatus(u SyncUpdate) (SyncStatus, error) {
	if u.EntityType == "" || u.EntityID == "" {
		return SyncStatus{}, errors.New("sync entity type and id are required")
	}
	if u.AttemptedAt.IsZero() {
		u.AttemptedAt = time.Now()
	}
	now := formatTime(u.AttemptedAt)

	tx, err := s.db.Begin()
	if err != nil {
		return SyncStatus{}, fmt.Errorf("begin sync status tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRow(
		`SELECT id FROM sync_status WHERE entity_type = ? AND entity_id = ?`,
		u.EntityType, u.EntityID,
	).Scan(&id)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(
			`INSERT INTO sync_status(entity_type, entity_id, crm_entity_id, crm_entity_type, status, last_attempt, error_message, created_at, updated_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.EntityType, u.EntityID, u.CRMEntityID, u.CRMEntityType, u.Status, now, u.ErrorMessage, now, now,
		); err != nil {
			return SyncStatus{}, fmt.Errorf("insert sync status %s/%s: %w", u.EntityType, u.EntityID, err)
		}
	case err != nil:
		return SyncStatus{}, fmt.Errorf("lookup sync status %s/%s: %w", u.EntityType, u.EntityID, err)
	default:
		if _, err := tx.Exec(
			`UPDATE sync_status SET
				status = ?,
				crm_entity_id = CASE WHEN ? != '' THEN ? ELSE crm_entity_id END,
				crm_entity_type = CASE WHEN ? != '' THEN ? ELSE crm_entity_type END,
				error_message = ?,
				last_attempt = ?,
				updated_at = ?
			 WHERE id = ?`,
			u.Status,
			u.CRMEntityID, u.CRMEntityID,
			u.CRMEntityType, u.CRMEntityType,
			u.ErrorMessage,
			now,
			now,
			id,
		); err != nil {
			return SyncStatus{}, fmt.Errorf("update sync status %s/%s: %w", u.EntityType, u.EntityID, err)
		}
	}

	row := tx.QueryRow(`SELECT `+syncColumns+` FROM sync_status WHERE entity_type = ? AND entity_id = ?`, u.EntityType, u.EntityID)
	status, err := scanSyncStatus(row)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("reload sync status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SyncStatus{}, fmt.Errorf("commit sync status: %w", err)
	}
	return status, nil
}

func (s *SQLiteStore) GetSyncStatus(entityType, entityID string) (SyncStatus, error) {
	row := s.db.QueryRow(`SELECT `+syncColumns+` FROM sync_status WHERE entity_type = ? AND entity_id = ?`, entityType, entityID)
	st, err := scanSyncStatus(row)
	if err != nil {
		return SyncStatus{}, notFound(err, fmt.Sprintf("query sync status %s/%s", entityType, entityID))
	}
	return st, nil
}

// ListFailedSyncStatuses returns every failed record, oldest attempt first.
func (s *SQLiteStore) ListFailedSyncStatuses() ([]SyncStatus, error) {
	return s.querySyncStatuses(
		`SELECT `+syncColumns+` FROM sync_status WHERE status = ? ORDER BY last_attempt ASC, id ASC`,
		SyncFailed,
	)
}

// ListCallSyncStatuses returns the records of a call, its actionables and
// the contacts resolved while syncing it.
func (s *SQLiteStore) ListCallSyncStatuses(callID string) ([]SyncStatus, error) {
	return s.querySyncStatuses(
		`SELECT `+syncColumns+` FROM sync_status
		 WHERE (entity_type = 'call' AND entity_id = ?)
		    OR (entity_type = 'actionable' AND entity_id IN (SELECT id FROM actionables WHERE call_id = ?))
		    OR (entity_type = 'contact' AND substr(entity_id, 1, ?) = ?)
		 ORDER BY id ASC`,
		callID, callID, len(callID)+1, callID+"/",
	)
}

// ClaimRetry atomically checks retry eligibility and, when eligible,
// increments retry_count and moves the record to syncing. backoff[i] is the
// wait after the i-th attempt; the last entry applies to later attempts.
// It reports whether the record was claimed.
func (s *SQLiteStore) ClaimRetry(entityType, entityID string, now time.Time, maxRetries int, backoff []time.Duration) (bool, error) {
	if len(backoff) == 0 {
		return false, errors.New("backoff schedule is required")
	}

	var b strings.Builder
	args := []any{formatTime(now), formatTime(now), entityType, entityID, SyncFailed, maxRetries}
	b.WriteString("CASE retry_count")
	for i, d := range backoff[:len(backoff)-1] {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, i, formatTime(now.Add(-d)))
	}
	b.WriteString(" ELSE ? END")
	args = append(args, formatTime(now.Add(-backoff[len(backoff)-1])))

	res, err := s.db.Exec(
		`UPDATE sync_status SET retry_count = retry_count + 1, status = 'syncing', last_attempt = ?, updated_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND status = ? AND retry_count < ?
		   AND (last_attempt IS NULL OR last_attempt <= `+b.String()+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("claim retry %s/%s: %w", entityType, entityID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim retry rows affected: %w", err)
	}
	return rows > 0, nil
}

// ReleaseClaim returns a record still held in syncing to failed with the
// given error. The retry count consumed by the claim is kept. It reports
// whether the record was released.
func (s *SQLiteStore) ReleaseClaim(entityType, entityID, message string, at time.Time) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE sync_status SET status = ?, error_message = ?, last_attempt = ?, updated_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND status = ?`,
		SyncFailed, message, formatTime(at), formatTime(at), entityType, entityID, SyncSyncing,
	)
	if err != nil {
		return false, fmt.Errorf("release claim %s/%s: %w", entityType, entityID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release claim rows affected: %w", err)
	}
	return rows > 0, nil
}

// ReclaimStaleSyncing marks records stuck in syncing since before
// staleBefore as failed so the retry sweep picks them up again. It returns
// the number of records reclaimed.
func (s *SQLiteStore) ReclaimStaleSyncing(staleBefore time.Time) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE sync_status SET status = ?, error_message = ?, updated_at = ?
		 WHERE status = ? AND (last_attempt IS NULL OR last_attempt <= ?)`,
		SyncFailed, "sync interrupted", formatTime(time.Now()), SyncSyncing, formatTime(staleBefore),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale syncing records: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim stale rows affected: %w", err)
	}
	return rows, nil
}

// ResetSyncStatus is the manual re-trigger: retry_count returns to zero and
// the record becomes immediately eligible. A record held by a running sync
// is left alone and ErrSyncInProgress is returned.
func (s *SQLiteStore) ResetSyncStatus(entityType, entityID string) error {
	res, err := s.db.Exec(
		`UPDATE sync_status SET retry_count = 0, status = ?, last_attempt = NULL, updated_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND status != ?`,
		SyncFailed, formatTime(time.Now()), entityType, entityID, SyncSyncing,
	)
	if err != nil {
		return fmt.Errorf("reset sync status %s/%s: %w", entityType, entityID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset sync status rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	if _, err := s.GetSyncStatus(entityType, entityID); err != nil {
		return err
	}
	return fmt.Errorf("sync status %s/%s: %w", entityType, entityID, ErrSyncInProgress)
}

func (s *SQLiteStore) querySyncStatuses(query string, args ...any) ([]SyncStatus, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync status: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync status rows: %w", err)
	}
	return out, nil
}

func scanSyncStatus(row rowScanner) (SyncStatus, error) {
	var st SyncStatus
	var lastAttempt sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(
		&st.ID, &st.EntityType, &st.EntityID, &st.CRMEntityID, &st.CRMEntityType, &st.Status,
		&st.RetryCount, &lastAttempt, &st.ErrorMessage, &createdAt, &updatedAt,
	); err != nil {
		return SyncStatus{}, err
	}

	var err error
	if st.LastAttempt, err = parseNullTime(lastAttempt); err != nil {
		return SyncStatus{}, fmt.Errorf("parse last_attempt: %w", err)
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return SyncStatus{}, fmt.Errorf("parse created_at: %w", err)
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return SyncStatus{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return st, nil
}
