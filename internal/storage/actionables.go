package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	KindTicket = "ticket"
	KindDeal   = "deal"
)

// Actionable is a ticket or deal extracted from a call, kept so it can be
// synced and retried on its own. Payload holds the normalized entity.
type Actionable struct {
	ID          string          `json:"id"`
	CallID      string          `json:"call_id"`
	Kind        string          `json:"kind"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SaveActionables inserts all items in one transaction.
func (s *SQLiteStore) SaveActionables(items []Actionable) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin actionables tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range items {
		if a.ID == "" || a.CallID == "" {
			return errors.New("actionable id and call id are required")
		}
		if a.Kind != KindTicket && a.Kind != KindDeal {
			return fmt.Errorf("unknown actionable kind %q", a.Kind)
		}
		payload := a.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		createdAt := a.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.Exec(
			`INSERT INTO actionables(id, call_id, kind, title, description, payload, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.CallID, a.Kind, a.Title, a.Description, string(payload), formatTime(createdAt),
		); err != nil {
			return fmt.Errorf("insert actionable %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit actionables: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetActionable(id string) (Actionable, error) {
	row := s.db.QueryRow(
		`SELECT id, call_id, kind, title, description, payload, created_at FROM actionables WHERE id = ?`,
		id,
	)
	a, err := scanActionable(row)
	if err != nil {
		return Actionable{}, notFound(err, "query actionable "+id)
	}
	return a, nil
}

func (s *SQLiteStore) ListActionables(callID string) ([]Actionable, error) {
	rows, err := s.db.Query(
		`SELECT id, call_id, kind, title, description, payload, created_at
		 FROM actionables WHERE call_id = ? ORDER BY created_at ASC, id ASC`,
		callID,
	)
	if err != nil {
		return nil, fmt.Errorf("query actionables for call %s: %w", callID, err)
	}
	defer func() { _ = rows.Close() }()

	var items []Actionable
	for rows.Next() {
		a, err := scanActionable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan actionable: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actionable rows: %w", err)
	}
	return items, nil
}

func scanActionable(row rowScanner) (Actionable, error) {
	var a Actionable
	var payload, createdAt string
	if err := row.Scan(&a.ID, &a.CallID, &a.Kind, &a.Title, &a.Description, &payload, &createdAt); err != nil {
		return Actionable{}, err
	}
	a.Payload = json.RawMessage(payload)
	parsed, err := parseTime(createdAt)
	if err != nil {
		return Actionable{}, fmt.Errorf("parse actionable %s created_at: %w", a.ID, err)
	}
	a.CreatedAt = parsed
	return a, nil
}
