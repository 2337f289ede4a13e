package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Call is one finished conversation submitted for processing.
type Call struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Title              string     `json:"title"`
	Transcript         string     `json:"transcript"`
	ParticipantsJSON   string     `json:"participants,omitempty"`
	Duration           int        `json:"duration"`
	RecordingURL       string     `json:"recording_url,omitempty"`
	Processed          bool       `json:"processed"`
	Summary            string     `json:"summary,omitempty"`
	Topics             []string   `json:"topics"`
	ProcessingAttempts int        `json:"processing_attempts"`
	ProcessingError    string     `json:"processing_error,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`
}

const callColumns = `id, user_id, title, transcript, participants, duration, recording_url, processed,
	summary, topics, processing_attempts, processing_error, created_at, processed_at`

func (s *SQLiteStore) CreateCall(c Call) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("call id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO calls(id, user_id, title, transcript, participants, duration, recording_url, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.UserID,
		c.Title,
		c.Transcript,
		c.ParticipantsJSON,
		c.Duration,
		c.RecordingURL,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create call %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetCall(id string) (Call, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if err != nil {
		return Call{}, notFound(err, "query call "+id)
	}
	return c, nil
}

// ListUnprocessedCalls returns calls still awaiting automatic processing,
// oldest first. Calls with an empty transcript or maxAttempts failed
// attempts are skipped.
func (s *SQLiteStore) ListUnprocessedCalls(limit, maxAttempts int) ([]Call, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT `+callColumns+`
		 FROM calls
		 WHERE processed = 0 AND trim(transcript) != '' AND processing_attempts < ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		maxAttempts,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	calls := make([]Call, 0, limit)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call rows: %w", err)
	}
	return calls, nil
}

// MarkProcessed flips processed to true with the derived summary and topics.
// It reports false when the call was already processed.
func (s *SQLiteStore) MarkProcessed(id, summary string, topics []string, at time.Time) (bool, error) {
	if topics == nil {
		topics = []string{}
	}
	encoded, err := json.Marshal(topics)
	if err != nil {
		return false, fmt.Errorf("encode topics: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE calls SET processed = 1, summary = ?, topics = ?, processing_error = '', processed_at = ?
		 WHERE id = ? AND processed = 0`,
		summary,
		string(encoded),
		formatTime(at),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark call %s processed: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processed rows affected: %w", err)
	}
	return rows > 0, nil
}

// RecordProcessingFailure counts a failed processing attempt.
func (s *SQLiteStore) RecordProcessingFailure(id, message string) error {
	res, err := s.db.Exec(
		`UPDATE calls SET processing_attempts = processing_attempts + 1, processing_error = ? WHERE id = ?`,
		message,
		id,
	)
	if err != nil {
		return fmt.Errorf("record processing failure for call %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record failure rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	return nil
}

// ResetProcessed makes a call eligible for processing again.
func (s *SQLiteStore) ResetProcessed(id string) error {
	res, err := s.db.Exec(
		`UPDATE calls SET processed = 0, processing_attempts = 0, processing_error = '', processed_at = NULL WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset call %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset call rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var processed int
	var topics, createdAt string
	var processedAt sql.NullString
	if err := row.Scan(
		&c.ID, &c.UserID, &c.Title, &c.Transcript, &c.ParticipantsJSON, &c.Duration, &c.RecordingURL,
		&processed, &c.Summary, &topics, &c.ProcessingAttempts, &c.ProcessingError, &createdAt, &processedAt,
	); err != nil {
		return Call{}, err
	}
	c.Processed = processed != 0

	if err := json.Unmarshal([]byte(topics), &c.Topics); err != nil {
		return Call{}, fmt.Errorf("decode topics for call %s: %w", c.ID, err)
	}

	parsed, err := parseTime(createdAt)
	if err != nil {
		return Call{}, fmt.Errorf("parse call %s created_at: %w", c.ID, err)
	}
	c.CreatedAt = parsed

	if c.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return Call{}, fmt.Errorf("parse call %s processed_at: %w", c.ID, err)
	}
	return c, nil
}
