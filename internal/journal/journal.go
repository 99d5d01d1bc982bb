package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cbtquiz/internal/db"
	"cbtquiz/internal/submission"
)

const (
	StatusSubmitted = "submitted"
	StatusFailed    = "failed"
)

// Attempt is one submission attempt of a hosted session, successful or not.
type Attempt struct {
	SessionID  uuid.UUID           `json:"session_id"`
	TestID     int64               `json:"test_id"`
	UserID     string              `json:"user_id"`
	AttemptNo  int                 `json:"attempt_no"`
	Auto       bool                `json:"auto"`
	Answers    []submission.Record `json:"answers"`
	Status     string              `json:"status"`
	Error      string              `json:"error,omitempty"`
	RecordedAt time.Time           `json:"recorded_at"`
}

type Store interface {
	RecordAttempt(ctx context.Context, a Attempt) error
	ListAttempts(ctx context.Context, sessionID uuid.UUID) ([]Attempt, error)
}

// MemoryStore keeps attempts in process. It is used when no database is
// configured.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]Attempt
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[uuid.UUID][]Attempt), now: time.Now}
}

func (s *MemoryStore) RecordAttempt(_ context.Context, a Attempt) error {
	if a.SessionID == uuid.Nil {
		return errors.New("record attempt: session id is required")
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = s.now().UTC()
	}
	a.Answers = append([]submission.Record(nil), a.Answers...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[a.SessionID] = append(s.rows[a.SessionID], a)
	return nil
}

func (s *MemoryStore) ListAttempts(_ context.Context, sessionID uuid.UUID) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Attempt(nil), s.rows[sessionID]...), nil
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{db: conn}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS submission_attempts (
	id BIGSERIAL PRIMARY KEY,
	session_id UUID NOT NULL,
	test_id BIGINT NOT NULL,
	user_id TEXT NOT NULL,
	attempt_no INT NOT NULL,
	auto BOOLEAN NOT NULL DEFAULT FALSE,
	answers JSONB NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (session_id, attempt_no)
);
CREATE INDEX IF NOT EXISTS submission_attempts_user_idx ON submission_attempts (user_id, test_id);
`

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, a Attempt) error {
	if a.SessionID == uuid.Nil {
		return errors.New("record attempt: session id is required")
	}
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode attempt answers: %w", err)
	}
	if a.Answers == nil {
		answers = []byte("[]")
	}

	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO submission_attempts (session_id, test_id, user_id, attempt_no, auto, answers, status, error)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
			ON CONFLICT (session_id, attempt_no) DO UPDATE
			SET status = EXCLUDED.status, error = EXCLUDED.error, recorded_at = now()`,
			a.SessionID, a.TestID, a.UserID, a.AttemptNo, a.Auto, string(answers), a.Status, a.Error,
		)
		if err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ListAttempts(ctx context.Context, sessionID uuid.UUID) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, test_id, user_id, attempt_no, auto, answers, status, error, recorded_at
		FROM submission_attempts
		WHERE session_id = $1
		ORDER BY attempt_no ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0, 2)
	for rows.Next() {
		var (
			a   Attempt
			raw []byte
		)
		if err := rows.Scan(&a.SessionID, &a.TestID, &a.UserID, &a.AttemptNo, &a.Auto, &raw, &a.Status, &a.Error, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if err := json.Unmarshal(raw, &a.Answers); err != nil {
			return nil, fmt.Errorf("decode attempt answers: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}
