// Package sqlite journals monitoring sessions and their callback
// deliveries. The journal is write-behind bookkeeping for operators;
// session state itself lives only in memory for the process lifetime.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Session is one journal row.
type Session struct {
	ID               string
	TargetAmount     float64
	CallbackURL      string
	RequestTimestamp string
	Status           string
	Delivered        sql.NullBool
	DeliveryError    string
	StartedAt        time.Time
	FinishedAt       sql.NullTime
}

// Store is a sqlite-backed session journal.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the journal database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			target_amount REAL NOT NULL,
			callback_url TEXT NOT NULL,
			request_timestamp TEXT,
			status TEXT NOT NULL,
			delivered INTEGER,
			delivery_error TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SessionStarted records an accepted session in the RUNNING state.
func (s *Store) SessionStarted(ctx context.Context, id string, amount float64, callbackURL, requestTimestamp string) error {
	query := `INSERT INTO sessions (id, target_amount, callback_url, request_timestamp, status, started_at)
	          VALUES (?, ?, ?, ?, 'RUNNING', ?)`
	if _, err := s.db.ExecContext(ctx, query, id, amount, callbackURL, requestTimestamp, time.Now()); err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// SessionFinished stamps the session's terminal status.
func (s *Store) SessionFinished(ctx context.Context, id, status string) error {
	query := `UPDATE sessions SET status = ?, finished_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, status, time.Now(), id); err != nil {
		return fmt.Errorf("failed to record session finish: %w", err)
	}
	return nil
}

// DeliveryResult records whether the callback for a session got through.
func (s *Store) DeliveryResult(ctx context.Context, id string, delivered bool, deliveryErr string) error {
	query := `UPDATE sessions SET delivered = ?, delivery_error = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, delivered, deliveryErr, id); err != nil {
		return fmt.Errorf("failed to record delivery result: %w", err)
	}
	return nil
}

// GetSession returns one journal row.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	query := `SELECT id, target_amount, callback_url, request_timestamp, status,
	                 delivered, delivery_error, started_at, finished_at
	          FROM sessions WHERE id = ?`

	var sess Session
	var deliveryErr sql.NullString
	var requestTimestamp sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.TargetAmount, &sess.CallbackURL, &requestTimestamp,
		&sess.Status, &sess.Delivered, &deliveryErr, &sess.StartedAt, &sess.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.RequestTimestamp = requestTimestamp.String
	sess.DeliveryError = deliveryErr.String
	return &sess, nil
}

// RecentSessions lists the newest sessions, most recent first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]*Session, error) {
	query := `SELECT id, target_amount, callback_url, request_timestamp, status,
	                 delivered, delivery_error, started_at, finished_at
	          FROM sessions ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		var deliveryErr sql.NullString
		var requestTimestamp sql.NullString
		if err := rows.Scan(&sess.ID, &sess.TargetAmount, &sess.CallbackURL, &requestTimestamp,
			&sess.Status, &sess.Delivered, &deliveryErr, &sess.StartedAt, &sess.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.RequestTimestamp = requestTimestamp.String
		sess.DeliveryError = deliveryErr.String
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
