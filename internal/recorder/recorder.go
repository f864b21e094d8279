// Package recorder persists every generation attempt to a sqlite call log.
//
// The worker reports each backend attempt through queue.AttemptObserver; the
// recorder writes one row per attempt so rejected and failed outputs can be
// reviewed after the fact.
package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/billie-coop/personabot/internal/llm/queue"
)

// Attempt is one row of the call log.
type Attempt struct {
	ID          int64     `db:"id"`
	RequestID   string    `db:"request_id"`
	Source      string    `db:"source"`
	CharacterID string    `db:"character_id"`
	Model       string    `db:"model"`
	Attempt     int       `db:"attempt"`
	Tokens      int       `db:"tokens"`
	Reason      string    `db:"reason"`
	Response    string    `db:"response"`
	Error       string    `db:"error_message"`
	LatencyMs   int64     `db:"latency_ms"`
	CreatedAt   time.Time `db:"created_at"`
}

// Recorder writes attempts to sqlite.
type Recorder struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger used for write failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// Open connects to the database at path, creating it and its directory if
// needed, and applies the schema.
func Open(path string, opts ...Option) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	r := &Recorder{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}

	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS attempts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    source TEXT DEFAULT '',
    character_id TEXT DEFAULT '',
    model TEXT DEFAULT '',
    attempt INTEGER NOT NULL,
    tokens INTEGER DEFAULT 0,
    reason TEXT NOT NULL,
    response TEXT DEFAULT '',
    error_message TEXT DEFAULT '',
    latency_ms INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_attempts_request ON attempts(request_id);
`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate call log: %w", err)
	}
	return nil
}

// RecordAttempt implements queue.AttemptObserver. Write failures are logged
// and never reach the worker.
func (r *Recorder) RecordAttempt(ctx context.Context, rec queue.AttemptRecord) {
	var errMsg string
	if rec.Err != nil {
		errMsg = rec.Err.Error()
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (
			request_id, source, character_id, model, attempt, tokens,
			reason, response, error_message, latency_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RequestID, rec.Source, rec.CharacterID, rec.Model, rec.Attempt, rec.Tokens,
		string(rec.Reason), rec.Text, errMsg, rec.Duration.Milliseconds(), at.UTC())
	if err != nil {
		r.logger.Warn("Failed to save attempt",
			zap.String("request_id", rec.RequestID),
			zap.Int("attempt", rec.Attempt),
			zap.Error(err))
	}
}

// ForRequest returns the attempts recorded for one request, oldest first.
func (r *Recorder) ForRequest(ctx context.Context, requestID string) ([]Attempt, error) {
	var attempts []Attempt
	err := r.db.SelectContext(ctx, &attempts, `
		SELECT * FROM attempts
		WHERE request_id = ?
		ORDER BY attempt ASC, id ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	return attempts, nil
}

// ReasonCounts tallies attempts by outcome.
func (r *Recorder) ReasonCounts(ctx context.Context) (map[string]int, error) {
	rows := []struct {
		Reason string `db:"reason"`
		Count  int    `db:"n"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, `SELECT reason, COUNT(*) AS n FROM attempts GROUP BY reason`); err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Reason] = row.Count
	}
	return counts, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

var _ queue.AttemptObserver = (*Recorder)(nil)
