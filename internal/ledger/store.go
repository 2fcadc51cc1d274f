// Package ledger keeps a process-lifetime record of seen messages and
// delivery attempts in an in-memory SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"signalpush/internal/domain"
)

const defaultRecentLimit = 50

var dbSeq atomic.Int64

// Store implements notify.Recorder and message dedup.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates a fresh in-memory ledger. Each Store gets its own database.
func Open(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:ledger%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", dbSeq.Add(1))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger: %w", err)
	}
	// one connection keeps the in-memory database alive and serializes writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS seen_messages (
		source      TEXT NOT NULL,
		chat_id     TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		seen_at     DATETIME NOT NULL,
		PRIMARY KEY (source, chat_id, message_id)
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		dispatch_id TEXT NOT NULL,
		message_id  TEXT,
		source      TEXT,
		backend     TEXT NOT NULL,
		sequence    INTEGER NOT NULL DEFAULT 0,
		tag         TEXT,
		outcome     TEXT NOT NULL,
		detail      TEXT,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_dispatch ON deliveries(dispatch_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_deliveries_time ON deliveries(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Seen marks a message as seen and reports whether it had been seen before.
func (s *Store) Seen(ctx context.Context, msg domain.NormalizedMessage) (bool, error) {
	if msg.ID == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_messages (source, chat_id, message_id, seen_at) VALUES (?, ?, ?, ?)`,
		msg.Source, msg.ChatID, msg.ID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("mark seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Store) RecordDelivery(ctx context.Context, rec domain.DeliveryRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries (dispatch_id, message_id, source, backend, sequence, tag, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DispatchID, rec.MessageID, rec.Source, rec.Backend, rec.Sequence, rec.Tag,
		string(rec.Outcome), rec.Detail, rec.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Recent returns the newest delivery records first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.DeliveryRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT dispatch_id, message_id, source, backend, sequence, tag, outcome, detail, created_at
		 FROM deliveries ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DeliveryRecord
	for rows.Next() {
		var (
			r       domain.DeliveryRecord
			outcome string
			msgID   sql.NullString
			source  sql.NullString
			tag     sql.NullString
			detail  sql.NullString
		)
		if err := rows.Scan(&r.DispatchID, &msgID, &source, &r.Backend, &r.Sequence, &tag, &outcome, &detail, &r.At); err != nil {
			return nil, err
		}
		r.MessageID = msgID.String
		r.Source = source.String
		r.Tag = tag.String
		r.Detail = detail.String
		r.Outcome = domain.DeliveryOutcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats counts delivery rows by outcome.
func (s *Store) Stats(ctx context.Context) (map[domain.DeliveryOutcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM deliveries GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[domain.DeliveryOutcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		stats[domain.DeliveryOutcome(outcome)] = n
	}
	return stats, rows.Err()
}

// Prune drops seen markers older than maxAge so the table stays bounded in
// long-running processes.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen_messages WHERE seen_at < ?`, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
