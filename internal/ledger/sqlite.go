package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/inaiurai/bidengine/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bid_records (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	agent      TEXT NOT NULL,
	bid_amount REAL NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('pending','won','lost','failed')),
	message    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS bid_records_task_idx ON bid_records (task_id);
CREATE INDEX IF NOT EXISTS bid_records_created_idx ON bid_records (created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS bid_records_active_task_idx
	ON bid_records (task_id) WHERE status IN ('pending','won');
`

// SQLiteStore keeps the ledger in a single local database file. Writes go
// through one connection so readers never observe a partial record.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite ledger: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *models.BidRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bid_records (id, task_id, agent, bid_amount, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.TaskID, rec.Agent, rec.BidAmount, string(rec.Status), rec.Message, rec.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateActive
		}
		return err
	}
	return nil
}

func (s *SQLiteStore) HasAny(ctx context.Context, taskID string, statuses []models.BidStatus) (bool, error) {
	if len(statuses) == 0 {
		return false, nil
	}
	args := make([]any, 0, len(statuses)+1)
	args = append(args, taskID)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	q := `SELECT EXISTS (SELECT 1 FROM bid_records WHERE task_id = ? AND status IN (?` +
		strings.Repeat(",?", len(statuses)-1) + `))`
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.BidStatus, message *string) (*models.BidRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE bid_records SET status = ?, message = COALESCE(?, message)
		WHERE id = ?
		RETURNING id, task_id, agent, bid_amount, status, message, created_at
	`, string(status), message, id)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateActive
		}
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) Counts(ctx context.Context) (map[models.BidStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bid_records GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[models.BidStatus]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[models.BidStatus(st)] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]*models.BidRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, agent, bid_amount, status, message, created_at
		FROM bid_records ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.BidRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) PruneResolved(ctx context.Context, keep int, statuses []models.BidStatus) (int64, error) {
	statuses = prunableOnly(statuses)
	if len(statuses) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, keep)
	q := `DELETE FROM bid_records
		WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `) AND id NOT IN (
			SELECT id FROM bid_records ORDER BY created_at DESC, id DESC LIMIT ?
		)`
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*models.BidRecord, error) {
	var rec models.BidRecord
	var st string
	var created int64
	if err := row.Scan(&rec.ID, &rec.TaskID, &rec.Agent, &rec.BidAmount, &st, &rec.Message, &created); err != nil {
		return nil, err
	}
	rec.Status = models.BidStatus(st)
	rec.CreatedAt = time.Unix(0, created).UTC()
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
