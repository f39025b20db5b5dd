package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/bidengine/internal/models"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS bid_records (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	agent      TEXT NOT NULL,
	bid_amount DOUBLE PRECISION NOT NULL,
	status     TEXT NOT NULL CHECK (status IN ('pending','won','lost','failed')),
	message    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bid_records_task_idx ON bid_records (task_id);
CREATE INDEX IF NOT EXISTS bid_records_created_idx ON bid_records (created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS bid_records_active_task_idx
	ON bid_records (task_id) WHERE status IN ('pending','won');
`

// PGStore keeps the ledger in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Migrate creates the bid_records table and its indexes.
func (r *PGStore) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, pgSchema)
	return err
}

func (r *PGStore) Insert(ctx context.Context, rec *models.BidRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO bid_records (id, task_id, agent, bid_amount, status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.TaskID, rec.Agent, rec.BidAmount, string(rec.Status), rec.Message, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateActive
		}
		return err
	}
	return nil
}

func (r *PGStore) HasAny(ctx context.Context, taskID string, statuses []models.BidStatus) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bid_records WHERE task_id = $1 AND status = ANY($2))
	`, taskID, statusStrings(statuses)).Scan(&exists)
	return exists, err
}

func (r *PGStore) UpdateStatus(ctx context.Context, id string, status models.BidStatus, message *string) (*models.BidRecord, error) {
	var rec models.BidRecord
	var st string
	err := r.pool.QueryRow(ctx, `
		UPDATE bid_records SET status = $2, message = COALESCE($3, message)
		WHERE id = $1
		RETURNING id, task_id, agent, bid_amount, status, message, created_at
	`, id, string(status), message).Scan(&rec.ID, &rec.TaskID, &rec.Agent, &rec.BidAmount, &st, &rec.Message, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateActive
		}
		return nil, err
	}
	rec.Status = models.BidStatus(st)
	return &rec, nil
}

func (r *PGStore) Counts(ctx context.Context) (map[models.BidStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM bid_records GROUP BY status`)
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

func (r *PGStore) ListRecent(ctx context.Context, limit int) ([]*models.BidRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, task_id, agent, bid_amount, status, message, created_at
		FROM bid_records ORDER BY created_at DESC, id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.BidRecord
	for rows.Next() {
		var rec models.BidRecord
		var st string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Agent, &rec.BidAmount, &st, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = models.BidStatus(st)
		list = append(list, &rec)
	}
	return list, rows.Err()
}

// PruneResolved deletes records in one of statuses that fall outside the
// newest keep records overall. Pending records always survive.
func (r *PGStore) PruneResolved(ctx context.Context, keep int, statuses []models.BidStatus) (int64, error) {
	statuses = prunableOnly(statuses)
	if len(statuses) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM bid_records
		WHERE status = ANY($2) AND id NOT IN (
			SELECT id FROM bid_records ORDER BY created_at DESC, id DESC LIMIT $1
		)
	`, keep, statusStrings(statuses))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool is owned by the caller.
func (r *PGStore) Close() error { return nil }

func prunableOnly(statuses []models.BidStatus) []models.BidStatus {
	out := make([]models.BidStatus, 0, len(statuses))
	for _, s := range statuses {
		if s != models.BidStatusPending {
			out = append(out, s)
		}
	}
	return out
}

func statusStrings(statuses []models.BidStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
