// Package ledger is the durable, append-only record of every submission
// attempt. It is the source of truth for "already attempted" checks.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/bidengine/internal/models"
)

const defaultRetain = 500

var (
	// ErrNotFound is returned by UpdateStatus for an unknown bid id.
	ErrNotFound = errors.New("bid record not found")
	// ErrInvalidStatus is returned for a status outside pending|won|lost|failed.
	ErrInvalidStatus = errors.New("invalid bid status")
	// ErrDuplicateActive is returned when a task already has a pending or won
	// record. Only reachable when more than one writer shares a store.
	ErrDuplicateActive = errors.New("task already has an active bid")
)

// Store is the persistence contract shared by the Postgres and SQLite backends.
// Implementations must be safe for concurrent use.
type Store interface {
	Insert(ctx context.Context, rec *models.BidRecord) error
	HasAny(ctx context.Context, taskID string, statuses []models.BidStatus) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.BidStatus, message *string) (*models.BidRecord, error)
	Counts(ctx context.Context) (map[models.BidStatus]int, error)
	ListRecent(ctx context.Context, limit int) ([]*models.BidRecord, error)
	PruneResolved(ctx context.Context, keep int, statuses []models.BidStatus) (int64, error)
	Close() error
}

// Outcome is the result of one submit attempt as seen by the ledger.
type Outcome struct {
	OK      bool
	Message string
}

type Service struct {
	store    Store
	retain   int
	prunable []models.BidStatus
	now      func() time.Time
	log      *slog.Logger
}

// NewService wraps store. retain bounds the history kept, but only records
// that no longer block resubmission are pruned: lost always, failed only
// when includeFailed is false. Pending and won records are never pruned.
func NewService(store Store, retain int, includeFailed bool, log *slog.Logger) *Service {
	if retain <= 0 {
		retain = defaultRetain
	}
	if log == nil {
		log = slog.Default()
	}
	prunable := []models.BidStatus{models.BidStatusLost}
	if !includeFailed {
		prunable = append(prunable, models.BidStatusFailed)
	}
	return &Service{store: store, retain: retain, prunable: prunable, now: time.Now, log: log}
}

// RecordAttempt appends a record for one submit attempt: pending when the
// marketplace accepted it, failed otherwise.
func (s *Service) RecordAttempt(ctx context.Context, taskID, agent string, amount float64, outcome Outcome) (*models.BidRecord, error) {
	id, err := newBidID()
	if err != nil {
		return nil, err
	}
	status := models.BidStatusFailed
	if outcome.OK {
		status = models.BidStatusPending
	}
	rec := &models.BidRecord{
		ID:        id,
		TaskID:    taskID,
		Agent:     agent,
		BidAmount: amount,
		Status:    status,
		Message:   outcome.Message,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert bid record: %w", err)
	}
	if n, err := s.store.PruneResolved(ctx, s.retain, s.prunable); err != nil {
		s.log.Warn("ledger prune failed", "error", err)
	} else if n > 0 {
		s.log.Info("ledger pruned resolved records", "removed", n)
	}
	return rec, nil
}

// IsAttempted reports whether taskID has a pending or won record, or,
// with includeFailed, a failed one.
func (s *Service) IsAttempted(ctx context.Context, taskID string, includeFailed bool) (bool, error) {
	statuses := []models.BidStatus{models.BidStatusPending, models.BidStatusWon}
	if includeFailed {
		statuses = append(statuses, models.BidStatusFailed)
	}
	return s.store.HasAny(ctx, taskID, statuses)
}

// UpdateStatus is the only mutation path for existing records. A nil
// message keeps the stored one.
func (s *Service) UpdateStatus(ctx context.Context, bidID string, status models.BidStatus, message *string) (*models.BidRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.UpdateStatus(ctx, bidID, status, message)
}

// Stats returns aggregate counts by status.
func (s *Service) Stats(ctx context.Context) (models.LedgerStats, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return models.LedgerStats{}, err
	}
	st := models.LedgerStats{
		Pending: counts[models.BidStatusPending],
		Won:     counts[models.BidStatusWon],
		Lost:    counts[models.BidStatusLost],
		Failed:  counts[models.BidStatusFailed],
	}
	st.Total = st.Pending + st.Won + st.Lost + st.Failed
	return st, nil
}

// Recent returns up to limit records, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]*models.BidRecord, error) {
	if limit <= 0 || limit > s.retain {
		limit = s.retain
	}
	return s.store.ListRecent(ctx, limit)
}

func (s *Service) Close() error {
	return s.store.Close()
}

// newBidID returns a time-ordered id: UUIDv7 carries a millisecond
// timestamp followed by random bits.
func newBidID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate bid id: %w", err)
	}
	return "bid_" + id.String(), nil
}
