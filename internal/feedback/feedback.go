// Package feedback applies marketplace outcome events (won/lost) to the
// bid ledger, either through a River queue or directly.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/inaiurai/bidengine/internal/ledger"
	"github.com/inaiurai/bidengine/internal/models"
)

// Event is the body of POST /feedback.
type Event struct {
	BidID   string           `json:"bid_id"`
	Status  models.BidStatus `json:"status"`
	Message *string          `json:"message,omitempty"`
}

// StatusUpdater is the ledger mutation the feedback path needs.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, bidID string, status models.BidStatus, message *string) (*models.BidRecord, error)
}

// Sink accepts an event. A nil record with a nil error means the event was
// queued rather than applied.
type Sink interface {
	Accept(ctx context.Context, ev Event) (*models.BidRecord, error)
}

// Direct applies events synchronously.
type Direct struct {
	ledger StatusUpdater
	log    *slog.Logger
}

func NewDirect(l StatusUpdater, log *slog.Logger) *Direct {
	if log == nil {
		log = slog.Default()
	}
	return &Direct{ledger: l, log: log}
}

func (d *Direct) Accept(ctx context.Context, ev Event) (*models.BidRecord, error) {
	rec, err := d.ledger.UpdateStatus(ctx, ev.BidID, ev.Status, ev.Message)
	if err != nil {
		return nil, err
	}
	d.log.Info("bid feedback applied", "bid_id", rec.ID, "task_id", rec.TaskID, "status", rec.Status)
	return rec, nil
}

// Args is the River job carrying one Event.
type Args struct {
	Event
}

func (Args) Kind() string { return "bid_feedback" }

func (Args) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 5}
}

// InsertFunc enqueues a job. Provided by main as a closure over river.Client.Insert.
type InsertFunc func(ctx context.Context, args Args) error

// Queue hands events to River for asynchronous, retried application.
type Queue struct {
	insert InsertFunc
	log    *slog.Logger
}

func NewQueue(insert InsertFunc, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{insert: insert, log: log}
}

func (q *Queue) Accept(ctx context.Context, ev Event) (*models.BidRecord, error) {
	if err := q.insert(ctx, Args{Event: ev}); err != nil {
		return nil, fmt.Errorf("enqueue bid feedback: %w", err)
	}
	q.log.Info("bid feedback queued", "bid_id", ev.BidID, "status", ev.Status)
	return nil, nil
}

// Worker applies queued feedback. Unknown bids and bad statuses cancel the
// job; anything else is retried by River.
type Worker struct {
	river.WorkerDefaults[Args]
	ledger StatusUpdater
	log    *slog.Logger
}

func NewWorker(l StatusUpdater, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{ledger: l, log: log}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[Args]) error {
	ev := job.Args.Event
	rec, err := w.ledger.UpdateStatus(ctx, ev.BidID, ev.Status, ev.Message)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrInvalidStatus) {
			w.log.Warn("dropping bid feedback", "bid_id", ev.BidID, "status", ev.Status, "error", err)
			return river.JobCancel(err)
		}
		return fmt.Errorf("apply bid feedback %s: %w", ev.BidID, err)
	}
	w.log.Info("bid feedback applied", "bid_id", rec.ID, "task_id", rec.TaskID, "status", rec.Status)
	return nil
}
