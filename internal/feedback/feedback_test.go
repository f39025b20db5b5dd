package feedback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/inaiurai/bidengine/internal/ledger"
	"github.com/inaiurai/bidengine/internal/models"
)

type stubUpdater struct {
	calls []Event
	err   error
}

func (s *stubUpdater) UpdateStatus(_ context.Context, bidID string, status models.BidStatus, message *string) (*models.BidRecord, error) {
	s.calls = append(s.calls, Event{BidID: bidID, Status: status, Message: message})
	if s.err != nil {
		return nil, s.err
	}
	return &models.BidRecord{ID: bidID, TaskID: "t1", Status: status}, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestDirect_Applies(t *testing.T) {
	u := &stubUpdater{}
	rec, err := NewDirect(u, quiet()).Accept(context.Background(), Event{BidID: "bid_1", Status: models.BidStatusWon})
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Status != models.BidStatusWon {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if len(u.calls) != 1 || u.calls[0].BidID != "bid_1" {
		t.Errorf("unexpected calls: %+v", u.calls)
	}
}

func TestDirect_PropagatesNotFound(t *testing.T) {
	u := &stubUpdater{err: ledger.ErrNotFound}
	_, err := NewDirect(u, quiet()).Accept(context.Background(), Event{BidID: "bid_x", Status: models.BidStatusLost})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestQueue_Enqueues(t *testing.T) {
	var got []Args
	q := NewQueue(func(_ context.Context, a Args) error {
		got = append(got, a)
		return nil
	}, quiet())

	rec, err := q.Accept(context.Background(), Event{BidID: "bid_1", Status: models.BidStatusLost})
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Error("queued events are not applied synchronously")
	}
	if len(got) != 1 || got[0].BidID != "bid_1" || got[0].Kind() != "bid_feedback" {
		t.Errorf("unexpected jobs: %+v", got)
	}
}

func TestQueue_InsertError(t *testing.T) {
	q := NewQueue(func(context.Context, Args) error { return errors.New("db down") }, quiet())
	if _, err := q.Accept(context.Background(), Event{BidID: "bid_1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWorker(t *testing.T) {
	msg := "client chose another vendor"
	tests := []struct {
		name       string
		err        error
		wantErr    bool
		wantCancel bool
	}{
		{name: "applied"},
		{name: "unknown bid cancels", err: ledger.ErrNotFound, wantErr: true, wantCancel: true},
		{name: "invalid status cancels", err: ledger.ErrInvalidStatus, wantErr: true, wantCancel: true},
		{name: "transient error retries", err: errors.New("connection reset"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &stubUpdater{err: tt.err}
			w := NewWorker(u, quiet())
			job := &river.Job[Args]{
				JobRow: &rivertype.JobRow{ID: 1},
				Args:   Args{Event: Event{BidID: "bid_1", Status: models.BidStatusLost, Message: &msg}},
			}
			err := w.Work(context.Background(), job)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var cancelErr *rivertype.JobCancelError
			if got := errors.As(err, &cancelErr); got != tt.wantCancel {
				t.Errorf("cancel = %v, want %v (err %v)", got, tt.wantCancel, err)
			}
			if len(u.calls) != 1 || *u.calls[0].Message != msg {
				t.Errorf("unexpected calls: %+v", u.calls)
			}
		})
	}
}
