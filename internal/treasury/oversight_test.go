package treasury

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inaiurai/bidengine/internal/models"
)

func newClockedRegistry(ttl time.Duration) (*Registry, *time.Time) {
	reg := NewRegistry(ttl, nil, quietLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	return reg, &now
}

func TestRegistry_ApproveOnce(t *testing.T) {
	reg, _ := newClockedRegistry(time.Hour)
	req := reg.Open(context.Background(), models.Spend{Amount: 600}, 0.06)

	got, err := reg.Approve(req.ID, "operator")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != models.OversightApproved || got.ApprovedBy == nil || *got.ApprovedBy != "operator" || got.ApprovedAt == nil {
		t.Errorf("unexpected approved request: %+v", got)
	}

	if _, err := reg.Reject(req.ID, "operator"); !errors.Is(err, ErrRequestNotPending) {
		t.Errorf("second transition should fail with ErrRequestNotPending, got %v", err)
	}
}

func TestRegistry_Reject(t *testing.T) {
	reg, _ := newClockedRegistry(time.Hour)
	req := reg.Open(context.Background(), models.Spend{Amount: 600}, 0.06)

	got, err := reg.Reject(req.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.OversightRejected || got.RejectedBy == nil || *got.RejectedBy != "alice" {
		t.Errorf("unexpected rejected request: %+v", got)
	}
	if got.ApprovedBy != nil {
		t.Error("rejected request must not carry an approver")
	}
}

func TestRegistry_UnknownID(t *testing.T) {
	reg, _ := newClockedRegistry(time.Hour)
	if _, err := reg.Approve("ovr_missing", "op"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
	if _, err := reg.Get("ovr_missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestRegistry_ExpireStale(t *testing.T) {
	reg, now := newClockedRegistry(time.Hour)
	old := reg.Open(context.Background(), models.Spend{Amount: 1}, 0.5)
	*now = now.Add(30 * time.Minute)
	fresh := reg.Open(context.Background(), models.Spend{Amount: 2}, 0.5)

	if n := reg.ExpireStale(now.Add(45 * time.Minute)); n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}
	got, _ := reg.Get(old.ID)
	if got.Status != models.OversightExpired {
		t.Errorf("old request status = %s, want EXPIRED", got.Status)
	}
	got, _ = reg.Get(fresh.ID)
	if got.Status != models.OversightPending {
		t.Errorf("fresh request status = %s, want PENDING", got.Status)
	}
	if _, err := reg.Approve(old.ID, "op"); !errors.Is(err, ErrRequestNotPending) {
		t.Errorf("expired request must not be approvable, got %v", err)
	}
}

func TestRegistry_ApproveAfterDeadlineExpires(t *testing.T) {
	reg, now := newClockedRegistry(time.Minute)
	req := reg.Open(context.Background(), models.Spend{Amount: 1}, 0.5)
	*now = now.Add(2 * time.Minute)

	got, err := reg.Approve(req.ID, "op")
	if !errors.Is(err, ErrRequestNotPending) {
		t.Fatalf("expected ErrRequestNotPending, got %v", err)
	}
	if got.Status != models.OversightExpired {
		t.Errorf("status = %s, want EXPIRED", got.Status)
	}
}

func TestRegistry_ListNewestFirst(t *testing.T) {
	reg, now := newClockedRegistry(time.Hour)
	first := reg.Open(context.Background(), models.Spend{Amount: 1}, 0.5)
	*now = now.Add(time.Second)
	second := reg.Open(context.Background(), models.Spend{Amount: 2}, 0.5)

	list := reg.List()
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("unexpected order: %+v", list)
	}
}
