package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/bidengine/internal/models"
	"github.com/inaiurai/bidengine/internal/notify"
)

const DefaultOversightTTL = 24 * time.Hour

var (
	ErrRequestNotFound   = errors.New("oversight request not found")
	ErrRequestNotPending = errors.New("oversight request is not pending")
)

// Registry holds oversight requests in memory. Only PENDING requests
// transition, and each transition happens at most once.
type Registry struct {
	mu       sync.Mutex
	requests map[string]*models.OversightRequest
	ttl      time.Duration
	now      func() time.Time
	notifier notify.Notifier
	log      *slog.Logger
}

func NewRegistry(ttl time.Duration, notifier notify.Notifier, log *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultOversightTTL
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		requests: make(map[string]*models.OversightRequest),
		ttl:      ttl,
		now:      time.Now,
		notifier: notifier,
		log:      log,
	}
}

// Open records a new PENDING request and alerts operators.
func (r *Registry) Open(ctx context.Context, spend models.Spend, pct float64) models.OversightRequest {
	now := r.now().UTC()
	req := &models.OversightRequest{
		ID:                 "ovr_" + uuid.NewString(),
		Spend:              spend,
		TreasuryPercentage: models.Ratio(pct),
		Status:             models.OversightPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(r.ttl),
	}
	r.mu.Lock()
	r.requests[req.ID] = req
	out := *req
	r.mu.Unlock()

	err := r.notifier.Send(ctx, notify.Notification{
		Title:   "Treasury spend awaiting approval",
		Message: describeSpend(spend, pct),
		Level:   notify.LevelWarning,
		Ref:     req.ID,
	})
	if err != nil {
		r.log.Warn("oversight notification failed", "oversight_id", req.ID, "error", err)
	}
	return out
}

func (r *Registry) Get(id string) (models.OversightRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return models.OversightRequest{}, ErrRequestNotFound
	}
	return *req, nil
}

// List returns all requests, newest first.
func (r *Registry) List() []models.OversightRequest {
	r.mu.Lock()
	out := make([]models.OversightRequest, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, *req)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *Registry) Approve(id, by string) (models.OversightRequest, error) {
	return r.resolve(id, func(req *models.OversightRequest, now time.Time) {
		req.Status = models.OversightApproved
		req.ApprovedBy = &by
		req.ApprovedAt = &now
	})
}

func (r *Registry) Reject(id, by string) (models.OversightRequest, error) {
	return r.resolve(id, func(req *models.OversightRequest, now time.Time) {
		req.Status = models.OversightRejected
		req.RejectedBy = &by
		req.RejectedAt = &now
	})
}

func (r *Registry) resolve(id string, apply func(*models.OversightRequest, time.Time)) (models.OversightRequest, error) {
	now := r.now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return models.OversightRequest{}, ErrRequestNotFound
	}
	if req.Status == models.OversightPending && !now.Before(req.ExpiresAt) {
		req.Status = models.OversightExpired
	}
	if req.Status != models.OversightPending {
		return *req, fmt.Errorf("%w: %s", ErrRequestNotPending, req.Status)
	}
	apply(req, now)
	r.log.Info("oversight resolved", "oversight_id", id, "status", req.Status)
	return *req, nil
}

// ExpireStale marks every PENDING request past its deadline as EXPIRED and
// returns how many changed.
func (r *Registry) ExpireStale(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.requests {
		if req.Status == models.OversightPending && !now.Before(req.ExpiresAt) {
			req.Status = models.OversightExpired
			n++
		}
	}
	if n > 0 {
		r.log.Info("oversight requests expired", "count", n)
	}
	return n
}

func describeSpend(s models.Spend, pct float64) string {
	share := "unknown share"
	if !math.IsInf(pct, 0) {
		share = fmt.Sprintf("%.2f%%", pct*100)
	}
	return fmt.Sprintf("%s of %g to %s (%s of treasury)", s.Type, s.Amount, s.Recipient, share)
}
