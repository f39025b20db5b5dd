package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/inaiurai/bidengine/internal/middleware"
	"github.com/inaiurai/bidengine/internal/models"
	"github.com/inaiurai/bidengine/internal/treasury"
)

// OversightRegistry is the human-approval queue.
type OversightRegistry interface {
	List() []models.OversightRequest
	Approve(id, by string) (models.OversightRequest, error)
	Reject(id, by string) (models.OversightRequest, error)
}

// TreasuryHandler serves /treasury/spend and /oversight.
type TreasuryHandler struct {
	Oversight OversightRegistry
	Logger    *slog.Logger
}

type spendResponse struct {
	Approved           bool         `json:"approved"`
	TreasuryPercentage models.Ratio `json:"treasury_percentage"`
	Spend              models.Spend `json:"spend"`
}

// Spend handles POST /treasury/spend once SpendCheck has approved it.
// Spends needing oversight never reach here.
func (h *TreasuryHandler) Spend(w http.ResponseWriter, r *http.Request) {
	d := middleware.SpendDecisionFromCtx(r.Context())
	spend, ok := middleware.SpendFromCtx(r.Context())
	if d == nil || !ok {
		writeError(w, http.StatusInternalServerError, "spend check missing")
		return
	}
	h.Logger.Info("spend approved", "type", spend.Type, "amount", spend.Amount, "treasury_percentage", float64(d.Percentage))
	writeJSON(w, http.StatusOK, spendResponse{Approved: true, TreasuryPercentage: d.Percentage, Spend: spend})
}

// ListOversight handles GET /oversight.
func (h *TreasuryHandler) ListOversight(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"requests": h.Oversight.List()})
}

// Approve handles POST /oversight/{id}/approve.
func (h *TreasuryHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Oversight.Approve)
}

// Reject handles POST /oversight/{id}/reject.
func (h *TreasuryHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Oversight.Reject)
}

func (h *TreasuryHandler) resolve(w http.ResponseWriter, r *http.Request, fn func(id, by string) (models.OversightRequest, error)) {
	id := r.PathValue("id")
	op := middleware.OperatorFromCtx(r.Context())
	req, err := fn(id, op)
	if err != nil {
		switch {
		case errors.Is(err, treasury.ErrRequestNotFound):
			writeError(w, http.StatusNotFound, "oversight request not found")
		case errors.Is(err, treasury.ErrRequestNotPending):
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "request": req})
		default:
			h.Logger.Error("resolve oversight", "oversight_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to resolve oversight request")
		}
		return
	}
	h.Logger.Info("oversight decision", "oversight_id", id, "status", req.Status, "operator", op)
	writeJSON(w, http.StatusOK, req)
}
