package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/inaiurai/bidengine/internal/ledger"
	"github.com/inaiurai/bidengine/internal/middleware"
	"github.com/inaiurai/bidengine/internal/models"
	"github.com/inaiurai/bidengine/internal/services"
)

// EngineController is the scheduler surface exposed over HTTP.
type EngineController interface {
	Start() bool
	Stop() (int64, bool)
	RunCycle(ctx context.Context) (models.CycleSummary, bool)
	Status() models.EngineStatus
}

// BidLedger is the subset of the ledger the operator endpoints use.
type BidLedger interface {
	Recent(ctx context.Context, limit int) ([]*models.BidRecord, error)
	Stats(ctx context.Context) (models.LedgerStats, error)
	UpdateStatus(ctx context.Context, bidID string, status models.BidStatus, message *string) (*models.BidRecord, error)
}

// EngineHandler serves /control, /status, /cycle and /ledger.
type EngineHandler struct {
	Engine    EngineController
	Ledger    BidLedger
	Validator BodyValidator
	Logger    *slog.Logger
}

const defaultLedgerLimit = 50

type controlRequest struct {
	Action string `json:"action"`
}

type controlResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	CycleCount *int64 `json:"cycle_count,omitempty"`
}

// Control handles POST /control {action: start|stop}.
func (h *EngineHandler) Control(w http.ResponseWriter, r *http.Request) {
	body, ok := readValidated(w, r, h.Validator, services.SchemaControl)
	if !ok {
		return
	}
	var req controlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	op := middleware.OperatorFromCtx(r.Context())

	switch req.Action {
	case "start":
		if !h.Engine.Start() {
			writeJSON(w, http.StatusOK, controlResponse{Success: false, Message: "engine already running"})
			return
		}
		h.Logger.Info("engine start requested", "operator", op)
		writeJSON(w, http.StatusOK, controlResponse{Success: true, Message: "engine started"})
	case "stop":
		n, stopped := h.Engine.Stop()
		if !stopped {
			writeJSON(w, http.StatusOK, controlResponse{Success: false, Message: "engine not running"})
			return
		}
		h.Logger.Info("engine stop requested", "operator", op, "cycle_count", n)
		writeJSON(w, http.StatusOK, controlResponse{
			Success:    true,
			Message:    fmt.Sprintf("engine stopped after %d cycles", n),
			CycleCount: &n,
		})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q, expected start or stop", req.Action))
	}
}

// Status handles GET /status.
func (h *EngineHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Status())
}

// Cycle handles POST /cycle: one manual pass, subject to the same
// single-flight guard as the timer.
func (h *EngineHandler) Cycle(w http.ResponseWriter, r *http.Request) {
	summary, ran := h.Engine.RunCycle(r.Context())
	if !ran {
		// the in-flight cycle owns the slot; report it as a skipped summary
		summary.Skipped = true
		summary.Cycle = h.Engine.Status().CycleCount
		if summary.Results == nil {
			summary.Results = []models.BidOutcome{}
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

type ledgerResponse struct {
	Records []*models.BidRecord `json:"records"`
	Stats   models.LedgerStats  `json:"stats"`
}

// ListLedger handles GET /ledger?limit=N.
func (h *EngineHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := h.Ledger.Recent(r.Context(), limit)
	if err != nil {
		h.Logger.Error("list ledger", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	stats, err := h.Ledger.Stats(r.Context())
	if err != nil {
		h.Logger.Error("ledger stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read ledger")
		return
	}
	if records == nil {
		records = []*models.BidRecord{}
	}
	writeJSON(w, http.StatusOK, ledgerResponse{Records: records, Stats: stats})
}

type bidStatusRequest struct {
	Status  models.BidStatus `json:"status"`
	Message *string          `json:"message"`
}

// UpdateBid handles PATCH /ledger/{id}: the operator correction path.
func (h *EngineHandler) UpdateBid(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, ok := readValidated(w, r, h.Validator, services.SchemaBidStatus)
	if !ok {
		return
	}
	var req bidStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rec, err := h.Ledger.UpdateStatus(r.Context(), id, req.Status, req.Message)
	if err != nil {
		writeLedgerError(w, h.Logger, id, err)
		return
	}
	h.Logger.Info("bid status updated", "bid_id", id, "status", rec.Status, "operator", middleware.OperatorFromCtx(r.Context()))
	writeJSON(w, http.StatusOK, rec)
}

func writeLedgerError(w http.ResponseWriter, log *slog.Logger, id string, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "bid not found")
	case errors.Is(err, ledger.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrDuplicateActive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error("update bid status", "bid_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update bid")
	}
}
