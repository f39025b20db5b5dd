package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/inaiurai/bidengine/internal/feedback"
	"github.com/inaiurai/bidengine/internal/services"
)

// FeedbackHandler serves POST /feedback, the marketplace's won/lost push.
type FeedbackHandler struct {
	Sink      feedback.Sink
	Validator BodyValidator
	Logger    *slog.Logger
}

func (h *FeedbackHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, ok := readValidated(w, r, h.Validator, services.SchemaFeedback)
	if !ok {
		return
	}
	var ev feedback.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rec, err := h.Sink.Accept(r.Context(), ev)
	if err != nil {
		writeLedgerError(w, h.Logger, ev.BidID, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "bid_id": ev.BidID})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
