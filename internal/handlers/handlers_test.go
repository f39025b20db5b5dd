package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/inaiurai/bidengine/internal/feedback"
	"github.com/inaiurai/bidengine/internal/ledger"
	"github.com/inaiurai/bidengine/internal/middleware"
	"github.com/inaiurai/bidengine/internal/models"
	"github.com/inaiurai/bidengine/internal/services"
	"github.com/inaiurai/bidengine/internal/treasury"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubEngine struct {
	running bool
	count   int64
	busy    bool
}

func (s *stubEngine) Start() bool {
	if s.running {
		return false
	}
	s.running = true
	s.count = 0
	return true
}

func (s *stubEngine) Stop() (int64, bool) {
	if !s.running {
		return s.count, false
	}
	s.running = false
	return s.count, true
}

func (s *stubEngine) RunCycle(context.Context) (models.CycleSummary, bool) {
	if s.busy {
		return models.CycleSummary{Skipped: true}, false
	}
	s.count++
	return models.CycleSummary{Cycle: s.count, Results: []models.BidOutcome{}}, true
}

func (s *stubEngine) Status() models.EngineStatus {
	return models.EngineStatus{EngineState: models.EngineState{IsRunning: s.running, CycleCount: s.count}}
}

type stubLedger struct {
	records map[string]*models.BidRecord
}

func (s *stubLedger) Recent(context.Context, int) ([]*models.BidRecord, error) {
	out := make([]*models.BidRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubLedger) Stats(context.Context) (models.LedgerStats, error) {
	return models.LedgerStats{Total: len(s.records), Pending: len(s.records)}, nil
}

func (s *stubLedger) UpdateStatus(_ context.Context, id string, st models.BidStatus, msg *string) (*models.BidRecord, error) {
	if !st.Valid() {
		return nil, ledger.ErrInvalidStatus
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	rec.Status = st
	if msg != nil {
		rec.Message = *msg
	}
	return rec, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func quiet() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func newValidator(t *testing.T) *services.Validator {
	t.Helper()
	v, err := services.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func newEngineHandler(t *testing.T) (*EngineHandler, *stubEngine, *stubLedger) {
	eng := &stubEngine{}
	l := &stubLedger{records: map[string]*models.BidRecord{
		"bid_1": {ID: "bid_1", TaskID: "t1", Agent: "backend", BidAmount: 500, Status: models.BidStatusPending},
	}}
	return &EngineHandler{Engine: eng, Ledger: l, Validator: newValidator(t), Logger: quiet()}, eng, l
}

func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithOperator(req.Context(), "operator"))
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Engine endpoints
// ---------------------------------------------------------------------------

func TestControl(t *testing.T) {
	h, eng, _ := newEngineHandler(t)

	rec := do(h.Control, http.MethodPost, "/control", `{"action":"start"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"success":true`) {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	if !eng.running {
		t.Fatal("engine should be running")
	}

	rec = do(h.Control, http.MethodPost, "/control", `{"action":"start"}`)
	if !strings.Contains(rec.Body.String(), `"success":false`) || !strings.Contains(rec.Body.String(), "already running") {
		t.Errorf("second start: %s", rec.Body.String())
	}

	eng.count = 4
	rec = do(h.Control, http.MethodPost, "/control", `{"action":"stop"}`)
	var resp controlResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.CycleCount == nil || *resp.CycleCount != 4 {
		t.Errorf("stop: %+v", resp)
	}

	rec = do(h.Control, http.MethodPost, "/control", `{"action":"stop"}`)
	if !strings.Contains(rec.Body.String(), "not running") {
		t.Errorf("second stop: %s", rec.Body.String())
	}
}

func TestControl_InvalidAction(t *testing.T) {
	h, _, _ := newEngineHandler(t)
	for _, body := range []string{`{"action":"pause"}`, `{}`, `nope`} {
		rec := do(h.Control, http.MethodPost, "/control", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCycle(t *testing.T) {
	h, eng, _ := newEngineHandler(t)
	rec := do(h.Cycle, http.MethodPost, "/cycle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var s models.CycleSummary
	if err := json.NewDecoder(rec.Body).Decode(&s); err != nil || s.Cycle != 1 {
		t.Errorf("unexpected summary: %v %+v", err, s)
	}

	eng.busy = true
	rec = do(h.Cycle, http.MethodPost, "/cycle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("busy engine: expected 200, got %d", rec.Code)
	}
	raw := rec.Body.String()
	if !strings.Contains(raw, `"results":[]`) {
		t.Errorf("skipped summary should carry an empty results list: %s", raw)
	}
	var skipped models.CycleSummary
	if err := json.Unmarshal([]byte(raw), &skipped); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !skipped.Skipped || skipped.Cycle != 1 {
		t.Errorf("unexpected skipped summary: %+v", skipped)
	}
}

func TestStatus(t *testing.T) {
	h, eng, _ := newEngineHandler(t)
	eng.running, eng.count = true, 3
	rec := do(h.Status, http.MethodGet, "/status", "")
	var st models.EngineStatus
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.IsRunning || st.CycleCount != 3 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestListLedger(t *testing.T) {
	h, _, _ := newEngineHandler(t)
	rec := do(h.ListLedger, http.MethodGet, "/ledger?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ledgerResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Records) != 1 || resp.Stats.Total != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}

	if rec := do(h.ListLedger, http.MethodGet, "/ledger?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", rec.Code)
	}
}

func TestUpdateBid(t *testing.T) {
	h, _, l := newEngineHandler(t)
	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /ledger/{id}", h.UpdateBid)

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"won", "bid_1", `{"status":"won","message":"picked"}`, http.StatusOK},
		{"unknown bid", "bid_404", `{"status":"lost"}`, http.StatusNotFound},
		{"bad status", "bid_1", `{"status":"archived"}`, http.StatusBadRequest},
		{"extra field", "bid_1", `{"status":"won","agent":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/ledger/"+tt.id, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if got := l.records["bid_1"]; got.Status != models.BidStatusWon || got.Message != "picked" {
		t.Errorf("record not updated: %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Feedback
// ---------------------------------------------------------------------------

type stubQueue struct{ got []feedback.Args }

func (q *stubQueue) insert(_ context.Context, a feedback.Args) error {
	q.got = append(q.got, a)
	return nil
}

func TestFeedback_Direct(t *testing.T) {
	_, _, l := newEngineHandler(t)
	h := &FeedbackHandler{Sink: feedback.NewDirect(l, quiet()), Validator: newValidator(t), Logger: quiet()}

	rec := do(h.Receive, http.MethodPost, "/feedback", `{"bid_id":"bid_1","status":"won"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if l.records["bid_1"].Status != models.BidStatusWon {
		t.Error("feedback not applied")
	}

	rec = do(h.Receive, http.MethodPost, "/feedback", `{"bid_id":"bid_9","status":"lost"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown bid: expected 404, got %d", rec.Code)
	}

	rec = do(h.Receive, http.MethodPost, "/feedback", `{"bid_id":"bid_1","status":"failed"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("marketplace may only report won or lost: got %d", rec.Code)
	}
}

func TestFeedback_Queued(t *testing.T) {
	q := &stubQueue{}
	h := &FeedbackHandler{Sink: feedback.NewQueue(q.insert, quiet()), Validator: newValidator(t), Logger: quiet()}

	rec := do(h.Receive, http.MethodPost, "/feedback", `{"bid_id":"bid_1","status":"lost","message":"too slow"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(q.got) != 1 || q.got[0].Status != models.BidStatusLost || *q.got[0].Message != "too slow" {
		t.Errorf("unexpected jobs: %+v", q.got)
	}
}

// ---------------------------------------------------------------------------
// Treasury and oversight
// ---------------------------------------------------------------------------

func TestTreasurySpendAndOversightFlow(t *testing.T) {
	log := quiet()
	reg := treasury.NewRegistry(time.Hour, nil, log)
	guard := treasury.NewGuard(0.05, treasury.StaticBalance(1_000_000), reg, log)
	th := &TreasuryHandler{Oversight: reg, Logger: log}

	mux := http.NewServeMux()
	mux.Handle("POST /treasury/spend", middleware.SpendCheck(guard, newValidator(t), services.SchemaSpend)(http.HandlerFunc(th.Spend)))
	mux.HandleFunc("GET /oversight", th.ListOversight)
	mux.HandleFunc("POST /oversight/{id}/approve", th.Approve)
	mux.HandleFunc("POST /oversight/{id}/reject", th.Reject)

	serve := func(method, target, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req = req.WithContext(middleware.WithOperator(req.Context(), "operator"))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodPost, "/treasury/spend", `{"type":"transfer","amount":40000,"recipient":"0xabc"}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"approved":true`) {
		t.Fatalf("4%% spend: %d %s", rec.Code, rec.Body.String())
	}

	rec = serve(http.MethodPost, "/treasury/spend", `{"type":"transfer","amount":60000,"recipient":"0xabc"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("6%% spend: expected 202, got %d", rec.Code)
	}
	var pending treasury.Decision
	if err := json.NewDecoder(rec.Body).Decode(&pending); err != nil || pending.Request == nil {
		t.Fatalf("decode: %v %+v", err, pending)
	}

	rec = serve(http.MethodGet, "/oversight", "")
	if !strings.Contains(rec.Body.String(), pending.Request.ID) {
		t.Errorf("list missing request: %s", rec.Body.String())
	}

	rec = serve(http.MethodPost, "/oversight/"+pending.Request.ID+"/approve", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"APPROVED"`) {
		t.Fatalf("approve: %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(http.MethodPost, "/oversight/"+pending.Request.ID+"/reject", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("second decision: expected 409, got %d", rec.Code)
	}
	rec = serve(http.MethodPost, "/oversight/ovr_missing/approve", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown request: expected 404, got %d", rec.Code)
	}

	rec = serve(http.MethodPost, "/treasury/spend", `{"type":"transfer","amount":10}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing recipient: expected 400, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := do(Healthz, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("healthz: %d %s", rec.Code, rec.Body.String())
	}
}
