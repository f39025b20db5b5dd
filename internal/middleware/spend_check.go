package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/inaiurai/bidengine/internal/models"
	"github.com/inaiurai/bidengine/internal/treasury"
)

const (
	ctxDecisionKey contextKey = "spend_decision"
	ctxSpendKey    contextKey = "spend"
)

// SpendGuard decides whether a spend may proceed without a human.
type SpendGuard interface {
	Check(ctx context.Context, spend models.Spend) treasury.Decision
}

// BodyValidator checks a raw body against a named schema.
type BodyValidator interface {
	Validate(schema string, body []byte) error
}

// SpendDecisionFromCtx returns the approved decision set by SpendCheck, or nil.
func SpendDecisionFromCtx(ctx context.Context) *treasury.Decision {
	d, _ := ctx.Value(ctxDecisionKey).(*treasury.Decision)
	return d
}

// SpendFromCtx returns the spend parsed by SpendCheck.
func SpendFromCtx(ctx context.Context) (models.Spend, bool) {
	s, ok := ctx.Value(ctxSpendKey).(models.Spend)
	return s, ok
}

// SpendCheck reads the spend from the body and runs it through the treasury
// guard. Spends over the threshold stop here with 202 and the pending
// oversight request; approved spends reach next with the decision in
// context. The body is restored for downstream handlers.
func SpendCheck(guard SpendGuard, validator BodyValidator, schema string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			if validator != nil {
				if err := validator.Validate(schema, bodyBytes); err != nil {
					writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
					return
				}
			}
			var spend models.Spend
			if err := json.Unmarshal(bodyBytes, &spend); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			if spend.Amount <= 0 {
				http.Error(w, `{"error":"amount must be > 0"}`, http.StatusBadRequest)
				return
			}

			d := guard.Check(r.Context(), spend)
			if !d.Approved {
				writeJSON(w, http.StatusAccepted, d)
				return
			}
			ctx := context.WithValue(r.Context(), ctxDecisionKey, &d)
			ctx = context.WithValue(ctx, ctxSpendKey, spend)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
