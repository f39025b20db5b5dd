package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const ctxOperatorKey contextKey = "operator"

// TokenValidator resolves a bearer token to an operator name.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// OperatorAuth requires a valid operator JWT in the Authorization header
// and puts the operator name into the request context.
func OperatorAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}
			operator, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
		})
	}
}

// OperatorFromCtx returns the authenticated operator name or "".
func OperatorFromCtx(ctx context.Context) string {
	op, _ := ctx.Value(ctxOperatorKey).(string)
	return op
}

// WithOperator returns a context carrying the given operator name.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, ctxOperatorKey, operator)
}

// WebhookSecret admits requests whose X-Webhook-Secret header equals secret.
// An empty secret rejects everything.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Webhook-Secret")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, `{"error":"invalid webhook secret"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
