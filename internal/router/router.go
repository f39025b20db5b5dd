// Package router holds the route table.
package router

import (
	"net/http"

	"github.com/inaiurai/bidengine/internal/auth"
	"github.com/inaiurai/bidengine/internal/handlers"
	"github.com/inaiurai/bidengine/internal/middleware"
	"github.com/inaiurai/bidengine/internal/services"
)

// Deps are the handlers and guards the routes are built from.
type Deps struct {
	Auth           *auth.Handler
	Engine         *handlers.EngineHandler
	Treasury       *handlers.TreasuryHandler
	Feedback       *handlers.FeedbackHandler
	Tokens         middleware.TokenValidator
	Guard          middleware.SpendGuard
	Validator      middleware.BodyValidator
	FeedbackSecret string
}

// New returns the API handler.
// Public: /healthz, /auth/login. Webhook: /feedback (shared secret).
// Everything else requires an operator token.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handlers.Healthz)
	mux.HandleFunc("POST /auth/login", d.Auth.Login)

	mux.Handle("POST /feedback", middleware.WebhookSecret(d.FeedbackSecret)(http.HandlerFunc(d.Feedback.Receive)))

	op := middleware.OperatorAuth(d.Tokens)
	mux.Handle("POST /control", op(http.HandlerFunc(d.Engine.Control)))
	mux.Handle("GET /status", op(http.HandlerFunc(d.Engine.Status)))
	mux.Handle("POST /cycle", op(http.HandlerFunc(d.Engine.Cycle)))
	mux.Handle("GET /ledger", op(http.HandlerFunc(d.Engine.ListLedger)))
	mux.Handle("PATCH /ledger/{id}", op(http.HandlerFunc(d.Engine.UpdateBid)))

	// Operator auth -> SpendCheck -> Spend
	spend := middleware.SpendCheck(d.Guard, d.Validator, services.SchemaSpend)
	mux.Handle("POST /treasury/spend", op(spend(http.HandlerFunc(d.Treasury.Spend))))
	mux.Handle("GET /oversight", op(http.HandlerFunc(d.Treasury.ListOversight)))
	mux.Handle("POST /oversight/{id}/approve", op(http.HandlerFunc(d.Treasury.Approve)))
	mux.Handle("POST /oversight/{id}/reject", op(http.HandlerFunc(d.Treasury.Reject)))

	return mux
}
