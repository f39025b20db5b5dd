// Package treasury decides whether a proposed spend may execute directly
// or must wait for a human. It never moves funds itself.
package treasury

import (
	"context"
	"log/slog"
	"math"

	"github.com/inaiurai/bidengine/internal/models"
)

const DefaultThreshold = 0.05

// BalanceSource reports the current treasury balance.
type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// Decision is the outcome of a spend check. Request is set only when
// Approved is false.
type Decision struct {
	Approved   bool                     `json:"approved"`
	Percentage models.Ratio             `json:"treasury_percentage"`
	Request    *models.OversightRequest `json:"oversight_request,omitempty"`
}

type Guard struct {
	threshold float64
	balances  BalanceSource
	registry  *Registry
	log       *slog.Logger
}

func NewGuard(threshold float64, balances BalanceSource, registry *Registry, log *slog.Logger) *Guard {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{threshold: threshold, balances: balances, registry: registry, log: log}
}

// Ratio returns amount/balance, or +Inf when balance is not positive.
func Ratio(amount, balance float64) float64 {
	if balance <= 0 || math.IsNaN(balance) {
		return math.Inf(1)
	}
	return amount / balance
}

// Evaluate applies the threshold to a known balance. Over the threshold it
// opens an oversight request; the caller must not execute the spend.
func (g *Guard) Evaluate(ctx context.Context, spend models.Spend, balance float64) Decision {
	pct := Ratio(spend.Amount, balance)
	if pct <= g.threshold {
		return Decision{Approved: true, Percentage: models.Ratio(pct)}
	}
	req := g.registry.Open(ctx, spend, pct)
	g.log.Info("spend requires oversight",
		"oversight_id", req.ID,
		"type", spend.Type,
		"amount", spend.Amount,
		"treasury_percentage", pct,
		"threshold", g.threshold,
	)
	return Decision{Approved: false, Percentage: models.Ratio(pct), Request: &req}
}

// Check reads the balance and evaluates spend against it. An unavailable
// balance is treated as zero, which always requires oversight.
func (g *Guard) Check(ctx context.Context, spend models.Spend) Decision {
	var balance float64
	if g.balances != nil {
		b, err := g.balances.Balance(ctx)
		if err != nil {
			g.log.Warn("treasury balance unavailable", "error", err)
		} else {
			balance = b
		}
	}
	return g.Evaluate(ctx, spend, balance)
}
