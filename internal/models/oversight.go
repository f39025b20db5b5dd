package models

import (
	"math"
	"strconv"
	"time"
)

// OversightStatus is the human-approval state of a treasury spend.
type OversightStatus string

const (
	OversightPending  OversightStatus = "PENDING"
	OversightApproved OversightStatus = "APPROVED"
	OversightRejected OversightStatus = "REJECTED"
	OversightExpired  OversightStatus = "EXPIRED"
)

// Spend describes a proposed treasury movement.
type Spend struct {
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
}

// Ratio is a spend/balance fraction. An unknown or zero balance yields
// +Inf, which encodes as JSON null.
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}

type OversightRequest struct {
	ID                 string          `json:"id"`
	Spend              Spend           `json:"spend"`
	TreasuryPercentage Ratio           `json:"treasury_percentage"`
	Status             OversightStatus `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	ExpiresAt          time.Time       `json:"expires_at"`
	ApprovedBy         *string         `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	RejectedBy         *string         `json:"rejected_by,omitempty"`
	RejectedAt         *time.Time      `json:"rejected_at,omitempty"`
}
