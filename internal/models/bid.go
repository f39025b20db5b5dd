package models

import "time"

// BidStatus is the ledger state of a submission attempt.
type BidStatus string

const (
	BidStatusPending BidStatus = "pending"
	BidStatusWon     BidStatus = "won"
	BidStatusLost    BidStatus = "lost"
	BidStatusFailed  BidStatus = "failed"
)

// Valid reports whether s is one of the known bid statuses.
func (s BidStatus) Valid() bool {
	switch s {
	case BidStatusPending, BidStatusWon, BidStatusLost, BidStatusFailed:
		return true
	}
	return false
}

// Active reports whether a record in this status blocks resubmission
// regardless of the retry policy.
func (s BidStatus) Active() bool {
	return s == BidStatusPending || s == BidStatusWon
}

type BidRecord struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Agent     string    `json:"agent"`
	BidAmount float64   `json:"bid_amount"`
	Status    BidStatus `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerStats are aggregate record counts by status.
type LedgerStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Won     int `json:"won"`
	Lost    int `json:"lost"`
	Failed  int `json:"failed"`
}
