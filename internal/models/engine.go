package models

import "time"

// EngineState describes the scheduler. It lives for one process only.
type EngineState struct {
	IsRunning   bool          `json:"is_running"`
	CycleCount  int64         `json:"cycle_count"`
	LastCycleAt *time.Time    `json:"last_cycle_at,omitempty"`
	LastResult  *CycleSummary `json:"last_result,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
}

// EngineStatus is the EngineState snapshot returned by GET /status.
type EngineStatus struct {
	EngineState
	SecondsUntilNextCycle int64 `json:"seconds_until_next_cycle"`
}

// BidOutcome is one candidate's result within a cycle.
type BidOutcome struct {
	TaskID   string    `json:"task_id"`
	Agent    string    `json:"agent"`
	Score    int       `json:"score"`
	Category string    `json:"category,omitempty"`
	Reward   float64   `json:"reward"`
	Status   BidStatus `json:"status,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// CycleSummary is produced by every discover-match-submit-record pass.
type CycleSummary struct {
	Cycle               int64        `json:"cycle"`
	StartedAt           time.Time    `json:"started_at"`
	FinishedAt          time.Time    `json:"finished_at"`
	DurationMs          int64        `json:"duration_ms"`
	TasksDiscovered     int          `json:"tasks_discovered"`
	TasksOpen           int          `json:"tasks_open"`
	TasksNew            int          `json:"tasks_new"`
	CandidatesProcessed int          `json:"candidates_processed"`
	BelowThreshold      int          `json:"below_threshold"`
	Submitted           int          `json:"submitted"`
	Succeeded           int          `json:"succeeded"`
	SubmissionsFailed   int          `json:"submissions_failed"`
	LedgerErrors        int          `json:"ledger_errors"`
	FetchError          string       `json:"fetch_error,omitempty"`
	LedgerError         string       `json:"ledger_error,omitempty"`
	Skipped             bool         `json:"skipped,omitempty"`
	Results             []BidOutcome `json:"results"`
}
