package quota

import "time"

// UsageRecord is a user's row in the usage ledger.
type UsageRecord struct {
	UserID       string    `json:"user_id"`
	PlanID       string    `json:"plan_id"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UsageUpdate is the body of PUT /usage/{user_id}. Absent deltas count as zero.
type UsageUpdate struct {
	InputTokens  *int64  `json:"input_tokens" validate:"omitempty,gte=0"`
	OutputTokens *int64  `json:"output_tokens" validate:"omitempty,gte=0"`
	Subscription *string `json:"subscription" validate:"omitempty,max=100"`
}

// OpenAccountRequest is the body of POST /usage/{user_id}.
type OpenAccountRequest struct {
	Subscription string `json:"subscription" validate:"max=100"`
}

// QuotaStatus reports a user's counters against the limits of their plan.
type QuotaStatus struct {
	UserID           string `json:"user_id"`
	PlanID           string `json:"plan_id"`
	InputTokens      int64  `json:"input_tokens"`
	InputTokenLimit  int64  `json:"input_token_limit"`
	InputRemaining   int64  `json:"input_remaining"`
	OutputTokens     int64  `json:"output_tokens"`
	OutputTokenLimit int64  `json:"output_token_limit"`
	OutputRemaining  int64  `json:"output_remaining"`
	OverLimit        bool   `json:"over_limit"`
}

// Reconciliation compares ledger counters with the totals recorded in the event log.
// A non-zero delta is expected whenever increments and event appends diverged.
type Reconciliation struct {
	UserID             string `json:"user_id"`
	LedgerInputTokens  int64  `json:"ledger_input_tokens"`
	LedgerOutputTokens int64  `json:"ledger_output_tokens"`
	EventInputTokens   int64  `json:"event_input_tokens"`
	EventOutputTokens  int64  `json:"event_output_tokens"`
	InputDelta         int64  `json:"input_delta"`
	OutputDelta        int64  `json:"output_delta"`
	InSync             bool   `json:"in_sync"`
}
