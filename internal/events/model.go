package events

import (
	"time"

	"github.com/google/uuid"
)

// Pagination bounds for Query.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// UsageEvent is one immutable record of a billable call.
type UsageEvent struct {
	ID             uuid.UUID      `json:"id"`
	UserID         string         `json:"user_id"`
	Model          string         `json:"model"`
	InputTokens    int64          `json:"input_tokens"`
	OutputTokens   int64          `json:"output_tokens"`
	ResponseCode   int            `json:"response_code"`
	Timestamp      time.Time      `json:"timestamp"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

// TotalTokens is input plus output tokens.
func (e UsageEvent) TotalTokens() int64 {
	return e.InputTokens + e.OutputTokens
}

// AppendRequest is the body of POST /events. Timestamp defaults to ingestion time.
type AppendRequest struct {
	UserID         string         `json:"user_id" validate:"required,max=200"`
	Model          string         `json:"model" validate:"required,max=200"`
	InputTokens    int64          `json:"input_tokens" validate:"gte=0"`
	OutputTokens   int64          `json:"output_tokens" validate:"gte=0"`
	ResponseCode   int            `json:"response_code"`
	Timestamp      *time.Time     `json:"timestamp"`
	AdditionalInfo map[string]any `json:"additional_info"`
}

// Order is the timestamp sort direction of a query.
type Order string

const (
	OrderDesc Order = "desc"
	OrderAsc  Order = "asc"
)

// QueryParams filters and paginates a per-user event query.
type QueryParams struct {
	Model string
	Limit int
	Skip  int
	Order Order
}

// DefaultQueryParams returns the first page in newest-first order.
func DefaultQueryParams() QueryParams {
	return QueryParams{
		Limit: DefaultLimit,
		Order: OrderDesc,
	}
}

// ModelTotal sums a user's events for one model over the full history.
type ModelTotal struct {
	Model        string `json:"model"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Calls        int64  `json:"calls"`
}
