package nats

import "time"

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamEvents = "TOKENMETER_EVENTS"
)

// Subject constants.
const (
	SubjectUsageEvent     = "tokenmeter.events.usage"
	SubjectQuotaViolation = "tokenmeter.events.quota"
)

// UsageMessage is published by LLM gateways for every billable call.
// Timestamp is optional; the consumer stamps ingestion time when it is zero.
type UsageMessage struct {
	// MessageID deduplicates republished messages inside the stream's duplicate window.
	MessageID      string         `json:"message_id,omitempty"`
	UserID         string         `json:"user_id"`
	Model          string         `json:"model"`
	InputTokens    int64          `json:"input_tokens"`
	OutputTokens   int64          `json:"output_tokens"`
	ResponseCode   int            `json:"response_code"`
	Timestamp      time.Time      `json:"timestamp,omitempty"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

// QuotaViolation is published when enforcement rejects an increment.
type QuotaViolation struct {
	UserID    string    `json:"user_id"`
	PlanID    string    `json:"plan_id"`
	Metric    string    `json:"metric"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Timestamp time.Time `json:"timestamp"`
}
