package events

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
	"github.com/tokenmeter/tokenmeter/internal/metrics"
	"github.com/tokenmeter/tokenmeter/internal/retry"
)

// Ingestion sources, used as the metrics label of appended events.
const (
	SourceHTTP = "http"
	SourceNATS = "nats"
)

// Service is the Event Log. Appends are never checked against plans or the ledger.
type Service struct {
	store Store
	retry retry.Policy
	now   func() time.Time
}

// NewService creates a new event Service.
func NewService(store Store) *Service {
	return &Service{
		store: store,
		retry: retry.DefaultPolicy,
		now:   time.Now,
	}
}

// Append validates and stores an event, assigning its id and, when unset, its timestamp.
func (s *Service) Append(ctx context.Context, req AppendRequest, source string) (*UsageEvent, error) {
	if err := validateAppend(req); err != nil {
		return nil, err
	}

	e := &UsageEvent{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Model:          req.Model,
		InputTokens:    req.InputTokens,
		OutputTokens:   req.OutputTokens,
		ResponseCode:   req.ResponseCode,
		AdditionalInfo: req.AdditionalInfo,
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		e.Timestamp = req.Timestamp.UTC()
	} else {
		e.Timestamp = s.now().UTC()
	}

	if err := s.store.Append(ctx, e); err != nil {
		return nil, err
	}

	metrics.EventsAppendedTotal.WithLabelValues(source).Inc()
	slog.Debug("usage event appended", "event_id", e.ID, "user_id", e.UserID, "model", e.Model, "source", source)
	return e, nil
}

// Query returns a page of the user's events. Out-of-range pagination values are clamped.
func (s *Service) Query(ctx context.Context, userID string, params QueryParams) ([]UsageEvent, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	params = normalizeParams(params)

	return retry.Read(ctx, s.retry, func(ctx context.Context) ([]UsageEvent, error) {
		return s.store.Query(ctx, userID, params)
	})
}

// DistinctModels returns every model the user has events for.
func (s *Service) DistinctModels(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	return retry.Read(ctx, s.retry, func(ctx context.Context) ([]string, error) {
		return s.store.DistinctModels(ctx, userID)
	})
}

// Range returns the user's events with from <= timestamp < to, oldest first.
func (s *Service) Range(ctx context.Context, userID string, from, to time.Time, model string) ([]UsageEvent, error) {
	return retry.Read(ctx, s.retry, func(ctx context.Context) ([]UsageEvent, error) {
		return s.store.Range(ctx, userID, from, to, model)
	})
}

// ModelTotals returns per-model sums over the user's full history.
func (s *Service) ModelTotals(ctx context.Context, userID string) ([]ModelTotal, error) {
	return retry.Read(ctx, s.retry, func(ctx context.Context) ([]ModelTotal, error) {
		return s.store.ModelTotals(ctx, userID)
	})
}

// Totals sums input and output tokens over the user's full history.
func (s *Service) Totals(ctx context.Context, userID string) (int64, int64, error) {
	totals, err := s.ModelTotals(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	var in, out int64
	for _, t := range totals {
		in += t.InputTokens
		out += t.OutputTokens
	}
	return in, out, nil
}

func normalizeParams(p QueryParams) QueryParams {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Order != OrderAsc {
		p.Order = OrderDesc
	}
	return p
}

func validateAppend(req AppendRequest) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return apperr.Validation("user_id is required")
	case strings.TrimSpace(req.Model) == "":
		return apperr.Validation("model is required")
	case req.InputTokens < 0:
		return apperr.Validation("input_tokens must be >= 0")
	case req.OutputTokens < 0:
		return apperr.Validation("output_tokens must be >= 0")
	}
	return nil
}
