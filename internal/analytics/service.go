package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
	"github.com/tokenmeter/tokenmeter/internal/events"
)

// EventReader is the read side of the event log used for rollups.
type EventReader interface {
	Range(ctx context.Context, userID string, from, to time.Time, model string) ([]events.UsageEvent, error)
	ModelTotals(ctx context.Context, userID string) ([]events.ModelTotal, error)
}

// DateRange is an inclusive range of UTC calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds. start after end is a validation error.
func ParseDateRange(start, end string) (DateRange, error) {
	if start == "" || end == "" {
		return DateRange{}, apperr.Validation("start and end dates are required")
	}
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, apperr.Validation(fmt.Sprintf("invalid start date %q, expected YYYY-MM-DD", start))
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, apperr.Validation(fmt.Sprintf("invalid end date %q, expected YYYY-MM-DD", end))
	}
	if s.After(e) {
		return DateRange{}, apperr.Validation("start date must not be after end date")
	}
	return DateRange{Start: s, End: e}, nil
}

// bounds returns the half-open instant range covering every day in r.
func (r DateRange) bounds() (time.Time, time.Time) {
	return r.Start, r.End.AddDate(0, 0, 1)
}

// Service answers analytics queries from the event log.
type Service struct {
	events EventReader
}

// NewService creates a new analytics Service.
func NewService(reader EventReader) *Service {
	return &Service{events: reader}
}

// TokenUsage returns daily per-model token totals for the range.
func (s *Service) TokenUsage(ctx context.Context, userID string, r DateRange, model string) ([]DailyTokens, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	from, to := r.bounds()
	evts, err := s.events.Range(ctx, userID, from, to, model)
	if err != nil {
		return nil, err
	}
	return DailyTokenUsage(evts), nil
}

// APICalls returns daily call counts for the range.
func (s *Service) APICalls(ctx context.Context, userID string, r DateRange, model string) ([]DailyCount, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	from, to := r.bounds()
	evts, err := s.events.Range(ctx, userID, from, to, model)
	if err != nil {
		return nil, err
	}
	return DailyCalls(evts, model), nil
}

// UsageStats summarizes the user's full history.
func (s *Service) UsageStats(ctx context.Context, userID string) (*UsageStats, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	totals, err := s.events.ModelTotals(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := Stats(totals)
	return &stats, nil
}
