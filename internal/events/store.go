package events

import (
	"context"
	"time"
)

// Store is an append-only event log backend.
//
// Query orders by timestamp then id, both in the requested direction, so that
// consecutive pages never overlap. Range returns events with from <= timestamp < to
// in ascending order.
type Store interface {
	Append(ctx context.Context, e *UsageEvent) error
	Query(ctx context.Context, userID string, params QueryParams) ([]UsageEvent, error)
	DistinctModels(ctx context.Context, userID string) ([]string, error)
	Range(ctx context.Context, userID string, from, to time.Time, model string) ([]UsageEvent, error)
	ModelTotals(ctx context.Context, userID string) ([]ModelTotal, error)
}
