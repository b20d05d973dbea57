package quota

import "context"

// LedgerStore persists per-user usage counters.
//
// Increment is the only mutator of counters and must be applied atomically by the
// store: concurrent increments for one user are never lost. It returns a not_found
// error when the user has no ledger entry.
type LedgerStore interface {
	Get(ctx context.Context, userID string) (*UsageRecord, error)
	Create(ctx context.Context, userID, planID string) (*UsageRecord, error)
	Increment(ctx context.Context, userID string, deltaInput, deltaOutput int64, newPlanID *string) (*UsageRecord, error)
}
