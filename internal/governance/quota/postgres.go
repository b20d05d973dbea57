package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

const (
	uniqueViolation      = "23505"
	numericValueOutRange = "22003"
)

const ledgerColumns = `user_id, plan_id, input_tokens, output_tokens, updated_at`

// PostgresLedger handles usage_ledger PostgreSQL operations.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgresLedger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// Get returns the user's ledger row or nil if none exists.
func (l *PostgresLedger) Get(ctx context.Context, userID string) (*UsageRecord, error) {
	rec, err := scanRecord(l.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM usage_ledger WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("fetching usage record", err)
	}
	return rec, nil
}

// Create inserts a zeroed ledger row for the user.
func (l *PostgresLedger) Create(ctx context.Context, userID, planID string) (*UsageRecord, error) {
	rec, err := scanRecord(l.pool.QueryRow(ctx,
		`INSERT INTO usage_ledger (user_id, plan_id) VALUES ($1, $2)
		 RETURNING `+ledgerColumns, userID, planID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, apperr.AlreadyExists(fmt.Sprintf("usage record for user %q already exists", userID))
		}
		return nil, apperr.Unavailable("creating usage record", err)
	}
	return rec, nil
}

// Increment adds the deltas and optionally reassigns the plan in a single statement.
func (l *PostgresLedger) Increment(ctx context.Context, userID string, deltaInput, deltaOutput int64, newPlanID *string) (*UsageRecord, error) {
	rec, err := scanRecord(l.pool.QueryRow(ctx,
		`UPDATE usage_ledger
		 SET input_tokens = input_tokens + $2,
		     output_tokens = output_tokens + $3,
		     plan_id = COALESCE($4, plan_id),
		     updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+ledgerColumns, userID, deltaInput, deltaOutput, newPlanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound(fmt.Sprintf("no usage record for user %q", userID))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == numericValueOutRange {
		return nil, apperr.Validation("token delta exceeds the counter range")
	}
	if err != nil {
		return nil, apperr.Unavailable("incrementing usage", err)
	}
	return rec, nil
}

// Ping checks PostgreSQL connectivity.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (*UsageRecord, error) {
	var rec UsageRecord
	err := row.Scan(&rec.UserID, &rec.PlanID, &rec.InputTokens, &rec.OutputTokens, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}
