package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

const eventColumns = `id, user_id, model, input_tokens, output_tokens, response_code, additional_info, "timestamp"`

// PostgresStore handles usage_events PostgreSQL operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append inserts a single event.
func (s *PostgresStore) Append(ctx context.Context, e *UsageEvent) error {
	var info []byte
	if len(e.AdditionalInfo) > 0 {
		data, err := json.Marshal(e.AdditionalInfo)
		if err != nil {
			return apperr.Validation(fmt.Sprintf("additional_info is not serializable: %v", err))
		}
		info = data
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Model, e.InputTokens, e.OutputTokens, e.ResponseCode, info, e.Timestamp)
	if err != nil {
		return apperr.Unavailable("inserting usage event", err)
	}
	return nil
}

// Query returns one page of a user's events.
func (s *PostgresStore) Query(ctx context.Context, userID string, params QueryParams) ([]UsageEvent, error) {
	conditions := []string{"user_id = $1"}
	args := []any{userID}
	argIdx := 2

	if params.Model != "" {
		conditions = append(conditions, fmt.Sprintf("model = $%d", argIdx))
		args = append(args, params.Model)
		argIdx++
	}

	dir := "DESC"
	if params.Order == OrderAsc {
		dir = "ASC"
	}

	query := fmt.Sprintf(
		`SELECT %s FROM usage_events WHERE %s
		 ORDER BY "timestamp" %s, id %s
		 LIMIT $%d OFFSET $%d`,
		eventColumns, strings.Join(conditions, " AND "), dir, dir, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Skip)

	return s.collect(ctx, "querying usage events", query, args...)
}

// DistinctModels returns the models a user has called, sorted.
func (s *PostgresStore) DistinctModels(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT model FROM usage_events WHERE user_id = $1 ORDER BY model`, userID)
	if err != nil {
		return nil, apperr.Unavailable("listing models", err)
	}

	models, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, apperr.Unavailable("scanning models", err)
	}
	if models == nil {
		models = []string{}
	}
	return models, nil
}

// Range returns a user's events in [from, to), oldest first.
func (s *PostgresStore) Range(ctx context.Context, userID string, from, to time.Time, model string) ([]UsageEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM usage_events
		 WHERE user_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3`
	args := []any{userID, from, to}
	if model != "" {
		query += ` AND model = $4`
		args = append(args, model)
	}
	query += ` ORDER BY "timestamp" ASC, id ASC`

	return s.collect(ctx, "querying usage range", query, args...)
}

// ModelTotals sums a user's full history per model.
func (s *PostgresStore) ModelTotals(ctx context.Context, userID string) ([]ModelTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT model,
		        COALESCE(SUM(input_tokens), 0)::BIGINT,
		        COALESCE(SUM(output_tokens), 0)::BIGINT,
		        COUNT(*)
		 FROM usage_events WHERE user_id = $1
		 GROUP BY model ORDER BY model`, userID)
	if err != nil {
		return nil, apperr.Unavailable("summing usage events", err)
	}
	defer rows.Close()

	totals := []ModelTotal{}
	for rows.Next() {
		var t ModelTotal
		if err := rows.Scan(&t.Model, &t.InputTokens, &t.OutputTokens, &t.Calls); err != nil {
			return nil, apperr.Unavailable("scanning usage totals", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("summing usage events", err)
	}
	return totals, nil
}

// Ping checks PostgreSQL connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) collect(ctx context.Context, op, query string, args ...any) ([]UsageEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	defer rows.Close()

	events := []UsageEvent{}
	for rows.Next() {
		var (
			e    UsageEvent
			info []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Model, &e.InputTokens, &e.OutputTokens,
			&e.ResponseCode, &info, &e.Timestamp); err != nil {
			return nil, apperr.Unavailable(op, err)
		}
		if len(info) > 0 {
			if err := json.Unmarshal(info, &e.AdditionalInfo); err != nil {
				return nil, fmt.Errorf("decoding additional_info of event %s: %w", e.ID, err)
			}
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return events, nil
}
