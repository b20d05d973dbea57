package plans

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

const (
	keyPrefix       = "plan:"
	scanBatch       = 100
	maxReplaceTries = 3
)

// Repository stores plans as Redis hashes keyed by plan:<id>.
type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis-backed plan Repository.
func NewRepository(client *redis.Client) *Repository {
	return &Repository{client: client}
}

func planKey(id string) string {
	return keyPrefix + id
}

// Create stores p unless a plan with the same id exists.
// The existence check and the write run under WATCH so racing creates cannot both win.
func (r *Repository) Create(ctx context.Context, p *Plan) error {
	key := planKey(p.ID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return errPlanExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, toHash(p))
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPlanExists), errors.Is(err, redis.TxFailedErr):
		return apperr.AlreadyExists(fmt.Sprintf("plan %q already exists", p.Name))
	default:
		return apperr.Unavailable("creating plan", err)
	}
}

var errPlanExists = errors.New("plan exists")

// Get returns the plan or nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Plan, error) {
	fields, err := r.client.HGetAll(ctx, planKey(id)).Result()
	if err != nil {
		return nil, apperr.Unavailable("fetching plan", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fromHash(id, fields)
}

// List scans every plan key. Results are sorted by id.
func (r *Repository) List(ctx context.Context) ([]*Plan, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Unavailable("scanning plans", err)
	}
	if len(keys) == 0 {
		return []*Plan{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperr.Unavailable("fetching plans", err)
	}

	plans := make([]*Plan, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// deleted between SCAN and HGETALL
			continue
		}
		p, err := fromHash(keys[i][len(keyPrefix):], fields)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

// Replace overwrites an existing plan. Returns false if the plan does not exist.
func (r *Repository) Replace(ctx context.Context, p *Plan) (bool, error) {
	key := planKey(p.ID)

	for i := 0; i < maxReplaceTries; i++ {
		found := false
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n == 0 {
				return nil
			}
			found = true
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.HSet(ctx, key, toHash(p))
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, apperr.Unavailable("updating plan", err)
		}
		return found, nil
	}
	return false, apperr.Unavailable("updating plan", redis.TxFailedErr)
}

// Delete removes a plan. Returns false if it was absent.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, planKey(id)).Result()
	if err != nil {
		return false, apperr.Unavailable("deleting plan", err)
	}
	return n > 0, nil
}

// Ping checks Redis connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func toHash(p *Plan) map[string]any {
	return map[string]any{
		"name":               p.Name,
		"input_token_limit":  p.InputTokenLimit,
		"output_token_limit": p.OutputTokenLimit,
		"price":              p.Price.String(),
		"description":        p.Description,
		"created_at":         p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromHash(id string, fields map[string]string) (*Plan, error) {
	p := &Plan{
		ID:          id,
		Name:        fields["name"],
		Description: fields["description"],
	}

	var err error
	if p.InputTokenLimit, err = strconv.ParseInt(fields["input_token_limit"], 10, 64); err != nil {
		return nil, fmt.Errorf("decoding plan %s input_token_limit: %w", id, err)
	}
	if p.OutputTokenLimit, err = strconv.ParseInt(fields["output_token_limit"], 10, 64); err != nil {
		return nil, fmt.Errorf("decoding plan %s output_token_limit: %w", id, err)
	}
	if p.Price, err = decimal.NewFromString(fields["price"]); err != nil {
		return nil, fmt.Errorf("decoding plan %s price: %w", id, err)
	}
	if ts := fields["created_at"]; ts != "" {
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("decoding plan %s created_at: %w", id, err)
		}
	}
	return p, nil
}
