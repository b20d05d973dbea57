package plans

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a named tier defining token limits and price.
type Plan struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	InputTokenLimit  int64           `json:"input_token_limit"`
	OutputTokenLimit int64           `json:"output_token_limit"`
	Price            decimal.Decimal `json:"price"`
	Description      string          `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Definition holds the mutable fields of a plan.
type Definition struct {
	Name             string
	InputTokenLimit  int64
	OutputTokenLimit int64
	Price            decimal.Decimal
	Description      string
}

// PlanRequest is the request body for creating or replacing a plan.
type PlanRequest struct {
	Name             string           `json:"name" validate:"required,max=100"`
	InputTokenLimit  *int64           `json:"input_token_limit" validate:"required,gte=0"`
	OutputTokenLimit *int64           `json:"output_token_limit" validate:"required,gte=0"`
	Price            *decimal.Decimal `json:"price" validate:"required"`
	Description      string           `json:"description" validate:"max=500"`
}

// Definition converts a validated request.
func (r *PlanRequest) Definition() Definition {
	return Definition{
		Name:             r.Name,
		InputTokenLimit:  *r.InputTokenLimit,
		OutputTokenLimit: *r.OutputTokenLimit,
		Price:            *r.Price,
		Description:      r.Description,
	}
}

// NormalizeID derives the stable plan id from a name: lowercase, spaces to underscores.
// A leading "plan:" key prefix is accepted and stripped.
func NormalizeID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.TrimPrefix(id, keyPrefix)
	return strings.ReplaceAll(id, " ", "_")
}

// DefaultDefinitions are ensured on every start.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:             "Free",
			InputTokenLimit:  1000,
			OutputTokenLimit: 1000,
			Price:            decimal.Zero,
			Description:      "Free plan with basic limits",
		},
		{
			Name:             "Pro",
			InputTokenLimit:  10000,
			OutputTokenLimit: 10000,
			Price:            decimal.RequireFromString("9.99"),
			Description:      "Pro plan with higher limits",
		},
	}
}
