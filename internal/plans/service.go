package plans

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

// Service is the Plan Registry: CRUD over plan definitions plus default-plan bootstrap.
type Service struct {
	repo        *Repository
	defaultPlan string
	now         func() time.Time
}

// NewService creates a new plan Service. defaultPlan is the id (or name) of the
// plan assigned to new accounts; it can never be deleted.
func NewService(repo *Repository, defaultPlan string) *Service {
	return &Service{
		repo:        repo,
		defaultPlan: NormalizeID(defaultPlan),
		now:         time.Now,
	}
}

// DefaultPlanID returns the id of the plan assigned to new accounts.
func (s *Service) DefaultPlanID() string {
	return s.defaultPlan
}

// Create stores a new plan. Fails with already_exists if the normalized id is taken.
func (s *Service) Create(ctx context.Context, def Definition) (*Plan, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	p := s.build(NormalizeID(def.Name), def)
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("plan created", "plan_id", p.ID)
	return p, nil
}

// Get returns the plan or nil if not found.
func (s *Service) Get(ctx context.Context, id string) (*Plan, error) {
	id = NormalizeID(id)
	if id == "" {
		return nil, nil
	}
	return s.repo.Get(ctx, id)
}

// List returns every plan, re-read from the store on each call.
func (s *Service) List(ctx context.Context) ([]*Plan, error) {
	return s.repo.List(ctx)
}

// Update fully replaces the mutable fields of a plan and refreshes created_at.
// Returns nil if the plan does not exist. The id is stable, so the new name must
// normalize to the same id.
func (s *Service) Update(ctx context.Context, id string, def Definition) (*Plan, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	id = NormalizeID(id)
	if NormalizeID(def.Name) != id {
		return nil, apperr.Validation(fmt.Sprintf("plan name %q does not match plan id %q", def.Name, id))
	}

	p := s.build(id, def)
	found, err := s.repo.Replace(ctx, p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	slog.Info("plan updated", "plan_id", p.ID)
	return p, nil
}

// Delete removes a plan. Returns false if absent. Users still referencing the
// plan are not checked; they surface as plan_not_found on their next enforcement.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	id = NormalizeID(id)
	if id == s.defaultPlan {
		return false, apperr.Validation(fmt.Sprintf("default plan %q cannot be deleted", id))
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		slog.Info("plan deleted", "plan_id", id)
	}
	return deleted, nil
}

// BootstrapDefaults ensures the canonical plans exist. Safe to call on every start.
func (s *Service) BootstrapDefaults(ctx context.Context) error {
	for _, def := range DefaultDefinitions() {
		id := NormalizeID(def.Name)

		existing, err := s.repo.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("checking default plan %s: %w", id, err)
		}
		if existing != nil {
			continue
		}

		err = s.repo.Create(ctx, s.build(id, def))
		if err != nil && !apperr.Is(err, apperr.KindAlreadyExists) {
			return fmt.Errorf("creating default plan %s: %w", id, err)
		}
		slog.Info("bootstrapped default plan", "plan_id", id)
	}

	def, err := s.repo.Get(ctx, s.defaultPlan)
	if err != nil {
		return fmt.Errorf("checking default plan %s: %w", s.defaultPlan, err)
	}
	if def == nil {
		return fmt.Errorf("default plan %q does not exist", s.defaultPlan)
	}
	return nil
}

func (s *Service) build(id string, def Definition) *Plan {
	return &Plan{
		ID:               id,
		Name:             def.Name,
		InputTokenLimit:  def.InputTokenLimit,
		OutputTokenLimit: def.OutputTokenLimit,
		Price:            def.Price,
		Description:      def.Description,
		CreatedAt:        s.now().UTC(),
	}
}

func validateDefinition(def Definition) error {
	switch {
	case NormalizeID(def.Name) == "":
		return apperr.Validation("plan name is required")
	case def.InputTokenLimit < 0:
		return apperr.Validation("input_token_limit must be >= 0")
	case def.OutputTokenLimit < 0:
		return apperr.Validation("output_token_limit must be >= 0")
	case def.Price.IsNegative():
		return apperr.Validation("price must be >= 0")
	}
	return nil
}
