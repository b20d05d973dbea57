package quota

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
	"github.com/tokenmeter/tokenmeter/internal/metrics"
	inats "github.com/tokenmeter/tokenmeter/internal/nats"
	"github.com/tokenmeter/tokenmeter/internal/plans"
	"github.com/tokenmeter/tokenmeter/internal/retry"
)

// PlanReader resolves plans during enforcement.
type PlanReader interface {
	Get(ctx context.Context, id string) (*plans.Plan, error)
	DefaultPlanID() string
}

// EventTotals sums the tokens recorded in the event log for a user.
type EventTotals interface {
	Totals(ctx context.Context, userID string) (inputTokens, outputTokens int64, err error)
}

// Notifier receives quota rejections.
type Notifier interface {
	PublishQuotaViolation(ctx context.Context, v inats.QuotaViolation) error
}

// Service gates usage-ledger increments against plan limits.
type Service struct {
	ledger   LedgerStore
	plans    PlanReader
	events   EventTotals
	notifier Notifier
	retry    retry.Policy
}

// NewService creates a new quota Service. events and notifier may be nil: Reconcile
// is then unavailable and rejections are only logged.
func NewService(ledger LedgerStore, planReader PlanReader, events EventTotals, notifier Notifier) *Service {
	return &Service{
		ledger:   ledger,
		plans:    planReader,
		events:   events,
		notifier: notifier,
		retry:    retry.DefaultPolicy,
	}
}

// OpenAccount creates the ledger entry for a new user on planID, or on the default
// plan when planID is empty.
func (s *Service) OpenAccount(ctx context.Context, userID, planID string) (*UsageRecord, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	if planID == "" {
		planID = s.plans.DefaultPlanID()
	}

	plan, err := s.getPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, apperr.Newf(apperr.KindInvalidPlan, "plan %q does not exist", planID)
	}

	rec, err := s.ledger.Create(ctx, userID, plan.ID)
	if err != nil {
		return nil, err
	}

	slog.Info("usage account opened", "user_id", userID, "plan_id", plan.ID)
	return rec, nil
}

// GetUsage returns the user's ledger record.
func (s *Service) GetUsage(ctx context.Context, userID string) (*UsageRecord, error) {
	return s.getRecord(ctx, userID)
}

// Apply runs the check-then-increment protocol for one request.
//
// The pre-check compares the current counters, not the projected ones, so a
// single large delta may overshoot a limit; the next call is then rejected.
func (s *Service) Apply(ctx context.Context, userID string, upd UsageUpdate) (*UsageRecord, error) {
	deltaIn, deltaOut := deref(upd.InputTokens), deref(upd.OutputTokens)
	if deltaIn < 0 || deltaOut < 0 {
		return nil, apperr.Validation("token deltas must be >= 0")
	}

	rec, err := s.getRecord(ctx, userID)
	if err != nil {
		s.observe(err)
		return nil, err
	}

	if err := checkHeadroom(rec, deltaIn, deltaOut); err != nil {
		s.observe(err)
		return nil, err
	}

	if rec.PlanID == "" {
		err := apperr.Newf(apperr.KindNoPlanAssigned, "user %q has no plan assigned", userID)
		s.observe(err)
		return nil, err
	}

	plan, err := s.getPlan(ctx, rec.PlanID)
	if err != nil {
		s.observe(err)
		return nil, err
	}
	if plan == nil {
		err := apperr.Newf(apperr.KindPlanNotFound, "plan %q assigned to user %q does not exist", rec.PlanID, userID)
		s.observe(err)
		return nil, err
	}

	if qerr := precheck(rec, plan); qerr != nil {
		s.observe(qerr)
		s.notify(ctx, rec, qerr)
		return nil, qerr
	}

	var newPlanID *string
	if upd.Subscription != nil && *upd.Subscription != "" {
		target, err := s.getPlan(ctx, *upd.Subscription)
		if err != nil {
			s.observe(err)
			return nil, err
		}
		if target == nil {
			err := apperr.Newf(apperr.KindInvalidPlan, "plan %q does not exist", *upd.Subscription)
			s.observe(err)
			return nil, err
		}
		newPlanID = &target.ID
	}

	updated, err := s.ledger.Increment(ctx, userID, deltaIn, deltaOut, newPlanID)
	if err != nil {
		s.observe(err)
		return nil, err
	}

	s.observe(nil)
	metrics.TokensAdmittedTotal.WithLabelValues("input").Add(float64(deltaIn))
	metrics.TokensAdmittedTotal.WithLabelValues("output").Add(float64(deltaOut))

	if newPlanID != nil && *newPlanID != rec.PlanID {
		slog.Info("usage plan changed", "user_id", userID, "from", rec.PlanID, "to", *newPlanID)
	}
	return updated, nil
}

// Status re-checks the user's counters against their plan without mutating anything.
func (s *Service) Status(ctx context.Context, userID string) (*QuotaStatus, error) {
	rec, err := s.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec.PlanID == "" {
		return nil, apperr.Newf(apperr.KindNoPlanAssigned, "user %q has no plan assigned", userID)
	}

	plan, err := s.getPlan(ctx, rec.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, apperr.Newf(apperr.KindPlanNotFound, "plan %q assigned to user %q does not exist", rec.PlanID, userID)
	}

	return &QuotaStatus{
		UserID:           rec.UserID,
		PlanID:           plan.ID,
		InputTokens:      rec.InputTokens,
		InputTokenLimit:  plan.InputTokenLimit,
		InputRemaining:   max(plan.InputTokenLimit-rec.InputTokens, 0),
		OutputTokens:     rec.OutputTokens,
		OutputTokenLimit: plan.OutputTokenLimit,
		OutputRemaining:  max(plan.OutputTokenLimit-rec.OutputTokens, 0),
		OverLimit:        precheck(rec, plan) != nil,
	}, nil
}

// Reconcile reports how far the ledger counters have drifted from the event log.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	if s.events == nil {
		return nil, apperr.Unavailable("reconciling usage", fmt.Errorf("event log not configured"))
	}

	rec, err := s.getRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	in, out, err := s.events.Totals(ctx, userID)
	if err != nil {
		return nil, err
	}

	r := &Reconciliation{
		UserID:             userID,
		LedgerInputTokens:  rec.InputTokens,
		LedgerOutputTokens: rec.OutputTokens,
		EventInputTokens:   in,
		EventOutputTokens:  out,
		InputDelta:         rec.InputTokens - in,
		OutputDelta:        rec.OutputTokens - out,
	}
	r.InSync = r.InputDelta == 0 && r.OutputDelta == 0
	return r, nil
}

func (s *Service) getRecord(ctx context.Context, userID string) (*UsageRecord, error) {
	if userID == "" {
		return nil, apperr.Validation("user_id is required")
	}
	rec, err := retry.Read(ctx, s.retry, func(ctx context.Context) (*UsageRecord, error) {
		return s.ledger.Get(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.Newf(apperr.KindUserNotFound, "user %q not found", userID)
	}
	return rec, nil
}

func (s *Service) getPlan(ctx context.Context, id string) (*plans.Plan, error) {
	return retry.Read(ctx, s.retry, func(ctx context.Context) (*plans.Plan, error) {
		return s.plans.Get(ctx, id)
	})
}

func (s *Service) notify(ctx context.Context, rec *UsageRecord, qerr *apperr.Error) {
	slog.Warn("quota exceeded", "user_id", rec.UserID, "plan_id", rec.PlanID, "reason", qerr.Message)
	if s.notifier == nil {
		return
	}

	v := inats.QuotaViolation{
		UserID:    rec.UserID,
		PlanID:    rec.PlanID,
		Metric:    qerr.Details["metric"].(string),
		Current:   qerr.Details["current"].(int64),
		Limit:     qerr.Details["limit"].(int64),
		Timestamp: time.Now().UTC(),
	}
	if err := s.notifier.PublishQuotaViolation(ctx, v); err != nil {
		slog.Warn("quota: publishing violation failed", "user_id", rec.UserID, "error", err)
	}
}

func (s *Service) observe(err error) {
	result := "admitted"
	if err != nil {
		result = string(apperr.KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.EnforcementTotal.WithLabelValues(result).Inc()
}

// precheck rejects when a counter is already strictly above its limit.
// A counter equal to its limit is allowed.
func precheck(rec *UsageRecord, plan *plans.Plan) *apperr.Error {
	if rec.InputTokens > plan.InputTokenLimit {
		return apperr.QuotaExceeded("input_tokens", rec.InputTokens, plan.InputTokenLimit)
	}
	if rec.OutputTokens > plan.OutputTokenLimit {
		return apperr.QuotaExceeded("output_tokens", rec.OutputTokens, plan.OutputTokenLimit)
	}
	return nil
}

// checkHeadroom rejects deltas that would push a counter past the int64 range.
func checkHeadroom(rec *UsageRecord, deltaIn, deltaOut int64) error {
	if deltaIn > math.MaxInt64-rec.InputTokens {
		return apperr.Validation("input_tokens delta exceeds the counter range")
	}
	if deltaOut > math.MaxInt64-rec.OutputTokens {
		return apperr.Validation("output_tokens delta exceeds the counter range")
	}
	return nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
