package quota

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
	inats "github.com/tokenmeter/tokenmeter/internal/nats"
	"github.com/tokenmeter/tokenmeter/internal/plans"
	"github.com/tokenmeter/tokenmeter/internal/retry"
)

type recordingNotifier struct {
	mu         sync.Mutex
	violations []inats.QuotaViolation
	err        error
}

func (n *recordingNotifier) PublishQuotaViolation(_ context.Context, v inats.QuotaViolation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.violations = append(n.violations, v)
	return n.err
}

type fixedTotals struct {
	in, out int64
	err     error
}

func (f fixedTotals) Totals(context.Context, string) (int64, int64, error) {
	return f.in, f.out, f.err
}

type testEnv struct {
	svc      *Service
	ledger   *MemoryLedger
	plans    *plans.Service
	notifier *recordingNotifier
	redis    *miniredis.Miniredis
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	planSvc := plans.NewService(plans.NewRepository(client), "free")
	require.NoError(t, planSvc.BootstrapDefaults(context.Background()))

	ledger := NewMemoryLedger()
	notifier := &recordingNotifier{}
	svc := NewService(ledger, planSvc, fixedTotals{}, notifier)
	svc.retry = retry.Policy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	return &testEnv{svc: svc, ledger: ledger, plans: planSvc, notifier: notifier, redis: mr}
}

func i64(v int64) *int64 { return &v }

func str(v string) *string { return &v }

func TestOpenAccount_DefaultPlan(t *testing.T) {
	env := setupEnv(t)

	rec, err := env.svc.OpenAccount(context.Background(), "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "free", rec.PlanID)
	assert.Zero(t, rec.InputTokens)
	assert.Zero(t, rec.OutputTokens)

	_, err = env.svc.OpenAccount(context.Background(), "alice", "")
	assert.True(t, apperr.Is(err, apperr.KindAlreadyExists))
}

func TestOpenAccount_UnknownPlan(t *testing.T) {
	env := setupEnv(t)

	_, err := env.svc.OpenAccount(context.Background(), "alice", "enterprise")
	assert.True(t, apperr.Is(err, apperr.KindInvalidPlan))

	rec, err := env.ledger.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestApply_Increments(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	_, err := env.svc.OpenAccount(ctx, "alice", "Pro")
	require.NoError(t, err)

	rec, err := env.svc.Apply(ctx, "alice", UsageUpdate{InputTokens: i64(120), OutputTokens: i64(30)})
	require.NoError(t, err)
	assert.Equal(t, "pro", rec.PlanID)
	assert.Equal(t, int64(120), rec.InputTokens)
	assert.Equal(t, int64(30), rec.OutputTokens)

	rec, err = env.svc.Apply(ctx, "alice", UsageUpdate{OutputTokens: i64(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(120), rec.InputTokens)
	assert.Equal(t, int64(35), rec.OutputTokens)
}

func TestApply_BoundaryEqualityAllowed(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 1000, OutputTokens: 1000})

	rec, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rec.InputTokens)
	assert.Empty(t, env.notifier.violations)
}

func TestApply_OneOverRejectedEvenWithZeroDelta(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 1001, OutputTokens: 10})

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{InputTokens: i64(0)})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))

	var aerr *apperr.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, "input_tokens", aerr.Details["metric"])
	assert.Equal(t, int64(1001), aerr.Details["current"])
	assert.Equal(t, int64(1000), aerr.Details["limit"])

	require.Len(t, env.notifier.violations, 1)
	v := env.notifier.violations[0]
	assert.Equal(t, "alice", v.UserID)
	assert.Equal(t, "free", v.PlanID)
	assert.Equal(t, "input_tokens", v.Metric)

	rec, _ := env.ledger.Get(context.Background(), "alice")
	assert.Equal(t, int64(1001), rec.InputTokens, "rejected call must not mutate")
}

func TestApply_OutputOverLimitRejected(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 0, OutputTokens: 1500})

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{})
	var aerr *apperr.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, apperr.KindQuotaExceeded, aerr.Kind)
	assert.Equal(t, "output_tokens", aerr.Details["metric"])
}

func TestApply_SingleDeltaMayOvershoot(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 999})

	rec, err := env.svc.Apply(ctx, "alice", UsageUpdate{InputTokens: i64(5000)})
	require.NoError(t, err)
	assert.Equal(t, int64(5999), rec.InputTokens)

	_, err = env.svc.Apply(ctx, "alice", UsageUpdate{})
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))
}

func TestApply_NotifierFailureDoesNotChangeResult(t *testing.T) {
	env := setupEnv(t)
	env.notifier.err = errors.New("nats down")
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 2000})

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{})
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))
}

func TestApply_UnknownPlanLeavesPlanUnchanged(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 10})

	_, err := env.svc.Apply(ctx, "alice", UsageUpdate{InputTokens: i64(5), Subscription: str("platinum")})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalidPlan))

	rec, err := env.ledger.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "free", rec.PlanID)
	assert.Equal(t, int64(10), rec.InputTokens, "deltas are not applied either")
}

func TestApply_PlanSwitch(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 900})

	rec, err := env.svc.Apply(ctx, "alice", UsageUpdate{Subscription: str("plan:pro")})
	require.NoError(t, err)
	assert.Equal(t, "pro", rec.PlanID)
	assert.Equal(t, int64(900), rec.InputTokens)
}

func TestApply_OverLimitCannotEscapeByUpgrading(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 1200})

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{Subscription: str("pro")})
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))
}

func TestApply_UserNotFound(t *testing.T) {
	env := setupEnv(t)

	_, err := env.svc.Apply(context.Background(), "ghost", UsageUpdate{})
	assert.True(t, apperr.Is(err, apperr.KindUserNotFound))
}

func TestApply_NoPlanAssigned(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice"})

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{})
	assert.True(t, apperr.Is(err, apperr.KindNoPlanAssigned))
}

func TestApply_StalePlanReference(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	_, err := env.plans.Create(ctx, plans.Definition{Name: "Legacy", InputTokenLimit: 10, OutputTokenLimit: 10, Price: decimal.Zero})
	require.NoError(t, err)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "legacy"})

	_, err = env.plans.Delete(ctx, "legacy")
	require.NoError(t, err)

	_, err = env.svc.Apply(ctx, "alice", UsageUpdate{})
	assert.True(t, apperr.Is(err, apperr.KindPlanNotFound))
}

func TestApply_NegativeDeltaRejectedBeforeStoreAccess(t *testing.T) {
	env := setupEnv(t)
	env.redis.Close()

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{InputTokens: i64(-1)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestApply_PlanStoreUnavailable(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free"})
	env.redis.Close()

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{InputTokens: i64(1)})
	assert.True(t, apperr.Is(err, apperr.KindStorageUnavailable))

	rec, _ := env.ledger.Get(context.Background(), "alice")
	assert.Zero(t, rec.InputTokens)
}

func TestApply_NoLostUpdates(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	_, err := env.svc.OpenAccount(ctx, "alice", "")
	require.NoError(t, err)

	var g errgroup.Group
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			_, err := env.svc.Apply(ctx, "alice", UsageUpdate{InputTokens: i64(1), OutputTokens: i64(1)})
			return err
		})
	}
	require.NoError(t, g.Wait())

	rec, err := env.svc.GetUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.InputTokens)
	assert.Equal(t, int64(100), rec.OutputTokens)
}

func TestStatus(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 400, OutputTokens: 1200})

	st, err := env.svc.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "free", st.PlanID)
	assert.Equal(t, int64(600), st.InputRemaining)
	assert.Equal(t, int64(0), st.OutputRemaining)
	assert.True(t, st.OverLimit)
}

func TestStatus_AtLimitNotOver(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 1000, OutputTokens: 1000})

	st, err := env.svc.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, st.OverLimit)
	assert.Zero(t, st.InputRemaining)
}

func TestReconcile(t *testing.T) {
	env := setupEnv(t)
	env.svc.events = fixedTotals{in: 90, out: 40}
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 100, OutputTokens: 40})

	r, err := env.svc.Reconcile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), r.InputDelta)
	assert.Equal(t, int64(0), r.OutputDelta)
	assert.False(t, r.InSync)

	env.svc.events = fixedTotals{in: 100, out: 40}
	r, err = env.svc.Reconcile(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, r.InSync)
}

func TestReconcile_EventLogError(t *testing.T) {
	env := setupEnv(t)
	env.svc.events = fixedTotals{err: apperr.Unavailable("summing events", errors.New("timeout"))}
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free"})

	_, err := env.svc.Reconcile(context.Background(), "alice")
	assert.True(t, apperr.Is(err, apperr.KindStorageUnavailable))
}

type flakyLedger struct {
	*MemoryLedger
	mu        sync.Mutex
	getFails  int
	getCalls  int
	incCalls  int
	incResult error
}

func (f *flakyLedger) Get(ctx context.Context, userID string) (*UsageRecord, error) {
	f.mu.Lock()
	f.getCalls++
	fail := f.getCalls <= f.getFails
	f.mu.Unlock()
	if fail {
		return nil, apperr.Unavailable("fetching usage record", errors.New("timeout"))
	}
	return f.MemoryLedger.Get(ctx, userID)
}

func (f *flakyLedger) Increment(ctx context.Context, userID string, in, out int64, plan *string) (*UsageRecord, error) {
	f.mu.Lock()
	f.incCalls++
	f.mu.Unlock()
	if f.incResult != nil {
		return nil, f.incResult
	}
	return f.MemoryLedger.Increment(ctx, userID, in, out, plan)
}

func TestApply_ReadsRetriedIncrementNot(t *testing.T) {
	env := setupEnv(t)
	ledger := &flakyLedger{
		MemoryLedger: NewMemoryLedger(),
		getFails:     1,
		incResult:    apperr.Unavailable("incrementing usage", errors.New("timeout")),
	}
	ledger.Put(UsageRecord{UserID: "alice", PlanID: "free"})
	env.svc.ledger = ledger

	_, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{InputTokens: i64(1)})
	assert.True(t, apperr.Is(err, apperr.KindStorageUnavailable))
	assert.Equal(t, 2, ledger.getCalls, "ledger read retried once")
	assert.Equal(t, 1, ledger.incCalls, "increment is never retried")
}

func TestApply_DeltaBeyondCounterRangeRejected(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	env.ledger.Put(UsageRecord{UserID: "bob", PlanID: "free", InputTokens: 10})

	_, err := env.svc.Apply(ctx, "bob", UsageUpdate{InputTokens: i64(math.MaxInt64)})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = env.svc.Apply(ctx, "bob", UsageUpdate{OutputTokens: i64(math.MaxInt64)})
	require.NoError(t, err, "output counter is still at zero")

	_, err = env.svc.Apply(ctx, "bob", UsageUpdate{OutputTokens: i64(1)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	rec, err := env.ledger.Get(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.InputTokens)
	assert.Equal(t, int64(math.MaxInt64), rec.OutputTokens)
}

func TestMemoryLedger_IncrementRejectsOverflow(t *testing.T) {
	ledger := NewMemoryLedger()
	ledger.Put(UsageRecord{UserID: "bob", PlanID: "free", InputTokens: 10})

	_, err := ledger.Increment(context.Background(), "bob", math.MaxInt64, 0, nil)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	rec, _ := ledger.Get(context.Background(), "bob")
	assert.Equal(t, int64(10), rec.InputTokens)
}

func TestApply_EmptySubscriptionKeepsPlan(t *testing.T) {
	env := setupEnv(t)
	env.ledger.Put(UsageRecord{UserID: "alice", PlanID: "free", InputTokens: 5})

	rec, err := env.svc.Apply(context.Background(), "alice", UsageUpdate{InputTokens: i64(1), Subscription: str("")})
	require.NoError(t, err)
	assert.Equal(t, "free", rec.PlanID)
	assert.Equal(t, int64(6), rec.InputTokens)
}
