package quota

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

// MemoryLedger is an in-process LedgerStore for tests and local runs.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]UsageRecord
	now     func() time.Time
}

// NewMemoryLedger creates an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]UsageRecord),
		now:     time.Now,
	}
}

func (l *MemoryLedger) Get(_ context.Context, userID string) (*UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *MemoryLedger) Create(_ context.Context, userID, planID string) (*UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[userID]; ok {
		return nil, apperr.AlreadyExists(fmt.Sprintf("usage record for user %q already exists", userID))
	}
	rec := UsageRecord{UserID: userID, PlanID: planID, UpdatedAt: l.now().UTC()}
	l.records[userID] = rec
	return &rec, nil
}

func (l *MemoryLedger) Increment(_ context.Context, userID string, deltaInput, deltaOutput int64, newPlanID *string) (*UsageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[userID]
	if !ok {
		return nil, apperr.NotFound(fmt.Sprintf("no usage record for user %q", userID))
	}
	if deltaInput > math.MaxInt64-rec.InputTokens || deltaOutput > math.MaxInt64-rec.OutputTokens {
		return nil, apperr.Validation("token delta exceeds the counter range")
	}
	rec.InputTokens += deltaInput
	rec.OutputTokens += deltaOutput
	if newPlanID != nil {
		rec.PlanID = *newPlanID
	}
	rec.UpdatedAt = l.now().UTC()
	l.records[userID] = rec
	return &rec, nil
}

// Put overwrites a record. Used to seed fixtures.
func (l *MemoryLedger) Put(rec UsageRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.UserID] = rec
}
