package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	events []UsageEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, e *UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) Query(_ context.Context, userID string, params QueryParams) ([]UsageEvent, error) {
	matched := s.filter(func(e UsageEvent) bool {
		return e.UserID == userID && (params.Model == "" || e.Model == params.Model)
	})
	sortEvents(matched, params.Order == OrderAsc)

	if params.Skip >= len(matched) {
		return []UsageEvent{}, nil
	}
	end := min(params.Skip+params.Limit, len(matched))
	return matched[params.Skip:end], nil
}

func (s *MemoryStore) DistinctModels(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	models := []string{}
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if _, ok := seen[e.Model]; !ok {
			seen[e.Model] = struct{}{}
			models = append(models, e.Model)
		}
	}
	sort.Strings(models)
	return models, nil
}

func (s *MemoryStore) Range(_ context.Context, userID string, from, to time.Time, model string) ([]UsageEvent, error) {
	matched := s.filter(func(e UsageEvent) bool {
		return e.UserID == userID &&
			(model == "" || e.Model == model) &&
			!e.Timestamp.Before(from) && e.Timestamp.Before(to)
	})
	sortEvents(matched, true)
	return matched, nil
}

func (s *MemoryStore) ModelTotals(_ context.Context, userID string) ([]ModelTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byModel := make(map[string]*ModelTotal)
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		t, ok := byModel[e.Model]
		if !ok {
			t = &ModelTotal{Model: e.Model}
			byModel[e.Model] = t
		}
		t.InputTokens += e.InputTokens
		t.OutputTokens += e.OutputTokens
		t.Calls++
	}

	totals := make([]ModelTotal, 0, len(byModel))
	for _, t := range byModel {
		totals = append(totals, *t)
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Model < totals[j].Model })
	return totals, nil
}

func (s *MemoryStore) filter(keep func(UsageEvent) bool) []UsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []UsageEvent{}
	for _, e := range s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func sortEvents(events []UsageEvent, asc bool) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if asc {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.Timestamp.After(b.Timestamp)
		}
		if asc {
			return a.ID.String() < b.ID.String()
		}
		return a.ID.String() > b.ID.String()
	})
}
