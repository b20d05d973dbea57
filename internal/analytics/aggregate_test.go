package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenmeter/tokenmeter/internal/events"
)

var (
	day1 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.AddDate(0, 0, 1)
)

func ev(model string, in, out int64, ts time.Time) events.UsageEvent {
	return events.UsageEvent{UserID: "alice", Model: model, InputTokens: in, OutputTokens: out, Timestamp: ts}
}

func TestDailyTokenUsage_Example(t *testing.T) {
	got := DailyTokenUsage([]events.UsageEvent{
		ev("modelA", 10, 5, day1.Add(9*time.Hour)),
		ev("modelA", 3, 2, day1.Add(17*time.Hour)),
		ev("modelB", 7, 1, day2.Add(time.Hour)),
	})

	assert.Equal(t, []DailyTokens{
		{Date: "2024-05-01", Models: []ModelTokens{{Name: "modelA", TotalTokens: 20}}},
		{Date: "2024-05-02", Models: []ModelTokens{{Name: "modelB", TotalTokens: 8}}},
	}, got)
}

func TestDailyTokenUsage_OrderingAndGaps(t *testing.T) {
	got := DailyTokenUsage([]events.UsageEvent{
		ev("b", 5, 0, day1.AddDate(0, 0, 5)),
		ev("a", 5, 0, day1),
		ev("b", 5, 0, day1),
		ev("c", 50, 0, day1),
	})

	require.Len(t, got, 2, "empty days are omitted")
	assert.Equal(t, "2024-05-01", got[0].Date)
	assert.Equal(t, "2024-05-06", got[1].Date)
	assert.Equal(t, []ModelTokens{{"c", 50}, {"a", 5}, {"b", 5}}, got[0].Models)
}

func TestDailyTokenUsage_UsesUTCDay(t *testing.T) {
	tz := time.FixedZone("UTC-5", -5*3600)
	// 2024-05-01 22:00 local is 2024-05-02 03:00 UTC
	got := DailyTokenUsage([]events.UsageEvent{ev("m", 1, 1, time.Date(2024, 5, 1, 22, 0, 0, 0, tz))})

	require.Len(t, got, 1)
	assert.Equal(t, "2024-05-02", got[0].Date)
}

func TestDailyTokenUsage_Empty(t *testing.T) {
	got := DailyTokenUsage(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDailyCalls(t *testing.T) {
	evts := []events.UsageEvent{
		ev("a", 1, 1, day1),
		ev("b", 1, 1, day1.Add(time.Hour)),
		ev("a", 1, 1, day2),
	}

	assert.Equal(t, []DailyCount{{"2024-05-01", 2}, {"2024-05-02", 1}}, DailyCalls(evts, ""))
	assert.Equal(t, []DailyCount{{"2024-05-01", 1}}, DailyCalls(evts, "b"))
	assert.Empty(t, DailyCalls(evts, "zzz"))
}

func TestStats(t *testing.T) {
	got := Stats([]events.ModelTotal{
		{Model: "a", InputTokens: 1, OutputTokens: 0, Calls: 1},
		{Model: "b", InputTokens: 1, OutputTokens: 1, Calls: 2},
	})

	assert.Equal(t, int64(3), got.TotalTokens)
	assert.Equal(t, int64(3), got.TotalCalls)
	require.Len(t, got.Models, 2)
	assert.Equal(t, ModelUsage{Name: "b", Usage: 2, Calls: 2, Percentage: 66.7}, got.Models[0])
	assert.Equal(t, ModelUsage{Name: "a", Usage: 1, Calls: 1, Percentage: 33.3}, got.Models[1])
}

func TestStats_ZeroTotal(t *testing.T) {
	got := Stats(nil)
	assert.Equal(t, UsageStats{TotalTokens: 0, TotalCalls: 0, Models: []ModelUsage{}}, got)

	// calls recorded but no tokens reports an empty history
	got = Stats([]events.ModelTotal{{Model: "a", Calls: 3}, {Model: "b", Calls: 1}})
	assert.Equal(t, UsageStats{TotalTokens: 0, TotalCalls: 0, Models: []ModelUsage{}}, got)
}
