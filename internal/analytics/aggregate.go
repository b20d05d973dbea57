// Package analytics derives daily rollups and summary statistics from the event log.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/tokenmeter/tokenmeter/internal/events"
)

// DateLayout is the calendar-day format used in queries and results.
const DateLayout = "2006-01-02"

// ModelTokens is one model's token total within a day.
type ModelTokens struct {
	Name        string `json:"name"`
	TotalTokens int64  `json:"total_tokens"`
}

// DailyTokens lists per-model token totals for one day.
type DailyTokens struct {
	Date   string        `json:"date"`
	Models []ModelTokens `json:"models"`
}

// DailyCount is the number of calls on one day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// ModelUsage is one model's share of a user's full history.
type ModelUsage struct {
	Name       string  `json:"name"`
	Usage      int64   `json:"usage"`
	Calls      int64   `json:"calls"`
	Percentage float64 `json:"percentage"`
}

// UsageStats summarizes a user's full history.
type UsageStats struct {
	TotalTokens int64        `json:"total_tokens"`
	TotalCalls  int64        `json:"total_calls"`
	Models      []ModelUsage `json:"models"`
}

func dayOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// DailyTokenUsage groups events by UTC day and model. Days without events are
// omitted. Within a day models are ordered by total descending, then by name.
func DailyTokenUsage(evts []events.UsageEvent) []DailyTokens {
	byDay := make(map[string]map[string]int64)
	for _, e := range evts {
		day := dayOf(e.Timestamp)
		models, ok := byDay[day]
		if !ok {
			models = make(map[string]int64)
			byDay[day] = models
		}
		models[e.Model] += e.TotalTokens()
	}

	out := make([]DailyTokens, 0, len(byDay))
	for _, day := range sortedKeys(byDay) {
		models := make([]ModelTokens, 0, len(byDay[day]))
		for name, total := range byDay[day] {
			models = append(models, ModelTokens{Name: name, TotalTokens: total})
		}
		sort.Slice(models, func(i, j int) bool {
			if models[i].TotalTokens != models[j].TotalTokens {
				return models[i].TotalTokens > models[j].TotalTokens
			}
			return models[i].Name < models[j].Name
		})
		out = append(out, DailyTokens{Date: day, Models: models})
	}
	return out
}

// DailyCalls counts events per UTC day. Filtering by model happens before grouping.
func DailyCalls(evts []events.UsageEvent, model string) []DailyCount {
	byDay := make(map[string]int64)
	for _, e := range evts {
		if model != "" && e.Model != model {
			continue
		}
		byDay[dayOf(e.Timestamp)]++
	}

	out := make([]DailyCount, 0, len(byDay))
	for _, day := range sortedKeys(byDay) {
		out = append(out, DailyCount{Date: day, Count: byDay[day]})
	}
	return out
}

// Stats computes totals and per-model percentages. A zero token total yields
// zero tokens, zero calls and an empty model list.
func Stats(totals []events.ModelTotal) UsageStats {
	stats := UsageStats{Models: []ModelUsage{}}
	for _, t := range totals {
		stats.TotalTokens += t.InputTokens + t.OutputTokens
		stats.TotalCalls += t.Calls
	}
	if stats.TotalTokens == 0 {
		return UsageStats{Models: []ModelUsage{}}
	}

	for _, t := range totals {
		usage := t.InputTokens + t.OutputTokens
		stats.Models = append(stats.Models, ModelUsage{
			Name:       t.Model,
			Usage:      usage,
			Calls:      t.Calls,
			Percentage: roundOne(100 * float64(usage) / float64(stats.TotalTokens)),
		})
	}
	sort.SliceStable(stats.Models, func(i, j int) bool {
		if stats.Models[i].Usage != stats.Models[j].Usage {
			return stats.Models[i].Usage > stats.Models[j].Usage
		}
		return stats.Models[i].Name < stats.Models[j].Name
	})
	return stats
}

func roundOne(v float64) float64 {
	return math.Round(v*10) / 10
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
