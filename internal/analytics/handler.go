package analytics

import (
	"net/http"

	"github.com/tokenmeter/tokenmeter/internal/api"
)

// Handler provides HTTP handlers for analytics endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new analytics Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// TokenUsage returns daily token usage by model.
func (h *Handler) TokenUsage(w http.ResponseWriter, r *http.Request) {
	userID, rng, ok := parseRangeQuery(w, r)
	if !ok {
		return
	}

	usage, err := h.svc.TokenUsage(r.Context(), userID, rng, r.URL.Query().Get("model"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, usage)
}

// APICalls returns daily call counts.
func (h *Handler) APICalls(w http.ResponseWriter, r *http.Request) {
	userID, rng, ok := parseRangeQuery(w, r)
	if !ok {
		return
	}

	calls, err := h.svc.APICalls(r.Context(), userID, rng, r.URL.Query().Get("model"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, calls)
}

// UsageStats returns full-history totals and per-model percentages.
func (h *Handler) UsageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.UsageStats(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, stats)
}

// parseRangeQuery reads user_id and the date range. start_date and end_date are
// accepted as aliases of start and end.
func parseRangeQuery(w http.ResponseWriter, r *http.Request) (string, DateRange, bool) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		api.HandleError(w, api.NewValidationError("user_id is required"))
		return "", DateRange{}, false
	}

	start, end := q.Get("start"), q.Get("end")
	if start == "" {
		start = q.Get("start_date")
	}
	if end == "" {
		end = q.Get("end_date")
	}

	rng, err := ParseDateRange(start, end)
	if err != nil {
		api.HandleError(w, err)
		return "", DateRange{}, false
	}
	return userID, rng, true
}
