package events

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tokenmeter/tokenmeter/internal/api"
	"github.com/tokenmeter/tokenmeter/internal/apperr"
	inats "github.com/tokenmeter/tokenmeter/internal/nats"
)

// UsagePublisher hands events to the asynchronous ingestion path.
type UsagePublisher interface {
	PublishUsage(ctx context.Context, msg inats.UsageMessage) error
}

// Handler provides HTTP handlers for event log endpoints.
type Handler struct {
	svc       *Service
	publisher UsagePublisher
	validate  *validator.Validate
}

// NewHandler creates a new events Handler. publisher may be nil, in which case
// ?async=true appends are rejected.
func NewHandler(svc *Service, publisher UsagePublisher) *Handler {
	return &Handler{
		svc:       svc,
		publisher: publisher,
		validate:  validator.New(),
	}
}

// Append stores an event. With ?async=true the event is published to NATS instead
// and appended by the ingestion consumer.
func (h *Handler) Append(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.publish(w, r, req)
		return
	}

	e, err := h.svc.Append(r.Context(), req, SourceHTTP)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusCreated, e)
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request, req AppendRequest) {
	if h.publisher == nil {
		api.HandleError(w, api.NewValidationError("asynchronous ingestion is not enabled"))
		return
	}

	msg := inats.UsageMessage{
		MessageID:      uuid.NewString(),
		UserID:         req.UserID,
		Model:          req.Model,
		InputTokens:    req.InputTokens,
		OutputTokens:   req.OutputTokens,
		ResponseCode:   req.ResponseCode,
		AdditionalInfo: req.AdditionalInfo,
	}
	if req.Timestamp != nil {
		msg.Timestamp = req.Timestamp.UTC()
	} else {
		msg.Timestamp = time.Now().UTC()
	}

	if err := h.publisher.PublishUsage(r.Context(), msg); err != nil {
		api.HandleError(w, apperr.Unavailable("publishing usage event", err))
		return
	}

	api.JSON(w, http.StatusAccepted, map[string]string{"message_id": msg.MessageID})
}

// List returns a page of a user's events.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		api.HandleError(w, api.NewValidationError("user_id is required"))
		return
	}

	params, err := parseQueryParams(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	events, err := h.svc.Query(r.Context(), userID, params)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	params = normalizeParams(params)
	api.JSONPaginated(w, http.StatusOK, events, len(events), params.Limit, params.Skip)
}

// Models returns the distinct models a user has events for.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		api.HandleError(w, api.NewValidationError("user_id is required"))
		return
	}

	models, err := h.svc.DistinctModels(r.Context(), userID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, models)
}

func parseQueryParams(r *http.Request) (QueryParams, error) {
	q := r.URL.Query()
	params := DefaultQueryParams()
	params.Model = q.Get("model")

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			return params, api.NewValidationError("limit must be a positive integer")
		}
		params.Limit = limit
	}
	if s := q.Get("skip"); s != "" {
		skip, err := strconv.Atoi(s)
		if err != nil || skip < 0 {
			return params, api.NewValidationError("skip must be a non-negative integer")
		}
		params.Skip = skip
	}

	switch q.Get("sort") {
	case "", "timestamp:desc":
		params.Order = OrderDesc
	case "timestamp:asc":
		params.Order = OrderAsc
	default:
		return params, api.NewValidationError("sort must be timestamp:asc or timestamp:desc")
	}
	return params, nil
}
