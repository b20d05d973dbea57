package governance

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tokenmeter/tokenmeter/internal/api"
	"github.com/tokenmeter/tokenmeter/internal/governance/quota"
)

// Handler provides HTTP handlers for usage ledger endpoints.
type Handler struct {
	quotaSvc *quota.Service
	validate *validator.Validate
}

// NewHandler creates a new governance Handler.
func NewHandler(quotaSvc *quota.Service) *Handler {
	return &Handler{
		quotaSvc: quotaSvc,
		validate: validator.New(),
	}
}

// OpenAccount creates the ledger entry for a user. The body is optional.
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req quota.OpenAccountRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	rec, err := h.quotaSvc.OpenAccount(r.Context(), chi.URLParam(r, "userID"), req.Subscription)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusCreated, rec)
}

// GetUsage returns the user's cumulative counters and plan.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	rec, err := h.quotaSvc.GetUsage(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, rec)
}

// UpdateUsage runs quota enforcement and applies the increment.
func (h *Handler) UpdateUsage(w http.ResponseWriter, r *http.Request) {
	var req quota.UsageUpdate
	if !h.decode(w, r, &req, true) {
		return
	}

	rec, err := h.quotaSvc.Apply(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, rec)
}

// GetStatus returns counters, limits and remaining headroom.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.quotaSvc.Status(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

// Reconcile compares ledger counters with event log totals.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.quotaSvc.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, rec)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			api.HandleError(w, api.ErrBadRequest)
			return false
		}
	}

	if err := h.validate.Struct(dst); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return false
	}
	return true
}
