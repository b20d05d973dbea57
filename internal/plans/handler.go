package plans

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tokenmeter/tokenmeter/internal/api"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	plan, err := h.svc.Create(r.Context(), req.Definition())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.List(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, plans)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.Get(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if plan == nil {
		api.HandleError(w, api.NewNotFoundError("plan not found"))
		return
	}

	api.JSON(w, http.StatusOK, plan)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	plan, err := h.svc.Update(r.Context(), chi.URLParam(r, "planID"), req.Definition())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if plan == nil {
		api.HandleError(w, api.NewNotFoundError("plan not found"))
		return
	}

	api.JSON(w, http.StatusOK, plan)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.Delete(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if !deleted {
		api.HandleError(w, api.NewNotFoundError("plan not found"))
		return
	}

	api.JSONMessage(w, http.StatusOK, "plan deleted successfully")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*PlanRequest, bool) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return nil, false
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return nil, false
	}
	return &req, true
}
