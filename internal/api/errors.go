package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/tokenmeter/tokenmeter/internal/apperr"
)

type AppError struct {
	Code    int            `json:"-"`
	Kind    apperr.Kind    `json:"code,omitempty"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Kind: apperr.KindValidation, Message: "bad request"}
	ErrUnauthorized   = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrForbidden      = &AppError{Code: http.StatusForbidden, Message: "forbidden"}
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Kind: apperr.KindNotFound, Message: "not found"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
	ErrInvalidToken   = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
)

func NewNotFoundError(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Kind: apperr.KindNotFound, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Kind: apperr.KindValidation, Message: msg}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound, apperr.KindUserNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyExists, apperr.KindValidation, apperr.KindInvalidPlan:
		return http.StatusBadRequest
	case apperr.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.KindNoPlanAssigned, apperr.KindPlanNotFound:
		return http.StatusConflict
	case apperr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes err as a JSON error body. Classified domain errors keep their
// kind, message and details; anything else becomes a 500.
func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		writeError(w, appErr)
		return
	}

	var domainErr *apperr.Error
	if errors.As(err, &domainErr) {
		if domainErr.Kind == apperr.KindStorageUnavailable {
			slog.Error("storage unavailable", "error", err)
			writeError(w, &AppError{
				Code:    http.StatusServiceUnavailable,
				Kind:    domainErr.Kind,
				Message: "storage unavailable: " + domainErr.Message,
			})
			return
		}
		writeError(w, &AppError{
			Code:    StatusFor(domainErr.Kind),
			Kind:    domainErr.Kind,
			Message: domainErr.Message,
			Details: domainErr.Details,
		})
		return
	}

	slog.Error("unhandled error", "error", err)
	writeError(w, ErrInternalServer)
}
