package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/juanfero/rappi-intelligent-ops/internal/domain"
)

// Error codes returned in the error body.
const (
	codeInvalidRequest = "invalid_request"
	codeNotFound       = "not_found"
	codeWarehouse      = "warehouse_error"
	codeInternal       = "internal_error"
)

// errorBody is the JSON error payload. Message is written for the end user;
// Detail carries the specific cause.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var execution *domain.ExecutionError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &execution):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBodyFor(err error) errorBody {
	switch httpStatusFromDomainError(err) {
	case http.StatusBadRequest:
		return errorBody{Code: codeInvalidRequest, Message: "The request could not be understood. Check the parameters and try again.", Detail: err.Error()}
	case http.StatusNotFound:
		return errorBody{Code: codeNotFound, Message: "The requested resource does not exist.", Detail: err.Error()}
	case http.StatusBadGateway:
		return errorBody{Code: codeWarehouse, Message: "The metrics warehouse could not answer right now. Try again or rephrase the question.", Detail: err.Error()}
	default:
		return errorBody{Code: codeInternal, Message: "Something went wrong while processing the request.", Detail: err.Error()}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBodyFor(err))
}
