package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/logger"
)

const codeBadRequest = "bad_request"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps a boundary error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeValidation:
		return http.StatusUnprocessableEntity
	case domain.CodeConflict:
		return http.StatusConflict
	case codeBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	detail := errorDetail{Code: code, Message: err.Error()}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		detail.Field = string(validation.Field)
	}

	status := statusFor(code)
	if status == http.StatusConflict {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), nil).ErrorContext(r.Context(), "request failed", "error", err, "code", code)
		// driver details stay in the log
		detail.Message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Code: codeBadRequest, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Del("Content-Disposition")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
