package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"libcirc/internal/domain"
)

type APIResponse struct {
	ErrorCode int         `json:"error_code"`
	Status    string      `json:"status"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data"`
}

func Response(w http.ResponseWriter, message string, data interface{}, errorCode int, status string, httpStatus int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	response := APIResponse{
		ErrorCode: errorCode,
		Status:    status,
		Message:   message,
		Data:      data,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("[HTTP] write response error: %v", err)
	}
}

func Success(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusOK)
}

func SuccessCreated(w http.ResponseWriter, message string, data interface{}) {
	Response(w, message, data, 0, "success", http.StatusCreated)
}

func Error(w http.ResponseWriter, message string, errorCode int, httpStatus int) {
	Response(w, message, nil, errorCode, "error", httpStatus)
}

func ErrorBadRequest(w http.ResponseWriter, message string) {
	Error(w, message, 400, http.StatusBadRequest)
}

func ErrorUnauthorized(w http.ResponseWriter, message string) {
	Error(w, message, 401, http.StatusUnauthorized)
}

func ErrorForbidden(w http.ResponseWriter, message string) {
	Error(w, message, 403, http.StatusForbidden)
}

func ErrorNotFound(w http.ResponseWriter, message string) {
	Error(w, message, 404, http.StatusNotFound)
}

func ErrorConflict(w http.ResponseWriter, message string) {
	Error(w, message, 409, http.StatusConflict)
}

func ErrorGone(w http.ResponseWriter, message string) {
	Error(w, message, 410, http.StatusGone)
}

func ErrorUnprocessable(w http.ResponseWriter, message string) {
	Error(w, message, 422, http.StatusUnprocessableEntity)
}

func ErrorInternal(w http.ResponseWriter, message string) {
	Error(w, message, 500, http.StatusInternalServerError)
}

// ErrorFromDomain maps the service error taxonomy onto HTTP statuses. Unknown
// errors are logged server-side and surface as a generic 500.
func ErrorFromDomain(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		ErrorNotFound(w, err.Error())
	case errors.Is(err, domain.ErrCodeNotFound):
		ErrorNotFound(w, err.Error())
	case errors.Is(err, domain.ErrCodeExpired):
		ErrorGone(w, err.Error())
	case errors.Is(err, domain.ErrCodeAlreadyUsed),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrConcurrentConflict),
		errors.Is(err, domain.ErrOutOfStock),
		errors.Is(err, domain.ErrPaymentAlreadyPending),
		errors.Is(err, domain.ErrAlreadyExtended):
		ErrorConflict(w, err.Error())
	case errors.Is(err, domain.ErrProofRequired),
		errors.Is(err, domain.ErrNotEligible),
		errors.Is(err, domain.ErrLoanLimitReached):
		ErrorUnprocessable(w, err.Error())
	default:
		log.Printf("[HTTP] unexpected error: %v", err)
		ErrorInternal(w, "internal error")
	}
}
