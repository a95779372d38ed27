package rest

import (
	"net/http"

	"libcirc/internal/transport/auth"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) submitPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	req, err := ValidateSubmitPaymentRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	p, err := h.payments.SubmitPayment(r.Context(), userID, req.LoanIDs, req.Method, req.Proof)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	SuccessCreated(w, "payment submitted", p)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	payments, err := h.payments.ListUserPayments(r.Context(), userID)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "payments", payments)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	paymentID, err := parseIDParam(chi.URLParam(r, "payment_id"), "payment_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	p, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}
	if p.UserID != userID && !auth.IsAdmin(r.Context()) {
		ErrorNotFound(w, "payment not found")
		return
	}

	Success(w, "payment", p)
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		ErrorForbidden(w, "admin only")
		return
	}

	paymentID, err := parseIDParam(chi.URLParam(r, "payment_id"), "payment_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	approve, err := ValidateVerifyPaymentRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	p, err := h.payments.VerifyPayment(r.Context(), paymentID, approve)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "payment verified", p)
}
