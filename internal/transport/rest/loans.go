package rest

import (
	"net/http"

	"libcirc/internal/domain"
	"libcirc/internal/transport/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) createLoan(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	bookID, err := ValidateCreateLoanRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	l, err := h.loans.RequestLoan(r.Context(), userID, bookID)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	SuccessCreated(w, "loan requested", l)
}

func (h *Handler) listLoans(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	// Admins may list another user's loans via ?user_id=.
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		if !auth.IsAdmin(r.Context()) {
			ErrorForbidden(w, "admin only")
			return
		}
		parsed, err := uuid.Parse(raw)
		if err != nil {
			ErrorBadRequest(w, "user_id must be a UUID")
			return
		}
		userID = parsed
	}

	loans, err := h.loans.ListUserLoans(r.Context(), userID)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "loans", loans)
}

func (h *Handler) getLoan(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	loanID, err := parseIDParam(chi.URLParam(r, "loan_id"), "loan_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	v, err := h.loans.Get(r.Context(), loanID)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}
	if v.UserID != userID && !auth.IsAdmin(r.Context()) {
		// Hide other users' loans rather than confirming they exist.
		ErrorNotFound(w, "loan not found")
		return
	}

	Success(w, "loan", v)
}

func (h *Handler) approveLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.adminLoanID(w, r)
	if !ok {
		return
	}

	l, err := h.loans.Approve(r.Context(), loanID)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "loan approved", l)
}

func (h *Handler) rejectLoan(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.adminLoanID(w, r)
	if !ok {
		return
	}

	if err := h.loans.Reject(r.Context(), loanID); err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "loan rejected", nil)
}

func (h *Handler) scanPickupCode(w http.ResponseWriter, r *http.Request) {
	if !auth.IsAdmin(r.Context()) {
		ErrorForbidden(w, "admin only")
		return
	}

	code, err := ValidateScanRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	l, err := h.loans.ScanPickupCode(r.Context(), code)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "pickup confirmed", l)
}

func (h *Handler) submitReturnProof(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	loanID, err := parseIDParam(chi.URLParam(r, "loan_id"), "loan_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	req, err := ValidateReturnProofRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	proof := domain.ProofRef{
		Ref:       req.ProofRef,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}
	if err := h.loans.SubmitReturnProof(r.Context(), userID, loanID, proof); err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "return proof submitted", nil)
}

func (h *Handler) processReturn(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.adminLoanID(w, r)
	if !ok {
		return
	}

	manualFine, err := ValidateProcessReturnRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	breakdown, err := h.loans.ProcessReturn(r.Context(), loanID, manualFine)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "return processed", breakdown)
}

func (h *Handler) rejectReturn(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.adminLoanID(w, r)
	if !ok {
		return
	}

	if err := h.loans.RejectReturn(r.Context(), loanID); err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "return rejected", nil)
}

func (h *Handler) extendLoan(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return
	}

	loanID, err := parseIDParam(chi.URLParam(r, "loan_id"), "loan_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	l, err := h.loans.Extend(r.Context(), userID, loanID)
	if err != nil {
		ErrorFromDomain(w, err)
		return
	}

	Success(w, "loan extended", l)
}

func (h *Handler) adminLoanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if !auth.IsAdmin(r.Context()) {
		ErrorForbidden(w, "admin only")
		return uuid.Nil, false
	}
	loanID, err := parseIDParam(chi.URLParam(r, "loan_id"), "loan_id")
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return uuid.Nil, false
	}
	return loanID, true
}
