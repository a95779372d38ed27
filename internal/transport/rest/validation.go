package rest

import (
	"encoding/json"
	"net/http"

	"libcirc/internal/domain"

	"github.com/google/uuid"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type CreateLoanRequest struct {
	BookID string `json:"book_id"`
}

func ValidateCreateLoanRequest(r *http.Request) (uuid.UUID, error) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return uuid.Nil, &ValidationError{Field: "body", Message: "invalid JSON"}
	}
	bookID, err := uuid.Parse(req.BookID)
	if err != nil {
		return uuid.Nil, &ValidationError{Field: "book_id", Message: "book_id must be a UUID"}
	}
	return bookID, nil
}

type ScanRequest struct {
	Code string `json:"code"`
}

func ValidateScanRequest(r *http.Request) (string, error) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", &ValidationError{Field: "body", Message: "invalid JSON"}
	}
	if req.Code == "" {
		return "", &ValidationError{Field: "code", Message: "code is required"}
	}
	return req.Code, nil
}

type ReturnProofRequest struct {
	ProofRef  string  `json:"proof_ref"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func ValidateReturnProofRequest(r *http.Request) (*ReturnProofRequest, error) {
	var req ReturnProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &ValidationError{Field: "body", Message: "invalid JSON"}
	}
	if req.ProofRef == "" {
		return nil, &ValidationError{Field: "proof_ref", Message: "proof_ref is required"}
	}
	if req.Latitude < -90 || req.Latitude > 90 {
		return nil, &ValidationError{Field: "latitude", Message: "latitude must be between -90 and 90"}
	}
	if req.Longitude < -180 || req.Longitude > 180 {
		return nil, &ValidationError{Field: "longitude", Message: "longitude must be between -180 and 180"}
	}
	return &req, nil
}

type ProcessReturnRequest struct {
	ManualFine int64 `json:"manual_fine"`
}

func ValidateProcessReturnRequest(r *http.Request) (int64, error) {
	var req ProcessReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, &ValidationError{Field: "body", Message: "invalid JSON"}
	}
	if req.ManualFine < 0 {
		return 0, &ValidationError{Field: "manual_fine", Message: "manual_fine must not be negative"}
	}
	return req.ManualFine, nil
}

type SubmitPaymentRequest struct {
	LoanIDs   []string `json:"loan_ids"`
	Method    string   `json:"method"`
	ProofRef  string   `json:"proof_ref"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
}

type SubmitPayment struct {
	LoanIDs []uuid.UUID
	Method  domain.PaymentMethod
	Proof   *domain.ProofRef
}

func ValidateSubmitPaymentRequest(r *http.Request) (*SubmitPayment, error) {
	var req SubmitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, &ValidationError{Field: "body", Message: "invalid JSON"}
	}
	if len(req.LoanIDs) == 0 {
		return nil, &ValidationError{Field: "loan_ids", Message: "loan_ids is required and must be a non-empty array"}
	}

	out := SubmitPayment{Method: domain.PaymentMethod(req.Method)}
	if !out.Method.Valid() {
		return nil, &ValidationError{Field: "method", Message: "method must be bank, qris or cash"}
	}

	for _, raw := range req.LoanIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, &ValidationError{Field: "loan_ids", Message: "loan_ids must contain UUIDs"}
		}
		out.LoanIDs = append(out.LoanIDs, id)
	}

	if req.ProofRef != "" {
		out.Proof = &domain.ProofRef{
			Ref:       req.ProofRef,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
		}
	}
	return &out, nil
}

type VerifyPaymentRequest struct {
	Approve *bool `json:"approve"`
}

func ValidateVerifyPaymentRequest(r *http.Request) (bool, error) {
	var req VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return false, &ValidationError{Field: "body", Message: "invalid JSON"}
	}
	if req.Approve == nil {
		return false, &ValidationError{Field: "approve", Message: "approve is required"}
	}
	return *req.Approve, nil
}

func parseIDParam(raw string, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ValidationError{Field: field, Message: field + " must be a UUID"}
	}
	return id, nil
}
