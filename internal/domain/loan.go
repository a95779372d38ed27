package domain

import (
	"time"

	"github.com/google/uuid"
)

type LoanStatus string

const (
	LoanRequested     LoanStatus = "requested"
	LoanApproved      LoanStatus = "approved"
	LoanPickedUp      LoanStatus = "picked_up"
	LoanReadyToReturn LoanStatus = "ready_to_return"
	LoanReturned      LoanStatus = "returned"
	LoanRejected      LoanStatus = "rejected"
	LoanCancelled     LoanStatus = "cancelled"
)

type FinePaymentStatus string

const (
	FineNone                FinePaymentStatus = "none"
	FineAwaitingProof       FinePaymentStatus = "awaiting_proof"
	FinePendingVerification FinePaymentStatus = "pending_verification"
	FinePaid                FinePaymentStatus = "paid"
	FineRejected            FinePaymentStatus = "rejected"
)

// ProofRef points at an externally stored proof image plus its capture
// metadata. The core only checks existence; it never interprets the image.
type ProofRef struct {
	Ref        string    `json:"ref"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// Loan is one physical copy borrowed by one user. Each timestamp is set
// exactly once by the transition that produces it.
type Loan struct {
	ID     uuid.UUID `json:"id"`
	BookID uuid.UUID `json:"book_id"`
	UserID uuid.UUID `json:"user_id"`

	Status LoanStatus `json:"status"`

	// PickupCode is non-empty iff Status == LoanApproved. A consumed code is
	// retained in UsedPickupCode so later scans can be told apart from codes
	// that never existed.
	PickupCode     string `json:"pickup_code,omitempty"`
	UsedPickupCode string `json:"-"`

	RequestedAt        time.Time  `json:"requested_at"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	PickupDeadline     *time.Time `json:"pickup_deadline,omitempty"`
	BorrowedAt         *time.Time `json:"borrowed_at,omitempty"`
	ExpectedReturnDate *time.Time `json:"expected_return_date,omitempty"`
	ReadyReturnAt      *time.Time `json:"ready_return_at,omitempty"`
	ReturnedAt         *time.Time `json:"returned_at,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`

	Extended bool `json:"extended"`

	ReturnProofRef *ProofRef `json:"return_proof_ref,omitempty"`

	AutoFine   int64 `json:"auto_fine"`
	ManualFine int64 `json:"manual_fine"`
	TotalFine  int64 `json:"total_fine"`

	FinePaymentStatus FinePaymentStatus `json:"fine_payment_status"`
}

// Overdue reports whether the loan is past due while still out. The stored
// status stays picked_up; overdue is always computed from the clock.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Status == LoanPickedUp &&
		l.ExpectedReturnDate != nil &&
		l.ExpectedReturnDate.Before(now)
}

type PaymentMethod string

const (
	MethodBank PaymentMethod = "bank"
	MethodQRIS PaymentMethod = "qris"
	MethodCash PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodBank, MethodQRIS, MethodCash:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// FinePayment is one settlement attempt covering one or more loans of the
// same user. Records are never deleted; they form the audit trail.
type FinePayment struct {
	ID          uuid.UUID     `json:"id"`
	UserID      uuid.UUID     `json:"user_id"`
	LoanIDs     []uuid.UUID   `json:"loan_ids"`
	Method      PaymentMethod `json:"method"`
	Amount      int64         `json:"amount"`
	ProofRef    *ProofRef     `json:"proof_ref,omitempty"`
	Status      PaymentStatus `json:"status"`
	SubmittedAt time.Time     `json:"submitted_at"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty"`
}
