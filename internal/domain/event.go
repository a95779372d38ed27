package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transition names. One durable event row exists per (loan, transition), so
// retried dispatches never duplicate the outbound payload.
const (
	TransitionRequested      = "loan_requested"
	TransitionApproved       = "loan_approved"
	TransitionRejected       = "loan_rejected"
	TransitionPickedUp       = "loan_picked_up"
	TransitionCancelled      = "loan_cancelled"
	TransitionReadyToReturn  = "loan_ready_to_return"
	TransitionReturnRejected = "loan_return_rejected"
	TransitionReturned       = "loan_returned"
	TransitionExtended       = "loan_extended"

	TransitionPaymentSubmitted = "fine_payment_submitted"
	TransitionPaymentApproved  = "fine_payment_approved"
	TransitionPaymentRejected  = "fine_payment_rejected"
)

// TransitionEvent is an outbox row appended in the same transaction as the
// status change it describes. DispatchedAt stays NULL until the dispatcher
// has handed the notification to the gateway at least once.
type TransitionEvent struct {
	ID           int64
	LoanID       uuid.UUID
	UserID       uuid.UUID
	Transition   string
	FromStatus   LoanStatus
	ToStatus     LoanStatus
	Payload      []byte
	OccurredAt   time.Time
	DispatchedAt *time.Time
}
