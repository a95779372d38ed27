package service

import (
	"context"
	"fmt"
	"time"

	"libcirc/internal/domain"

	"github.com/google/uuid"
)

type FinePaymentStore interface {
	Submit(ctx context.Context, p *domain.FinePayment) error
	Decide(ctx context.Context, paymentID uuid.UUID, approve bool, at time.Time) (*domain.FinePayment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FinePayment, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.FinePayment, error)
}

type LoanBatchStore interface {
	GetBatch(ctx context.Context, ids []uuid.UUID) ([]domain.Loan, error)
}

// PaymentService owns FinePayment.status and, through the store, the loans'
// fine settlement status. Pending verifications never time out; only an
// admin decision moves them.
type PaymentService struct {
	store      FinePaymentStore
	loans      LoanBatchStore
	proofs     ProofChecker
	dispatcher *Dispatcher

	now func() time.Time
}

func NewPaymentService(store FinePaymentStore, loans LoanBatchStore, proofs ProofChecker, dispatcher *Dispatcher) *PaymentService {
	return &PaymentService{
		store:      store,
		loans:      loans,
		proofs:     proofs,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// SubmitPayment opens one settlement attempt covering the whole batch. The
// amount is the sum of the covered loans' outstanding fines; callers do not
// get to name their own price.
func (s *PaymentService) SubmitPayment(ctx context.Context, userID uuid.UUID, loanIDs []uuid.UUID, method domain.PaymentMethod, proof *domain.ProofRef) (*domain.FinePayment, error) {
	if len(loanIDs) == 0 {
		return nil, fmt.Errorf("no loans referenced: %w", domain.ErrNotEligible)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("unknown payment method %q: %w", method, domain.ErrNotEligible)
	}

	if method != domain.MethodCash {
		if proof == nil || proof.Ref == "" {
			return nil, domain.ErrProofRequired
		}
		ok, err := s.proofs.Exists(ctx, proof.Ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("payment proof %q not in storage: %w", proof.Ref, domain.ErrProofRequired)
		}
	}

	loanIDs = dedupe(loanIDs)

	loans, err := s.loans.GetBatch(ctx, loanIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Loan, len(loans))
	for i := range loans {
		byID[loans[i].ID] = &loans[i]
	}

	var amount int64
	for _, id := range loanIDs {
		l, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("loan %s: %w", id, domain.ErrNotFound)
		}
		if l.UserID != userID {
			return nil, fmt.Errorf("loan %s: %w", id, domain.ErrNotEligible)
		}
		if l.FinePaymentStatus == domain.FinePendingVerification {
			return nil, fmt.Errorf("loan %s: %w", id, domain.ErrPaymentAlreadyPending)
		}
		if l.Status != domain.LoanReturned || l.FinePaymentStatus != domain.FineAwaitingProof {
			return nil, fmt.Errorf("loan %s: %w", id, domain.ErrNotEligible)
		}
		amount += l.TotalFine
	}

	p := &domain.FinePayment{
		ID:          uuid.New(),
		UserID:      userID,
		LoanIDs:     loanIDs,
		Method:      method,
		Amount:      amount,
		ProofRef:    proof,
		Status:      domain.PaymentPending,
		SubmittedAt: s.now(),
	}

	// The store flips every loan awaiting_proof -> pending_verification in
	// one transaction; losing that race to a concurrent submission comes
	// back as ErrPaymentAlreadyPending.
	if err := s.store.Submit(ctx, p); err != nil {
		return nil, err
	}

	s.dispatcher.Poke(ctx)
	return p, nil
}

// VerifyPayment applies the admin verdict for a pending payment. Approval
// marks every covered loan paid; rejection reopens them for resubmission.
func (s *PaymentService) VerifyPayment(ctx context.Context, paymentID uuid.UUID, approve bool) (*domain.FinePayment, error) {
	p, err := s.store.Decide(ctx, paymentID, approve, s.now())
	if err != nil {
		return nil, err
	}

	s.dispatcher.Poke(ctx)
	return p, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*domain.FinePayment, error) {
	return s.store.GetByID(ctx, id)
}

func (s *PaymentService) ListUserPayments(ctx context.Context, userID uuid.UUID) ([]domain.FinePayment, error) {
	return s.store.ListByUser(ctx, userID)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
