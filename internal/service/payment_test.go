package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"libcirc/internal/domain"

	"github.com/google/uuid"
)

func (s *fakeLoanStore) GetBatch(ctx context.Context, ids []uuid.UUID) ([]domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Loan
	for _, id := range ids {
		if l, ok := s.loans[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

// fakePaymentStore reproduces the repository's all-or-nothing batch flip over
// the shared in-memory loan store.
type fakePaymentStore struct {
	loans    *fakeLoanStore
	payments map[uuid.UUID]*domain.FinePayment
}

func newFakePaymentStore(loans *fakeLoanStore) *fakePaymentStore {
	return &fakePaymentStore{loans: loans, payments: make(map[uuid.UUID]*domain.FinePayment)}
}

func (s *fakePaymentStore) Submit(ctx context.Context, p *domain.FinePayment) error {
	s.loans.mu.Lock()
	defer s.loans.mu.Unlock()

	for _, id := range p.LoanIDs {
		l, ok := s.loans.loans[id]
		if !ok {
			return fmt.Errorf("loan %s: %w", id, domain.ErrNotFound)
		}
		if l.FinePaymentStatus == domain.FinePendingVerification {
			return fmt.Errorf("loan %s: %w", id, domain.ErrPaymentAlreadyPending)
		}
		if l.UserID != p.UserID || l.Status != domain.LoanReturned || l.FinePaymentStatus != domain.FineAwaitingProof {
			return fmt.Errorf("loan %s: %w", id, domain.ErrNotEligible)
		}
	}

	for _, id := range p.LoanIDs {
		s.loans.loans[id].FinePaymentStatus = domain.FinePendingVerification
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *fakePaymentStore) Decide(ctx context.Context, paymentID uuid.UUID, approve bool, at time.Time) (*domain.FinePayment, error) {
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Status != domain.PaymentPending {
		return nil, fmt.Errorf("payment %s already decided: %w", paymentID, domain.ErrInvalidState)
	}

	loanFineStatus := domain.FineAwaitingProof
	p.Status = domain.PaymentRejected
	if approve {
		p.Status = domain.PaymentApproved
		loanFineStatus = domain.FinePaid
	}
	p.DecidedAt = &at

	s.loans.mu.Lock()
	for _, id := range p.LoanIDs {
		if l, ok := s.loans.loans[id]; ok {
			l.FinePaymentStatus = loanFineStatus
		}
	}
	s.loans.mu.Unlock()

	cp := *p
	return &cp, nil
}

func (s *fakePaymentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.FinePayment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakePaymentStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.FinePayment, error) {
	var out []domain.FinePayment
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func returnedLoan(userID uuid.UUID, fine int64) *domain.Loan {
	return &domain.Loan{
		ID:                uuid.New(),
		BookID:            uuid.New(),
		UserID:            userID,
		Status:            domain.LoanReturned,
		TotalFine:         fine,
		FinePaymentStatus: domain.FineAwaitingProof,
	}
}

func newTestPaymentService(loans *fakeLoanStore) (*PaymentService, *fakePaymentStore) {
	store := newFakePaymentStore(loans)
	svc := NewPaymentService(store, loans, &fakeProofs{refs: map[string]bool{"proof-1": true}}, nil)
	return svc, store
}

func TestSubmitPaymentComputesAmount(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l1 := returnedLoan(userID, 5000)
	l2 := returnedLoan(userID, 7000)
	loans.put(l1)
	loans.put(l2)
	svc, _ := newTestPaymentService(loans)

	p, err := svc.SubmitPayment(context.Background(), userID,
		[]uuid.UUID{l1.ID, l2.ID}, domain.MethodBank, &domain.ProofRef{Ref: "proof-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if p.Amount != 12000 {
		t.Fatalf("expected amount 12000; got %d", p.Amount)
	}
	if p.Status != domain.PaymentPending {
		t.Fatalf("expected pending; got %s", p.Status)
	}
	for _, id := range []uuid.UUID{l1.ID, l2.ID} {
		if got := loans.get(id); got.FinePaymentStatus != domain.FinePendingVerification {
			t.Fatalf("loan %s expected pending_verification; got %s", id, got.FinePaymentStatus)
		}
	}
}

func TestSubmitPaymentProofRequiredForBank(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := returnedLoan(userID, 5000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	_, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodBank, nil)
	if !errors.Is(err, domain.ErrProofRequired) {
		t.Fatalf("expected ErrProofRequired; got %v", err)
	}

	_, err = svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodBank,
		&domain.ProofRef{Ref: "never-uploaded"})
	if !errors.Is(err, domain.ErrProofRequired) {
		t.Fatalf("expected ErrProofRequired for unknown ref; got %v", err)
	}
}

func TestSubmitPaymentCashNeedsNoProof(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := returnedLoan(userID, 3000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	p, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil)
	if err != nil {
		t.Fatalf("cash submit: %v", err)
	}
	if p.ProofRef != nil {
		t.Fatal("expected no proof on cash payment")
	}
}

func TestSubmitPaymentDuplicateIDsDeduped(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := returnedLoan(userID, 5000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	p, err := svc.SubmitPayment(context.Background(), userID,
		[]uuid.UUID{l.ID, l.ID, l.ID}, domain.MethodCash, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(p.LoanIDs) != 1 {
		t.Fatalf("expected one loan after dedupe; got %d", len(p.LoanIDs))
	}
	if p.Amount != 5000 {
		t.Fatalf("duplicate ids must not double the amount; got %d", p.Amount)
	}
}

func TestSubmitPaymentSecondAttemptRejected(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := returnedLoan(userID, 5000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	if _, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil)
	if !errors.Is(err, domain.ErrPaymentAlreadyPending) {
		t.Fatalf("expected ErrPaymentAlreadyPending; got %v", err)
	}
}

func TestSubmitPaymentNotEligible(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := &domain.Loan{ID: uuid.New(), UserID: userID, Status: domain.LoanPickedUp, FinePaymentStatus: domain.FineNone}
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	_, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil)
	if !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible; got %v", err)
	}
}

func TestSubmitPaymentUnknownLoan(t *testing.T) {
	svc, _ := newTestPaymentService(newFakeLoanStore())
	_, err := svc.SubmitPayment(context.Background(), uuid.New(), []uuid.UUID{uuid.New()}, domain.MethodCash, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
}

func TestSubmitPaymentForeignLoan(t *testing.T) {
	loans := newFakeLoanStore()
	l := returnedLoan(uuid.New(), 5000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	_, err := svc.SubmitPayment(context.Background(), uuid.New(), []uuid.UUID{l.ID}, domain.MethodCash, nil)
	if !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for foreign loan; got %v", err)
	}
}

func TestVerifyPaymentApprove(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := returnedLoan(userID, 5000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	p, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	decided, err := svc.VerifyPayment(context.Background(), p.ID, true)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decided.Status != domain.PaymentApproved {
		t.Fatalf("expected approved; got %s", decided.Status)
	}
	if decided.DecidedAt == nil {
		t.Fatal("expected decided_at set")
	}
	if got := loans.get(l.ID); got.FinePaymentStatus != domain.FinePaid {
		t.Fatalf("expected paid; got %s", got.FinePaymentStatus)
	}
}

func TestVerifyPaymentRejectReopensLoans(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := returnedLoan(userID, 5000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	p, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	decided, err := svc.VerifyPayment(context.Background(), p.ID, false)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if decided.Status != domain.PaymentRejected {
		t.Fatalf("expected rejected; got %s", decided.Status)
	}
	if got := loans.get(l.ID); got.FinePaymentStatus != domain.FineAwaitingProof {
		t.Fatalf("expected awaiting_proof after rejection; got %s", got.FinePaymentStatus)
	}

	// rejection reopens the loan, so a fresh submission must succeed
	if _, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil); err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
}

func TestVerifyPaymentTwice(t *testing.T) {
	userID := uuid.New()
	loans := newFakeLoanStore()
	l := returnedLoan(userID, 5000)
	loans.put(l)
	svc, _ := newTestPaymentService(loans)

	p, err := svc.SubmitPayment(context.Background(), userID, []uuid.UUID{l.ID}, domain.MethodCash, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.VerifyPayment(context.Background(), p.ID, true); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := svc.VerifyPayment(context.Background(), p.ID, false); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second verdict; got %v", err)
	}
}

func TestSubmitPaymentInvalidMethod(t *testing.T) {
	svc, _ := newTestPaymentService(newFakeLoanStore())
	_, err := svc.SubmitPayment(context.Background(), uuid.New(), []uuid.UUID{uuid.New()}, "crypto", nil)
	if !errors.Is(err, domain.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible for unknown method; got %v", err)
	}
}
