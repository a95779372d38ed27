package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"libcirc/internal/domain"

	"github.com/google/uuid"
)

// fakeLoanStore mimics the repository's compare-and-swap semantics in memory:
// every transition checks the stored status first and reports a conflict on
// mismatch, exactly as the SQL CAS would.
type fakeLoanStore struct {
	mu    sync.Mutex
	loans map[uuid.UUID]*domain.Loan
}

func newFakeLoanStore() *fakeLoanStore {
	return &fakeLoanStore{loans: make(map[uuid.UUID]*domain.Loan)}
}

func (s *fakeLoanStore) put(l *domain.Loan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *l
	s.loans[l.ID] = &cp
}

func (s *fakeLoanStore) get(id uuid.UUID) *domain.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.loans[id]; ok {
		cp := *l
		return &cp
	}
	return nil
}

func (s *fakeLoanStore) Create(ctx context.Context, l *domain.Loan) error {
	s.put(l)
	return nil
}

func (s *fakeLoanStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	if l := s.get(id); l != nil {
		return l, nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeLoanStore) GetByPickupCode(ctx context.Context, code string) (*domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loans {
		if l.PickupCode == code && code != "" {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeLoanStore) GetByUsedPickupCode(ctx context.Context, code string) (*domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.loans {
		if l.UsedPickupCode == code && code != "" {
			cp := *l
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeLoanStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Loan
	for _, l := range s.loans {
		if l.UserID == userID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *fakeLoanStore) ListAll(ctx context.Context) ([]domain.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Loan
	for _, l := range s.loans {
		out = append(out, *l)
	}
	return out, nil
}

func (s *fakeLoanStore) CountActiveByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.loans {
		if l.UserID != userID {
			continue
		}
		switch l.Status {
		case domain.LoanRequested, domain.LoanApproved, domain.LoanPickedUp, domain.LoanReadyToReturn:
			n++
		}
	}
	return n, nil
}

func (s *fakeLoanStore) cas(id uuid.UUID, from domain.LoanStatus, mutate func(*domain.Loan)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loans[id]
	if !ok || l.Status != from {
		return fmt.Errorf("loan %s: %w", id, domain.ErrConcurrentConflict)
	}
	mutate(l)
	return nil
}

func (s *fakeLoanStore) Approve(ctx context.Context, l *domain.Loan, code string, at, deadline time.Time) error {
	return s.cas(l.ID, domain.LoanRequested, func(l *domain.Loan) {
		l.Status = domain.LoanApproved
		l.PickupCode = code
		l.ApprovedAt = &at
		l.PickupDeadline = &deadline
	})
}

func (s *fakeLoanStore) Reject(ctx context.Context, l *domain.Loan, at time.Time) error {
	return s.cas(l.ID, domain.LoanRequested, func(l *domain.Loan) {
		l.Status = domain.LoanRejected
		l.RejectedAt = &at
	})
}

func (s *fakeLoanStore) ConsumePickupCode(ctx context.Context, l *domain.Loan, at, expectedReturn time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// like the SQL CAS, the update also matches on the pickup code: a code
	// rotated or consumed since the read must lose
	stored, ok := s.loans[l.ID]
	if !ok || stored.Status != domain.LoanApproved || stored.PickupCode != l.PickupCode {
		return fmt.Errorf("loan %s pickup: %w", l.ID, domain.ErrConcurrentConflict)
	}
	stored.Status = domain.LoanPickedUp
	stored.UsedPickupCode = stored.PickupCode
	stored.PickupCode = ""
	stored.BorrowedAt = &at
	stored.ExpectedReturnDate = &expectedReturn
	return nil
}

func (s *fakeLoanStore) Cancel(ctx context.Context, l *domain.Loan, at time.Time) error {
	return s.cas(l.ID, domain.LoanApproved, func(l *domain.Loan) {
		l.Status = domain.LoanCancelled
		l.PickupCode = ""
	})
}

func (s *fakeLoanStore) MarkReadyToReturn(ctx context.Context, l *domain.Loan, proof *domain.ProofRef, at time.Time) error {
	return s.cas(l.ID, domain.LoanPickedUp, func(l *domain.Loan) {
		l.Status = domain.LoanReadyToReturn
		l.ReadyReturnAt = &at
		l.ReturnProofRef = proof
	})
}

func (s *fakeLoanStore) RejectReturn(ctx context.Context, l *domain.Loan, at time.Time) error {
	return s.cas(l.ID, domain.LoanReadyToReturn, func(l *domain.Loan) {
		l.Status = domain.LoanPickedUp
		l.ReadyReturnAt = nil
		l.ReturnProofRef = nil
	})
}

func (s *fakeLoanStore) ProcessReturn(ctx context.Context, l *domain.Loan, auto, manual, total int64, fineStatus domain.FinePaymentStatus, at time.Time) error {
	return s.cas(l.ID, domain.LoanReadyToReturn, func(l *domain.Loan) {
		l.Status = domain.LoanReturned
		l.ReturnedAt = &at
		l.AutoFine = auto
		l.ManualFine = manual
		l.TotalFine = total
		l.FinePaymentStatus = fineStatus
	})
}

func (s *fakeLoanStore) Extend(ctx context.Context, l *domain.Loan, newExpected, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.loans[l.ID]
	if !ok || stored.Status != domain.LoanPickedUp || stored.Extended {
		return fmt.Errorf("loan %s extend: %w", l.ID, domain.ErrConcurrentConflict)
	}
	stored.Extended = true
	stored.ExpectedReturnDate = &newExpected
	return nil
}

type fakeCatalog struct {
	mu      sync.Mutex
	stock   map[uuid.UUID]int
	failAll bool
	calls   []int
}

func newFakeCatalog(initial int, books ...uuid.UUID) *fakeCatalog {
	c := &fakeCatalog{stock: make(map[uuid.UUID]int)}
	for _, b := range books {
		c.stock[b] = initial
	}
	return c
}

func (c *fakeCatalog) AdjustStock(ctx context.Context, bookID uuid.UUID, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errors.New("catalog unavailable")
	}
	if c.stock[bookID]+delta < 0 {
		return domain.ErrOutOfStock
	}
	c.stock[bookID] += delta
	c.calls = append(c.calls, delta)
	return nil
}

type fakeIssuer struct {
	mu sync.Mutex
	n  int
}

func (i *fakeIssuer) Issue() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
	return fmt.Sprintf("code-%04d", i.n), nil
}

type fakeProofs struct {
	refs map[string]bool
}

func (p *fakeProofs) Exists(ctx context.Context, ref string) (bool, error) {
	return p.refs[ref], nil
}

type fakeReleaseQueue struct {
	mu      sync.Mutex
	entries []uuid.UUID
}

func (q *fakeReleaseQueue) Enqueue(ctx context.Context, bookID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, bookID)
	return nil
}

func testLoanConfig() LoanConfig {
	return LoanConfig{
		LoanPeriod:     7 * 24 * time.Hour,
		PickupCodeTTL:  24 * time.Hour,
		FineDailyRate:  2000,
		MaxActiveLoans: 3,
	}
}

func newTestLoanService(store *fakeLoanStore, catalog *fakeCatalog, at time.Time) *LoanService {
	svc := NewLoanService(store, catalog, &fakeIssuer{}, &fakeProofs{refs: map[string]bool{"proof-1": true}}, nil, &fakeReleaseQueue{}, testLoanConfig())
	svc.now = func() time.Time { return at }
	return svc
}

func TestRequestLoanReservesStock(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	catalog := newFakeCatalog(2, bookID)
	svc := newTestLoanService(store, catalog, time.Now())

	l, err := svc.RequestLoan(context.Background(), userID, bookID)
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if l.Status != domain.LoanRequested {
		t.Fatalf("expected requested; got %s", l.Status)
	}
	if got := catalog.stock[bookID]; got != 1 {
		t.Fatalf("expected stock 1 after reservation; got %d", got)
	}
}

func TestRequestLoanOutOfStock(t *testing.T) {
	bookID := uuid.New()
	store := newFakeLoanStore()
	catalog := newFakeCatalog(0, bookID)
	svc := newTestLoanService(store, catalog, time.Now())

	_, err := svc.RequestLoan(context.Background(), uuid.New(), bookID)
	if !errors.Is(err, domain.ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock; got %v", err)
	}
}

func TestRequestLoanLimitReached(t *testing.T) {
	userID := uuid.New()
	bookID := uuid.New()
	store := newFakeLoanStore()
	for i := 0; i < 3; i++ {
		store.put(&domain.Loan{ID: uuid.New(), UserID: userID, BookID: uuid.New(), Status: domain.LoanPickedUp})
	}
	catalog := newFakeCatalog(5, bookID)
	svc := newTestLoanService(store, catalog, time.Now())

	_, err := svc.RequestLoan(context.Background(), userID, bookID)
	if !errors.Is(err, domain.ErrLoanLimitReached) {
		t.Fatalf("expected ErrLoanLimitReached; got %v", err)
	}
	if got := catalog.stock[bookID]; got != 5 {
		t.Fatalf("stock must be untouched when the limit blocks the request; got %d", got)
	}
}

func TestApproveIssuesCodeAndDeadline(t *testing.T) {
	bookID := uuid.New()
	store := newFakeLoanStore()
	catalog := newFakeCatalog(1, bookID)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, catalog, now)

	l, err := svc.RequestLoan(context.Background(), uuid.New(), bookID)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	approved, err := svc.Approve(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.PickupCode == "" {
		t.Fatal("expected a pickup code")
	}
	wantDeadline := now.Add(24 * time.Hour)
	if !approved.PickupDeadline.Equal(wantDeadline) {
		t.Fatalf("expected deadline %v; got %v", wantDeadline, approved.PickupDeadline)
	}
}

func TestApproveWrongState(t *testing.T) {
	store := newFakeLoanStore()
	l := &domain.Loan{ID: uuid.New(), UserID: uuid.New(), Status: domain.LoanReturned}
	store.put(l)
	svc := newTestLoanService(store, newFakeCatalog(0), time.Now())

	if _, err := svc.Approve(context.Background(), l.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState; got %v", err)
	}
}

func TestScanPickupCodeHappyPath(t *testing.T) {
	bookID := uuid.New()
	store := newFakeLoanStore()
	catalog := newFakeCatalog(1, bookID)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, catalog, now)

	l, _ := svc.RequestLoan(context.Background(), uuid.New(), bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)

	picked, err := svc.ScanPickupCode(context.Background(), approved.PickupCode)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if picked.Status != domain.LoanPickedUp {
		t.Fatalf("expected picked_up; got %s", picked.Status)
	}
	wantReturn := now.Add(7 * 24 * time.Hour)
	if !picked.ExpectedReturnDate.Equal(wantReturn) {
		t.Fatalf("expected return date %v; got %v", wantReturn, picked.ExpectedReturnDate)
	}
}

func TestScanPickupCodeSecondScanAlreadyUsed(t *testing.T) {
	bookID := uuid.New()
	store := newFakeLoanStore()
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), time.Now())

	l, _ := svc.RequestLoan(context.Background(), uuid.New(), bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)

	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	_, err := svc.ScanPickupCode(context.Background(), approved.PickupCode)
	if !errors.Is(err, domain.ErrCodeAlreadyUsed) {
		t.Fatalf("expected ErrCodeAlreadyUsed; got %v", err)
	}
}

func TestScanPickupCodeUnknown(t *testing.T) {
	svc := newTestLoanService(newFakeLoanStore(), newFakeCatalog(0), time.Now())
	_, err := svc.ScanPickupCode(context.Background(), "no-such-code")
	if !errors.Is(err, domain.ErrCodeNotFound) {
		t.Fatalf("expected ErrCodeNotFound; got %v", err)
	}
}

func TestScanPickupCodeExpiredLeavesLoanAlone(t *testing.T) {
	bookID := uuid.New()
	store := newFakeLoanStore()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), now)

	l, _ := svc.RequestLoan(context.Background(), uuid.New(), bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)

	svc.now = func() time.Time { return now.Add(25 * time.Hour) }
	_, err := svc.ScanPickupCode(context.Background(), approved.PickupCode)
	if !errors.Is(err, domain.ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired; got %v", err)
	}
	// Cancellation belongs to the expiry sweep, not the scan path.
	if got := store.get(l.ID); got.Status != domain.LoanApproved {
		t.Fatalf("expected loan still approved; got %s", got.Status)
	}
}

func TestConsumePickupCodeStaleCodeLoses(t *testing.T) {
	store := newFakeLoanStore()
	l := &domain.Loan{ID: uuid.New(), UserID: uuid.New(), Status: domain.LoanApproved, PickupCode: "code-0001"}
	store.put(l)

	stale := *l
	stale.PickupCode = "code-9999"
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	err := store.ConsumePickupCode(context.Background(), &stale, now, now.Add(7*24*time.Hour))
	if !errors.Is(err, domain.ErrConcurrentConflict) {
		t.Fatalf("expected ErrConcurrentConflict; got %v", err)
	}
	if got := store.get(l.ID); got.Status != domain.LoanApproved || got.PickupCode != "code-0001" {
		t.Fatalf("loan must be untouched after a stale consume; got status=%s code=%q", got.Status, got.PickupCode)
	}
}

func TestExpireApprovalRestoresStock(t *testing.T) {
	bookID := uuid.New()
	store := newFakeLoanStore()
	catalog := newFakeCatalog(1, bookID)
	svc := newTestLoanService(store, catalog, time.Now())

	l, _ := svc.RequestLoan(context.Background(), uuid.New(), bookID)
	if _, err := svc.Approve(context.Background(), l.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if err := svc.ExpireApproval(context.Background(), store.get(l.ID)); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got := store.get(l.ID); got.Status != domain.LoanCancelled {
		t.Fatalf("expected cancelled; got %s", got.Status)
	}
	if got := catalog.stock[bookID]; got != 1 {
		t.Fatalf("expected stock restored to 1; got %d", got)
	}
}

func TestExpireApprovalConflictWhenPickedUp(t *testing.T) {
	bookID := uuid.New()
	store := newFakeLoanStore()
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), time.Now())

	l, _ := svc.RequestLoan(context.Background(), uuid.New(), bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	stale := store.get(l.ID)

	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}

	err := svc.ExpireApproval(context.Background(), stale)
	if !errors.Is(err, domain.ErrConcurrentConflict) {
		t.Fatalf("expected ErrConcurrentConflict; got %v", err)
	}
}

func TestSubmitReturnProofOwnershipAndStorage(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), time.Now())

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// another user's loan must look like it does not exist
	err := svc.SubmitReturnProof(context.Background(), uuid.New(), l.ID, domain.ProofRef{Ref: "proof-1"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign user; got %v", err)
	}

	err = svc.SubmitReturnProof(context.Background(), userID, l.ID, domain.ProofRef{Ref: "missing"})
	if !errors.Is(err, domain.ErrProofRequired) {
		t.Fatalf("expected ErrProofRequired for missing ref; got %v", err)
	}

	if err := svc.SubmitReturnProof(context.Background(), userID, l.ID, domain.ProofRef{Ref: "proof-1"}); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if got := store.get(l.ID); got.Status != domain.LoanReadyToReturn {
		t.Fatalf("expected ready_to_return; got %s", got.Status)
	}
}

func TestProcessReturnOnTimeNoFine(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	catalog := newFakeCatalog(1, bookID)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, catalog, now)

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := svc.SubmitReturnProof(context.Background(), userID, l.ID, domain.ProofRef{Ref: "proof-1"}); err != nil {
		t.Fatalf("proof: %v", err)
	}

	breakdown, err := svc.ProcessReturn(context.Background(), l.ID, 0)
	if err != nil {
		t.Fatalf("process return: %v", err)
	}
	if breakdown.TotalFine != 0 {
		t.Fatalf("expected zero fine; got %d", breakdown.TotalFine)
	}
	got := store.get(l.ID)
	if got.Status != domain.LoanReturned || got.FinePaymentStatus != domain.FineNone {
		t.Fatalf("expected returned/none; got %s/%s", got.Status, got.FinePaymentStatus)
	}
	if catalog.stock[bookID] != 1 {
		t.Fatalf("expected stock back to 1; got %d", catalog.stock[bookID])
	}
}

func TestProcessReturnLateFine(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	now := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), now)

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}

	// proof arrives three calendar days after the due date, at 02:00
	due := store.get(l.ID).ExpectedReturnDate
	svc.now = func() time.Time {
		return time.Date(due.Year(), due.Month(), due.Day()+3, 2, 0, 0, 0, time.UTC)
	}
	if err := svc.SubmitReturnProof(context.Background(), userID, l.ID, domain.ProofRef{Ref: "proof-1"}); err != nil {
		t.Fatalf("proof: %v", err)
	}

	breakdown, err := svc.ProcessReturn(context.Background(), l.ID, 1000)
	if err != nil {
		t.Fatalf("process return: %v", err)
	}
	if breakdown.AutoFine != 3*2000 {
		t.Fatalf("expected auto fine 6000; got %d", breakdown.AutoFine)
	}
	if breakdown.TotalFine != 3*2000+1000 {
		t.Fatalf("expected total 7000; got %d", breakdown.TotalFine)
	}
	if got := store.get(l.ID); got.FinePaymentStatus != domain.FineAwaitingProof {
		t.Fatalf("expected awaiting_proof; got %s", got.FinePaymentStatus)
	}
}

func TestRejectReturnReopensLoan(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), time.Now())

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := svc.SubmitReturnProof(context.Background(), userID, l.ID, domain.ProofRef{Ref: "proof-1"}); err != nil {
		t.Fatalf("proof: %v", err)
	}

	if err := svc.RejectReturn(context.Background(), l.ID); err != nil {
		t.Fatalf("reject return: %v", err)
	}
	got := store.get(l.ID)
	if got.Status != domain.LoanPickedUp {
		t.Fatalf("expected picked_up again; got %s", got.Status)
	}
	if got.ReturnProofRef != nil {
		t.Fatal("expected proof cleared after rejection")
	}
}

func TestExtendOncePerLoan(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), now)

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}
	firstDue := *store.get(l.ID).ExpectedReturnDate

	extended, err := svc.Extend(context.Background(), userID, l.ID)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !extended.ExpectedReturnDate.Equal(firstDue.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected due pushed one period; got %v", extended.ExpectedReturnDate)
	}

	if _, err := svc.Extend(context.Background(), userID, l.ID); !errors.Is(err, domain.ErrAlreadyExtended) {
		t.Fatalf("expected ErrAlreadyExtended; got %v", err)
	}
}

func TestExtendBlockedWhenOverdue(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), now)

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}

	svc.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	if _, err := svc.Extend(context.Background(), userID, l.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for overdue extend; got %v", err)
	}
}

func TestViewReportsOverdueEstimate(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestLoanService(store, newFakeCatalog(1, bookID), now)

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	approved, _ := svc.Approve(context.Background(), l.ID)
	if _, err := svc.ScanPickupCode(context.Background(), approved.PickupCode); err != nil {
		t.Fatalf("scan: %v", err)
	}

	svc.now = func() time.Time { return now.Add(9 * 24 * time.Hour) }
	v, err := svc.Get(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !v.Overdue {
		t.Fatal("expected overdue view")
	}
	if v.EstimatedFine != 2*2000 {
		t.Fatalf("expected estimate 4000 for two days late; got %d", v.EstimatedFine)
	}
	// the stored record never flips to an overdue status
	if v.Status != domain.LoanPickedUp {
		t.Fatalf("expected stored status picked_up; got %s", v.Status)
	}
}

func TestReleaseStockQueuedOnCatalogFailure(t *testing.T) {
	bookID := uuid.New()
	userID := uuid.New()
	store := newFakeLoanStore()
	catalog := newFakeCatalog(1, bookID)
	queue := &fakeReleaseQueue{}
	svc := NewLoanService(store, catalog, &fakeIssuer{}, &fakeProofs{refs: map[string]bool{"proof-1": true}}, nil, queue, testLoanConfig())
	svc.now = time.Now

	l, _ := svc.RequestLoan(context.Background(), userID, bookID)
	if _, err := svc.Approve(context.Background(), l.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	catalog.mu.Lock()
	catalog.failAll = true
	catalog.mu.Unlock()

	if err := svc.ExpireApproval(context.Background(), store.get(l.ID)); err != nil {
		t.Fatalf("expire: %v", err)
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	if len(queue.entries) != 1 || queue.entries[0] != bookID {
		t.Fatalf("expected one queued release for %s; got %v", bookID, queue.entries)
	}
}
