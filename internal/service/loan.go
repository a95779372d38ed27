package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"libcirc/internal/domain"
	"libcirc/internal/fine"

	"github.com/google/uuid"
)

// LoanStore is the repository surface the state machine drives. Every
// transition method is an atomic compare-and-swap on (id, current status);
// a lost race comes back as domain.ErrConcurrentConflict.
type LoanStore interface {
	Create(ctx context.Context, l *domain.Loan) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)
	GetByPickupCode(ctx context.Context, code string) (*domain.Loan, error)
	GetByUsedPickupCode(ctx context.Context, code string) (*domain.Loan, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error)
	ListAll(ctx context.Context) ([]domain.Loan, error)
	CountActiveByUser(ctx context.Context, userID uuid.UUID) (int, error)

	Approve(ctx context.Context, l *domain.Loan, code string, at, deadline time.Time) error
	Reject(ctx context.Context, l *domain.Loan, at time.Time) error
	ConsumePickupCode(ctx context.Context, l *domain.Loan, at, expectedReturn time.Time) error
	Cancel(ctx context.Context, l *domain.Loan, at time.Time) error
	MarkReadyToReturn(ctx context.Context, l *domain.Loan, proof *domain.ProofRef, at time.Time) error
	RejectReturn(ctx context.Context, l *domain.Loan, at time.Time) error
	ProcessReturn(ctx context.Context, l *domain.Loan, auto, manual, total int64, fineStatus domain.FinePaymentStatus, at time.Time) error
	Extend(ctx context.Context, l *domain.Loan, newExpected, at time.Time) error
}

// StockAdjuster is the Catalog Service surface: adjust-by-delta, atomic on
// the remote side.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, bookID uuid.UUID, delta int) error
}

type CodeIssuer interface {
	Issue() (string, error)
}

// ProofChecker verifies that a submitted proof ref actually exists in
// storage. The core never interprets the image.
type ProofChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// StockReleaseQueue buffers stock releases that failed against the catalog
// so the scheduler can retry them. A committed loan transition is never
// rolled back because the catalog was down.
type StockReleaseQueue interface {
	Enqueue(ctx context.Context, bookID uuid.UUID) error
}

type LoanConfig struct {
	LoanPeriod     time.Duration
	PickupCodeTTL  time.Duration
	FineDailyRate  int64
	MaxActiveLoans int
}

// LoanService owns every Loan.status transition.
type LoanService struct {
	store      LoanStore
	catalog    StockAdjuster
	issuer     CodeIssuer
	proofs     ProofChecker
	dispatcher *Dispatcher
	releases   StockReleaseQueue
	cfg        LoanConfig

	now func() time.Time
}

func NewLoanService(store LoanStore, catalog StockAdjuster, issuer CodeIssuer, proofs ProofChecker, dispatcher *Dispatcher, releases StockReleaseQueue, cfg LoanConfig) *LoanService {
	return &LoanService{
		store:      store,
		catalog:    catalog,
		issuer:     issuer,
		proofs:     proofs,
		dispatcher: dispatcher,
		releases:   releases,
		cfg:        cfg,
		now:        time.Now,
	}
}

// RequestLoan reserves a copy and creates the loan in requested state. The
// reservation is held from here on, so reject/cancel/return all release it.
func (s *LoanService) RequestLoan(ctx context.Context, userID, bookID uuid.UUID) (*domain.Loan, error) {
	active, err := s.store.CountActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active >= s.cfg.MaxActiveLoans {
		return nil, fmt.Errorf("user %s has %d active loans: %w", userID, active, domain.ErrLoanLimitReached)
	}

	if err := s.catalog.AdjustStock(ctx, bookID, -1); err != nil {
		return nil, err
	}

	l := &domain.Loan{
		ID:                uuid.New(),
		BookID:            bookID,
		UserID:            userID,
		Status:            domain.LoanRequested,
		RequestedAt:       s.now(),
		FinePaymentStatus: domain.FineNone,
	}
	if err := s.store.Create(ctx, l); err != nil {
		// compensate the reservation, the loan never existed
		if cerr := s.catalog.AdjustStock(ctx, bookID, +1); cerr != nil {
			log.Printf("[loan] compensation failed for book %s: %v", bookID, cerr)
		}
		return nil, err
	}

	s.dispatcher.Poke(ctx)
	return l, nil
}

// Approve issues a one-time pickup code and starts the pickup clock.
func (s *LoanService) Approve(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	l, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if l.Status != domain.LoanRequested {
		return nil, fmt.Errorf("loan %s is %s: %w", loanID, l.Status, domain.ErrInvalidState)
	}

	code, err := s.issuer.Issue()
	if err != nil {
		return nil, err
	}

	at := s.now()
	deadline := at.Add(s.cfg.PickupCodeTTL)
	if err := s.store.Approve(ctx, l, code, at, deadline); err != nil {
		return nil, err
	}

	l.Status = domain.LoanApproved
	l.PickupCode = code
	l.ApprovedAt = &at
	l.PickupDeadline = &deadline

	s.dispatcher.Poke(ctx)
	return l, nil
}

func (s *LoanService) Reject(ctx context.Context, loanID uuid.UUID) error {
	l, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		return err
	}
	if l.Status != domain.LoanRequested {
		return fmt.Errorf("loan %s is %s: %w", loanID, l.Status, domain.ErrInvalidState)
	}

	if err := s.store.Reject(ctx, l, s.now()); err != nil {
		return err
	}

	s.releaseStock(ctx, l.BookID)
	s.dispatcher.Poke(ctx)
	return nil
}

// ScanPickupCode consumes a code: exact, case-sensitive match, one shot. A
// failed match leaves the code intact so the admin can retry.
func (s *LoanService) ScanPickupCode(ctx context.Context, code string) (*domain.Loan, error) {
	l, err := s.store.GetByPickupCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		// A consumed code is kept on its loan; an expired one is gone.
		if _, uerr := s.store.GetByUsedPickupCode(ctx, code); uerr == nil {
			return nil, domain.ErrCodeAlreadyUsed
		}
		return nil, domain.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}

	at := s.now()
	if l.PickupDeadline == nil || !at.Before(*l.PickupDeadline) {
		// Leave the loan alone; the expiry sweep owns the cancellation.
		return nil, domain.ErrCodeExpired
	}

	expectedReturn := at.Add(s.cfg.LoanPeriod)
	if err := s.store.ConsumePickupCode(ctx, l, at, expectedReturn); err != nil {
		return nil, err
	}

	l.Status = domain.LoanPickedUp
	l.UsedPickupCode = l.PickupCode
	l.PickupCode = ""
	l.BorrowedAt = &at
	l.ExpectedReturnDate = &expectedReturn

	s.dispatcher.Poke(ctx)
	return l, nil
}

// ExpireApproval cancels one stale approval and restores its stock. Called by
// the scheduler; a conflict means someone picked the loan up first, which the
// caller treats as a no-op.
func (s *LoanService) ExpireApproval(ctx context.Context, l *domain.Loan) error {
	if err := s.store.Cancel(ctx, l, s.now()); err != nil {
		return err
	}

	s.releaseStock(ctx, l.BookID)
	s.dispatcher.Poke(ctx)
	return nil
}

func (s *LoanService) SubmitReturnProof(ctx context.Context, userID, loanID uuid.UUID, proof domain.ProofRef) error {
	l, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		return err
	}
	if l.UserID != userID {
		return fmt.Errorf("loan %s: %w", loanID, domain.ErrNotFound)
	}
	if l.Status != domain.LoanPickedUp {
		return fmt.Errorf("loan %s is %s: %w", loanID, l.Status, domain.ErrInvalidState)
	}

	ok, err := s.proofs.Exists(ctx, proof.Ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("return proof %q not in storage: %w", proof.Ref, domain.ErrProofRequired)
	}

	if err := s.store.MarkReadyToReturn(ctx, l, &proof, s.now()); err != nil {
		return err
	}

	s.dispatcher.Poke(ctx)
	return nil
}

type FineBreakdown struct {
	AutoFine   int64 `json:"auto_fine"`
	ManualFine int64 `json:"manual_fine"`
	TotalFine  int64 `json:"total_fine"`
}

// ProcessReturn finalizes a return: the automatic fine is computed from the
// expected return date against the moment the proof arrived, the manual fine
// is added on top, and the stock reservation is released.
func (s *LoanService) ProcessReturn(ctx context.Context, loanID uuid.UUID, manualFine int64) (*FineBreakdown, error) {
	l, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if l.Status != domain.LoanReadyToReturn {
		return nil, fmt.Errorf("loan %s is %s: %w", loanID, l.Status, domain.ErrInvalidState)
	}
	if manualFine < 0 {
		manualFine = 0
	}

	auto := fine.ComputeAutoFine(*l.ExpectedReturnDate, *l.ReadyReturnAt, s.cfg.FineDailyRate)
	total := fine.Total(auto, manualFine)

	fineStatus := domain.FineNone
	if total > 0 {
		fineStatus = domain.FineAwaitingProof
	}

	if err := s.store.ProcessReturn(ctx, l, auto, manualFine, total, fineStatus, s.now()); err != nil {
		return nil, err
	}

	s.releaseStock(ctx, l.BookID)
	s.dispatcher.Poke(ctx)

	return &FineBreakdown{AutoFine: auto, ManualFine: manualFine, TotalFine: total}, nil
}

func (s *LoanService) RejectReturn(ctx context.Context, loanID uuid.UUID) error {
	l, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		return err
	}
	if l.Status != domain.LoanReadyToReturn {
		return fmt.Errorf("loan %s is %s: %w", loanID, l.Status, domain.ErrInvalidState)
	}

	if err := s.store.RejectReturn(ctx, l, s.now()); err != nil {
		return err
	}

	s.dispatcher.Poke(ctx)
	return nil
}

// Extend pushes the due date out by one loan period, once per loan, and only
// before the loan goes overdue.
func (s *LoanService) Extend(ctx context.Context, userID, loanID uuid.UUID) (*domain.Loan, error) {
	l, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, fmt.Errorf("loan %s: %w", loanID, domain.ErrNotFound)
	}
	if l.Status != domain.LoanPickedUp {
		return nil, fmt.Errorf("loan %s is %s: %w", loanID, l.Status, domain.ErrInvalidState)
	}
	if l.Extended {
		return nil, fmt.Errorf("loan %s: %w", loanID, domain.ErrAlreadyExtended)
	}

	at := s.now()
	if l.Overdue(at) {
		return nil, fmt.Errorf("loan %s is overdue: %w", loanID, domain.ErrInvalidState)
	}

	newExpected := l.ExpectedReturnDate.Add(s.cfg.LoanPeriod)
	if err := s.store.Extend(ctx, l, newExpected, at); err != nil {
		return nil, err
	}

	l.Extended = true
	l.ExpectedReturnDate = &newExpected

	s.dispatcher.Poke(ctx)
	return l, nil
}

// LoanView is the read model: the stored record plus the derived overdue
// flag and a read-time fine estimate for loans still out.
type LoanView struct {
	domain.Loan
	Overdue       bool  `json:"overdue"`
	EstimatedFine int64 `json:"estimated_fine"`
}

func (s *LoanService) Get(ctx context.Context, loanID uuid.UUID) (*LoanView, error) {
	l, err := s.store.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	v := s.view(l)
	return &v, nil
}

func (s *LoanService) ListUserLoans(ctx context.Context, userID uuid.UUID) ([]LoanView, error) {
	loans, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]LoanView, 0, len(loans))
	for i := range loans {
		out = append(out, s.view(&loans[i]))
	}
	return out, nil
}

func (s *LoanService) view(l *domain.Loan) LoanView {
	now := s.now()
	v := LoanView{Loan: *l, Overdue: l.Overdue(now)}
	if v.Overdue {
		v.EstimatedFine = fine.ComputeAutoFine(*l.ExpectedReturnDate, now, s.cfg.FineDailyRate)
	}
	return v
}

// releaseStock runs after the owning transition committed. Failures are
// queued for the scheduler to retry, never propagated to the caller.
func (s *LoanService) releaseStock(ctx context.Context, bookID uuid.UUID) {
	if err := s.catalog.AdjustStock(ctx, bookID, +1); err != nil {
		log.Printf("[loan] stock release failed for book %s, queueing retry: %v", bookID, err)
		if s.releases != nil {
			if qerr := s.releases.Enqueue(ctx, bookID); qerr != nil {
				log.Printf("[loan] stock release enqueue failed for book %s: %v", bookID, qerr)
			}
		}
	}
}
