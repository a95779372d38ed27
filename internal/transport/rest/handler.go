package rest

import (
	"context"
	"net/http"
	"time"

	"libcirc/internal/domain"
	"libcirc/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type LoanManager interface {
	RequestLoan(ctx context.Context, userID, bookID uuid.UUID) (*domain.Loan, error)
	Approve(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	Reject(ctx context.Context, loanID uuid.UUID) error
	ScanPickupCode(ctx context.Context, code string) (*domain.Loan, error)
	SubmitReturnProof(ctx context.Context, userID, loanID uuid.UUID, proof domain.ProofRef) error
	ProcessReturn(ctx context.Context, loanID uuid.UUID, manualFine int64) (*service.FineBreakdown, error)
	RejectReturn(ctx context.Context, loanID uuid.UUID) error
	Extend(ctx context.Context, userID, loanID uuid.UUID) (*domain.Loan, error)
	Get(ctx context.Context, loanID uuid.UUID) (*service.LoanView, error)
	ListUserLoans(ctx context.Context, userID uuid.UUID) ([]service.LoanView, error)
}

type PaymentManager interface {
	SubmitPayment(ctx context.Context, userID uuid.UUID, loanIDs []uuid.UUID, method domain.PaymentMethod, proof *domain.ProofRef) (*domain.FinePayment, error)
	VerifyPayment(ctx context.Context, paymentID uuid.UUID, approve bool) (*domain.FinePayment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*domain.FinePayment, error)
	ListUserPayments(ctx context.Context, userID uuid.UUID) ([]domain.FinePayment, error)
}

type ReportBuilder interface {
	BuildLoansReport(ctx context.Context, selected []string) ([]byte, string, error)
}

type ProofSaver interface {
	Save(ctx context.Context, fileName string, data []byte, contentType string) (string, error)
	URL(ctx context.Context, ref string) (string, error)
}

type Handler struct {
	loans    LoanManager
	payments PaymentManager
	reports  ReportBuilder
	proofs   ProofSaver
}

func NewHandler(loans LoanManager, payments PaymentManager, reports ReportBuilder, proofs ProofSaver) *Handler {
	return &Handler{
		loans:    loans,
		payments: payments,
		reports:  reports,
		proofs:   proofs,
	}
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWithAuth(nil)
}

func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}

	r.Route("/loans", func(r chi.Router) {
		r.Post("/", h.createLoan)
		r.Get("/", h.listLoans)
		r.Get("/{loan_id}", h.getLoan)
		r.Post("/{loan_id}/approve", h.approveLoan)
		r.Post("/{loan_id}/reject", h.rejectLoan)
		r.Post("/{loan_id}/return-proof", h.submitReturnProof)
		r.Post("/{loan_id}/process-return", h.processReturn)
		r.Post("/{loan_id}/reject-return", h.rejectReturn)
		r.Post("/{loan_id}/extend", h.extendLoan)
	})

	r.Post("/pickup/scan", h.scanPickupCode)

	r.Route("/fine-payments", func(r chi.Router) {
		r.Post("/", h.submitPayment)
		r.Get("/", h.listPayments)
		r.Get("/{payment_id}", h.getPayment)
		r.Post("/{payment_id}/verify", h.verifyPayment)
	})

	r.Post("/files/proofs", h.uploadProof)
	r.Get("/reports/loans.xlsx", h.loansReport)

	return r
}
