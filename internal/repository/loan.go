package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"libcirc/internal/domain"

	"github.com/google/uuid"
)

const loanColumns = `id, book_id, user_id, status, pickup_code, used_pickup_code,
	requested_at, approved_at, pickup_deadline, borrowed_at, expected_return_date,
	ready_return_at, returned_at, rejected_at, extended,
	proof_ref, proof_latitude, proof_longitude, proof_captured_at,
	auto_fine, manual_fine, total_fine, fine_payment_status`

type LoanRepository struct {
	db *sql.DB
}

func NewLoanRepository(db *sql.DB) *LoanRepository {
	return &LoanRepository{db: db}
}

func (r *LoanRepository) Create(ctx context.Context, l *domain.Loan) error {
	query := `
		INSERT INTO loans (id, book_id, user_id, status, requested_at, fine_payment_status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.BookID, l.UserID, l.Status, l.RequestedAt, l.FinePaymentStatus)
	if err != nil {
		return err
	}

	ev := &domain.TransitionEvent{
		LoanID:     l.ID,
		UserID:     l.UserID,
		Transition: domain.TransitionRequested,
		FromStatus: "",
		ToStatus:   domain.LoanRequested,
		OccurredAt: l.RequestedAt,
	}
	return appendEvent(ctx, r.db, ev)
}

func (r *LoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	return scanLoan(r.db.QueryRowContext(ctx, query, id))
}

// GetByPickupCode resolves an active (unconsumed) code.
func (r *LoanRepository) GetByPickupCode(ctx context.Context, code string) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE pickup_code = $1`
	return scanLoan(r.db.QueryRowContext(ctx, query, code))
}

// GetByUsedPickupCode resolves a code that was already consumed, so the
// caller can report CodeAlreadyUsed instead of CodeNotFound.
func (r *LoanRepository) GetByUsedPickupCode(ctx context.Context, code string) (*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE used_pickup_code = $1`
	return scanLoan(r.db.QueryRowContext(ctx, query, code))
}

func (r *LoanRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE user_id = $1 ORDER BY requested_at DESC`
	return r.queryLoans(ctx, query, userID)
}

func (r *LoanRepository) GetBatch(ctx context.Context, ids []uuid.UUID) ([]domain.Loan, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids, 1)
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id IN (` + placeholders + `)`
	return r.queryLoans(ctx, query, args...)
}

func (r *LoanRepository) CountActiveByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM loans
		WHERE user_id = $1 AND status IN ($2, $3, $4, $5)
	`
	var n int
	err := r.db.QueryRowContext(ctx, query, userID,
		domain.LoanRequested, domain.LoanApproved, domain.LoanPickedUp, domain.LoanReadyToReturn).Scan(&n)
	return n, err
}

// ListExpiredApprovals returns approved loans whose pickup deadline has
// passed. The sweep re-runs this against current time, so a restart loses
// nothing.
func (r *LoanRepository) ListExpiredApprovals(ctx context.Context, now time.Time) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE status = $1 AND pickup_deadline <= $2`
	return r.queryLoans(ctx, query, domain.LoanApproved, now)
}

func (r *LoanRepository) ListOverdue(ctx context.Context, now time.Time) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE status = $1 AND expected_return_date < $2`
	return r.queryLoans(ctx, query, domain.LoanPickedUp, now)
}

func (r *LoanRepository) ListAll(ctx context.Context) ([]domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans ORDER BY requested_at DESC`
	return r.queryLoans(ctx, query)
}

// Approve moves requested -> approved, storing the freshly issued pickup code
// and its deadline. Like every transition below it is a compare-and-swap on
// (id, status); zero rows affected means the caller lost a race.
func (r *LoanRepository) Approve(ctx context.Context, l *domain.Loan, code string, at, deadline time.Time) error {
	return r.transition(ctx, l, domain.TransitionApproved, domain.LoanRequested, domain.LoanApproved, at, `
		UPDATE loans
		SET status = $1, pickup_code = $2, approved_at = $3, pickup_deadline = $4
		WHERE id = $5 AND status = $6
	`, domain.LoanApproved, code, at, deadline, l.ID, domain.LoanRequested)
}

func (r *LoanRepository) Reject(ctx context.Context, l *domain.Loan, at time.Time) error {
	return r.transition(ctx, l, domain.TransitionRejected, domain.LoanRequested, domain.LoanRejected, at, `
		UPDATE loans
		SET status = $1, rejected_at = $2
		WHERE id = $3 AND status = $4
	`, domain.LoanRejected, at, l.ID, domain.LoanRequested)
}

// ConsumePickupCode moves approved -> picked_up. The active code is cleared
// in the same statement and retained in used_pickup_code, which makes
// consumption exactly-once: a second scan finds no active code.
func (r *LoanRepository) ConsumePickupCode(ctx context.Context, l *domain.Loan, at, expectedReturn time.Time) error {
	return r.transition(ctx, l, domain.TransitionPickedUp, domain.LoanApproved, domain.LoanPickedUp, at, `
		UPDATE loans
		SET status = $1, used_pickup_code = pickup_code, pickup_code = '',
		    borrowed_at = $2, expected_return_date = $3
		WHERE id = $4 AND status = $5 AND pickup_code = $6
	`, domain.LoanPickedUp, at, expectedReturn, l.ID, domain.LoanApproved, l.PickupCode)
}

// Cancel expires an unclaimed approval. The code is dropped entirely; an
// expired code leaves no trace and later scans report it as unknown.
func (r *LoanRepository) Cancel(ctx context.Context, l *domain.Loan, at time.Time) error {
	return r.transition(ctx, l, domain.TransitionCancelled, domain.LoanApproved, domain.LoanCancelled, at, `
		UPDATE loans
		SET status = $1, pickup_code = ''
		WHERE id = $2 AND status = $3
	`, domain.LoanCancelled, l.ID, domain.LoanApproved)
}

func (r *LoanRepository) MarkReadyToReturn(ctx context.Context, l *domain.Loan, proof *domain.ProofRef, at time.Time) error {
	return r.transition(ctx, l, domain.TransitionReadyToReturn, domain.LoanPickedUp, domain.LoanReadyToReturn, at, `
		UPDATE loans
		SET status = $1, ready_return_at = $2,
		    proof_ref = $3, proof_latitude = $4, proof_longitude = $5, proof_captured_at = $6
		WHERE id = $7 AND status = $8
	`, domain.LoanReadyToReturn, at, proof.Ref, proof.Latitude, proof.Longitude, proof.CapturedAt,
		l.ID, domain.LoanPickedUp)
}

// RejectReturn sends the loan back to picked_up and clears the proof so the
// borrower must resubmit.
func (r *LoanRepository) RejectReturn(ctx context.Context, l *domain.Loan, at time.Time) error {
	return r.transition(ctx, l, domain.TransitionReturnRejected, domain.LoanReadyToReturn, domain.LoanPickedUp, at, `
		UPDATE loans
		SET status = $1, ready_return_at = NULL,
		    proof_ref = NULL, proof_latitude = NULL, proof_longitude = NULL, proof_captured_at = NULL
		WHERE id = $2 AND status = $3
	`, domain.LoanPickedUp, l.ID, domain.LoanReadyToReturn)
}

func (r *LoanRepository) ProcessReturn(ctx context.Context, l *domain.Loan, auto, manual, total int64, fineStatus domain.FinePaymentStatus, at time.Time) error {
	return r.transition(ctx, l, domain.TransitionReturned, domain.LoanReadyToReturn, domain.LoanReturned, at, `
		UPDATE loans
		SET status = $1, returned_at = $2,
		    auto_fine = $3, manual_fine = $4, total_fine = $5, fine_payment_status = $6
		WHERE id = $7 AND status = $8
	`, domain.LoanReturned, at, auto, manual, total, fineStatus, l.ID, domain.LoanReadyToReturn)
}

// Extend pushes the expected return date out once. The extended flag is part
// of the compare-and-swap so two concurrent extensions cannot both win.
func (r *LoanRepository) Extend(ctx context.Context, l *domain.Loan, newExpected, at time.Time) error {
	return r.transition(ctx, l, domain.TransitionExtended, domain.LoanPickedUp, domain.LoanPickedUp, at, `
		UPDATE loans
		SET expected_return_date = $1, extended = TRUE
		WHERE id = $2 AND status = $3 AND extended = FALSE
	`, newExpected, l.ID, domain.LoanPickedUp)
}

// transition runs one CAS update plus its outbox event in a single
// transaction. Zero rows affected surfaces as ErrConcurrentConflict; the
// services decide whether that means an invalid state or a lost race.
func (r *LoanRepository) transition(ctx context.Context, l *domain.Loan, name string, from, to domain.LoanStatus, at time.Time, query string, args ...any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("loan %s %s: %w", l.ID, name, domain.ErrConcurrentConflict)
	}

	ev := &domain.TransitionEvent{
		LoanID:     l.ID,
		UserID:     l.UserID,
		Transition: name,
		FromStatus: from,
		ToStatus:   to,
		OccurredAt: at,
	}
	if err := appendEvent(ctx, tx, ev); err != nil {
		return err
	}

	return tx.Commit()
}

func (r *LoanRepository) queryLoans(ctx context.Context, query string, args ...any) ([]domain.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (*domain.Loan, error) {
	var (
		l          domain.Loan
		pickupCode sql.NullString
		usedCode   sql.NullString

		approvedAt, pickupDeadline, borrowedAt, expectedReturn sql.NullTime
		readyReturnAt, returnedAt, rejectedAt                  sql.NullTime

		proofRef        sql.NullString
		proofLat        sql.NullFloat64
		proofLng        sql.NullFloat64
		proofCapturedAt sql.NullTime
	)

	err := row.Scan(
		&l.ID, &l.BookID, &l.UserID, &l.Status, &pickupCode, &usedCode,
		&l.RequestedAt, &approvedAt, &pickupDeadline, &borrowedAt, &expectedReturn,
		&readyReturnAt, &returnedAt, &rejectedAt, &l.Extended,
		&proofRef, &proofLat, &proofLng, &proofCapturedAt,
		&l.AutoFine, &l.ManualFine, &l.TotalFine, &l.FinePaymentStatus,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.PickupCode = pickupCode.String
	l.UsedPickupCode = usedCode.String
	l.ApprovedAt = timeOrNil(approvedAt)
	l.PickupDeadline = timeOrNil(pickupDeadline)
	l.BorrowedAt = timeOrNil(borrowedAt)
	l.ExpectedReturnDate = timeOrNil(expectedReturn)
	l.ReadyReturnAt = timeOrNil(readyReturnAt)
	l.ReturnedAt = timeOrNil(returnedAt)
	l.RejectedAt = timeOrNil(rejectedAt)

	if proofRef.Valid && proofRef.String != "" {
		p := &domain.ProofRef{Ref: proofRef.String}
		p.Latitude = proofLat.Float64
		p.Longitude = proofLng.Float64
		if proofCapturedAt.Valid {
			p.CapturedAt = proofCapturedAt.Time
		}
		l.ReturnProofRef = p
	}

	return &l, nil
}

func timeOrNil(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// inClause builds "$start, $start+1, ..." for hand-assembled IN lists.
func inClause(ids []uuid.UUID, start int) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", start+i)
		args[i] = id
	}
	return strings.Join(placeholders, ", "), args
}
