package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"libcirc/internal/domain"

	"github.com/google/uuid"
)

type FinePaymentRepository struct {
	db *sql.DB
}

func NewFinePaymentRepository(db *sql.DB) *FinePaymentRepository {
	return &FinePaymentRepository{db: db}
}

// Submit records one settlement attempt covering a batch of loans. The whole
// batch flips awaiting_proof -> pending_verification in a single statement;
// if any loan fails that compare-and-swap the transaction rolls back and the
// mismatch is classified for the caller. This closes the race between two
// submissions over the same loan set: exactly one commits.
func (r *FinePaymentRepository) Submit(ctx context.Context, p *domain.FinePayment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders, args := inClause(p.LoanIDs, 3)
	query := fmt.Sprintf(`
		UPDATE loans
		SET fine_payment_status = $1
		WHERE user_id = $2 AND id IN (%s)
		  AND status = '%s' AND fine_payment_status = '%s'
	`, placeholders, domain.LoanReturned, domain.FineAwaitingProof)

	res, err := tx.ExecContext(ctx, query, append([]any{domain.FinePendingVerification, p.UserID}, args...)...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(p.LoanIDs)) {
		tx.Rollback()
		return r.classifySubmitFailure(ctx, p.UserID, p.LoanIDs)
	}

	var (
		proofRef   any
		proofLat   any
		proofLng   any
		proofTaken any
	)
	if p.ProofRef != nil {
		proofRef = p.ProofRef.Ref
		proofLat = p.ProofRef.Latitude
		proofLng = p.ProofRef.Longitude
		proofTaken = p.ProofRef.CapturedAt
	}

	insert := `
		INSERT INTO fine_payments (id, user_id, method, amount, proof_ref, proof_latitude, proof_longitude, proof_captured_at, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := tx.ExecContext(ctx, insert,
		p.ID, p.UserID, p.Method, p.Amount, proofRef, proofLat, proofLng, proofTaken, p.Status, p.SubmittedAt); err != nil {
		return err
	}

	for _, loanID := range p.LoanIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fine_payment_loans (payment_id, loan_id) VALUES ($1, $2)`, p.ID, loanID); err != nil {
			return err
		}
		ev := &domain.TransitionEvent{
			LoanID:     loanID,
			UserID:     p.UserID,
			Transition: domain.TransitionPaymentSubmitted,
			OccurredAt: p.SubmittedAt,
		}
		dedup := p.ID.String() + ":" + loanID.String() + ":" + ev.Transition
		if err := appendEventKeyed(ctx, tx, ev, dedup); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// classifySubmitFailure turns a failed batch update into the most specific
// error: a loan already pending beats not-eligible, which beats not-found.
func (r *FinePaymentRepository) classifySubmitFailure(ctx context.Context, userID uuid.UUID, loanIDs []uuid.UUID) error {
	loans, err := r.loanBatch(ctx, loanIDs)
	if err != nil {
		return err
	}

	byID := make(map[uuid.UUID]*domain.Loan, len(loans))
	for i := range loans {
		byID[loans[i].ID] = &loans[i]
	}

	for _, id := range loanIDs {
		l, ok := byID[id]
		if !ok {
			return fmt.Errorf("loan %s: %w", id, domain.ErrNotFound)
		}
		if l.FinePaymentStatus == domain.FinePendingVerification {
			return fmt.Errorf("loan %s: %w", id, domain.ErrPaymentAlreadyPending)
		}
		if l.UserID != userID || l.Status != domain.LoanReturned || l.FinePaymentStatus != domain.FineAwaitingProof {
			return fmt.Errorf("loan %s: %w", id, domain.ErrNotEligible)
		}
	}
	return domain.ErrConcurrentConflict
}

func (r *FinePaymentRepository) loanBatch(ctx context.Context, ids []uuid.UUID) ([]domain.Loan, error) {
	placeholders, args := inClause(ids, 1)
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id IN (` + placeholders + `)`

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

// Decide applies an admin verdict. Approval marks every covered loan paid;
// rejection sends them back to awaiting_proof so the user can resubmit.
func (r *FinePaymentRepository) Decide(ctx context.Context, paymentID uuid.UUID, approve bool, at time.Time) (*domain.FinePayment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	newStatus := domain.PaymentRejected
	loanFineStatus := domain.FineAwaitingProof
	transition := domain.TransitionPaymentRejected
	if approve {
		newStatus = domain.PaymentApproved
		loanFineStatus = domain.FinePaid
		transition = domain.TransitionPaymentApproved
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE fine_payments SET status = $1, decided_at = $2
		WHERE id = $3 AND status = $4
	`, newStatus, at, paymentID, domain.PaymentPending)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		tx.Rollback()
		if _, err := r.GetByID(ctx, paymentID); errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("payment %s already decided: %w", paymentID, domain.ErrInvalidState)
	}

	var userID uuid.UUID
	var loanIDs []uuid.UUID
	rows, err := tx.QueryContext(ctx, `
		SELECT fp.user_id, fpl.loan_id
		FROM fine_payments fp
		JOIN fine_payment_loans fpl ON fpl.payment_id = fp.id
		WHERE fp.id = $1
	`, paymentID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var loanID uuid.UUID
		if err := rows.Scan(&userID, &loanID); err != nil {
			rows.Close()
			return nil, err
		}
		loanIDs = append(loanIDs, loanID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	placeholders, args := inClause(loanIDs, 2)
	query := fmt.Sprintf(`
		UPDATE loans SET fine_payment_status = $1
		WHERE id IN (%s) AND fine_payment_status = '%s'
	`, placeholders, domain.FinePendingVerification)
	if _, err := tx.ExecContext(ctx, query, append([]any{loanFineStatus}, args...)...); err != nil {
		return nil, err
	}

	for _, loanID := range loanIDs {
		ev := &domain.TransitionEvent{
			LoanID:     loanID,
			UserID:     userID,
			Transition: transition,
			OccurredAt: at,
		}
		dedup := paymentID.String() + ":" + loanID.String() + ":" + transition
		if err := appendEventKeyed(ctx, tx, ev, dedup); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, paymentID)
}

func (r *FinePaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.FinePayment, error) {
	query := `
		SELECT id, user_id, method, amount, proof_ref, proof_latitude, proof_longitude, proof_captured_at, status, submitted_at, decided_at
		FROM fine_payments WHERE id = $1
	`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT loan_id FROM fine_payment_loans WHERE payment_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var loanID uuid.UUID
		if err := rows.Scan(&loanID); err != nil {
			return nil, err
		}
		p.LoanIDs = append(p.LoanIDs, loanID)
	}
	return p, rows.Err()
}

func (r *FinePaymentRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.FinePayment, error) {
	query := `
		SELECT id, user_id, method, amount, proof_ref, proof_latitude, proof_longitude, proof_captured_at, status, submitted_at, decided_at
		FROM fine_payments WHERE user_id = $1 ORDER BY submitted_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FinePayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (*domain.FinePayment, error) {
	var (
		p          domain.FinePayment
		proofRef   sql.NullString
		proofLat   sql.NullFloat64
		proofLng   sql.NullFloat64
		proofTaken sql.NullTime
		decidedAt  sql.NullTime
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Method, &p.Amount,
		&proofRef, &proofLat, &proofLng, &proofTaken, &p.Status, &p.SubmittedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if proofRef.Valid && proofRef.String != "" {
		pr := &domain.ProofRef{Ref: proofRef.String, Latitude: proofLat.Float64, Longitude: proofLng.Float64}
		if proofTaken.Valid {
			pr.CapturedAt = proofTaken.Time
		}
		p.ProofRef = pr
	}
	p.DecidedAt = timeOrNil(decidedAt)
	return &p, nil
}
