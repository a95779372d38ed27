package repository

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"libcirc/internal/domain"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Transitions a loan can legitimately take more than once: a rejected return
// reopens the picked_up <-> ready_to_return loop, so each occurrence needs
// its own outbox row and its own notification.
var repeatableTransitions = map[string]bool{
	domain.TransitionReadyToReturn:  true,
	domain.TransitionReturnRejected: true,
}

// appendEvent writes one outbox row. The dedup key folds the loan and
// transition together (payment events add their payment ID before calling
// this), so a replayed transition never yields a second outbound event.
// Repeatable transitions fold in the occurrence time instead, since for them
// a second row is a new fact, not a replay.
func appendEvent(ctx context.Context, ex execer, ev *domain.TransitionEvent) error {
	return appendEventKeyed(ctx, ex, ev, eventDedupKey(ev))
}

func eventDedupKey(ev *domain.TransitionEvent) string {
	key := ev.LoanID.String() + ":" + ev.Transition
	if repeatableTransitions[ev.Transition] {
		key += ":" + strconv.FormatInt(ev.OccurredAt.UnixNano(), 10)
	}
	return key
}

func appendEventKeyed(ctx context.Context, ex execer, ev *domain.TransitionEvent, dedupKey string) error {
	query := `
		INSERT INTO loan_events (loan_id, user_id, transition, from_status, to_status, payload, occurred_at, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dedup_key) DO NOTHING
	`
	payload := ev.Payload
	if payload == nil {
		payload = []byte("{}")
	}
	_, err := ex.ExecContext(ctx, query,
		ev.LoanID, ev.UserID, ev.Transition, ev.FromStatus, ev.ToStatus, payload, ev.OccurredAt, dedupKey)
	return err
}

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListUndispatched returns committed transition events that have not yet been
// handed to the notification gateway, oldest first.
func (r *EventRepository) ListUndispatched(ctx context.Context, limit int) ([]domain.TransitionEvent, error) {
	query := `
		SELECT id, loan_id, user_id, transition, from_status, to_status, payload, occurred_at, dispatched_at
		FROM loan_events
		WHERE dispatched_at IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.TransitionEvent
	for rows.Next() {
		var (
			ev         domain.TransitionEvent
			dispatched sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.LoanID, &ev.UserID, &ev.Transition,
			&ev.FromStatus, &ev.ToStatus, &ev.Payload, &ev.OccurredAt, &dispatched); err != nil {
			return nil, err
		}
		ev.DispatchedAt = timeOrNil(dispatched)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *EventRepository) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE loan_events SET dispatched_at = $1 WHERE id = $2 AND dispatched_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, at, id)
	return err
}
