package service

import (
	"context"
	"log"
	"time"

	"libcirc/internal/domain"
)

type EventStore interface {
	ListUndispatched(ctx context.Context, limit int) ([]domain.TransitionEvent, error)
	MarkDispatched(ctx context.Context, id int64, at time.Time) error
}

// NotificationGateway is the external delivery side. The dispatcher's own
// contract is an at-least-once emission attempt per committed transition;
// dedup on delivery is the gateway's job.
type NotificationGateway interface {
	SendToUser(ctx context.Context, userKey, msgType string, data map[string]interface{}) error
	SendToAdmins(ctx context.Context, msgType string, data map[string]interface{}) error
}

// Transitions the admin pool cares about on top of the borrower.
var adminNotified = map[string]bool{
	domain.TransitionRequested:        true,
	domain.TransitionReadyToReturn:    true,
	domain.TransitionPaymentSubmitted: true,
}

const dispatchBatchSize = 100

// Dispatcher turns committed transition events into outbound notifications.
// It only ever reads events whose transition has already committed, so a
// dispatch failure can never roll state back; the event simply stays
// undispatched until the next attempt.
type Dispatcher struct {
	events  EventStore
	gateway NotificationGateway

	now func() time.Time
}

func NewDispatcher(events EventStore, gateway NotificationGateway) *Dispatcher {
	return &Dispatcher{
		events:  events,
		gateway: gateway,
		now:     time.Now,
	}
}

// Poke drains pending events best-effort. Services call it right after a
// commit; errors are logged and left for the scheduler's redrive.
func (d *Dispatcher) Poke(ctx context.Context) {
	if d == nil {
		return
	}
	if err := d.DispatchPending(ctx); err != nil {
		log.Printf("[dispatcher] dispatch failed, will retry on next sweep: %v", err)
	}
}

func (d *Dispatcher) DispatchPending(ctx context.Context) error {
	events, err := d.events.ListUndispatched(ctx, dispatchBatchSize)
	if err != nil {
		return err
	}

	for i := range events {
		ev := &events[i]
		if err := d.dispatch(ctx, ev); err != nil {
			log.Printf("[dispatcher] event %d (%s %s) not delivered: %v", ev.ID, ev.LoanID, ev.Transition, err)
			continue
		}
		if err := d.events.MarkDispatched(ctx, ev.ID, d.now()); err != nil {
			// Worst case the event goes out twice; the gateway dedups by
			// (loan_id, transition).
			log.Printf("[dispatcher] mark dispatched failed for event %d: %v", ev.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, ev *domain.TransitionEvent) error {
	data := map[string]interface{}{
		"loan_id":     ev.LoanID,
		"transition":  ev.Transition,
		"occurred_at": ev.OccurredAt,
	}
	if ev.FromStatus != "" {
		data["from_status"] = ev.FromStatus
	}
	if ev.ToStatus != "" {
		data["to_status"] = ev.ToStatus
	}

	if err := d.gateway.SendToUser(ctx, ev.UserID.String(), ev.Transition, data); err != nil {
		return err
	}
	if adminNotified[ev.Transition] {
		if err := d.gateway.SendToAdmins(ctx, ev.Transition, data); err != nil {
			return err
		}
	}
	return nil
}

// SendOverdueReminder is advisory only: it changes no state and goes out
// straight through the gateway, deduped by the caller.
func (d *Dispatcher) SendOverdueReminder(ctx context.Context, l *domain.Loan, daysLate int, estimate int64) error {
	data := map[string]interface{}{
		"loan_id":              l.ID,
		"book_id":              l.BookID,
		"expected_return_date": l.ExpectedReturnDate,
		"days_late":            daysLate,
		"estimated_fine":       estimate,
	}
	return d.gateway.SendToUser(ctx, l.UserID.String(), "loan_overdue_reminder", data)
}
