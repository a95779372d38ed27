// Package scheduler runs the single background sweep that drives every
// time-based behavior: expiring unclaimed approvals, overdue reminders,
// notification redrive and stock-release retries. One ticker, all checks per
// tick; because overdue is derived rather than stored, a restart loses
// nothing — re-running the queries against current time reproduces the same
// candidate sets.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"libcirc/internal/domain"
	"libcirc/internal/fine"

	"github.com/google/uuid"
)

type SweepStore interface {
	ListExpiredApprovals(ctx context.Context, now time.Time) ([]domain.Loan, error)
	ListOverdue(ctx context.Context, now time.Time) ([]domain.Loan, error)
}

type ApprovalExpirer interface {
	ExpireApproval(ctx context.Context, l *domain.Loan) error
}

type ReminderSender interface {
	SendOverdueReminder(ctx context.Context, l *domain.Loan, daysLate int, estimate int64) error
}

type EventRedriver interface {
	DispatchPending(ctx context.Context) error
}

// Deduper marks a reminder as sent, winning at most once per key.
type Deduper interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

type StockRetryQueue interface {
	Dequeue(ctx context.Context) (uuid.UUID, bool, error)
	Enqueue(ctx context.Context, bookID uuid.UUID) error
}

type StockAdjuster interface {
	AdjustStock(ctx context.Context, bookID uuid.UUID, delta int) error
}

type Config struct {
	Interval      time.Duration
	FineDailyRate int64
	Debug         bool
}

type Scheduler struct {
	store    SweepStore
	loans    ApprovalExpirer
	reminder ReminderSender
	redriver EventRedriver
	dedup    Deduper
	queue    StockRetryQueue
	catalog  StockAdjuster
	cfg      Config

	now func() time.Time
}

func New(store SweepStore, loans ApprovalExpirer, reminder ReminderSender, redriver EventRedriver, dedup Deduper, queue StockRetryQueue, catalog StockAdjuster, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		store:    store,
		loans:    loans,
		reminder: reminder,
		redriver: redriver,
		dedup:    dedup,
		queue:    queue,
		catalog:  catalog,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep. Candidates are processed one at a time and no lock is
// held across loans, so a slow notification cannot stall the whole pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.expireApprovals(ctx)
	s.sendOverdueReminders(ctx)
	s.redriveEvents(ctx)
	s.drainStockReleases(ctx)
}

func (s *Scheduler) expireApprovals(ctx context.Context) {
	loans, err := s.store.ListExpiredApprovals(ctx, s.now())
	if err != nil {
		log.Printf("[scheduler] expired-approvals query failed: %v", err)
		return
	}

	for i := range loans {
		l := &loans[i]
		if err := s.loans.ExpireApproval(ctx, l); err != nil {
			if errors.Is(err, domain.ErrConcurrentConflict) {
				// The loan was picked up or cancelled under us. Expected.
				if s.cfg.Debug {
					log.Printf("[scheduler] expiry skipped, loan %s changed concurrently", l.ID)
				}
				continue
			}
			log.Printf("[scheduler] expiry failed for loan %s: %v", l.ID, err)
		}
	}
}

func (s *Scheduler) sendOverdueReminders(ctx context.Context) {
	now := s.now()
	loans, err := s.store.ListOverdue(ctx, now)
	if err != nil {
		log.Printf("[scheduler] overdue query failed: %v", err)
		return
	}

	for i := range loans {
		l := &loans[i]

		won, err := s.dedup.SetNX(ctx, "overdue_reminder:"+l.ID.String(), 1, 0)
		if err != nil {
			log.Printf("[scheduler] reminder dedup failed for loan %s: %v", l.ID, err)
			continue
		}
		if !won {
			continue
		}

		daysLate := fine.DaysLate(*l.ExpectedReturnDate, now)
		estimate := fine.ComputeAutoFine(*l.ExpectedReturnDate, now, s.cfg.FineDailyRate)
		if err := s.reminder.SendOverdueReminder(ctx, l, daysLate, estimate); err != nil {
			log.Printf("[scheduler] overdue reminder failed for loan %s: %v", l.ID, err)
		}
	}
}

func (s *Scheduler) redriveEvents(ctx context.Context) {
	if err := s.redriver.DispatchPending(ctx); err != nil {
		log.Printf("[scheduler] event redrive failed: %v", err)
	}
}

func (s *Scheduler) drainStockReleases(ctx context.Context) {
	for {
		bookID, ok, err := s.queue.Dequeue(ctx)
		if err != nil {
			log.Printf("[scheduler] stock queue read failed: %v", err)
			return
		}
		if !ok {
			return
		}
		if err := s.catalog.AdjustStock(ctx, bookID, +1); err != nil {
			log.Printf("[scheduler] stock release retry failed for book %s: %v", bookID, err)
			// Put it back and stop; the catalog is likely still down.
			_ = s.queue.Enqueue(ctx, bookID)
			return
		}
	}
}
