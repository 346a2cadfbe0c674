package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/metrics"
	"github.com/aplabs/labreserve/internal/model"
)

// SweepStore is the scheduler's view of the allocation ledger.  The Mark
// methods flip a flag only if it is still unset on an active allocation and
// report whether this caller flipped it.
type SweepStore interface {
	ListDueForSweep(ctx context.Context) ([]model.Allocation, error)
	MarkReminderSent(ctx context.Context, id uint64) (bool, error)
	MarkOverdueSent(ctx context.Context, id uint64) (bool, error)
}

// ItemReader resolves item names for notification texts.
type ItemReader interface {
	Get(ctx context.Context, id uint64) (model.CatalogItem, error)
}

// Locker grants a lease that keeps replicas from sweeping at the same time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker implements Locker with SET NX.
type RedisLocker struct {
	Client *redis.Client
}

func (l RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.Client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// SchedulerConfig wires a Scheduler.  Locker, Effects, Metrics and Logger
// are optional.
type SchedulerConfig struct {
	Store    SweepStore
	Items    ItemReader
	Effects  SideEffects
	Locker   Locker
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Location *time.Location // calendar used to decide "today" (default UTC)
	Interval time.Duration  // time between sweeps in Run (default 24h)
}

// Scheduler emits due-tomorrow reminders and overdue notices for resource
// loans.  It never closes an allocation.
type Scheduler struct {
	store    SweepStore
	items    ItemReader
	effects  SideEffects
	locker   Locker
	metrics  *metrics.Metrics
	log      *slog.Logger
	loc      *time.Location
	interval time.Duration
	now      func() time.Time
}

// NewScheduler returns a scheduler for cfg.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		store:    cfg.Store,
		items:    cfg.Items,
		effects:  cfg.Effects,
		locker:   cfg.Locker,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		loc:      cfg.Location,
		interval: cfg.Interval,
		now:      time.Now,
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.interval <= 0 {
		s.interval = 24 * time.Hour
	}
	return s
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Date      string `json:"date"`
	Scanned   int    `json:"scanned"`
	Reminders int    `json:"reminders"`
	Overdue   int    `json:"overdue"`
	Failed    int    `json:"failed,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// Sweep checks every active resource loan against the calendar date of now.
// A loan due tomorrow gets one reminder; a loan past due gets one overdue
// notice carrying the number of days late.  Flags are claimed before the
// notification is queued, so a notice is emitted at most once even when
// sweeps overlap.  A claim that errors is logged and counted in Failed, and
// the sweep moves on; the next sweep retries it.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	today := model.DateOf(now.In(s.loc))
	rep := SweepReport{Date: model.FormatDate(today)}

	due, err := s.store.ListDueForSweep(ctx)
	if err != nil {
		return rep, fmt.Errorf("list due allocations: %w", err)
	}
	names := map[uint64]string{}
	for _, a := range due {
		if !a.Active() || a.Window.ReturnDate == nil {
			continue
		}
		rep.Scanned++
		days := model.DaysBetween(today, *a.Window.ReturnDate)
		switch {
		case days == 1 && !a.ReminderSent:
			ok, err := s.store.MarkReminderSent(ctx, a.ID)
			if err != nil {
				s.claimFailed(&rep, "reminder", a.ID, err)
				continue
			}
			if !ok {
				continue
			}
			rep.Reminders++
			s.metrics.SweepNotice("reminder")
			s.emit(model.Notification{
				RecipientID: a.RequesterID,
				Kind:        model.NotifyReminder,
				Title:       "Recordatorio de devolución",
				Body: fmt.Sprintf("El préstamo de %s vence mañana (%s).",
					s.itemName(ctx, names, a.ItemID), model.FormatDate(*a.Window.ReturnDate)),
				Metadata: ids("allocation_id", a.ID, "item_id", a.ItemID),
			})
		case days < 0 && !a.OverdueSent:
			ok, err := s.store.MarkOverdueSent(ctx, a.ID)
			if err != nil {
				s.claimFailed(&rep, "overdue", a.ID, err)
				continue
			}
			if !ok {
				continue
			}
			late := -days
			rep.Overdue++
			s.metrics.SweepNotice("overdue")
			meta := ids("allocation_id", a.ID, "item_id", a.ItemID)
			meta["days_overdue"] = fmt.Sprint(late)
			s.emit(model.Notification{
				RecipientID: a.RequesterID,
				Kind:        model.NotifyGeneral,
				Title:       "Préstamo vencido",
				Body: fmt.Sprintf("El préstamo de %s venció el %s. Días de atraso: %d.",
					s.itemName(ctx, names, a.ItemID), model.FormatDate(*a.Window.ReturnDate), late),
				Metadata: meta,
			})
		}
	}
	s.log.Info("devolution sweep finished", "date", rep.Date, "scanned", rep.Scanned,
		"reminders", rep.Reminders, "overdue", rep.Overdue, "failed", rep.Failed)
	return rep, nil
}

func (s *Scheduler) claimFailed(rep *SweepReport, notice string, allocationID uint64, err error) {
	rep.Failed++
	s.metrics.SweepNotice("claim_failed")
	s.log.Warn("sweep claim failed", "notice", notice, "allocation_id", allocationID, "error", err)
}

// Run sweeps immediately and then every interval until ctx is cancelled.
// With a Locker, a replica that cannot take the lease skips its turn.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.runOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.locker != nil {
		ok, err := s.locker.TryLock(ctx, "aplabs:sweep", s.interval/2)
		if err != nil {
			s.log.Warn("sweep lock unavailable, sweeping anyway", "error", err)
		} else if !ok {
			s.log.Debug("another replica holds the sweep lease")
			return
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if _, err := s.Sweep(ctx, s.now()); err != nil {
		s.log.Error("devolution sweep failed", "error", err)
	}
}

func (s *Scheduler) emit(n model.Notification) {
	if s.effects != nil {
		s.effects.Notify(n)
	}
}

func (s *Scheduler) itemName(ctx context.Context, cache map[uint64]string, id uint64) string {
	if name, ok := cache[id]; ok {
		return name
	}
	name := fmt.Sprintf("recurso #%d", id)
	if s.items != nil {
		if it, err := s.items.Get(ctx, id); err == nil {
			name = it.Name
		}
	}
	cache[id] = name
	return name
}
