package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/metrics"
	"github.com/aplabs/labreserve/internal/model"
)

// Options tunes a Dispatcher.  Zero values select the defaults.
type Options struct {
	Buffer  int           // queued side effects before new ones are dropped (default 256)
	Retries int           // delivery attempts per side effect (default 5)
	Backoff time.Duration // wait after the first failed attempt, grows linearly (default 500ms)
	Timeout time.Duration // deadline of a single attempt (default 10s)
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type job struct {
	notification *model.Notification
	audit        *model.AuditEntry
}

func (j job) channel() string {
	if j.audit != nil {
		return "audit"
	}
	return "notification"
}

// Dispatcher is the post-commit queue in front of a Sender and an
// AuditSink.  Notify and Audit never block; Run does the delivery.
type Dispatcher struct {
	sender  Sender
	audit   AuditSink
	jobs    chan job
	retries int
	backoff time.Duration
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDispatcher returns a dispatcher for the given sinks.  Either sink may
// be nil, in which case that kind of side effect is discarded.
func NewDispatcher(sender Sender, audit AuditSink, opts Options) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Retries <= 0 {
		opts.Retries = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Dispatcher{
		sender:  sender,
		audit:   audit,
		jobs:    make(chan job, opts.Buffer),
		retries: opts.Retries,
		backoff: opts.Backoff,
		timeout: opts.Timeout,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// Notify queues n, assigning an ID and creation time when missing.
func (d *Dispatcher) Notify(n model.Notification) {
	if d == nil || d.sender == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now().UTC()
	}
	d.enqueue(job{notification: &n}, "notification")
}

// Audit queues e, assigning an ID and timestamp when missing.
func (d *Dispatcher) Audit(e model.AuditEntry) {
	if d == nil || d.audit == nil {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = d.now().UTC()
	}
	d.enqueue(job{audit: &e}, "audit")
}

func (d *Dispatcher) enqueue(j job, channel string) {
	select {
	case d.jobs <- j:
	default:
		d.log.Warn("dispatch queue full, dropping side effect", "channel", channel)
		d.metrics.DispatchFailure(channel)
	}
}

// Run delivers queued side effects until ctx is cancelled, then drains
// what is left within the single-attempt timeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case j := <-d.jobs:
			d.deliver(ctx, j)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case j := <-d.jobs:
			d.attempt(ctx, j)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	channel := j.channel()
	for attempt := 1; ; attempt++ {
		err := d.attempt(ctx, j)
		if err == nil {
			return
		}
		d.log.Warn("side effect delivery failed", "channel", channel, "attempt", attempt, "error", err)
		if attempt >= d.retries || ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * d.backoff):
		case <-ctx.Done():
		}
	}
	d.log.Warn("side effect dropped after retries", "channel", channel)
	d.metrics.DispatchFailure(channel)
}

func (d *Dispatcher) attempt(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if j.notification != nil {
		return d.sender.Send(ctx, *j.notification)
	}
	return d.audit.Record(ctx, *j.audit)
}
