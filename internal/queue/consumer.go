package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aplabs/labreserve/internal/notify"
)

// Consumer drains both queues: notifications go to Inbox, audit entries
// are appended to AuditLog one line each.
type Consumer struct {
	URL      string
	Inbox    notify.Sender
	AuditLog string // default logs/audit.log
	Log      *slog.Logger
}

// Run connects, consumes and reconnects with backoff until ctx is
// cancelled.  A message that cannot be handled is requeued once and then
// rejected, so a poison message never loops.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("queue consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.Log.Warn("queue consumer: consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("queue consumer: set QoS failed", "error", err)
	}
	for _, q := range []string{NotificationsQueue, AuditQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
	}
	notifications, err := ch.Consume(NotificationsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", NotificationsQueue, err)
	}
	audits, err := ch.Consume(AuditQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", AuditQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-notifications:
			if !ok {
				return errors.New("notification deliveries closed")
			}
			c.settle(d, c.handleNotification(ctx, d.Body))
		case d, ok := <-audits:
			if !ok {
				return errors.New("audit deliveries closed")
			}
			c.settle(d, c.handleAudit(d.Body))
		}
	}
}

func (c *Consumer) settle(d amqp.Delivery, err error) {
	if err == nil {
		_ = d.Ack(false)
		return
	}
	c.Log.Warn("queue consumer: handle message failed", "queue", d.RoutingKey, "redelivered", d.Redelivered, "error", err)
	_ = d.Nack(false, !d.Redelivered)
}

func (c *Consumer) handleNotification(ctx context.Context, body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ID == "" || ev.RecipientID == 0 {
		return errors.New("notification without id or recipient")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.Inbox.Send(ctx, ev.Notification())
}

func (c *Consumer) handleAudit(body []byte) error {
	var ev AuditEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	path := c.AuditLog
	if path == "" {
		path = filepath.Join("logs", "audit.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s | actor=%d | module=%s | id=%s | %s\n",
		ev.At, ev.Action, ev.Actor, ev.Module, ev.ID, ev.Detail)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// sleep waits for d or until ctx is done, reporting whether it slept fully.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
