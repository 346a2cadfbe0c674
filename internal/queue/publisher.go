package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aplabs/labreserve/internal/model"
)

// Publisher sends notifications and audit entries to their queues.  The
// connection is opened lazily and dropped on any error so the next call
// (usually a dispatcher retry) reconnects.  Errors are logged and returned.
type Publisher struct {
	url string
	log *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *slog.Logger) *Publisher {
	return &Publisher{url: url, log: log}
}

// Send publishes n to the notifications queue.
func (p *Publisher) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(notificationEvent(n))
	if err != nil {
		return err
	}
	return p.publish(ctx, NotificationsQueue, n.ID, body)
}

// Record publishes e to the audit queue.
func (p *Publisher) Record(ctx context.Context, e model.AuditEntry) error {
	body, err := json.Marshal(auditEvent(e))
	if err != nil {
		return err
	}
	return p.publish(ctx, AuditQueue, e.ID, body)
}

func (p *Publisher) publish(ctx context.Context, queue, id string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		p.log.Warn("rabbitmq: connect failed", "error", err)
		return err
	}
	// Declaring is idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.log.Warn("rabbitmq: queue declare failed", "queue", queue, "error", err)
		p.reset()
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq: publish failed", "queue", queue, "error", err)
		p.reset()
		return err
	}
	return nil
}

// channel returns the open channel, dialling when needed.  Callers hold mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
