// Package queue carries notifications and audit entries over RabbitMQ.
// The publisher is a delivery sink for the dispatcher; the consumer on the
// other side stores notifications in the inbox and appends audit entries
// to logs/audit.log.
package queue

import (
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// Queue names.  Both queues are durable.
const (
	NotificationsQueue = "aplabs.notifications"
	AuditQueue         = "aplabs.audit"
)

// NotificationEvent is the wire form of a notification.  Timestamps travel
// as strings in storage layout.
type NotificationEvent struct {
	ID          string            `json:"id"`
	RecipientID uint64            `json:"recipient_id"`
	Kind        string            `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// AuditEvent is the wire form of an audit entry.
type AuditEvent struct {
	ID     string `json:"id"`
	Actor  uint64 `json:"actor"`
	Action string `json:"action"`
	Detail string `json:"detail"`
	Module string `json:"module"`
	At     string `json:"at"`
}

func notificationEvent(n model.Notification) NotificationEvent {
	return NotificationEvent{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Kind:        string(n.Kind),
		Title:       n.Title,
		Body:        n.Body,
		Metadata:    n.Metadata,
		CreatedAt:   model.FormatTimestamp(n.CreatedAt),
	}
}

// Notification converts the event back into the domain type.
func (e NotificationEvent) Notification() model.Notification {
	created, err := model.ParseTimestamp(e.CreatedAt)
	if err != nil {
		created = time.Now().UTC()
	}
	return model.Notification{
		ID:          e.ID,
		RecipientID: e.RecipientID,
		Kind:        model.NotificationKind(e.Kind),
		Title:       e.Title,
		Body:        e.Body,
		Metadata:    e.Metadata,
		CreatedAt:   created,
	}
}

func auditEvent(e model.AuditEntry) AuditEvent {
	return AuditEvent{
		ID:     e.ID,
		Actor:  e.Actor,
		Action: e.Action,
		Detail: e.Detail,
		Module: e.Module,
		At:     model.FormatTimestamp(e.At),
	}
}
