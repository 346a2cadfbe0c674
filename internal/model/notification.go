package model

import "time"

// NotificationKind is the category shown in the recipient's inbox.  The
// values are the identifiers the front end already knows.
type NotificationKind string

const (
	NotifyApproved NotificationKind = "solicitud_aprobada"
	NotifyRejected NotificationKind = "solicitud_rechazada"
	NotifyReminder NotificationKind = "mantenimiento_programado"
	NotifyGeneral  NotificationKind = "general"
	NotifyMessage  NotificationKind = "mensaje"
)

// Notification is a message addressed to one user.
type Notification struct {
	ID          string            `json:"id"`
	RecipientID uint64            `json:"recipient_id"`
	Kind        NotificationKind  `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReadAt      *time.Time        `json:"read_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AuditEntry records who did what.  Audit is write-only.
type AuditEntry struct {
	ID     string    `json:"id"`
	Actor  uint64    `json:"actor"`
	Action string    `json:"action"`
	Detail string    `json:"detail"`
	Module string    `json:"module"`
	At     time.Time `json:"at"`
}
