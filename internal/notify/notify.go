// Package notify delivers the side effects of lifecycle transitions.
// Notifications and audit entries are queued after the transition has
// committed and handed to pluggable sinks by a background worker, so a
// slow or failing sink never delays or undoes the transition itself.
package notify

import (
	"context"
	"log/slog"

	"github.com/aplabs/labreserve/internal/model"
)

// Sender delivers one notification.
type Sender interface {
	Send(ctx context.Context, n model.Notification) error
}

// AuditSink records one audit entry.
type AuditSink interface {
	Record(ctx context.Context, e model.AuditEntry) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n model.Notification) error

func (f SenderFunc) Send(ctx context.Context, n model.Notification) error { return f(ctx, n) }

// AuditFunc adapts a function to AuditSink.
type AuditFunc func(ctx context.Context, e model.AuditEntry) error

func (f AuditFunc) Record(ctx context.Context, e model.AuditEntry) error { return f(ctx, e) }

// LogAuditSink writes audit entries to a structured logger.  It is the
// sink used when no broker is configured.
type LogAuditSink struct {
	Log *slog.Logger
}

func (s LogAuditSink) Record(_ context.Context, e model.AuditEntry) error {
	s.Log.Info("audit",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"module", e.Module,
		"detail", e.Detail,
		"at", model.FormatTimestamp(e.At),
	)
	return nil
}
