package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// NotificationRepo stores delivered notifications so recipients can read
// them later.
type NotificationRepo struct {
	db *sql.DB
}

// NewNotificationRepo returns a NotificationRepo bound to db.
func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{db: db} }

// Send stores n.  Redelivery of the same notification ID is ignored, which
// makes at-least-once transports safe to use in front of it.
func (r *NotificationRepo) Send(ctx context.Context, n model.Notification) error {
	meta := []byte("{}")
	if len(n.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(n.Metadata); err != nil {
			return err
		}
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	const q = `INSERT INTO notifications (id, recipient_id, kind, title, body, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, n.ID, n.RecipientID, string(n.Kind), n.Title, n.Body,
		string(meta), model.FormatTimestamp(n.CreatedAt))
	if isDuplicate(err) {
		return nil
	}
	return err
}

// ListByRecipient returns the newest notifications of a user.
func (r *NotificationRepo) ListByRecipient(ctx context.Context, recipientID uint64, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT id, recipient_id, kind, title, body, metadata, read_at, created_at
		FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Notification{}
	for rows.Next() {
		var (
			n              model.Notification
			kind, meta, ts string
			readAt         sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.RecipientID, &kind, &n.Title, &n.Body, &meta, &readAt, &ts); err != nil {
			return nil, err
		}
		n.Kind = model.NotificationKind(kind)
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &n.Metadata); err != nil {
				return nil, fmt.Errorf("notification %s metadata: %w", n.ID, err)
			}
		}
		n.ReadAt = nullTimestamp(readAt)
		n.CreatedAt = parseTimestamp(ts)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead stamps a notification as read.  Notifications of other users
// are reported as not found.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string, recipientID uint64, at time.Time) error {
	const q = `UPDATE notifications SET read_at = COALESCE(read_at, ?) WHERE id = ? AND recipient_id = ?`
	err := expectOne(r.db.ExecContext(ctx, q, model.FormatTimestamp(at), id, recipientID))
	if err == ErrStaleWrite {
		return fmt.Errorf("%w: notification %s", model.ErrNotFound, id)
	}
	return err
}
