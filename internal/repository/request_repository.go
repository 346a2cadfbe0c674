package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// RequestRepo persists booking requests.  Laboratory time slots live in
// request_slots, one row per slot, keyed by request.
type RequestRepo struct {
	db *sql.DB
}

// NewRequestRepo returns a RequestRepo bound to db.
func NewRequestRepo(db *sql.DB) *RequestRepo { return &RequestRepo{db: db} }

// DB exposes the handle so services can open transactions.
func (r *RequestRepo) DB() *sql.DB { return r.db }

const requestColumns = `id, requester_id, item_id, kind, req_date, return_date, quantity,
	justification, status, rejection_reason, decided_by, decided_at, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (model.Request, error) {
	var (
		req                  model.Request
		kind, status, date   string
		returnDate, reason   sql.NullString
		decidedAt            sql.NullString
		decidedBy            sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(&req.ID, &req.RequesterID, &req.ItemID, &kind, &date, &returnDate,
		&req.Quantity, &req.Justification, &status, &reason, &decidedBy, &decidedAt,
		&createdAt, &updatedAt); err != nil {
		return req, err
	}
	var err error
	if req.Kind, err = model.ParseItemKind(kind); err != nil {
		return req, err
	}
	if req.Status, err = model.ParseRequestStatus(status); err != nil {
		return req, err
	}
	if req.Window.Date, err = model.ParseDate(date); err != nil {
		return req, err
	}
	if req.Window.ReturnDate, err = nullDate(returnDate); err != nil {
		return req, err
	}
	req.RejectionReason = reason.String
	req.DecidedBy = nullUint(decidedBy)
	req.DecidedAt = nullTimestamp(decidedAt)
	req.CreatedAt = parseTimestamp(createdAt)
	req.UpdatedAt = parseTimestamp(updatedAt)
	return req, nil
}

// Create inserts a pending request and its slots in one transaction.
func (r *RequestRepo) Create(ctx context.Context, req *model.Request) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := r.CreateTx(ctx, tx, req); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// CreateTx inserts req and its slots within tx, filling in ID and
// timestamps.
func (r *RequestRepo) CreateTx(ctx context.Context, tx *sql.Tx, req *model.Request) error {
	now := time.Now().UTC().Truncate(time.Second)
	if req.Status == "" {
		req.Status = model.RequestPending
	}
	const q = `INSERT INTO requests (requester_id, item_id, kind, req_date, return_date, quantity,
		justification, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, req.RequesterID, req.ItemID, string(req.Kind),
		model.FormatDate(req.Window.Date), nullDateArg(req.Window.ReturnDate), req.Quantity,
		req.Justification, string(req.Status), model.FormatTimestamp(now), model.FormatTimestamp(now))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	req.ID = uint64(id)
	req.CreatedAt, req.UpdatedAt = now, now
	if len(req.Window.Slots) == 0 {
		return nil
	}
	stmt := `INSERT INTO request_slots (request_id, start_time, end_time) VALUES `
	args := make([]any, 0, len(req.Window.Slots)*3)
	for i, s := range req.Window.Slots {
		if i > 0 {
			stmt += ","
		}
		stmt += "(?, ?, ?)"
		args = append(args, req.ID, model.FormatClock(s.Start), model.FormatClock(s.End))
	}
	_, err = tx.ExecContext(ctx, stmt, args...)
	return err
}

// Get returns a request with its slots, or model.ErrNotFound.
func (r *RequestRepo) Get(ctx context.Context, id uint64) (model.Request, error) {
	return r.get(ctx, r.db, id)
}

// GetTx is Get inside tx.
func (r *RequestRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Request, error) {
	return r.get(ctx, tx, id)
}

func (r *RequestRepo) get(ctx context.Context, q dbtx, id uint64) (model.Request, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id))
	if err != nil {
		return req, notFound(err, "request", id)
	}
	slots, err := loadSlots(ctx, q, []uint64{id})
	if err != nil {
		return req, err
	}
	req.Window.Slots = slots[id]
	return req, nil
}

// List returns requests matching f, newest first.
func (r *RequestRepo) List(ctx context.Context, f model.RequestFilter) ([]model.Request, error) {
	var (
		where []string
		args  []any
	)
	if f.RequesterID != 0 {
		where = append(where, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.ItemID != 0 {
		where = append(where, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	q := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Request{}
	var ids []uint64
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req)
		ids = append(ids, req.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	slots, err := loadSlots(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Window.Slots = slots[out[i].ID]
	}
	return out, nil
}

// DecideTx moves a pending request to APPROVED or REJECTED.  It returns
// ErrStaleWrite when the request is no longer pending.
func (r *RequestRepo) DecideTx(ctx context.Context, tx *sql.Tx, id uint64, status model.RequestStatus, reason string, decidedBy uint64, at time.Time) error {
	pending, pendingArgs := statusIn(model.RequestPending.Spellings())
	q := `UPDATE requests
		SET status = ?, rejection_reason = ?, decided_by = ?, decided_at = ?, updated_at = ?
		WHERE id = ? AND ` + pending
	var reasonArg any
	if reason != "" {
		reasonArg = reason
	}
	ts := model.FormatTimestamp(at)
	args := append([]any{string(status), reasonArg, decidedBy, ts, ts, id}, pendingArgs...)
	return expectOne(tx.ExecContext(ctx, q, args...))
}

// DeletePendingTx removes a pending request and its slots.  It returns
// ErrStaleWrite when the request is no longer pending.
func (r *RequestRepo) DeletePendingTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	pending, pendingArgs := statusIn(model.RequestPending.Spellings())
	if _, err := tx.ExecContext(ctx, `DELETE FROM request_slots WHERE request_id = ?
		AND EXISTS (SELECT 1 FROM requests WHERE id = ? AND `+pending+`)`,
		append([]any{id, id}, pendingArgs...)...); err != nil {
		return err
	}
	return expectOne(tx.ExecContext(ctx, `DELETE FROM requests WHERE id = ? AND `+pending,
		append([]any{id}, pendingArgs...)...))
}

// loadSlots fetches the time slots of the given requests keyed by request.
func loadSlots(ctx context.Context, q dbtx, requestIDs []uint64) (map[uint64][]model.TimeSlot, error) {
	out := make(map[uint64][]model.TimeSlot, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(requestIDs))
	for i, id := range requestIDs {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, `SELECT request_id, start_time, end_time FROM request_slots
		WHERE request_id IN (`+placeholders(len(args))+`) ORDER BY request_id, start_time`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id         uint64
			start, end string
		)
		if err := rows.Scan(&id, &start, &end); err != nil {
			return nil, err
		}
		s, err := model.ParseClock(start)
		if err != nil {
			return nil, err
		}
		e, err := model.ParseClock(end)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", id, err)
		}
		out[id] = append(out[id], model.TimeSlot{Start: s, End: e})
	}
	return out, rows.Err()
}
