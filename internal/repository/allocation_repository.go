package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// AllocationRepo persists allocations.  An allocation shares the time
// slots of the request it was created from.
type AllocationRepo struct {
	db *sql.DB
}

// NewAllocationRepo returns an AllocationRepo bound to db.
func NewAllocationRepo(db *sql.DB) *AllocationRepo { return &AllocationRepo{db: db} }

// DB exposes the handle so services can open transactions.
func (r *AllocationRepo) DB() *sql.DB { return r.db }

const allocationColumns = `id, request_id, item_id, requester_id, kind, start_date, expected_return,
	quantity, status, checked_in_at, returned_at, returned_by, reminder_sent, overdue_sent, created_at`

func scanAllocation(row interface{ Scan(...any) error }) (model.Allocation, error) {
	var (
		a                     model.Allocation
		kind, status, date    string
		expected              sql.NullString
		checkedIn, returnedAt sql.NullString
		returnedBy            sql.NullInt64
		reminder, overdue     sql.NullString
		createdAt             string
	)
	if err := row.Scan(&a.ID, &a.RequestID, &a.ItemID, &a.RequesterID, &kind, &date, &expected,
		&a.Quantity, &status, &checkedIn, &returnedAt, &returnedBy, &reminder, &overdue,
		&createdAt); err != nil {
		return a, err
	}
	var err error
	if a.Kind, err = model.ParseItemKind(kind); err != nil {
		return a, err
	}
	if a.Status, err = model.ParseAllocationStatus(status); err != nil {
		return a, err
	}
	if a.Window.Date, err = model.ParseDate(date); err != nil {
		return a, err
	}
	if a.Window.ReturnDate, err = nullDate(expected); err != nil {
		return a, err
	}
	a.CheckedInAt = nullTimestamp(checkedIn)
	a.ReturnedAt = nullTimestamp(returnedAt)
	a.ReturnedBy = nullUint(returnedBy)
	a.ReminderSent = flag(reminder)
	a.OverdueSent = flag(overdue)
	a.CreatedAt = parseTimestamp(createdAt)
	return a, nil
}

// CreateTx inserts an ACTIVE allocation within tx.  The unique key on
// request_id rejects a second allocation for the same request with
// ErrConflict.
func (r *AllocationRepo) CreateTx(ctx context.Context, tx *sql.Tx, a *model.Allocation) error {
	now := time.Now().UTC().Truncate(time.Second)
	a.Status = model.AllocationActive
	const q = `INSERT INTO allocations (request_id, item_id, requester_id, kind, start_date,
		expected_return, quantity, status, reminder_sent, overdue_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`
	res, err := tx.ExecContext(ctx, q, a.RequestID, a.ItemID, a.RequesterID, string(a.Kind),
		model.FormatDate(a.Window.Date), nullDateArg(a.Window.ReturnDate), a.Quantity,
		string(a.Status), model.FormatTimestamp(now))
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = uint64(id)
	a.CreatedAt = now
	return nil
}

// Get returns one allocation with its slots, or model.ErrNotFound.
func (r *AllocationRepo) Get(ctx context.Context, id uint64) (model.Allocation, error) {
	return r.get(ctx, r.db, id)
}

// GetTx is Get inside tx.
func (r *AllocationRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Allocation, error) {
	return r.get(ctx, tx, id)
}

// GetByRequest returns the allocation created for a request.
func (r *AllocationRepo) GetByRequest(ctx context.Context, requestID uint64) (model.Allocation, error) {
	list, err := r.list(ctx, r.db, `request_id = ?`, []any{requestID})
	if err != nil {
		return model.Allocation{}, err
	}
	if len(list) == 0 {
		return model.Allocation{}, notFound(sql.ErrNoRows, "allocation for request", requestID)
	}
	return list[0], nil
}

func (r *AllocationRepo) get(ctx context.Context, q dbtx, id uint64) (model.Allocation, error) {
	list, err := r.list(ctx, q, `id = ?`, []any{id})
	if err != nil {
		return model.Allocation{}, err
	}
	if len(list) == 0 {
		return model.Allocation{}, notFound(sql.ErrNoRows, "allocation", id)
	}
	return list[0], nil
}

// ListActiveByItemTx returns the ACTIVE allocations of an item inside tx.
// Callers hold the item's lock, so the result stays current until commit.
func (r *AllocationRepo) ListActiveByItemTx(ctx context.Context, tx *sql.Tx, itemID uint64) ([]model.Allocation, error) {
	return r.activeByItem(ctx, tx, itemID)
}

// ListActiveByItem is the lock-free read used for availability previews.
func (r *AllocationRepo) ListActiveByItem(ctx context.Context, itemID uint64) ([]model.Allocation, error) {
	return r.activeByItem(ctx, r.db, itemID)
}

func (r *AllocationRepo) activeByItem(ctx context.Context, q dbtx, itemID uint64) ([]model.Allocation, error) {
	all, err := r.list(ctx, q, `item_id = ?`, []any{itemID})
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, a := range all {
		if a.Active() {
			active = append(active, a)
		}
	}
	return active, nil
}

// List returns allocations matching f, newest first.
func (r *AllocationRepo) List(ctx context.Context, f model.AllocationFilter) ([]model.Allocation, error) {
	var (
		where []string
		args  []any
	)
	if f.ItemID != 0 {
		where = append(where, "item_id = ?")
		args = append(args, f.ItemID)
	}
	if f.RequesterID != 0 {
		where = append(where, "requester_id = ?")
		args = append(args, f.RequesterID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	all, err := r.list(ctx, r.db, strings.Join(where, " AND "), args)
	if err != nil || f.Status == "" {
		return all, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Status == f.Status {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListDueForSweep returns ACTIVE resource allocations that carry an
// expected return date.
func (r *AllocationRepo) ListDueForSweep(ctx context.Context) ([]model.Allocation, error) {
	all, err := r.list(ctx, r.db, `kind = ? AND expected_return IS NOT NULL`, []any{string(model.KindResource)})
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, a := range all {
		if a.Active() && a.Window.ReturnDate != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *AllocationRepo) list(ctx context.Context, q dbtx, where string, args []any) ([]model.Allocation, error) {
	stmt := `SELECT ` + allocationColumns + ` FROM allocations`
	if where != "" {
		stmt += ` WHERE ` + where
	}
	stmt += ` ORDER BY created_at DESC, id DESC`
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Allocation{}
	var reqIDs []uint64
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		if a.Kind == model.KindLaboratory {
			reqIDs = append(reqIDs, a.RequestID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	slots, err := loadSlots(ctx, q, reqIDs)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Window.Slots = slots[out[i].RequestID]
	}
	return out, nil
}

// activeCond matches every stored encoding of ACTIVE, so conditional
// updates also match rows written by older versions.
var activeCond, activeArgs = statusIn(model.AllocationActive.Spellings())

// MarkReturnedTx moves an ACTIVE allocation to RETURNED.  ErrStaleWrite
// means it was not active anymore.
func (r *AllocationRepo) MarkReturnedTx(ctx context.Context, tx *sql.Tx, id, by uint64, at time.Time) error {
	q := `UPDATE allocations SET status = ?, returned_at = ?, returned_by = ?
		WHERE id = ? AND ` + activeCond
	args := append([]any{string(model.AllocationReturned), model.FormatTimestamp(at), by, id}, activeArgs...)
	return expectOne(tx.ExecContext(ctx, q, args...))
}

// CheckIn stamps the moment a group occupied a laboratory.  ErrStaleWrite
// means the allocation is not active or was already checked in.
func (r *AllocationRepo) CheckIn(ctx context.Context, id uint64, at time.Time) error {
	q := `UPDATE allocations SET checked_in_at = ?
		WHERE id = ? AND checked_in_at IS NULL AND ` + activeCond
	args := append([]any{model.FormatTimestamp(at), id}, activeArgs...)
	return expectOne(r.db.ExecContext(ctx, q, args...))
}

// MarkReminderSent claims the due-tomorrow reminder.  It reports false when
// the flag was already set or the allocation is no longer active, so the
// reminder is emitted at most once even with concurrent sweeps.
func (r *AllocationRepo) MarkReminderSent(ctx context.Context, id uint64) (bool, error) {
	return r.claim(ctx, "reminder_sent", id)
}

// MarkOverdueSent claims the overdue notice, like MarkReminderSent.
func (r *AllocationRepo) MarkOverdueSent(ctx context.Context, id uint64) (bool, error) {
	return r.claim(ctx, "overdue_sent", id)
}

func (r *AllocationRepo) claim(ctx context.Context, column string, id uint64) (bool, error) {
	q := `UPDATE allocations SET ` + column + ` = 1
		WHERE id = ? AND ` + column + ` = 0 AND ` + activeCond
	args := append([]any{id}, activeArgs...)
	err := expectOne(r.db.ExecContext(ctx, q, args...))
	if err == ErrStaleWrite {
		return false, nil
	}
	return err == nil, err
}
