package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// CatalogRepo reads and writes laboratories and resources.
type CatalogRepo struct {
	db *sql.DB
}

// NewCatalogRepo returns a CatalogRepo bound to db.
func NewCatalogRepo(db *sql.DB) *CatalogRepo { return &CatalogRepo{db: db} }

// DB exposes the handle so services can open transactions.
func (r *CatalogRepo) DB() *sql.DB { return r.db }

const catalogColumns = `id, kind, code, name, capacity, total_quantity, available_quantity,
	unit, resource_type, status, location, version, created_at, updated_at`

func scanCatalogItem(row interface{ Scan(...any) error }) (model.CatalogItem, error) {
	var (
		it                   model.CatalogItem
		kind, status         string
		createdAt, updatedAt string
	)
	if err := row.Scan(&it.ID, &kind, &it.Code, &it.Name, &it.Capacity, &it.TotalQuantity,
		&it.AvailableQuantity, &it.Unit, &it.ResourceType, &status, &it.Location, &it.Version,
		&createdAt, &updatedAt); err != nil {
		return it, err
	}
	var err error
	if it.Kind, err = model.ParseItemKind(kind); err != nil {
		return it, err
	}
	if it.Status, err = model.ParseItemStatus(status); err != nil {
		return it, err
	}
	it.CreatedAt = parseTimestamp(createdAt)
	it.UpdatedAt = parseTimestamp(updatedAt)
	return it, nil
}

// Create inserts a new item and fills in its ID and timestamps.  A code
// that is already taken yields ErrConflict.
func (r *CatalogRepo) Create(ctx context.Context, it *model.CatalogItem) error {
	now := time.Now().UTC().Truncate(time.Second)
	const q = `INSERT INTO catalog_items (kind, code, name, capacity, total_quantity, available_quantity,
		unit, resource_type, status, location, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, string(it.Kind), strings.TrimSpace(it.Code), it.Name,
		it.Capacity, it.TotalQuantity, it.AvailableQuantity, it.Unit, it.ResourceType,
		string(it.Status), it.Location, model.FormatTimestamp(now), model.FormatTimestamp(now))
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: code %q already exists", ErrConflict, it.Code)
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = uint64(id)
	it.Version = 0
	it.CreatedAt, it.UpdatedAt = now, now
	return nil
}

// Get returns one item or model.ErrNotFound.
func (r *CatalogRepo) Get(ctx context.Context, id uint64) (model.CatalogItem, error) {
	return r.get(ctx, r.db, id)
}

// GetTx is Get inside tx.
func (r *CatalogRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.CatalogItem, error) {
	return r.get(ctx, tx, id)
}

func (r *CatalogRepo) get(ctx context.Context, q dbtx, id uint64) (model.CatalogItem, error) {
	row := q.QueryRowContext(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE id = ?`, id)
	it, err := scanCatalogItem(row)
	if err != nil {
		return it, notFound(err, "catalog item", id)
	}
	return it, nil
}

// List returns items ordered by kind and code.  Empty kind or status
// matches every value.  Status filtering happens after decoding so legacy
// encodings are matched too.
func (r *CatalogRepo) List(ctx context.Context, kind model.ItemKind, status model.ItemStatus) ([]model.CatalogItem, error) {
	q := `SELECT ` + catalogColumns + ` FROM catalog_items`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	q += ` ORDER BY kind, code`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []model.CatalogItem{}
	for rows.Next() {
		it, err := scanCatalogItem(rows)
		if err != nil {
			return nil, err
		}
		if status != "" && it.Status != status {
			continue
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateStatus sets the operational status outside of the approval flow
// (maintenance, out of service, back to available).
func (r *CatalogRepo) UpdateStatus(ctx context.Context, id uint64, status model.ItemStatus) error {
	return r.setStatus(ctx, r.db, id, status)
}

// SetStatusTx is UpdateStatus inside tx.
func (r *CatalogRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.ItemStatus) error {
	return r.setStatus(ctx, tx, id, status)
}

func (r *CatalogRepo) setStatus(ctx context.Context, q dbtx, id uint64, status model.ItemStatus) error {
	const stmt = `UPDATE catalog_items SET status = ?, updated_at = ? WHERE id = ?`
	res, err := q.ExecContext(ctx, stmt, string(status), model.FormatTimestamp(time.Now()), id)
	if err := expectOne(res, err); err != nil {
		if err == ErrStaleWrite {
			return fmt.Errorf("%w: catalog item %d", model.ErrNotFound, id)
		}
		return err
	}
	return nil
}

// LockTx is the per-item serialisation point.  Bumping the version takes
// the row's write lock (MySQL) or the database write lock (SQLite), so a
// second approval or return of the same item waits until tx finishes.
//
// It must be the first statement of tx.  Under REPEATABLE READ a plain
// SELECT issued before it would pin the snapshot, and later reads would
// miss allocations committed while waiting for the lock.
func (r *CatalogRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE catalog_items SET version = version + 1 WHERE id = ?`, id)
	if err := expectOne(res, err); err != nil {
		if err == ErrStaleWrite {
			return fmt.Errorf("%w: catalog item %d", model.ErrNotFound, id)
		}
		return err
	}
	return nil
}

// ReserveQuantityTx subtracts qty units from the available quantity only
// if that many are still available.  ErrStaleWrite means they were not.
func (r *CatalogRepo) ReserveQuantityTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error {
	const q = `UPDATE catalog_items
		SET available_quantity = available_quantity - ?, updated_at = ?
		WHERE id = ? AND available_quantity >= ?`
	return expectOne(tx.ExecContext(ctx, q, qty, model.FormatTimestamp(time.Now()), id, qty))
}

// ReleaseQuantityTx gives qty units back, never exceeding the total.
func (r *CatalogRepo) ReleaseQuantityTx(ctx context.Context, tx *sql.Tx, id uint64, qty int) error {
	const q = `UPDATE catalog_items
		SET available_quantity = CASE
			WHEN available_quantity + ? > total_quantity THEN total_quantity
			ELSE available_quantity + ? END,
			updated_at = ?
		WHERE id = ?`
	return expectOne(tx.ExecContext(ctx, q, qty, qty, model.FormatTimestamp(time.Now()), id))
}
