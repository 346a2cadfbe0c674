package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// BlockRepo persists blocking periods.
type BlockRepo struct {
	db *sql.DB
}

// NewBlockRepo returns a BlockRepo bound to db.
func NewBlockRepo(db *sql.DB) *BlockRepo { return &BlockRepo{db: db} }

const blockColumns = `id, item_id, start_date, end_date, reason, active, created_by, created_at`

func scanBlock(row interface{ Scan(...any) error }) (model.Block, error) {
	var (
		b                     model.Block
		start, end, createdAt string
		active                sql.NullString
	)
	if err := row.Scan(&b.ID, &b.ItemID, &start, &end, &b.Reason, &active, &b.CreatedBy, &createdAt); err != nil {
		return b, err
	}
	var err error
	if b.StartDate, err = model.ParseDate(start); err != nil {
		return b, err
	}
	if b.EndDate, err = model.ParseDate(end); err != nil {
		return b, err
	}
	b.Active = flag(active)
	b.CreatedAt = parseTimestamp(createdAt)
	return b, nil
}

// Create inserts an active block.
func (r *BlockRepo) Create(ctx context.Context, b *model.Block) error {
	now := time.Now().UTC().Truncate(time.Second)
	b.Active = true
	const q = `INSERT INTO blocks (item_id, start_date, end_date, reason, active, created_by, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, b.ItemID, model.FormatDate(b.StartDate),
		model.FormatDate(b.EndDate), b.Reason, b.CreatedBy, model.FormatTimestamp(now))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.CreatedAt = now
	return nil
}

// Deactivate lifts a block.  Deactivating twice is not an error.
func (r *BlockRepo) Deactivate(ctx context.Context, id uint64) error {
	err := expectOne(r.db.ExecContext(ctx, `UPDATE blocks SET active = 0 WHERE id = ?`, id))
	if err == ErrStaleWrite {
		return fmt.Errorf("%w: block %d", model.ErrNotFound, id)
	}
	return err
}

// ListActiveByItemTx returns the active blocks of an item inside tx.
func (r *BlockRepo) ListActiveByItemTx(ctx context.Context, tx *sql.Tx, itemID uint64) ([]model.Block, error) {
	return r.list(ctx, tx, itemID, true)
}

// ListActiveByItem returns the active blocks of an item.
func (r *BlockRepo) ListActiveByItem(ctx context.Context, itemID uint64) ([]model.Block, error) {
	return r.list(ctx, r.db, itemID, true)
}

// List returns the blocks of one item (or of every item when itemID is 0).
func (r *BlockRepo) List(ctx context.Context, itemID uint64, activeOnly bool) ([]model.Block, error) {
	return r.list(ctx, r.db, itemID, activeOnly)
}

func (r *BlockRepo) list(ctx context.Context, q dbtx, itemID uint64, activeOnly bool) ([]model.Block, error) {
	stmt := `SELECT ` + blockColumns + ` FROM blocks`
	var args []any
	if itemID != 0 {
		stmt += ` WHERE item_id = ?`
		args = append(args, itemID)
	}
	stmt += ` ORDER BY start_date, id`
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Block{}
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		if activeOnly && !b.Active {
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
