package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aplabs/labreserve/internal/model"
)

// LookupRepo maintains the reference tables (states, resource types,
// units) shown next to the catalog.
type LookupRepo struct {
	db *sql.DB
}

// NewLookupRepo returns a LookupRepo bound to db.
func NewLookupRepo(db *sql.DB) *LookupRepo { return &LookupRepo{db: db} }

// Upsert replaces the label of (kind, code), inserting the row if needed.
func (r *LookupRepo) Upsert(ctx context.Context, l model.Lookup) error {
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
	code := strings.TrimSpace(l.Code)
	if _, err := tx.ExecContext(ctx, `DELETE FROM lookups WHERE kind = ? AND code = ?`, string(l.Kind), code); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO lookups (kind, code, label) VALUES (?, ?, ?)`,
		string(l.Kind), code, l.Label); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// List returns the rows of one table, or of all of them when kind is empty.
func (r *LookupRepo) List(ctx context.Context, kind model.LookupKind) ([]model.Lookup, error) {
	q := `SELECT kind, code, label FROM lookups`
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
	out := []model.Lookup{}
	for rows.Next() {
		var (
			l model.Lookup
			k string
		)
		if err := rows.Scan(&k, &l.Code, &l.Label); err != nil {
			return nil, err
		}
		l.Kind = model.LookupKind(k)
		out = append(out, l)
	}
	return out, rows.Err()
}
