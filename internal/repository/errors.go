// Package repository holds the SQL adapters behind the reservation engine.
// Every adapter works on MySQL and SQLite: dates, times of day and
// timestamps are stored as strings and normalised here, and legacy status
// encodings are translated into the model enums on read.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/aplabs/labreserve/internal/model"
)

// ErrStaleWrite is returned when a conditional write matched no row because
// another writer changed the record first.
var ErrStaleWrite = errors.New("stale write")

// ErrConflict is returned when an insert collides with a unique key, such
// as a catalog code that is already taken.
var ErrConflict = errors.New("conflict")

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// notFound converts sql.ErrNoRows into model.ErrNotFound.
func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %v", model.ErrNotFound, what, id)
	}
	return err
}

// isDuplicate reports a unique key violation on either driver.
func isDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// expectOne turns a zero-row conditional update into ErrStaleWrite.
func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleWrite
	}
	return nil
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// statusIn builds a "status IN (...)" condition that matches every stored
// spelling of a status, whatever its case or padding.
func statusIn(spellings []string) (string, []any) {
	args := make([]any, len(spellings))
	for i, sp := range spellings {
		args[i] = sp
	}
	return `LOWER(TRIM(status)) IN (` + placeholders(len(args)) + `)`, args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
