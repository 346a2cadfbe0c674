package repository

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// Column decoding shared by the adapters.  Drivers disagree on how they
// hand back strings and booleans ([]byte vs string, int64 vs bool), so
// rows are scanned into sql.Null* values and normalised here.

func parseTimestamp(s string) time.Time {
	t, err := model.ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTimestamp(ns sql.NullString) *time.Time {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" || ns.String == "0001-01-01 00:00:00" {
		return nil
	}
	t, err := model.ParseTimestamp(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	d, err := model.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullUint(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}

func nullTimestampArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return model.FormatTimestamp(*t)
}

func nullDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return model.FormatDate(*t)
}

func nullUintArg(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}

// flag reads a boolean column stored as 0/1, "true"/"false" or "Y"/"N".
func flag(ns sql.NullString) bool {
	if !ns.Valid {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(ns.String)) {
	case "1", "true", "t", "y", "yes", "si", "sí":
		return true
	}
	if n, err := strconv.Atoi(ns.String); err == nil {
		return n != 0
	}
	return false
}
