package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Block is an administrator-declared unavailability window for an item.
// StartDate and EndDate are inclusive calendar days.
type Block struct {
	ID        uint64    `json:"id"`
	ItemID    uint64    `json:"item_id"`
	StartDate time.Time `json:"-"`
	EndDate   time.Time `json:"-"`
	Reason    string    `json:"reason"`
	Active    bool      `json:"active"`
	CreatedBy uint64    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	type plain Block
	return json.Marshal(struct {
		plain
		Start string `json:"start_date"`
		End   string `json:"end_date"`
	}{plain(b), FormatDate(b.StartDate), FormatDate(b.EndDate)})
}

// Covers reports whether the block is active and shares a day with [from, to].
func (b Block) Covers(from, to time.Time) bool {
	return b.Active && !b.StartDate.After(to) && !b.EndDate.Before(from)
}

// Validate checks an administrator-supplied block.
func (b Block) Validate() error {
	if b.ItemID == 0 {
		return fmt.Errorf("%w: item_id is required", ErrValidation)
	}
	if b.StartDate.IsZero() || b.EndDate.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", ErrValidation)
	}
	if b.EndDate.Before(b.StartDate) {
		return fmt.Errorf("%w: end_date is before start_date", ErrValidation)
	}
	if strings.TrimSpace(b.Reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	return nil
}
