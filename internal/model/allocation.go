package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// AllocationStatus only ever moves from ACTIVE to RETURNED.
type AllocationStatus string

const (
	AllocationActive   AllocationStatus = "ACTIVE"
	AllocationReturned AllocationStatus = "RETURNED"
)

// allocationStatusSpellings lists, in lower case, every stored value that
// decodes to each status, including the boolean "returned" encodings
// ("0"/"false" active, "1"/"true" returned) and Spanish labels.
var allocationStatusSpellings = map[AllocationStatus][]string{
	AllocationActive:   {"active", "0", "false", "activa", "activo", "en uso"},
	AllocationReturned: {"returned", "1", "true", "devuelto", "devuelta", "finalizada"},
}

// ParseAllocationStatus translates stored status values, legacy encodings
// included.
func ParseAllocationStatus(s string) (AllocationStatus, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for status, spellings := range allocationStatusSpellings {
		if slices.Contains(spellings, key) {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown allocation status %q", ErrValidation, s)
}

// Spellings returns the lower-case stored values ParseAllocationStatus
// maps to s.
func (s AllocationStatus) Spellings() []string {
	return slices.Clone(allocationStatusSpellings[s])
}

// Allocation is the capacity-consuming record created when a request is
// approved.
//
// Fields:
//
//	ID           – primary key.
//	RequestID    – the approved request (unique).
//	ItemID       – allocated catalog item.
//	RequesterID  – copied from the request for ownership checks.
//	Kind         – item kind.
//	Window       – committed window (copied from the request).
//	Quantity     – committed participants or units.
//	Status       – ACTIVE or RETURNED.
//	CheckedInAt  – laboratories: when a technician recorded the group in the room.
//	ReturnedAt   – when the devolution was recorded.
//	ReturnedBy   – who recorded it.
//	ReminderSent – a due-tomorrow reminder has been emitted.
//	OverdueSent  – an overdue notice has been emitted.
type Allocation struct {
	ID           uint64           `json:"id"`
	RequestID    uint64           `json:"request_id"`
	ItemID       uint64           `json:"item_id"`
	RequesterID  uint64           `json:"requester_id"`
	Kind         ItemKind         `json:"kind"`
	Window       Window           `json:"window"`
	Quantity     int              `json:"quantity"`
	Status       AllocationStatus `json:"status"`
	CheckedInAt  *time.Time       `json:"checked_in_at,omitempty"`
	ReturnedAt   *time.Time       `json:"returned_at,omitempty"`
	ReturnedBy   *uint64          `json:"returned_by,omitempty"`
	ReminderSent bool             `json:"reminder_sent"`
	OverdueSent  bool             `json:"overdue_sent"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Active reports whether the allocation still consumes capacity.
func (a Allocation) Active() bool { return a.Status == AllocationActive }

// AllocationFilter narrows allocation listings.  Zero values match everything.
type AllocationFilter struct {
	ItemID      uint64
	RequesterID uint64
	Status      AllocationStatus
	Kind        ItemKind
}
