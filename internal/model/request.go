package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"
)

// RequestStatus is the lifecycle state of a booking request.  Cancelled
// requests are deleted, so there is no status for them.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// requestStatusSpellings lists, in lower case, every stored value that
// decodes to each status: the numeric codes (0 pending, 1 approved,
// 2 rejected) and Spanish labels found in older records.
var requestStatusSpellings = map[RequestStatus][]string{
	RequestPending:  {"pending", "0", "pendiente"},
	RequestApproved: {"approved", "1", "aprobada", "aprobado"},
	RequestRejected: {"rejected", "2", "rechazada", "rechazado"},
}

// ParseRequestStatus translates stored status values, legacy encodings
// included.
func ParseRequestStatus(s string) (RequestStatus, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for status, spellings := range requestStatusSpellings {
		if slices.Contains(spellings, key) {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown request status %q", ErrValidation, s)
}

// Spellings returns the lower-case stored values ParseRequestStatus maps
// to s.  Conditional updates compare LOWER(TRIM(status)) against them.
func (s RequestStatus) Spellings() []string {
	return slices.Clone(requestStatusSpellings[s])
}

// TimeSlot is a half-open interval [Start, End) in minutes after midnight.
type TimeSlot struct {
	Start int
	End   int
}

// Overlaps reports whether two slots share at least one minute.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s TimeSlot) String() string { return FormatClock(s.Start) + "-" + FormatClock(s.End) }

type timeSlotJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (s TimeSlot) MarshalJSON() ([]byte, error) {
	return json.Marshal(timeSlotJSON{Start: FormatClock(s.Start), End: FormatClock(s.End)})
}

func (s *TimeSlot) UnmarshalJSON(b []byte) error {
	var raw timeSlotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	start, err := ParseClock(raw.Start)
	if err != nil {
		return err
	}
	end, err := ParseClock(raw.End)
	if err != nil {
		return err
	}
	s.Start, s.End = start, end
	return nil
}

// Window is the period a request asks for.  Laboratories use Date plus one
// or more Slots; resources use Date and an optional ReturnDate.
type Window struct {
	Date       time.Time
	ReturnDate *time.Time
	Slots      []TimeSlot
}

// Range returns the inclusive span of calendar days the window touches.
func (w Window) Range() (from, to time.Time) {
	from, to = w.Date, w.Date
	if w.ReturnDate != nil {
		to = *w.ReturnDate
	}
	return from, to
}

// Validate checks the window against the shape required for kind.  Slots
// are sorted in place so later comparisons can rely on order.
func (w *Window) Validate(kind ItemKind) error {
	if w.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrValidation)
	}
	switch kind {
	case KindLaboratory:
		if len(w.Slots) == 0 {
			return fmt.Errorf("%w: at least one time slot is required", ErrValidation)
		}
		if w.ReturnDate != nil {
			return fmt.Errorf("%w: laboratory requests take no return date", ErrValidation)
		}
		sort.Slice(w.Slots, func(i, j int) bool { return w.Slots[i].Start < w.Slots[j].Start })
		for i, s := range w.Slots {
			if s.Start < 0 || s.End > 24*60 || s.Start >= s.End {
				return fmt.Errorf("%w: invalid time slot %s", ErrValidation, s)
			}
			if i > 0 && w.Slots[i-1].Overlaps(s) {
				return fmt.Errorf("%w: time slots %s and %s overlap", ErrValidation, w.Slots[i-1], s)
			}
		}
	case KindResource:
		if len(w.Slots) > 0 {
			return fmt.Errorf("%w: resource requests take no time slots", ErrValidation)
		}
		if w.ReturnDate != nil && w.ReturnDate.Before(w.Date) {
			return fmt.Errorf("%w: return date is before the loan date", ErrValidation)
		}
	}
	return nil
}

type windowJSON struct {
	Date       string     `json:"date"`
	ReturnDate string     `json:"return_date,omitempty"`
	Slots      []TimeSlot `json:"slots,omitempty"`
}

func (w Window) MarshalJSON() ([]byte, error) {
	out := windowJSON{Slots: w.Slots}
	if !w.Date.IsZero() {
		out.Date = FormatDate(w.Date)
	}
	if w.ReturnDate != nil {
		out.ReturnDate = FormatDate(*w.ReturnDate)
	}
	return json.Marshal(out)
}

func (w *Window) UnmarshalJSON(b []byte) error {
	var raw windowJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*w = Window{Slots: raw.Slots}
	if raw.Date != "" {
		d, err := ParseDate(raw.Date)
		if err != nil {
			return err
		}
		w.Date = d
	}
	if raw.ReturnDate != "" {
		d, err := ParseDate(raw.ReturnDate)
		if err != nil {
			return err
		}
		w.ReturnDate = &d
	}
	return nil
}

// Request is a user's ask to use a catalog item.
//
// Fields:
//
//	ID              – primary key.
//	RequesterID     – user who submitted the request.
//	ItemID          – requested catalog item.
//	Kind            – copy of the item kind at submission.
//	Window          – requested date, slots and return date.
//	Quantity        – participants (laboratories) or units (resources).
//	Justification   – free text supplied by the requester.
//	Status          – PENDING, APPROVED or REJECTED.
//	RejectionReason – set when Status is REJECTED.
//	DecidedBy       – operator who approved or rejected.
//	DecidedAt       – when the decision was recorded.
type Request struct {
	ID              uint64        `json:"id"`
	RequesterID     uint64        `json:"requester_id"`
	ItemID          uint64        `json:"item_id"`
	Kind            ItemKind      `json:"kind"`
	Window          Window        `json:"window"`
	Quantity        int           `json:"quantity"`
	Justification   string        `json:"justification"`
	Status          RequestStatus `json:"status"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	DecidedBy       *uint64       `json:"decided_by,omitempty"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// RequestFilter narrows request listings.  Zero values match everything.
type RequestFilter struct {
	RequesterID uint64
	ItemID      uint64
	Status      RequestStatus
	Kind        ItemKind
}
