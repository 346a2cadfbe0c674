// Package availability decides whether a catalog item can take a new
// commitment given the allocations and blocks that currently apply to it.
// It performs no I/O; callers load the state (inside the transaction that
// will act on the answer) and pass it in.
package availability

import (
	"fmt"
	"time"

	"github.com/aplabs/labreserve/internal/model"
)

// Result describes a successful check.  Remaining is the capacity (or
// number of units) still free before the requested quantity is applied;
// for laboratories it is the minimum over the requested slots.
type Result struct {
	Available bool `json:"available"`
	Remaining int  `json:"remaining"`
}

// Check evaluates a request of quantity against item over window w.
// active may contain allocations for other items or non-active ones;
// they are ignored.  The returned error wraps model.ErrValidation,
// model.ErrItemUnavailable, model.ErrBlocked or model.ErrCapacityExceeded.
func Check(item model.CatalogItem, w model.Window, quantity int, active []model.Allocation, blocks []model.Block) (Result, error) {
	if quantity <= 0 {
		return Result{}, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	if limit := item.Limit(); quantity > limit {
		return Result{}, fmt.Errorf("%w: %d requested but %s holds at most %d", model.ErrValidation, quantity, item.Code, limit)
	}
	if !item.Status.Usable() {
		return Result{}, fmt.Errorf("%w: %s is %s", model.ErrItemUnavailable, item.Code, item.Status)
	}
	from, to := w.Range()
	for _, b := range blocks {
		if b.ItemID == item.ID && b.Covers(from, to) {
			return Result{}, fmt.Errorf("%w: %s is blocked from %s to %s (%s)",
				model.ErrBlocked, item.Code, model.FormatDate(b.StartDate), model.FormatDate(b.EndDate), b.Reason)
		}
	}
	if item.Kind == model.KindLaboratory {
		return checkLaboratory(item, w, quantity, active)
	}
	return checkResource(item, quantity, active)
}

func checkLaboratory(item model.CatalogItem, w model.Window, quantity int, active []model.Allocation) (Result, error) {
	remaining := item.Capacity
	for _, slot := range w.Slots {
		used := SlotOccupancy(item.ID, w.Date, slot, active)
		if used+quantity > item.Capacity {
			return Result{}, fmt.Errorf("%w: %s on %s %s has %d of %d places taken, %d requested",
				model.ErrCapacityExceeded, item.Code, model.FormatDate(w.Date), slot, used, item.Capacity, quantity)
		}
		if free := item.Capacity - used; free < remaining {
			remaining = free
		}
	}
	return Result{Available: true, Remaining: remaining}, nil
}

// SlotOccupancy sums the participants of active allocations on itemID that
// share date and overlap slot.
func SlotOccupancy(itemID uint64, date time.Time, slot model.TimeSlot, active []model.Allocation) int {
	used := 0
	for _, a := range active {
		if a.ItemID != itemID || !a.Active() || !date.Equal(a.Window.Date) {
			continue
		}
		for _, s := range a.Window.Slots {
			if s.Overlaps(slot) {
				used += a.Quantity
				break
			}
		}
	}
	return used
}

// checkResource counts every active loan of the item: a loan keeps its
// units until the devolution is recorded, whatever its expected return
// date, so all active loans overlap any new one.
func checkResource(item model.CatalogItem, quantity int, active []model.Allocation) (Result, error) {
	used := Committed(item.ID, active)
	if used+quantity > item.TotalQuantity {
		return Result{}, fmt.Errorf("%w: %s has %d of %d %s on loan, %d requested",
			model.ErrCapacityExceeded, item.Code, used, item.TotalQuantity, unitLabel(item), quantity)
	}
	return Result{Available: true, Remaining: item.TotalQuantity - used}, nil
}

// Committed sums the quantity of active allocations on itemID.
func Committed(itemID uint64, active []model.Allocation) int {
	used := 0
	for _, a := range active {
		if a.ItemID == itemID && a.Active() {
			used += a.Quantity
		}
	}
	return used
}

func unitLabel(item model.CatalogItem) string {
	if item.Unit == "" {
		return "units"
	}
	return item.Unit
}
