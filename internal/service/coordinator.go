// Package service holds the lifecycle coordinator, which moves requests
// through submission, decision, use and return, and the devolution
// scheduler.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aplabs/labreserve/internal/availability"
	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/metrics"
	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
)

// Deps wires a Coordinator.  Effects, Metrics, Logger, Now and Timeout are
// optional.
type Deps struct {
	DB          TxBeginner
	Catalog     CatalogStore
	Requests    RequestStore
	Allocations AllocationStore
	Blocks      BlockStore
	Effects     SideEffects
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
	Timeout     time.Duration // deadline applied to every operation (default 10s)
}

// Coordinator enforces the request state machine and keeps the catalog
// consistent with the allocation ledger.
type Coordinator struct {
	db          TxBeginner
	catalog     CatalogStore
	requests    RequestStore
	allocations AllocationStore
	blocks      BlockStore
	effects     SideEffects
	metrics     *metrics.Metrics
	log         *slog.Logger
	now         func() time.Time
	timeout     time.Duration
}

// NewCoordinator returns a coordinator over d.
func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		db:          d.DB,
		catalog:     d.Catalog,
		requests:    d.Requests,
		allocations: d.Allocations,
		blocks:      d.Blocks,
		effects:     d.Effects,
		metrics:     d.Metrics,
		log:         d.Logger,
		now:         d.Now,
		timeout:     d.Timeout,
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	return c
}

// SubmitInput is what a requester supplies.
type SubmitInput struct {
	ItemID        uint64       `json:"item_id"`
	Window        model.Window `json:"window"`
	Quantity      int          `json:"quantity"`
	Justification string       `json:"justification"`
}

// Submit validates the input and records a pending request.  It does not
// touch the catalog: capacity is only committed on approval.
func (c *Coordinator) Submit(ctx context.Context, actor model.Actor, in SubmitInput) (req model.Request, err error) {
	defer c.record("submit", &err)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	item, err := c.catalog.Get(ctx, in.ItemID)
	if err != nil {
		return req, err
	}
	if err := in.Window.Validate(item.Kind); err != nil {
		return req, err
	}
	if in.Quantity <= 0 {
		return req, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}
	if limit := item.Limit(); in.Quantity > limit {
		return req, fmt.Errorf("%w: %d requested but %s holds at most %d", model.ErrValidation, in.Quantity, item.Code, limit)
	}
	req = model.Request{
		RequesterID:   actor.ID,
		ItemID:        item.ID,
		Kind:          item.Kind,
		Window:        in.Window,
		Quantity:      in.Quantity,
		Justification: strings.TrimSpace(in.Justification),
		Status:        model.RequestPending,
	}
	if err := c.requests.Create(ctx, &req); err != nil {
		return model.Request{}, err
	}
	c.audit(actor, "submit", "requests", fmt.Sprintf("request %d for %s (%d)", req.ID, item.Code, req.Quantity))
	return req, nil
}

// CheckAvailability evaluates a hypothetical request against the current
// allocations without reserving anything.
func (c *Coordinator) CheckAvailability(ctx context.Context, itemID uint64, w model.Window, quantity int) (res availability.Result, err error) {
	defer func() { c.metrics.Availability(outcome(err)) }()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	item, err := c.catalog.Get(ctx, itemID)
	if err != nil {
		return res, err
	}
	if err := w.Validate(item.Kind); err != nil {
		return res, err
	}
	active, err := c.allocations.ListActiveByItem(ctx, itemID)
	if err != nil {
		return res, err
	}
	blocks, err := c.blocks.ListActiveByItem(ctx, itemID)
	if err != nil {
		return res, err
	}
	return availability.Check(item, w, quantity, active, blocks)
}

// Approve moves a pending request to APPROVED and creates its allocation.
// Availability is re-evaluated inside the transaction after taking the
// item's lock, so concurrent approvals of the same item are serialised and
// cannot overcommit it.  On any failure the request stays pending.
//
// The lock is the first statement of the transaction: the item id is read
// beforehand outside it, so every read in tx happens after the previous
// holder committed, even under MySQL's REPEATABLE READ snapshots.
func (c *Coordinator) Approve(ctx context.Context, actor model.Actor, requestID uint64) (alloc model.Allocation, err error) {
	defer c.record("approve", &err)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	head, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return alloc, err
	}
	if head.Status != model.RequestPending {
		return alloc, fmt.Errorf("%w: request %d is %s", model.ErrInvalidTransition, head.ID, head.Status)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return alloc, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := c.catalog.LockTx(ctx, tx, head.ItemID); err != nil {
		return alloc, err
	}
	req, err := c.requests.GetTx(ctx, tx, requestID)
	if err != nil {
		return alloc, err
	}
	if req.Status != model.RequestPending {
		return alloc, fmt.Errorf("%w: request %d is %s", model.ErrInvalidTransition, req.ID, req.Status)
	}
	item, err := c.catalog.GetTx(ctx, tx, req.ItemID)
	if err != nil {
		return alloc, err
	}
	active, err := c.allocations.ListActiveByItemTx(ctx, tx, item.ID)
	if err != nil {
		return alloc, err
	}
	blocks, err := c.blocks.ListActiveByItemTx(ctx, tx, item.ID)
	if err != nil {
		return alloc, err
	}
	if _, err := availability.Check(item, req.Window, req.Quantity, active, blocks); err != nil {
		return alloc, err
	}

	now := c.now()
	if err := c.requests.DecideTx(ctx, tx, req.ID, model.RequestApproved, "", actor.ID, now); err != nil {
		return alloc, transitionErr(err, "request %d is no longer pending", req.ID)
	}
	alloc = model.Allocation{
		RequestID:   req.ID,
		ItemID:      item.ID,
		RequesterID: req.RequesterID,
		Kind:        req.Kind,
		Window:      req.Window,
		Quantity:    req.Quantity,
	}
	if err := c.allocations.CreateTx(ctx, tx, &alloc); err != nil {
		return model.Allocation{}, transitionErr(err, "request %d already has an allocation", req.ID)
	}

	status := item.Status
	switch item.Kind {
	case model.KindResource:
		if err := c.catalog.ReserveQuantityTx(ctx, tx, item.ID, req.Quantity); err != nil {
			if errors.Is(err, repository.ErrStaleWrite) {
				return model.Allocation{}, fmt.Errorf("%w: %s has fewer than %d units left", model.ErrCapacityExceeded, item.Code, req.Quantity)
			}
			return model.Allocation{}, err
		}
		if item.AvailableQuantity-req.Quantity <= 0 {
			status = model.StatusReserved
		}
	case model.KindLaboratory:
		status = model.StatusReserved
	}
	if status != item.Status {
		if err := c.catalog.SetStatusTx(ctx, tx, item.ID, status); err != nil {
			return model.Allocation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Allocation{}, err
	}
	committed = true

	c.log.Info("request approved", "request_id", req.ID, "allocation_id", alloc.ID, "item", item.Code, "by", actor.ID)
	c.notify(model.Notification{
		RecipientID: req.RequesterID,
		Kind:        model.NotifyApproved,
		Title:       "Solicitud aprobada",
		Body:        fmt.Sprintf("Tu solicitud #%d para %s (%s) fue aprobada.", req.ID, item.Name, describeWindow(req.Window)),
		Metadata:    ids("request_id", req.ID, "allocation_id", alloc.ID, "item_id", item.ID),
	})
	c.audit(actor, "approve", "requests", fmt.Sprintf("request %d approved, allocation %d on %s", req.ID, alloc.ID, item.Code))
	return alloc, nil
}

// Reject moves a pending request to REJECTED.  A reason is mandatory.
func (c *Coordinator) Reject(ctx context.Context, actor model.Actor, requestID uint64, reason string) (req model.Request, err error) {
	defer c.record("reject", &err)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return req, fmt.Errorf("%w: a rejection reason is required", model.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return req, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	req, err = c.requests.GetTx(ctx, tx, requestID)
	if err != nil {
		return req, err
	}
	if req.Status != model.RequestPending {
		return req, fmt.Errorf("%w: request %d is %s", model.ErrInvalidTransition, req.ID, req.Status)
	}
	now := c.now()
	if err := c.requests.DecideTx(ctx, tx, req.ID, model.RequestRejected, reason, actor.ID, now); err != nil {
		return req, transitionErr(err, "request %d is no longer pending", req.ID)
	}
	if err := tx.Commit(); err != nil {
		return req, err
	}
	committed = true

	req.Status = model.RequestRejected
	req.RejectionReason = reason
	req.DecidedBy = &actor.ID
	req.DecidedAt = &now
	c.notify(model.Notification{
		RecipientID: req.RequesterID,
		Kind:        model.NotifyRejected,
		Title:       "Solicitud rechazada",
		Body:        fmt.Sprintf("Tu solicitud #%d fue rechazada. Motivo: %s", req.ID, reason),
		Metadata:    ids("request_id", req.ID, "item_id", req.ItemID),
	})
	c.audit(actor, "reject", "requests", fmt.Sprintf("request %d rejected: %s", req.ID, reason))
	return req, nil
}

// Return records the devolution of an active allocation.  The requester
// may return their own allocation; staff may return any.  Resource units
// are given back and the item goes back to AVAILABLE when nothing else
// occupies it.  Maintenance and out-of-service statuses are left alone.
func (c *Coordinator) Return(ctx context.Context, actor model.Actor, allocationID uint64) (alloc model.Allocation, err error) {
	defer c.record("return", &err)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	head, err := c.allocations.Get(ctx, allocationID)
	if err != nil {
		return alloc, err
	}
	if !actor.Staff() && head.RequesterID != actor.ID {
		return model.Allocation{}, fmt.Errorf("%w: allocation %d belongs to another user", model.ErrForbidden, head.ID)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return alloc, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// Lock first, as in Approve, so the reads below see committed returns.
	if err := c.catalog.LockTx(ctx, tx, head.ItemID); err != nil {
		return alloc, err
	}
	alloc, err = c.allocations.GetTx(ctx, tx, allocationID)
	if err != nil {
		return alloc, err
	}
	if !alloc.Active() {
		return alloc, fmt.Errorf("%w: allocation %d is already %s", model.ErrInvalidTransition, alloc.ID, alloc.Status)
	}
	now := c.now()
	if err := c.allocations.MarkReturnedTx(ctx, tx, alloc.ID, actor.ID, now); err != nil {
		return alloc, transitionErr(err, "allocation %d is no longer active", alloc.ID)
	}
	item, err := c.catalog.GetTx(ctx, tx, alloc.ItemID)
	if err != nil {
		return alloc, err
	}
	free := false
	switch alloc.Kind {
	case model.KindResource:
		if err := c.catalog.ReleaseQuantityTx(ctx, tx, item.ID, alloc.Quantity); err != nil {
			return alloc, err
		}
		free = true
	case model.KindLaboratory:
		others, err := c.allocations.ListActiveByItemTx(ctx, tx, item.ID)
		if err != nil {
			return alloc, err
		}
		free = len(others) == 0
	}
	if free && item.Status == model.StatusReserved {
		if err := c.catalog.SetStatusTx(ctx, tx, item.ID, model.StatusAvailable); err != nil {
			return alloc, err
		}
	}
	if err := tx.Commit(); err != nil {
		return alloc, err
	}
	committed = true

	alloc.Status = model.AllocationReturned
	alloc.ReturnedAt = &now
	alloc.ReturnedBy = &actor.ID
	c.log.Info("allocation returned", "allocation_id", alloc.ID, "item", item.Code, "by", actor.ID)
	c.notify(model.Notification{
		RecipientID: alloc.RequesterID,
		Kind:        model.NotifyMessage,
		Title:       "Devolución registrada",
		Body:        fmt.Sprintf("Se registró la devolución de %s (asignación #%d).", item.Name, alloc.ID),
		Metadata:    ids("allocation_id", alloc.ID, "request_id", alloc.RequestID, "item_id", item.ID),
	})
	c.audit(actor, "return", "allocations", fmt.Sprintf("allocation %d returned, %s", alloc.ID, item.Code))
	return alloc, nil
}

// CheckIn records that the group of an active laboratory allocation is in
// the room.  The allocation stays active.
func (c *Coordinator) CheckIn(ctx context.Context, actor model.Actor, allocationID uint64) (alloc model.Allocation, err error) {
	defer c.record("checkin", &err)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	alloc, err = c.allocations.Get(ctx, allocationID)
	if err != nil {
		return alloc, err
	}
	if alloc.Kind != model.KindLaboratory {
		return alloc, fmt.Errorf("%w: only laboratory allocations are checked in", model.ErrValidation)
	}
	if !alloc.Active() {
		return alloc, fmt.Errorf("%w: allocation %d is %s", model.ErrInvalidTransition, alloc.ID, alloc.Status)
	}
	now := c.now()
	if err := c.allocations.CheckIn(ctx, alloc.ID, now); err != nil {
		return alloc, transitionErr(err, "allocation %d is already checked in or no longer active", alloc.ID)
	}
	alloc.CheckedInAt = &now
	c.audit(actor, "checkin", "allocations", fmt.Sprintf("allocation %d checked in", alloc.ID))
	return alloc, nil
}

// Cancel withdraws a pending request.  Only its requester may cancel it,
// and the request is deleted.
func (c *Coordinator) Cancel(ctx context.Context, actor model.Actor, requestID uint64) (err error) {
	defer c.record("cancel", &err)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	req, err := c.requests.GetTx(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if req.RequesterID != actor.ID {
		return fmt.Errorf("%w: request %d belongs to another user", model.ErrForbidden, req.ID)
	}
	if req.Status != model.RequestPending {
		return fmt.Errorf("%w: request %d is %s and can no longer be cancelled", model.ErrInvalidTransition, req.ID, req.Status)
	}
	if err := c.requests.DeletePendingTx(ctx, tx, req.ID); err != nil {
		return transitionErr(err, "request %d is no longer pending", req.ID)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	c.audit(actor, "cancel", "requests", fmt.Sprintf("request %d cancelled", req.ID))
	return nil
}

// GetRequest returns a request visible to actor: their own, or any for staff.
func (c *Coordinator) GetRequest(ctx context.Context, actor model.Actor, id uint64) (model.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := c.requests.Get(ctx, id)
	if err != nil {
		return req, err
	}
	if !actor.Staff() && req.RequesterID != actor.ID {
		return model.Request{}, fmt.Errorf("%w: request %d belongs to another user", model.ErrForbidden, id)
	}
	return req, nil
}

// ListRequests returns requests matching f.
func (c *Coordinator) ListRequests(ctx context.Context, f model.RequestFilter) ([]model.Request, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.requests.List(ctx, f)
}

// ListAllocations returns allocations matching f.
func (c *Coordinator) ListAllocations(ctx context.Context, f model.AllocationFilter) ([]model.Allocation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.allocations.List(ctx, f)
}

// AllocationForRequest returns the allocation created when a request was
// approved.
func (c *Coordinator) AllocationForRequest(ctx context.Context, requestID uint64) (model.Allocation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.allocations.GetByRequest(ctx, requestID)
}

func (c *Coordinator) record(transition string, err *error) {
	c.metrics.Transition(transition, outcome(*err))
	if *err != nil && model.Code(*err) == "internal" {
		c.log.Error("transition failed", "transition", transition, "error", *err)
	}
}

func (c *Coordinator) notify(n model.Notification) {
	if c.effects != nil {
		c.effects.Notify(n)
	}
}

func (c *Coordinator) audit(actor model.Actor, action, module, detail string) {
	if c.effects != nil {
		c.effects.Audit(model.AuditEntry{Actor: actor.ID, Action: action, Module: module, Detail: detail, At: c.now().UTC()})
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return model.Code(err)
}

// transitionErr reports a lost conditional write or duplicate allocation as
// an invalid transition.
func transitionErr(err error, format string, args ...any) error {
	if errors.Is(err, repository.ErrStaleWrite) || errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: "+format, append([]any{model.ErrInvalidTransition}, args...)...)
	}
	return err
}

func describeWindow(w model.Window) string {
	parts := []string{model.FormatDate(w.Date)}
	for _, s := range w.Slots {
		parts = append(parts, s.String())
	}
	if w.ReturnDate != nil {
		parts = append(parts, "devolución "+model.FormatDate(*w.ReturnDate))
	}
	return strings.Join(parts, " ")
}

// ids builds notification metadata from alternating keys and ids.
func ids(kv ...any) map[string]string {
	out := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if v, ok := kv[i+1].(uint64); ok {
			out[kv[i].(string)] = strconv.FormatUint(v, 10)
		}
	}
	return out
}
