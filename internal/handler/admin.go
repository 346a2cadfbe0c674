package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
	"github.com/aplabs/labreserve/internal/service"
)

// AdminHandler serves the technician and administrator screens: the
// approval queue, the allocation ledger, the blocking register and the
// manual devolution sweep.  Effects receives audit entries for block
// changes and Cache is purged after approvals and block changes; both may
// be nil.
type AdminHandler struct {
	Coord     *service.Coordinator
	Catalog   *repository.CatalogRepo
	Blocks    *repository.BlockRepo
	Scheduler *service.Scheduler
	Effects   service.SideEffects
	Cache     CachePurger
	Log       *slog.Logger
	Now       func() time.Time
}

// NewAdminHandler panics when a required dependency is nil.
func NewAdminHandler(coord *service.Coordinator, catalog *repository.CatalogRepo, blocks *repository.BlockRepo, scheduler *service.Scheduler, log *slog.Logger) *AdminHandler {
	if coord == nil || catalog == nil || blocks == nil || scheduler == nil {
		panic("nil dependency passed to NewAdminHandler")
	}
	return &AdminHandler{Coord: coord, Catalog: catalog, Blocks: blocks, Scheduler: scheduler, Log: log, Now: time.Now}
}

// Requests handles GET /v1/admin/requests.  Filters: status, item_id,
// requester_id, kind.  Without a status the pending queue is returned.
func (h *AdminHandler) Requests(c echo.Context) error {
	f := model.RequestFilter{Status: model.RequestPending}
	var err error
	if raw := c.QueryParam("status"); raw != "" {
		if strings.EqualFold(raw, "all") {
			f.Status = ""
		} else if f.Status, err = model.ParseRequestStatus(raw); err != nil {
			return fail(c, h.Log, err)
		}
	}
	if raw := c.QueryParam("kind"); raw != "" {
		if f.Kind, err = model.ParseItemKind(raw); err != nil {
			return fail(c, h.Log, err)
		}
	}
	var ok bool
	if f.ItemID, ok = queryID(c, "item_id"); !ok {
		return badRequest(c, "invalid item_id")
	}
	if f.RequesterID, ok = queryID(c, "requester_id"); !ok {
		return badRequest(c, "invalid requester_id")
	}
	list, err := h.Coord.ListRequests(c.Request().Context(), f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Approve handles POST /v1/admin/requests/:id/approve and returns the new
// allocation.
func (h *AdminHandler) Approve(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}
	alloc, err := h.Coord.Approve(c.Request().Context(), actor, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	purgeCache(c.Request().Context(), h.Cache)
	return c.JSON(http.StatusOK, alloc)
}

// Reject handles POST /v1/admin/requests/:id/reject with {"reason": ...}.
func (h *AdminHandler) Reject(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	req, err := h.Coord.Reject(c.Request().Context(), actor, id, body.Reason)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, req)
}

// Allocations handles GET /v1/admin/allocations.  Filters: status,
// item_id, requester_id, kind.
func (h *AdminHandler) Allocations(c echo.Context) error {
	var (
		f   model.AllocationFilter
		err error
		ok  bool
	)
	if raw := c.QueryParam("status"); raw != "" {
		if f.Status, err = model.ParseAllocationStatus(raw); err != nil {
			return fail(c, h.Log, err)
		}
	}
	if raw := c.QueryParam("kind"); raw != "" {
		if f.Kind, err = model.ParseItemKind(raw); err != nil {
			return fail(c, h.Log, err)
		}
	}
	if f.ItemID, ok = queryID(c, "item_id"); !ok {
		return badRequest(c, "invalid item_id")
	}
	if f.RequesterID, ok = queryID(c, "requester_id"); !ok {
		return badRequest(c, "invalid requester_id")
	}
	list, err := h.Coord.ListAllocations(c.Request().Context(), f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

// CheckIn handles POST /v1/admin/allocations/:id/checkin.
func (h *AdminHandler) CheckIn(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid allocation id")
	}
	alloc, err := h.Coord.CheckIn(c.Request().Context(), actor, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, alloc)
}

// ListBlocks handles GET /v1/admin/blocks (?item_id=, ?active=false for all).
func (h *AdminHandler) ListBlocks(c echo.Context) error {
	itemID, ok := queryID(c, "item_id")
	if !ok {
		return badRequest(c, "invalid item_id")
	}
	list, err := h.Blocks.List(c.Request().Context(), itemID, queryBool(c, "active", true))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

// CreateBlock handles POST /v1/admin/blocks.
//
//	{"item_id": 3, "start_date": "2025-03-10", "end_date": "2025-03-14", "reason": "mantenimiento"}
func (h *AdminHandler) CreateBlock(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var body struct {
		ItemID    uint64 `json:"item_id"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		Reason    string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	b := model.Block{ItemID: body.ItemID, Reason: strings.TrimSpace(body.Reason), Active: true, CreatedBy: actor.ID}
	if body.StartDate != "" {
		if b.StartDate, err = model.ParseDate(body.StartDate); err != nil {
			return fail(c, h.Log, err)
		}
	}
	if body.EndDate != "" {
		if b.EndDate, err = model.ParseDate(body.EndDate); err != nil {
			return fail(c, h.Log, err)
		}
	}
	if err := b.Validate(); err != nil {
		return fail(c, h.Log, err)
	}
	ctx := c.Request().Context()
	if _, err := h.Catalog.Get(ctx, b.ItemID); err != nil {
		return fail(c, h.Log, err)
	}
	if err := h.Blocks.Create(ctx, &b); err != nil {
		return fail(c, h.Log, err)
	}
	h.audit(actor, "block", fmt.Sprintf("block %d on item %d from %s to %s: %s",
		b.ID, b.ItemID, model.FormatDate(b.StartDate), model.FormatDate(b.EndDate), b.Reason))
	purgeCache(ctx, h.Cache)
	return c.JSON(http.StatusCreated, b)
}

// DeleteBlock handles DELETE /v1/admin/blocks/:id.  The block is
// deactivated, not removed, so the register keeps its history.
func (h *AdminHandler) DeleteBlock(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid block id")
	}
	if err := h.Blocks.Deactivate(c.Request().Context(), id); err != nil {
		return fail(c, h.Log, err)
	}
	h.audit(actor, "unblock", fmt.Sprintf("block %d deactivated", id))
	purgeCache(c.Request().Context(), h.Cache)
	return c.NoContent(http.StatusNoContent)
}

// Sweep handles POST /v1/admin/sweep and runs the devolution sweep now.
func (h *AdminHandler) Sweep(c echo.Context) error {
	report, err := h.Scheduler.Sweep(c.Request().Context(), h.Now())
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *AdminHandler) audit(actor model.Actor, action, detail string) {
	if h.Effects == nil {
		return
	}
	h.Effects.Audit(model.AuditEntry{Actor: actor.ID, Action: action, Module: "blocks", Detail: detail, At: h.Now().UTC()})
}
