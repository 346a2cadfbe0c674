package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
	"github.com/aplabs/labreserve/internal/service"
)

// RequestHandler serves what any authenticated user can do with their own
// requests, loans and notifications.  All methods assume JWTAuth ran.
// Cache, when set, is purged after a return frees capacity.
type RequestHandler struct {
	Coord            *service.Coordinator
	NotificationRepo *repository.NotificationRepo
	Cache            CachePurger
	Log              *slog.Logger
	Now              func() time.Time
}

// NewRequestHandler panics when a dependency is nil.
func NewRequestHandler(coord *service.Coordinator, notifications *repository.NotificationRepo, log *slog.Logger) *RequestHandler {
	if coord == nil || notifications == nil {
		panic("nil dependency passed to NewRequestHandler")
	}
	return &RequestHandler{Coord: coord, NotificationRepo: notifications, Log: log, Now: time.Now}
}

// Submit handles POST /v1/requests.
//
//	{"item_id": 1, "quantity": 20, "justification": "...",
//	 "window": {"date": "2025-03-10", "slots": [{"start": "08:00", "end": "10:00"}]}}
func (h *RequestHandler) Submit(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var in service.SubmitInput
	if err := c.Bind(&in); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && errors.Is(he.Internal, model.ErrValidation) {
			return fail(c, h.Log, he.Internal)
		}
		return badRequest(c, "invalid request body")
	}
	if in.ItemID == 0 {
		return badRequest(c, "item_id is required")
	}
	req, err := h.Coord.Submit(c.Request().Context(), actor, in)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, req)
}

// Mine handles GET /v1/my-requests with an optional ?status= filter.
func (h *RequestHandler) Mine(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	f := model.RequestFilter{RequesterID: actor.ID}
	if raw := c.QueryParam("status"); raw != "" {
		if f.Status, err = model.ParseRequestStatus(raw); err != nil {
			return fail(c, h.Log, err)
		}
	}
	list, err := h.Coord.ListRequests(c.Request().Context(), f)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Get handles GET /v1/requests/:id.  An approved request is returned with
// its allocation.
func (h *RequestHandler) Get(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}
	ctx := c.Request().Context()
	req, err := h.Coord.GetRequest(ctx, actor, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	out := echo.Map{"request": req}
	if req.Status == model.RequestApproved {
		alloc, err := h.Coord.AllocationForRequest(ctx, req.ID)
		switch {
		case err == nil:
			out["allocation"] = alloc
		case !errors.Is(err, model.ErrNotFound):
			return fail(c, h.Log, err)
		}
	}
	return c.JSON(http.StatusOK, out)
}

// Cancel handles DELETE /v1/requests/:id.
func (h *RequestHandler) Cancel(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid request id")
	}
	if err := h.Coord.Cancel(c.Request().Context(), actor, id); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Return handles POST /v1/allocations/:id/return and its staff twin under
// /v1/admin.  The coordinator decides whether the caller may return it.
func (h *RequestHandler) Return(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid allocation id")
	}
	alloc, err := h.Coord.Return(c.Request().Context(), actor, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	purgeCache(c.Request().Context(), h.Cache)
	return c.JSON(http.StatusOK, alloc)
}

// Notifications handles GET /v1/my-notifications (?unread=true, ?limit=N).
func (h *RequestHandler) Notifications(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			return badRequest(c, "limit must be a number")
		}
	}
	list, err := h.NotificationRepo.ListByRecipient(c.Request().Context(), actor.ID, queryBool(c, "unread", false), limit)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, list)
}

// MarkRead handles POST /v1/my-notifications/:id/read.
func (h *RequestHandler) MarkRead(c echo.Context) error {
	actor, err := currentActor(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return badRequest(c, "invalid notification id")
	}
	if err := h.NotificationRepo.MarkRead(c.Request().Context(), id, actor.ID, h.Now()); err != nil {
		return fail(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
