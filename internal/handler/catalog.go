package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/aplabs/labreserve/internal/middleware"
	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
	"github.com/aplabs/labreserve/internal/service"
)

// CatalogHandler serves the public catalog, the availability preview and
// the administrator's catalog maintenance.  Redis and CachePrefix are
// optional; when set, catalog writes purge the cached public responses.
type CatalogHandler struct {
	Catalog     *repository.CatalogRepo
	Lookups     *repository.LookupRepo
	Coord       *service.Coordinator
	Redis       *redis.Client
	CachePrefix string
	Log         *slog.Logger
}

// NewCatalogHandler panics when a required dependency is nil.
func NewCatalogHandler(catalog *repository.CatalogRepo, lookups *repository.LookupRepo, coord *service.Coordinator, log *slog.Logger) *CatalogHandler {
	if catalog == nil || lookups == nil || coord == nil {
		panic("nil dependency passed to NewCatalogHandler")
	}
	return &CatalogHandler{Catalog: catalog, Lookups: lookups, Coord: coord, Log: log}
}

// List handles GET /v1/catalog with optional ?kind= and ?status= filters.
func (h *CatalogHandler) List(c echo.Context) error {
	var (
		kind   model.ItemKind
		status model.ItemStatus
		err    error
	)
	if raw := c.QueryParam("kind"); raw != "" {
		if kind, err = model.ParseItemKind(raw); err != nil {
			return fail(c, h.Log, err)
		}
	}
	if raw := c.QueryParam("status"); raw != "" {
		if status, err = model.ParseItemStatus(raw); err != nil {
			return fail(c, h.Log, err)
		}
	}
	items, err := h.Catalog.List(c.Request().Context(), kind, status)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, items)
}

// Get handles GET /v1/catalog/:id.
func (h *CatalogHandler) Get(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid item id")
	}
	item, err := h.Catalog.Get(c.Request().Context(), id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, item)
}

// Availability handles GET /v1/catalog/:id/availability.
//
//	?date=2025-03-10&slots=08:00-10:00,10:00-12:00&quantity=20
//	?date=2025-03-10&return_date=2025-03-12&quantity=2
//
// A window the item cannot take is still a 200 with available=false and
// the reason; only malformed input and unknown items are errors.
func (h *CatalogHandler) Availability(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid item id")
	}
	w, err := windowFromQuery(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	quantity := 1
	if raw := c.QueryParam("quantity"); raw != "" {
		if quantity, err = strconv.Atoi(raw); err != nil {
			return badRequest(c, "quantity must be a number")
		}
	}
	res, err := h.Coord.CheckAvailability(c.Request().Context(), id, w, quantity)
	if err != nil {
		status, code := statusFor(err)
		if status != http.StatusUnprocessableEntity {
			return fail(c, h.Log, err)
		}
		return c.JSON(http.StatusOK, echo.Map{"item_id": id, "available": false, "reason": err.Error(), "code": code})
	}
	return c.JSON(http.StatusOK, echo.Map{"item_id": id, "available": res.Available, "remaining": res.Remaining})
}

// windowFromQuery reads date, return_date and a comma-separated slot list.
func windowFromQuery(c echo.Context) (model.Window, error) {
	var w model.Window
	if raw := c.QueryParam("date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return w, err
		}
		w.Date = d
	}
	if raw := c.QueryParam("return_date"); raw != "" {
		d, err := model.ParseDate(raw)
		if err != nil {
			return w, err
		}
		w.ReturnDate = &d
	}
	for _, part := range strings.Split(c.QueryParam("slots"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		start, end, found := strings.Cut(part, "-")
		if !found {
			return w, fmt.Errorf("%w: slot %q is not HH:MM-HH:MM", model.ErrValidation, part)
		}
		s, err := model.ParseClock(start)
		if err != nil {
			return w, err
		}
		e, err := model.ParseClock(end)
		if err != nil {
			return w, err
		}
		w.Slots = append(w.Slots, model.TimeSlot{Start: s, End: e})
	}
	return w, nil
}

// ListLookups handles GET /v1/lookups with an optional ?kind= filter.
func (h *CatalogHandler) ListLookups(c echo.Context) error {
	rows, err := h.Lookups.List(c.Request().Context(), model.LookupKind(c.QueryParam("kind")))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, rows)
}

type createItemBody struct {
	Kind              string `json:"kind"`
	Code              string `json:"code"`
	Name              string `json:"name"`
	Capacity          int    `json:"capacity"`
	TotalQuantity     int    `json:"total_quantity"`
	AvailableQuantity *int   `json:"available_quantity"`
	Unit              string `json:"unit"`
	ResourceType      string `json:"resource_type"`
	Status            string `json:"status"`
	Location          string `json:"location"`
}

// Create handles POST /v1/admin/catalog.  A resource created without an
// available_quantity starts with every unit available.
func (h *CatalogHandler) Create(c echo.Context) error {
	var body createItemBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	kind, err := model.ParseItemKind(body.Kind)
	if err != nil {
		return fail(c, h.Log, err)
	}
	status := model.StatusAvailable
	if body.Status != "" {
		if status, err = model.ParseItemStatus(body.Status); err != nil {
			return fail(c, h.Log, err)
		}
	}
	item := model.CatalogItem{
		Kind:         kind,
		Code:         strings.TrimSpace(body.Code),
		Name:         strings.TrimSpace(body.Name),
		Unit:         body.Unit,
		ResourceType: body.ResourceType,
		Status:       status,
		Location:     body.Location,
	}
	if kind == model.KindLaboratory {
		item.Capacity = body.Capacity
	} else {
		item.TotalQuantity = body.TotalQuantity
		item.AvailableQuantity = body.TotalQuantity
		if body.AvailableQuantity != nil {
			item.AvailableQuantity = *body.AvailableQuantity
		}
	}
	if err := item.Validate(); err != nil {
		return fail(c, h.Log, err)
	}
	if err := h.Catalog.Create(c.Request().Context(), &item); err != nil {
		return fail(c, h.Log, err)
	}
	h.Purge(c.Request().Context())
	return c.JSON(http.StatusCreated, item)
}

// UpdateStatus handles PATCH /v1/admin/catalog/:id/status with {"status": ...}.
func (h *CatalogHandler) UpdateStatus(c echo.Context) error {
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid item id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	status, err := model.ParseItemStatus(body.Status)
	if err != nil {
		return fail(c, h.Log, err)
	}
	ctx := c.Request().Context()
	if err := h.Catalog.UpdateStatus(ctx, id, status); err != nil {
		return fail(c, h.Log, err)
	}
	h.Purge(c.Request().Context())
	item, err := h.Catalog.Get(ctx, id)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, item)
}

// Purge drops every cached public response.  It is a no-op without Redis.
func (h *CatalogHandler) Purge(ctx context.Context) {
	if h.Redis == nil {
		return
	}
	if err := middleware.PurgeCache(ctx, h.Redis, h.CachePrefix); err != nil && h.Log != nil {
		h.Log.Warn("catalog cache purge failed", "error", err)
	}
}
