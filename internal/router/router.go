package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/handler"
	"github.com/aplabs/labreserve/internal/middleware"
	"github.com/aplabs/labreserve/internal/model"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
// metrics may be nil, in which case /metrics is not exposed.
func RegisterRoutes(e *echo.Echo, health handler.Health, metrics http.Handler) {
	e.GET("/healthz", health.Check)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// RegisterPublic registers the catalog browse endpoints.  cache wraps every
// route so anonymous reads can be served from Redis.
func RegisterPublic(e *echo.Echo, h *handler.CatalogHandler, cache echo.MiddlewareFunc) {
	g := e.Group("/v1", cache)
	g.GET("/catalog", h.List)
	g.GET("/catalog/:id", h.Get)
	g.GET("/catalog/:id/availability", h.Availability)
	g.GET("/lookups", h.ListLookups)
}

// RegisterRequests registers what any authenticated user may do with their
// own requests, loans and notifications.
func RegisterRequests(e *echo.Echo, h *handler.RequestHandler, jwtSecret string) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleTechnician, model.RoleAdmin),
	)
	g.POST("/requests", h.Submit)
	g.GET("/my-requests", h.Mine)
	g.GET("/requests/:id", h.Get)
	g.DELETE("/requests/:id", h.Cancel)
	g.POST("/allocations/:id/return", h.Return)
	g.GET("/my-notifications", h.Notifications)
	g.POST("/my-notifications/:id/read", h.MarkRead)
}

// RegisterAdmin registers the staff endpoints under /v1/admin.  Technicians
// run the approval queue, the ledger and the blocking register; catalog
// maintenance and the manual sweep are reserved to administrators.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, catalog *handler.CatalogHandler, requests *handler.RequestHandler, jwtSecret string) {
	staff := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleTechnician, model.RoleAdmin),
	)

	// ---- Requests ----
	staff.GET("/requests", a.Requests)
	staff.POST("/requests/:id/approve", a.Approve)
	staff.POST("/requests/:id/reject", a.Reject)

	// ---- Allocations ----
	staff.GET("/allocations", a.Allocations)
	staff.POST("/allocations/:id/return", requests.Return)
	staff.POST("/allocations/:id/checkin", a.CheckIn)

	// ---- Blocks ----
	staff.GET("/blocks", a.ListBlocks)
	staff.POST("/blocks", a.CreateBlock)
	staff.DELETE("/blocks/:id", a.DeleteBlock)

	admin := staff.Group("", middleware.RequireRole(model.RoleAdmin))
	admin.POST("/catalog", catalog.Create)
	admin.PATCH("/catalog/:id/status", catalog.UpdateStatus)
	admin.POST("/sweep", a.Sweep)
}
