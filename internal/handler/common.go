package handler // handler exposes the reservation engine over HTTP

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/middleware"
	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/repository"
)

// CachePurger drops cached public catalog responses.  Writes that change
// what the catalog or the availability preview would answer call it.
type CachePurger interface {
	Purge(ctx context.Context)
}

func purgeCache(ctx context.Context, p CachePurger) {
	if p != nil {
		p.Purge(ctx)
	}
}

// errUnauthorized is returned by currentActor when JWTAuth did not run.
var errUnauthorized = errors.New("unauthorized")

// statusFor maps the error taxonomy onto HTTP status codes and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, model.Code(err)
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, model.Code(err)
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, model.Code(err)
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, model.Code(err)
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrCapacityExceeded),
		errors.Is(err, model.ErrBlocked),
		errors.Is(err, model.ErrItemUnavailable):
		return http.StatusUnprocessableEntity, model.Code(err)
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusInternalServerError, "internal"
}

// fail writes err as {"error": ..., "code": ...}.  Internal errors are
// logged and replaced by a generic message.
func fail(c echo.Context, log *slog.Logger, err error) error {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}
		return c.JSON(status, echo.Map{"error": "internal error", "code": code})
	}
	return c.JSON(status, echo.Map{"error": err.Error(), "code": code})
}

// badRequest reports malformed input that never reached the coordinator.
func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg, "code": "validation_error"})
}

// currentActor returns the caller set by JWTAuth.
func currentActor(c echo.Context) (model.Actor, error) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		return model.Actor{}, errUnauthorized
	}
	return a, nil
}

// idParam parses a positive numeric path parameter.
func idParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// queryID parses an optional numeric query filter; empty means zero.
func queryID(c echo.Context, name string) (uint64, bool) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	return id, err == nil
}

// queryBool treats "1", "true" and "yes" as true and anything else as
// false.  A missing parameter yields def.
func queryBool(c echo.Context, name string, def bool) bool {
	raw := strings.ToLower(strings.TrimSpace(c.QueryParam(name)))
	if raw == "" {
		return def
	}
	return raw == "1" || raw == "true" || raw == "yes"
}
