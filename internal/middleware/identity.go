package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/model"
)

// Context keys set by JWTAuth.
const (
	keyUserID = "user_id"
	keyRole   = "role"
	keyActor  = "actor"
)

// ActorFrom returns the authenticated caller, if any.
func ActorFrom(c echo.Context) (model.Actor, bool) {
	a, ok := c.Get(keyActor).(model.Actor)
	return a, ok && a.ID != 0
}

// currentUserID identifies the caller for rate-limit keys; "anon" when the
// request is not authenticated.
func currentUserID(c echo.Context) string {
	if id, ok := c.Get(keyUserID).(uint64); ok && id != 0 {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
