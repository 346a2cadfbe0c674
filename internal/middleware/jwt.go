package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/aplabs/labreserve/internal/utils"
)

// JWTAuth validates the Bearer access token and stores the caller in the
// context: "user_id" (uint64), "role" (model.Role) and "actor"
// (model.Actor).  Handlers read them through ActorFrom.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseAccessToken(secret, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(keyUserID, claims.UserID)
			c.Set(keyRole, claims.Role)
			c.Set(keyActor, claims.Actor())
			return next(c)
		}
	}
}
