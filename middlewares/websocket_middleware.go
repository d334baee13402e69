package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/qr-table-ordering/kds"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// WebSocketAuthMiddleware authorises /ws/:role. Browsers cannot set headers on
// a websocket handshake, so credentials come from the query string: table
// sockets name their session and the client that joined it, staff sockets
// carry their token. Session membership is checked by the handler.
func WebSocketAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.Param("role")
		if role == kds.RoleTable {
			session, clientID := c.Query("session"), c.Query("clientId")
			if session == "" || clientID == "" {
				c.AbortWithStatus(http.StatusBadRequest)
				return
			}
			c.Set("role", kds.RoleTable)
			c.Set("sessionKey", session)
			c.Set("clientID", clientID)
			c.Next()
			return
		}

		token := c.Query("token")
		if token == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, err := utils.ParseToken(token)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !staffRole(role) {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		// Admins may watch any staff panel.
		if role != claims.Role && claims.Role != utils.RoleAdmin {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		setClaims(c, claims)
		c.Set("role", role)
		c.Next()
	}
}

func staffRole(role string) bool {
	switch role {
	case utils.RoleAdmin, utils.RoleCashier, utils.RoleKitchen, utils.RoleWaiter:
		return true
	}
	return false
}
