package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yeremiapane/qr-table-ordering/kds"
	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// SessionMembers tells whether a client joined a table session.
type SessionMembers interface {
	Joined(sessionKey, clientID string) bool
}

// KDSController upgrades staff panels and table browsers to websockets.
type KDSController struct {
	Hub      *kds.Hub
	Pollers  *services.PollerGroup
	Members  SessionMembers
	upgrader websocket.Upgrader
}

// NewKDSController accepts origins listed in allowedOrigins, or any origin
// when the list contains "*".
func NewKDSController(hub *kds.Hub, pollers *services.PollerGroup, members SessionMembers, allowedOrigins []string) *KDSController {
	return &KDSController{
		Hub:     hub,
		Pollers: pollers,
		Members: members,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// Handle -> GET /ws/:role
// The role was checked by the websocket middleware. Table sockets subscribe
// to one session and keep its cart poller alive while connected.
func (kc *KDSController) Handle(c *gin.Context) {
	role := c.GetString("role")
	sessionKey := c.GetString("sessionKey")
	if role == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	// Only diners who joined with the table's QR token may follow it.
	if role == kds.RoleTable && (kc.Members == nil || !kc.Members.Joined(sessionKey, c.GetString("clientID"))) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	ws, err := kc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.InfoLogger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	kc.Hub.Register(ws, role, sessionKey)
	if role == kds.RoleTable && kc.Pollers != nil {
		kc.Pollers.Acquire(c.Request.Context(), sessionKey)
		defer kc.Pollers.Release(sessionKey)
	}

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	kc.Hub.Unregister(ws)
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
