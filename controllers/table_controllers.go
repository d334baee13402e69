package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// TableController serves the diner's browser: token check and the shared
// table cart.
type TableController struct {
	Tokens   *services.TokenService
	Carts    *services.SessionCartSync
	Resolver *services.RestaurantResolver
	Flows    *services.FlowRegistry
}

func NewTableController(tokens *services.TokenService, carts *services.SessionCartSync, resolver *services.RestaurantResolver, flows *services.FlowRegistry) *TableController {
	return &TableController{Tokens: tokens, Carts: carts, Resolver: resolver, Flows: flows}
}

// VerifyToken -> GET /table/verify/:token
// An inactive token is a normal answer (denied=true), not an error.
func (tc *TableController) VerifyToken(c *gin.Context) {
	v, err := tc.Tokens.Verify(c.Request.Context(), c.Param("token"))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	msg := "Token is active"
	if v.Denied {
		msg = "Token is " + string(v.Status)
	}
	utils.RespondJSON(c, http.StatusOK, msg, v)
}

// JoinSession -> POST /table/sessions/join
func (tc *TableController) JoinSession(c *gin.Context) {
	var req struct {
		RestaurantID string `json:"restaurantId"`
		TableNumber  int    `json:"tableNumber" binding:"required"`
		Token        string `json:"token" binding:"required"`
		ClientID     string `json:"clientId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	restaurantID, err := tc.Resolver.Resolve(ctx, req.RestaurantID, "")
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	key, err := tc.Carts.Join(ctx, restaurantID, req.TableNumber, req.Token, req.ClientID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	session, err := tc.Carts.Pull(ctx, key, req.ClientID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	flow, err := tc.Flows.GetOrCreate(req.ClientID, key)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	flow.Cart().Load(session.Items)
	utils.RespondJSON(c, http.StatusOK, "Joined table session", session)
}

// GetSession -> GET /table/sessions/:key?clientId=
func (tc *TableController) GetSession(c *gin.Context) {
	clientID := c.Query("clientId")
	if clientID == "" {
		utils.RespondServiceError(c, utils.NewValidationError("table.session", "clientId is required"))
		return
	}
	session, err := tc.Carts.Pull(c.Request.Context(), c.Param("key"), clientID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table session", session)
}

// UpdateCart -> PUT /table/sessions/:key/cart
// The push always wins; conflict=true tells the browser it overwrote a newer cart.
// baseVersion is the last cart version the browser received over the websocket.
func (tc *TableController) UpdateCart(c *gin.Context) {
	var req struct {
		ClientID    string            `json:"clientId" binding:"required"`
		Items       []models.CartItem `json:"items"`
		BaseVersion int64             `json:"baseVersion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	key := c.Param("key")
	if req.BaseVersion > 0 {
		tc.Carts.MarkSeen(key, req.ClientID, req.BaseVersion)
	}
	res, err := tc.Carts.Push(c.Request.Context(), key, req.Items, req.ClientID)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	flow, err := tc.Flows.GetOrCreate(req.ClientID, key)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	flow.Cart().Load(req.Items)
	utils.RespondJSON(c, http.StatusOK, "Cart updated", res)
}

// LeaveSession -> DELETE /table/sessions/:key/leave?clientId=
// A client with an order being placed or still in its grace period keeps its
// checkout so the countdown can finish.
func (tc *TableController) LeaveSession(c *gin.Context) {
	clientID := c.Query("clientId")
	if err := tc.Carts.Leave(c.Request.Context(), c.Param("key"), clientID); err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	tc.Flows.Release(clientID)
	utils.RespondJSON(c, http.StatusOK, "Left table session", nil)
}
