package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// OrderController drives a diner's checkout: submit, then cancel or modify
// while the grace period runs.
type OrderController struct {
	Flows *services.FlowRegistry
}

func NewOrderController(flows *services.FlowRegistry) *OrderController {
	return &OrderController{Flows: flows}
}

type clientRequest struct {
	ClientID string `json:"clientId" binding:"required"`
}

// SubmitOrder -> POST /table/orders
// Items, when sent, replace the checkout cart before submitting.
func (oc *OrderController) SubmitOrder(c *gin.Context) {
	var req struct {
		ClientID     string            `json:"clientId" binding:"required"`
		SessionKey   string            `json:"sessionKey"`
		RestaurantID string            `json:"restaurantId"`
		TableNumber  int               `json:"tableNumber" binding:"required"`
		Token        string            `json:"token"`
		Notes        string            `json:"notes"`
		Items        []models.CartItem `json:"items"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	flow, err := oc.Flows.GetOrCreate(req.ClientID, req.SessionKey)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	if len(req.Items) > 0 {
		flow.Cart().Load(req.Items)
	}
	pending, err := flow.Submit(c.Request.Context(), services.SubmitRequest{
		RestaurantID: req.RestaurantID,
		TableNumber:  req.TableNumber,
		Token:        req.Token,
		Notes:        req.Notes,
	})
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order submitted, grace period started", pending)
}

// CancelOrder -> POST /table/orders/cancel
func (oc *OrderController) CancelOrder(c *gin.Context) {
	flow, ok := oc.flowFor(c, "order.cancel")
	if !ok {
		return
	}
	if err := flow.Cancel(c.Request.Context()); err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order cancelled", flow.Snapshot())
}

// ModifyOrder -> POST /table/orders/modify
// The submitted items come back into the cart even when the upstream cancel fails.
func (oc *OrderController) ModifyOrder(c *gin.Context) {
	flow, ok := oc.flowFor(c, "order.modify")
	if !ok {
		return
	}
	res, err := flow.Modify(c.Request.Context())
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order returned to cart", res)
}

// PendingOrder -> GET /table/orders/pending?clientId=
func (oc *OrderController) PendingOrder(c *gin.Context) {
	flow, ok := oc.Flows.Get(c.Query("clientId"))
	if !ok {
		utils.RespondJSON(c, http.StatusOK, "No checkout", services.FlowSnapshot{State: models.FlowIdle})
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Checkout state", flow.Snapshot())
}

func (oc *OrderController) flowFor(c *gin.Context, op string) (*services.OrderFlow, bool) {
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return nil, false
	}
	flow, ok := oc.Flows.Get(req.ClientID)
	if !ok {
		utils.RespondServiceError(c, utils.NewNotFoundError(op, "no pending order for this client"))
		return nil, false
	}
	return flow, true
}
