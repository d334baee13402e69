package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// StaffOrderController covers the cashier side: listing, approving and
// printing committed orders.
type StaffOrderController struct {
	Orders    services.OrderLister
	Admin     *services.OrderAdmin
	Printer   *services.PrintDispatcher
	Bridge    *services.PrinterBridgeClient
	BridgeURL string
	// Held hides orders still in their grace period from the listing.
	Held      services.GraceChecker
}

func NewStaffOrderController(orders services.OrderLister, admin *services.OrderAdmin, printer *services.PrintDispatcher, bridge *services.PrinterBridgeClient, bridgeURL string) *StaffOrderController {
	return &StaffOrderController{Orders: orders, Admin: admin, Printer: printer, Bridge: bridge, BridgeURL: bridgeURL}
}

// GetAllOrders -> GET /staff/orders?status=
func (sc *StaffOrderController) GetAllOrders(c *gin.Context) {
	orders, err := sc.Orders.ListOrders(c.Request.Context(), models.OrderStatus(c.Query("status")))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	if sc.Held != nil {
		visible := orders[:0]
		for _, o := range orders {
			if !sc.Held.InGracePeriod(o.ID) {
				visible = append(visible, o)
			}
		}
		orders = visible
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

// ApproveOrder -> POST /staff/orders/:id/approve
// Print failures are reported per station and do not fail the request.
func (sc *StaffOrderController) ApproveOrder(c *gin.Context) {
	var req struct {
		PaymentMethod string           `json:"paymentMethod"`
		Stations      []models.Station `json:"stations"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondError(c, http.StatusBadRequest, err)
			return
		}
	}

	res, err := sc.Admin.Approve(c.Request.Context(), c.Param("id"), req.PaymentMethod, req.Stations)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Order approved", res)
}

// PrintTicket -> POST /staff/print
func (sc *StaffOrderController) PrintTicket(c *gin.Context) {
	var req struct {
		Station models.Station      `json:"station"`
		Payload models.PrintPayload `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Payload.Items) == 0 {
		utils.RespondError(c, http.StatusBadRequest, errors.New("payload has no items"))
		return
	}

	res := sc.Printer.Dispatch(c.Request.Context(), req.Station, req.Payload)
	code := http.StatusOK
	if !res.Delivered() {
		code = http.StatusBadGateway
	}
	utils.RespondJSON(c, code, "Print "+string(res.Outcome), res)
}

// PrinterStatus -> GET /staff/printers/:ip/status
func (sc *StaffOrderController) PrinterStatus(c *gin.Context) {
	status, ok := sc.Bridge.Status(c.Request.Context(), sc.BridgeURL, c.Param("ip"))
	if !ok {
		utils.RespondJSON(c, http.StatusOK, "Print bridge unreachable", services.BridgeStatus{
			PrinterIP: c.Param("ip"),
			Message:   services.BridgeUnreachableReason,
		})
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Printer status", status)
}

// PrintLogs -> GET /staff/orders/:id/prints
func (sc *StaffOrderController) PrintLogs(c *gin.Context) {
	logs, err := sc.Printer.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Print history", logs)
}
