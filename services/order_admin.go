package services

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// OrderUpdater is the staff side of the orders API.
type OrderUpdater interface {
	UpdateOrder(ctx context.Context, orderID string, req models.UpdateOrderRequest) (*models.Order, error)
}

// OrderAdmin handles what the cashier does with a committed order.
type OrderAdmin struct {
	orders          OrderUpdater
	printer         *PrintDispatcher
	defaultStations []models.Station
	held            GraceChecker
	log             logrus.FieldLogger
}

func NewOrderAdmin(orders OrderUpdater, printer *PrintDispatcher, defaultStations []models.Station, log logrus.FieldLogger) *OrderAdmin {
	if log == nil {
		log = utils.InfoLogger
	}
	return &OrderAdmin{orders: orders, printer: printer, defaultStations: defaultStations, log: log}
}

// HoldGracePeriod makes Approve refuse orders the customer can still cancel.
func (a *OrderAdmin) HoldGracePeriod(held GraceChecker) {
	a.held = held
}

type ApproveResult struct {
	Order  *models.Order        `json:"order"`
	Prints []models.PrintResult `json:"prints"`
}

// Approve marks the order approved and sends its tickets to the station
// printers. stations overrides the configured ones when non-empty. A print
// failure does not undo the approval; it is reported in Prints.
func (a *OrderAdmin) Approve(ctx context.Context, orderID, paymentMethod string, stations []models.Station) (*ApproveResult, error) {
	const op = "orders.approve"
	if strings.TrimSpace(orderID) == "" {
		return nil, utils.NewValidationError(op, "order id is required")
	}
	if a.held != nil && a.held.InGracePeriod(orderID) {
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrInvalidState, Message: "order is still in its grace period"}
	}

	approved := true
	status := models.OrderStatusApproved
	req := models.UpdateOrderRequest{Status: &status, Approved: &approved}
	if paymentMethod != "" {
		req.PaymentMethod = &paymentMethod
	}

	order, err := a.orders.UpdateOrder(ctx, orderID, req)
	if err != nil {
		return nil, err
	}
	a.log.WithFields(logrus.Fields{"order_id": orderID, "payment_method": paymentMethod}).Info("order approved")

	if len(stations) == 0 {
		stations = a.defaultStations
	}
	result := &ApproveResult{Order: order, Prints: []models.PrintResult{}}
	if a.printer != nil && len(stations) > 0 {
		result.Prints = a.printer.DispatchAll(ctx, stations, PrintPayloadFor(order))
	}
	return result, nil
}

// PrintPayloadFor builds the station ticket of an order.
func PrintPayloadFor(order *models.Order) models.PrintPayload {
	number := order.OrderNumber
	if number == "" {
		number = order.ID
	}
	lines := make([]models.PrintLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, models.PrintLine{
			Name:         item.Name,
			Quantity:     item.Quantity,
			Notes:        item.Notes,
			Translations: item.Translations,
		})
	}
	return models.PrintPayload{
		OrderID:     order.ID,
		OrderNumber: number,
		TableNumber: order.TableNumber,
		Items:       lines,
	}
}
