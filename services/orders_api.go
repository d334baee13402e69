package services

import (
	"context"
	"net/http"
	"net/url"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// OrderBackend is the slice of the orders API the checkout flow uses.
type OrderBackend interface {
	CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// CreateOrder places an order for a table.
func (c *APIClient) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*models.Order, error) {
	const op = "orders.create"
	var order models.Order
	if err := c.do(ctx, op, http.MethodPost, "/orders", req, &order, false); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrTransport, Message: "backend returned no order id"}
	}
	return &order, nil
}

// CancelOrder sets the order status to cancelled on behalf of the table.
func (c *APIClient) CancelOrder(ctx context.Context, orderID string) error {
	status := models.OrderStatusCancelled
	return c.do(ctx, "orders.cancel", http.MethodPut, "/orders/"+url.PathEscape(orderID),
		models.UpdateOrderRequest{Status: &status}, nil, false)
}

// UpdateOrder applies a staff update (status, approval, payment method).
func (c *APIClient) UpdateOrder(ctx context.Context, orderID string, req models.UpdateOrderRequest) (*models.Order, error) {
	const op = "orders.update"
	var order models.Order
	if err := c.do(ctx, op, http.MethodPut, "/orders/"+url.PathEscape(orderID), req, &order, true); err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return &order, nil
}

// ListOrders returns the restaurant's orders, optionally filtered by status.
func (c *APIClient) ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	path := "/orders"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var orders []models.Order
	if err := c.do(ctx, "orders.list", http.MethodGet, path, nil, &orders, true); err != nil {
		return nil, err
	}
	return orders, nil
}
