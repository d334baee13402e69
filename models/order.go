package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusApproved  OrderStatus = "approved"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusServed    OrderStatus = "served"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const OrderTypeDineIn = "dine_in"

// OrderLine is the backend's shape of one ordered item.
type OrderLine struct {
	MenuItemID string          `json:"menuItemId"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Notes      string          `json:"notes,omitempty"`
	// Translations maps a language code to the item name for station tickets.
	Translations map[string]string `json:"translations,omitempty"`
}

type CreateOrderRequest struct {
	RestaurantID string      `json:"restaurantId"`
	TableNumber  int         `json:"tableNumber"`
	Items        []OrderLine `json:"items"`
	Notes        string      `json:"notes,omitempty"`
	OrderType    string      `json:"orderType"`
}

// UpdateOrderRequest is the partial update accepted by PUT /orders/:id.
type UpdateOrderRequest struct {
	Status        *OrderStatus `json:"status,omitempty"`
	Approved      *bool        `json:"approved,omitempty"`
	PaymentMethod *string      `json:"paymentMethod,omitempty"`
}

type Order struct {
	ID           string          `json:"id"`
	OrderNumber  string          `json:"orderNumber,omitempty"`
	RestaurantID string          `json:"restaurantId"`
	TableNumber  int             `json:"tableNumber"`
	Items        []OrderLine     `json:"items"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Status       OrderStatus     `json:"status"`
	Approved     bool            `json:"approved"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// OrderLinesFromCart converts cart lines into the backend order shape.
func OrderLinesFromCart(items []CartItem) []OrderLine {
	lines := make([]OrderLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLine{
			MenuItemID: item.ItemID,
			Name:       item.Name,
			Price:      item.UnitPrice,
			Quantity:   item.Quantity,
			Notes:      item.Notes,
		})
	}
	return lines
}

// PendingOrder is a submitted order still inside its grace period.
type PendingOrder struct {
	OrderID          string     `json:"orderId"`
	Items            []CartItem `json:"items"`
	CountdownSeconds int        `json:"countdownSeconds"`
	RestaurantID     string     `json:"restaurantId"`
	TableNumber      int        `json:"tableNumber"`
	SubmittedAt      time.Time  `json:"submittedAt"`
}
