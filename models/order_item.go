package models

import (
	"github.com/shopspring/decimal"
)

// CartItem is one line of a table cart.
type CartItem struct {
	ItemID    string          `json:"itemId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Notes     string          `json:"notes,omitempty"`
}

func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CopyItems returns an independent copy of items. Snapshots taken at
// submission must not alias the live cart.
func CopyItems(items []CartItem) []CartItem {
	if items == nil {
		return []CartItem{}
	}
	out := make([]CartItem, len(items))
	copy(out, items)
	return out
}

// CartTotal sums the subtotals of items.
func CartTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// CartSession is the shared cart of everyone sitting at one table.
type CartSession struct {
	SessionKey       string     `json:"sessionKey"`
	RestaurantID     string     `json:"restaurantId"`
	TableNumber      int        `json:"tableNumber"`
	Items            []CartItem `json:"items"`
	Clients          []string   `json:"clients"`
	Version          int64      `json:"version"`
	CompletedOrderID string     `json:"completedOrderId,omitempty"`
}
