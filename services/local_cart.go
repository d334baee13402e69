package services

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// CartPusher is the write side of SessionCartSync.
type CartPusher interface {
	Push(ctx context.Context, sessionKey string, items []models.CartItem, clientID string) (PushResult, error)
}

// LocalCart is one client's view of the table cart. Replace and Clear also
// push to the shared session when the cart is linked to one.
type LocalCart struct {
	mu    sync.Mutex
	items []models.CartItem

	pusher     CartPusher
	sessionKey string
	clientID   string
	log        logrus.FieldLogger
}

func NewLocalCart() *LocalCart {
	return &LocalCart{items: []models.CartItem{}, log: utils.InfoLogger}
}

// NewLinkedCart returns a cart that mirrors its writes to sessionKey.
func NewLinkedCart(pusher CartPusher, sessionKey, clientID string, log logrus.FieldLogger) *LocalCart {
	c := NewLocalCart()
	c.pusher = pusher
	c.sessionKey = sessionKey
	c.clientID = clientID
	if log != nil {
		c.log = log
	}
	return c
}

func (c *LocalCart) Items() []models.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CopyItems(c.items)
}

func (c *LocalCart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Add merges item into a line with the same id and notes, or appends it.
func (c *LocalCart) Add(item models.CartItem) error {
	if item.ItemID == "" || item.Quantity <= 0 {
		return utils.NewValidationError("cart.add", "item id and a positive quantity are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ItemID == item.ItemID && c.items[i].Notes == item.Notes {
			c.items[i].Quantity += item.Quantity
			return nil
		}
	}
	c.items = append(c.items, item)
	return nil
}

// Load sets the local view without pushing, e.g. after a pull.
func (c *LocalCart) Load(items []models.CartItem) {
	c.mu.Lock()
	c.items = models.CopyItems(items)
	c.mu.Unlock()
}

// Replace sets the cart and pushes it to the session.
func (c *LocalCart) Replace(ctx context.Context, items []models.CartItem) error {
	c.Load(items)
	return c.push(ctx, items)
}

func (c *LocalCart) Clear(ctx context.Context) error {
	return c.Replace(ctx, nil)
}

func (c *LocalCart) push(ctx context.Context, items []models.CartItem) error {
	if c.pusher == nil || c.sessionKey == "" {
		return nil
	}
	res, err := c.pusher.Push(ctx, c.sessionKey, models.CopyItems(items), c.clientID)
	if err != nil {
		return err
	}
	if res.Conflict {
		c.log.WithField("session_key", c.sessionKey).Debug("local cart overwrote a newer shared cart")
	}
	return nil
}
