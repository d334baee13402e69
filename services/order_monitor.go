package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/models"
)

// DefaultStaffPollInterval is how often staff panels refresh orders.
const DefaultStaffPollInterval = 30 * time.Second

// OrderLister lists a restaurant's orders.
type OrderLister interface {
	ListOrders(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
}

// OrderUpdateSink receives orders whose status changed since the last poll.
type OrderUpdateSink interface {
	OnOrderUpdate(ctx context.Context, order models.Order)
}

// OrderMonitor polls the backend for order changes made by other actors
// (other cashiers, the kitchen) and forwards them to the staff panels.
type OrderMonitor struct {
	Orders    OrderLister
	Sink      OrderUpdateSink
	Subdomain string
	Interval  time.Duration
	StopChan  chan struct{}
	// Held hides orders still in their grace period until they commit.
	Held      GraceChecker

	log      logrus.FieldLogger
	seen     map[string]models.OrderStatus
	stopOnce sync.Once
}

func NewOrderMonitor(orders OrderLister, sink OrderUpdateSink, subdomain string, interval time.Duration, log logrus.FieldLogger) *OrderMonitor {
	if interval <= 0 {
		interval = DefaultStaffPollInterval
	}
	return &OrderMonitor{
		Orders:    orders,
		Sink:      sink,
		Subdomain: subdomain,
		Interval:  interval,
		StopChan:  make(chan struct{}),
		log:       log,
		seen:      make(map[string]models.OrderStatus),
	}
}

func (om *OrderMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(om.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				om.checkChanges(ctx)
			case <-om.StopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (om *OrderMonitor) Stop() {
	om.stopOnce.Do(func() { close(om.StopChan) })
}

// checkChanges forwards new orders and status changes. Orders that vanished
// from the listing are forgotten, and held orders are skipped without being
// recorded so they go out on the first poll after they commit.
func (om *OrderMonitor) checkChanges(ctx context.Context) {
	if om.Subdomain != "" {
		ctx = WithTenant(ctx, om.Subdomain)
	}
	orders, err := om.Orders.ListOrders(ctx, "")
	if err != nil {
		om.log.WithError(err).Warn("order poll failed")
		return
	}

	current := make(map[string]models.OrderStatus, len(orders))
	changed := 0
	for _, order := range orders {
		if om.Held != nil && om.Held.InGracePeriod(order.ID) {
			continue
		}
		current[order.ID] = order.Status
		if prev, ok := om.seen[order.ID]; ok && prev == order.Status {
			continue
		}
		changed++
		om.Sink.OnOrderUpdate(ctx, order)
	}
	om.seen = current

	if changed > 0 {
		om.log.WithField("changed", changed).Debug("forwarded order changes")
	}
}
