package messaging

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/models"
)

const TopicOrderEvents = "qr.order.events"

const (
	EventOrderCommitted = "order.committed"
	EventOrderCancelled = "order.cancelled"
)

// OrderEvent is the payload downstream consumers (kitchen displays, reporting)
// receive once an order leaves its grace period.
type OrderEvent struct {
	Type         string            `json:"type"`
	OrderID      string            `json:"orderId"`
	RestaurantID string            `json:"restaurantId"`
	TableNumber  int               `json:"tableNumber"`
	Items        []models.CartItem `json:"items,omitempty"`
	OccurredAt   time.Time         `json:"occurredAt"`
}

// FlowPublisher forwards committed and cancelled orders to a Publisher. A
// modify also cancels the upstream order but is not published: the
// resubmitted order will be.
type FlowPublisher struct {
	pub     Publisher
	timeout time.Duration
	log     logrus.FieldLogger
}

func NewFlowPublisher(pub Publisher, log logrus.FieldLogger) *FlowPublisher {
	return &FlowPublisher{pub: pub, timeout: 5 * time.Second, log: log}
}

func (f *FlowPublisher) OnFlowEvent(ctx context.Context, ev models.FlowEvent) {
	var eventType string
	switch ev.Type {
	case models.FlowEventCommitted:
		eventType = EventOrderCommitted
	case models.FlowEventCancelled:
		eventType = EventOrderCancelled
	default:
		return
	}

	// The flow's own context may already be gone by the time the timer fires.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	event := OrderEvent{
		Type:         eventType,
		OrderID:      ev.OrderID,
		RestaurantID: ev.RestaurantID,
		TableNumber:  ev.TableNumber,
		Items:        ev.Items,
		OccurredAt:   ev.At,
	}
	if err := f.pub.Publish(pubCtx, ev.OrderID, event); err != nil {
		f.log.WithError(err).WithFields(logrus.Fields{
			"order_id": ev.OrderID,
			"event":    eventType,
		}).Error("failed to publish order event")
	}
}
