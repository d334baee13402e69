package kds

import (
	"context"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// HubObserver turns order flow and cart events into hub messages.
type HubObserver struct {
	hub *Hub
}

func NewHubObserver(hub *Hub) *HubObserver {
	return &HubObserver{hub: hub}
}

// OnFlowEvent sends every transition to the table; staff panels only hear
// about orders once they are committed or withdrawn.
func (o *HubObserver) OnFlowEvent(ctx context.Context, ev models.FlowEvent) {
	var event string
	toStaff := false
	switch ev.Type {
	case models.FlowEventSubmitted:
		event = EventOrderSubmitted
	case models.FlowEventTick:
		event = EventGraceTick
	case models.FlowEventCommitted:
		event, toStaff = EventOrderCommitted, true
	case models.FlowEventCancelled:
		event, toStaff = EventOrderCancelled, true
	case models.FlowEventModified:
		event = EventOrderModifying
	default:
		return
	}

	msg := Message{Event: event, Data: ev}
	if ev.SessionKey != "" {
		o.hub.BroadcastToSession(ev.SessionKey, msg)
	}
	if toStaff {
		o.hub.Broadcast(msg)
	}
}

func (o *HubObserver) OnCartUpdated(ctx context.Context, session models.CartSession) {
	o.hub.BroadcastToSession(session.SessionKey, Message{Event: EventCartUpdated, Data: session})
}

func (o *HubObserver) OnOrderComplete(ctx context.Context, sessionKey, orderID string) {
	o.hub.BroadcastToSession(sessionKey, Message{
		Event: EventOrderComplete,
		Data:  map[string]string{"sessionKey": sessionKey, "orderId": orderID},
	})
}

// RecordPrint reports printer outcomes to whoever approves orders.
func (o *HubObserver) RecordPrint(ctx context.Context, result models.PrintResult) {
	o.hub.BroadcastToRoles(Message{Event: EventPrintResult, Data: result}, utils.RoleCashier, utils.RoleAdmin)
}

// OnOrderUpdate forwards a polled order change to the staff panels.
func (o *HubObserver) OnOrderUpdate(ctx context.Context, order models.Order) {
	o.hub.Broadcast(Message{Event: EventOrderUpdate, Data: order})
}
