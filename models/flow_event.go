package models

import "time"

// FlowState is the position of one client's checkout in the grace-period
// state machine.
type FlowState string

const (
	FlowIdle        FlowState = "idle"
	FlowSubmitting  FlowState = "submitting"
	FlowGracePeriod FlowState = "grace_period"
	FlowCommitted   FlowState = "committed"
	FlowCancelled   FlowState = "cancelled"
	FlowModifying   FlowState = "modifying"
)

// Terminal reports whether the flow is finished with its last order.
func (s FlowState) Terminal() bool {
	return s == FlowCommitted || s == FlowCancelled
}

type FlowEventType string

const (
	FlowEventSubmitted FlowEventType = "submitted"
	FlowEventTick      FlowEventType = "tick"
	FlowEventCommitted FlowEventType = "committed"
	FlowEventCancelled FlowEventType = "cancelled"
	FlowEventModified  FlowEventType = "modified"
	FlowEventFailed    FlowEventType = "failed"
)

// FlowEvent describes one transition of an order flow. Remaining is the
// countdown after the transition; Items is set for submitted and modified.
type FlowEvent struct {
	Type         FlowEventType `json:"type"`
	State        FlowState     `json:"state"`
	ClientID     string        `json:"clientId"`
	SessionKey   string        `json:"sessionKey,omitempty"`
	OrderID      string        `json:"orderId,omitempty"`
	RestaurantID string        `json:"restaurantId"`
	TableNumber  int           `json:"tableNumber"`
	Remaining    int           `json:"remaining"`
	Items        []CartItem    `json:"items,omitempty"`
	Error        string        `json:"error,omitempty"`
	At           time.Time     `json:"at"`
}
