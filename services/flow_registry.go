package services

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/utils"
)

// DefaultFlowIdleTTL is how long an idle checkout is kept for its client.
const DefaultFlowIdleTTL = 30 * time.Minute

// FlowFactory builds the checkout of a client sitting at sessionKey.
type FlowFactory func(clientID, sessionKey string) *OrderFlow

// GraceChecker reports orders the customer can still cancel or pull back.
// Staff must not see them yet.
type GraceChecker interface {
	InGracePeriod(orderID string) bool
}

type flowEntry struct {
	flow     *OrderFlow
	lastSeen time.Time
}

// FlowRegistry keeps one OrderFlow per client so each device has at most one
// pending order.
type FlowRegistry struct {
	mu      sync.Mutex
	flows   map[string]*flowEntry
	factory FlowFactory
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewFlowRegistry(factory FlowFactory) *FlowRegistry {
	return &FlowRegistry{
		flows:   make(map[string]*flowEntry),
		factory: factory,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

func (r *FlowRegistry) Get(clientID string) (*OrderFlow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.flows[clientID]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.flow, true
}

// GetOrCreate returns the client's flow for sessionKey, creating it on first
// use. A client that moved to another table gets a fresh flow linked to the
// new session, unless its order there is still pending. An empty sessionKey
// matches whatever flow the client has.
func (r *FlowRegistry) GetOrCreate(clientID, sessionKey string) (*OrderFlow, error) {
	r.mu.Lock()
	e, ok := r.flows[clientID]
	if ok && (sessionKey == "" || e.flow.SessionKey() == sessionKey) {
		e.lastSeen = r.now()
		r.mu.Unlock()
		return e.flow, nil
	}
	if ok && !e.flow.reusable() {
		r.mu.Unlock()
		return nil, &utils.ClientError{
			Op:      "order.checkout",
			Kind:    utils.ErrInvalidState,
			Message: "finish or cancel the pending order before ordering at another table",
		}
	}
	f := r.factory(clientID, sessionKey)
	r.flows[clientID] = &flowEntry{flow: f, lastSeen: r.now()}
	r.mu.Unlock()

	if ok {
		e.flow.Close()
	}
	return f, nil
}

// Remove closes and forgets a client's flow.
func (r *FlowRegistry) Remove(clientID string) {
	r.mu.Lock()
	e, ok := r.flows[clientID]
	delete(r.flows, clientID)
	r.mu.Unlock()
	if ok {
		e.flow.Close()
	}
}

// Release forgets a client's flow unless it still has an order in flight or
// in its grace period, which keeps counting down.
func (r *FlowRegistry) Release(clientID string) bool {
	r.mu.Lock()
	e, ok := r.flows[clientID]
	if !ok || !e.flow.reusable() {
		r.mu.Unlock()
		return false
	}
	delete(r.flows, clientID)
	r.mu.Unlock()
	e.flow.Close()
	return true
}

func (r *FlowRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// InGracePeriod reports whether some client's flow still holds orderID.
func (r *FlowRegistry) InGracePeriod(orderID string) bool {
	if orderID == "" {
		return false
	}
	r.mu.Lock()
	flows := make([]*OrderFlow, 0, len(r.flows))
	for _, e := range r.flows {
		flows = append(flows, e.flow)
	}
	r.mu.Unlock()

	for _, f := range flows {
		if f.holds(orderID) {
			return true
		}
	}
	return false
}

// Sweep drops flows untouched for idle that hold no pending order. It
// returns how many were dropped.
func (r *FlowRegistry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var dropped []*OrderFlow
	for id, e := range r.flows {
		if e.lastSeen.Before(cutoff) && e.flow.reusable() {
			dropped = append(dropped, e.flow)
			delete(r.flows, id)
		}
	}
	r.mu.Unlock()

	for _, f := range dropped {
		f.Close()
	}
	return len(dropped)
}

// StartSweeper runs Sweep every interval until Close.
func (r *FlowRegistry) StartSweeper(interval, idle time.Duration, log logrus.FieldLogger) {
	if idle <= 0 {
		idle = DefaultFlowIdleTTL
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := r.Sweep(idle); n > 0 {
					log.WithFields(logrus.Fields{"dropped": n, "active": r.Len()}).Debug("swept idle checkouts")
				}
			case <-r.stop:
				return
			}
		}
	}()
}

// Close stops every countdown and the sweeper. Used on shutdown.
func (r *FlowRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	flows := r.flows
	r.flows = make(map[string]*flowEntry)
	r.mu.Unlock()
	for _, e := range flows {
		e.flow.Close()
	}
}
