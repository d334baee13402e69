package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// DefaultGracePeriodSeconds is how long a customer may cancel or revise a
// submitted order before kitchen and cashier see it.
const DefaultGracePeriodSeconds = 60

var flowTracer = otel.Tracer("services/order_flow")

// Ticker delivers the one-second countdown ticks.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds the countdown ticker. Tests swap in a manual one.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// FlowObserver is told about every transition of an OrderFlow. Observers are
// called outside the flow lock, on the goroutine that caused the transition.
type FlowObserver interface {
	OnFlowEvent(ctx context.Context, ev models.FlowEvent)
}

// OrderNotifier lets the other diners at the table clear their cart view.
type OrderNotifier interface {
	NotifyOrderComplete(ctx context.Context, sessionKey, clientID, orderID string) error
}

// SubmitRequest carries what a checkout needs besides the cart.
type SubmitRequest struct {
	RestaurantID string
	Subdomain    string
	TableNumber  int
	Token        string
	Notes        string
}

// ModifyResult is the snapshot put back into the cart. UpstreamCancelled is
// false when the backend cancel failed; the items are restored regardless.
type ModifyResult struct {
	Items             []models.CartItem `json:"items"`
	UpstreamCancelled bool              `json:"upstreamCancelled"`
}

// FlowSnapshot is a consistent read of a flow.
type FlowSnapshot struct {
	State   models.FlowState     `json:"state"`
	Pending *models.PendingOrder `json:"pending,omitempty"`
	Last    *models.PendingOrder `json:"last,omitempty"`
	Busy    bool                 `json:"busy"`
}

type OrderFlowConfig struct {
	ClientID           string
	SessionKey         string
	Cart               *LocalCart
	Orders             OrderBackend
	Tokens             TokenVerifier
	Resolver           *RestaurantResolver
	Notifier           OrderNotifier
	GracePeriodSeconds int
	NewTicker          TickerFactory
	Observers          []FlowObserver
	Log                logrus.FieldLogger
}

// OrderFlow is one client's checkout: submit, then a countdown during which
// the order can be cancelled or pulled back into the cart, then commit.
//
// At most one backend call (submit, cancel or modify) runs at a time. A
// countdown that runs out while a cancel is in flight does not commit until
// the cancel resolves: success cancels, failure commits.
type OrderFlow struct {
	clientID   string
	sessionKey string
	cart       *LocalCart
	orders     OrderBackend
	tokens     TokenVerifier
	resolver   *RestaurantResolver
	notifier   OrderNotifier
	grace      int
	newTicker  TickerFactory
	observers  []FlowObserver
	log        logrus.FieldLogger
	now        func() time.Time

	mu        sync.Mutex
	state     models.FlowState
	pending   *models.PendingOrder
	last      *models.PendingOrder
	busy      bool
	commitDue bool
	closed    bool
	stop      chan struct{}
	done      chan struct{}
}

func NewOrderFlow(cfg OrderFlowConfig) *OrderFlow {
	if cfg.GracePeriodSeconds <= 0 {
		cfg.GracePeriodSeconds = DefaultGracePeriodSeconds
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	if cfg.Cart == nil {
		cfg.Cart = NewLocalCart()
	}
	if cfg.Log == nil {
		cfg.Log = utils.InfoLogger
	}
	return &OrderFlow{
		clientID:   cfg.ClientID,
		sessionKey: cfg.SessionKey,
		cart:       cfg.Cart,
		orders:     cfg.Orders,
		tokens:     cfg.Tokens,
		resolver:   cfg.Resolver,
		notifier:   cfg.Notifier,
		grace:      cfg.GracePeriodSeconds,
		newTicker:  cfg.NewTicker,
		observers:  cfg.Observers,
		log:        cfg.Log.WithField("client_id", cfg.ClientID),
		now:        time.Now,
		state:      models.FlowIdle,
	}
}

func (f *OrderFlow) Cart() *LocalCart { return f.cart }

func (f *OrderFlow) Snapshot() FlowSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FlowSnapshot{
		State:   f.state,
		Pending: copyPending(f.pending),
		Last:    copyPending(f.last),
		Busy:    f.busy,
	}
}

// Submit turns the cart into a backend order and starts the grace period.
// The cart is cleared as soon as the backend accepts the order.
func (f *OrderFlow) Submit(ctx context.Context, req SubmitRequest) (*models.PendingOrder, error) {
	const op = "order.submit"

	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrInvalidState, Message: "checkout is closed"}
	case f.busy:
		f.mu.Unlock()
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrOperationInProgress, Message: "another order operation is in progress"}
	case f.state == models.FlowGracePeriod:
		f.mu.Unlock()
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrInvalidState, Message: "an order is already waiting in its grace period"}
	}
	f.busy = true
	f.state = models.FlowSubmitting
	f.mu.Unlock()

	ctx, span := flowTracer.Start(ctx, op)
	defer span.End()

	pending, err := f.submit(ctx, op, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.mu.Lock()
		f.busy = false
		f.state = models.FlowIdle
		f.mu.Unlock()
		f.emit(ctx, models.FlowEvent{
			Type:         models.FlowEventFailed,
			State:        models.FlowIdle,
			RestaurantID: req.RestaurantID,
			TableNumber:  req.TableNumber,
			Error:        err.Error(),
		})
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", pending.OrderID))

	f.mu.Lock()
	f.busy = false
	if f.closed {
		f.state = models.FlowIdle
		f.mu.Unlock()
		f.withdraw(context.WithoutCancel(ctx), pending.OrderID)
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrInvalidState, Message: "checkout closed while the order was being placed"}
	}
	f.commitDue = false
	f.state = models.FlowGracePeriod
	f.pending = pending
	f.last = nil
	f.startTimerLocked()
	out := copyPending(pending)
	f.mu.Unlock()

	if err := f.cart.Clear(ctx); err != nil {
		f.log.WithError(err).WithField("order_id", pending.OrderID).Warn("failed to clear shared cart after submit")
	}
	if f.notifier != nil && f.sessionKey != "" {
		if err := f.notifier.NotifyOrderComplete(ctx, f.sessionKey, f.clientID, pending.OrderID); err != nil {
			f.log.WithError(err).WithField("order_id", pending.OrderID).Warn("failed to notify table of order")
		}
	}

	f.log.WithFields(logrus.Fields{
		"order_id":     pending.OrderID,
		"table_number": pending.TableNumber,
		"items":        len(pending.Items),
		"total":        utils.FormatCurrencyTRY(models.CartTotal(pending.Items)),
	}).Info("order submitted, grace period started")
	f.emit(ctx, f.eventFor(models.FlowEventSubmitted, models.FlowGracePeriod, pending, pending.Items))
	return out, nil
}

func (f *OrderFlow) submit(ctx context.Context, op string, req SubmitRequest) (*models.PendingOrder, error) {
	items := f.cart.Items()
	if len(items) == 0 {
		return nil, utils.NewValidationError(op, "cart is empty")
	}
	if req.TableNumber <= 0 {
		return nil, utils.NewValidationError(op, "tableNumber must be a positive integer")
	}

	restaurantID := strings.TrimSpace(req.RestaurantID)
	if f.resolver != nil {
		id, err := f.resolver.Resolve(ctx, restaurantID, req.Subdomain)
		if err != nil {
			return nil, err
		}
		restaurantID = id
	}
	if restaurantID == "" {
		return nil, &utils.ClientError{Op: op, Kind: utils.ErrRestaurantNotResolved, Message: "restaurant not resolved"}
	}

	if f.tokens != nil && req.Token != "" {
		v, err := f.tokens.Verify(ctx, req.Token)
		if err != nil {
			return nil, err
		}
		if v.Denied {
			return nil, utils.NewDeniedError(op, "table session is "+string(v.Status))
		}
	}

	order, err := f.orders.CreateOrder(ctx, models.CreateOrderRequest{
		RestaurantID: restaurantID,
		TableNumber:  req.TableNumber,
		Items:        models.OrderLinesFromCart(items),
		Notes:        req.Notes,
		OrderType:    models.OrderTypeDineIn,
	})
	if err != nil {
		return nil, err
	}

	return &models.PendingOrder{
		OrderID:          order.ID,
		Items:            items,
		CountdownSeconds: f.grace,
		RestaurantID:     restaurantID,
		TableNumber:      req.TableNumber,
		SubmittedAt:      f.now(),
	}, nil
}

// Cancel withdraws the pending order. The flow only becomes Cancelled once
// the backend confirms; on failure it stays in the grace period.
func (f *OrderFlow) Cancel(ctx context.Context) error {
	const op = "order.cancel"

	f.mu.Lock()
	if err := f.beginLocked(op); err != nil {
		f.mu.Unlock()
		return err
	}
	orderID := f.pending.OrderID
	f.mu.Unlock()

	ctx, span := flowTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	err := f.orders.CancelOrder(ctx, orderID)

	f.mu.Lock()
	f.busy = false
	pending := f.pending
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if f.commitDue {
			ev := f.commitLocked()
			f.mu.Unlock()
			f.log.WithError(err).WithField("order_id", orderID).Warn("cancel failed after countdown ran out, order committed")
			f.emit(ctx, ev)
			return err
		}
		f.mu.Unlock()
		f.log.WithError(err).WithField("order_id", orderID).Warn("cancel failed, order still in grace period")
		f.emit(ctx, f.eventFor(models.FlowEventFailed, models.FlowGracePeriod, pending, nil, err))
		return err
	}

	f.state = models.FlowCancelled
	f.commitDue = false
	f.stopTimerLocked()
	f.last = pending
	f.pending = nil
	f.mu.Unlock()

	f.log.WithField("order_id", orderID).Info("order cancelled during grace period")
	f.emit(ctx, f.eventFor(models.FlowEventCancelled, models.FlowCancelled, pending, nil))
	return nil
}

// Modify pulls the pending order back into the cart for editing. The items
// restored are the ones captured at submission, whatever the cart held
// since. The upstream cancel is best effort and never blocks the restore.
func (f *OrderFlow) Modify(ctx context.Context) (*ModifyResult, error) {
	const op = "order.modify"

	f.mu.Lock()
	if err := f.beginLocked(op); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.state = models.FlowModifying
	f.stopTimerLocked()
	pending := f.pending
	f.mu.Unlock()

	ctx, span := flowTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("order.id", pending.OrderID))

	result := &ModifyResult{Items: models.CopyItems(pending.Items), UpstreamCancelled: true}
	var cancelErr error
	if cancelErr = f.orders.CancelOrder(ctx, pending.OrderID); cancelErr != nil {
		result.UpstreamCancelled = false
		span.RecordError(cancelErr)
		f.log.WithError(cancelErr).WithField("order_id", pending.OrderID).Warn("upstream cancel failed during modify, restoring items anyway")
	}

	if err := f.cart.Replace(ctx, pending.Items); err != nil {
		f.log.WithError(err).WithField("order_id", pending.OrderID).Warn("failed to push restored items to shared cart")
	}

	f.mu.Lock()
	f.busy = false
	f.commitDue = false
	f.state = models.FlowIdle
	f.last = pending
	f.pending = nil
	f.mu.Unlock()

	f.emit(ctx, f.eventFor(models.FlowEventModified, models.FlowIdle, pending, pending.Items, cancelErr))
	return result, nil
}

// Close stops the countdown and waits for the timer goroutine to exit. The
// flow accepts no further operations.
func (f *OrderFlow) Close() {
	f.mu.Lock()
	f.closed = true
	f.stopTimerLocked()
	done := f.done
	f.mu.Unlock()
	if done != nil {
		<-done
	}
}

// withdraw cancels an order accepted after the flow was closed. Nobody is
// left to count it down, so it must not reach the kitchen.
func (f *OrderFlow) withdraw(ctx context.Context, orderID string) {
	log := f.log.WithField("order_id", orderID)
	if err := f.orders.CancelOrder(ctx, orderID); err != nil {
		log.WithError(err).Error("order accepted after checkout closed and could not be withdrawn")
		return
	}
	log.Warn("order accepted after checkout closed, withdrawn")
}

// holds reports whether orderID is this flow's order still in its grace
// period.
func (f *OrderFlow) holds(orderID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending != nil && f.pending.OrderID == orderID
}

// reusable reports whether the flow may be dropped without losing an order
// the customer can still act on.
func (f *OrderFlow) reusable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.busy && f.pending == nil && (f.state == models.FlowIdle || f.state.Terminal())
}

func (f *OrderFlow) SessionKey() string { return f.sessionKey }

// beginLocked checks that a pending order can be acted on and marks the
// flow busy.
func (f *OrderFlow) beginLocked(op string) error {
	switch {
	case f.busy:
		return &utils.ClientError{Op: op, Kind: utils.ErrOperationInProgress, Message: "another order operation is in progress"}
	case f.closed || f.state != models.FlowGracePeriod || f.pending == nil:
		return &utils.ClientError{Op: op, Kind: utils.ErrInvalidState, Message: "no order in its grace period"}
	}
	f.busy = true
	return nil
}

func (f *OrderFlow) startTimerLocked() {
	f.stopTimerLocked()
	stop := make(chan struct{})
	done := make(chan struct{})
	f.stop, f.done = stop, done
	go f.run(f.newTicker(time.Second), stop, done)
}

// stopTimerLocked signals the timer goroutine. It does not wait: the
// goroutine may be blocked on f.mu.
func (f *OrderFlow) stopTimerLocked() {
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}

func (f *OrderFlow) run(t Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if finished := f.tick(stop); finished {
				return
			}
		}
	}
}

// tick advances the countdown by one second. It reports whether the timer
// has nothing left to do.
func (f *OrderFlow) tick(stop <-chan struct{}) bool {
	f.mu.Lock()
	select {
	case <-stop:
		f.mu.Unlock()
		return true
	default:
	}
	if f.state != models.FlowGracePeriod || f.pending == nil || f.commitDue {
		f.mu.Unlock()
		return true
	}

	f.pending.CountdownSeconds--
	if f.pending.CountdownSeconds > 0 {
		ev := f.eventFor(models.FlowEventTick, models.FlowGracePeriod, f.pending, nil)
		f.mu.Unlock()
		f.emit(context.Background(), ev)
		return false
	}

	if f.busy {
		// A cancel is in flight; it decides between cancelled and committed.
		f.commitDue = true
		ev := f.eventFor(models.FlowEventTick, models.FlowGracePeriod, f.pending, nil)
		f.mu.Unlock()
		f.emit(context.Background(), ev)
		return true
	}

	ev := f.commitLocked()
	f.mu.Unlock()
	f.log.WithField("order_id", ev.OrderID).Info("grace period over, order committed")
	f.emit(context.Background(), ev)
	return true
}

// commitLocked makes the pending order irrevocable.
func (f *OrderFlow) commitLocked() models.FlowEvent {
	pending := f.pending
	pending.CountdownSeconds = 0
	f.state = models.FlowCommitted
	f.commitDue = false
	f.stopTimerLocked()
	f.last = pending
	f.pending = nil
	return f.eventFor(models.FlowEventCommitted, models.FlowCommitted, pending, pending.Items)
}

func (f *OrderFlow) eventFor(typ models.FlowEventType, state models.FlowState, p *models.PendingOrder, items []models.CartItem, errs ...error) models.FlowEvent {
	ev := models.FlowEvent{
		Type:       typ,
		State:      state,
		ClientID:   f.clientID,
		SessionKey: f.sessionKey,
		At:         f.now(),
	}
	if p != nil {
		ev.OrderID = p.OrderID
		ev.RestaurantID = p.RestaurantID
		ev.TableNumber = p.TableNumber
		ev.Remaining = p.CountdownSeconds
	}
	if items != nil {
		ev.Items = models.CopyItems(items)
	}
	for _, err := range errs {
		if err != nil {
			ev.Error = err.Error()
		}
	}
	return ev
}

func (f *OrderFlow) emit(ctx context.Context, ev models.FlowEvent) {
	if ev.ClientID == "" {
		ev.ClientID = f.clientID
	}
	if ev.SessionKey == "" {
		ev.SessionKey = f.sessionKey
	}
	if ev.At.IsZero() {
		ev.At = f.now()
	}
	for _, o := range f.observers {
		o.OnFlowEvent(ctx, ev)
	}
}

func copyPending(p *models.PendingOrder) *models.PendingOrder {
	if p == nil {
		return nil
	}
	out := *p
	out.Items = models.CopyItems(p.Items)
	return &out
}
