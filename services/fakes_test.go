package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/qr-table-ordering/models"
)

// fakeBackend is an in-memory stand-in for the ordering REST API.
type fakeBackend struct {
	mu sync.Mutex

	tokens      map[string]*models.QRToken
	sessions    map[string]*models.CartSession
	orders      map[string]*models.Order
	orderSeq    []string
	restaurants map[string]string

	nextOrder int

	// keepActive makes deactivation a silent no-op, like a lagging replica.
	keepActive bool
	// cancelStarted receives once per cancel request when set.
	cancelStarted chan struct{}
	// cancelGate, when set, holds cancel requests until it is closed or sent to.
	cancelGate   chan struct{}
	cancelStatus int
	// createStarted and createGate do the same for order creation.
	createStarted chan struct{}
	createGate    chan struct{}
	createStatus  int
	printStatus   map[string]int

	verifyCalls      int
	restaurantLookup int
	printed          []cloudPrintRequest
	headers          []http.Header

	server *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		tokens:      make(map[string]*models.QRToken),
		sessions:    make(map[string]*models.CartSession),
		orders:      make(map[string]*models.Order),
		restaurants: map[string]string{"kebapci": "R"},
		printStatus: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /qr/generate", b.generate)
	mux.HandleFunc("GET /qr/verify/{token}", b.verify)
	mux.HandleFunc("DELETE /qr/deactivate/{token}", b.deactivate)
	mux.HandleFunc("POST /qr/refresh/{token}", b.refresh)
	mux.HandleFunc("GET /qr/restaurant/{id}/tables", b.tables)
	mux.HandleFunc("POST /sessions/join", b.join)
	mux.HandleFunc("GET /sessions/{key}", b.getSession)
	mux.HandleFunc("PUT /sessions/{key}/cart", b.pushCart)
	mux.HandleFunc("DELETE /sessions/{key}/leave", b.leave)
	mux.HandleFunc("POST /sessions/{key}/order-complete", b.orderComplete)
	mux.HandleFunc("POST /orders", b.createOrder)
	mux.HandleFunc("PUT /orders/{id}", b.updateOrder)
	mux.HandleFunc("GET /orders", b.listOrders)
	mux.HandleFunc("GET /restaurants/subdomain/{sub}", b.restaurant)
	mux.HandleFunc("POST /printers/print", b.print)

	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.headers = append(b.headers, r.Header.Clone())
		b.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) client(subdomain string) *APIClient {
	return NewAPIClient(APIClientConfig{
		BaseURL:          b.server.URL,
		DefaultSubdomain: subdomain,
		StaffToken:       "staff-token",
		Timeout:          2 * time.Second,
	}, quietLogger())
}

func (b *fakeBackend) lastHeader() http.Header {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.headers) == 0 {
		return http.Header{}
	}
	return b.headers[len(b.headers)-1]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": data})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": msg})
}

func (b *fakeBackend) generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RestaurantID == "" {
		fail(w, http.StatusBadRequest, "restaurantId is required")
		return
	}
	now := time.Now()
	expires := now.Add(time.Duration(req.Duration) * time.Hour)
	tok := &models.QRToken{
		ID:           uuid.NewString(),
		Token:        uuid.NewString(),
		RestaurantID: req.RestaurantID,
		TableNumber:  req.TableNumber,
		CreatedAt:    now,
		ExpiresAt:    &expires,
		Status:       models.TokenStatusActive,
		IsActive:     true,
	}
	b.mu.Lock()
	b.tokens[tok.Token] = tok
	b.mu.Unlock()
	ok(w, tok)
}

func (b *fakeBackend) verify(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verifyCalls++
	tok, found := b.tokens[r.PathValue("token")]
	if !found {
		fail(w, http.StatusNotFound, "token not found")
		return
	}
	// Bare object on purpose: verify answers without an envelope.
	writeJSON(w, http.StatusOK, tok)
}

func (b *fakeBackend) deactivate(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok, found := b.tokens[r.PathValue("token")]
	if !found {
		fail(w, http.StatusNotFound, "token not found")
		return
	}
	if tok.Status == models.TokenStatusCompleted {
		fail(w, http.StatusBadRequest, "token already completed")
		return
	}
	if !b.keepActive {
		tok.Status = models.TokenStatusCompleted
		tok.IsActive = false
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "deactivated"})
}

func (b *fakeBackend) refresh(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	defer b.mu.Unlock()
	tok, found := b.tokens[r.PathValue("token")]
	if !found {
		fail(w, http.StatusNotFound, "token not found")
		return
	}
	if tok.Status != models.TokenStatusActive {
		fail(w, http.StatusGone, "token is "+string(tok.Status))
		return
	}
	expires := time.Now().Add(time.Duration(req.Duration) * time.Hour)
	tok.ExpiresAt = &expires
	ok(w, tok)
}

func (b *fakeBackend) tables(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.TableQR{}
	for _, tok := range b.tokens {
		if tok.RestaurantID == r.PathValue("id") {
			out = append(out, models.TableQR{TableNumber: tok.TableNumber, Token: tok.Token, Status: string(tok.Status), IsActive: tok.IsActive})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	defer b.mu.Unlock()
	s, found := b.sessions[req.SessionKey]
	if !found {
		s = &models.CartSession{SessionKey: req.SessionKey, RestaurantID: req.RestaurantID, TableNumber: req.TableNumber, Items: []models.CartItem{}}
		b.sessions[req.SessionKey] = s
	}
	s.Clients = append(s.Clients, req.ClientID)
	ok(w, s)
}

func (b *fakeBackend) getSession(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, found := b.sessions[r.PathValue("key")]
	if !found {
		fail(w, http.StatusNotFound, "session not found")
		return
	}
	ok(w, s)
}

func (b *fakeBackend) pushCart(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	defer b.mu.Unlock()
	key := r.PathValue("key")
	s, found := b.sessions[key]
	if !found {
		s = &models.CartSession{SessionKey: key}
		b.sessions[key] = s
	}
	s.Items = req.Items
	s.Version++
	ok(w, s)
}

func (b *fakeBackend) leave(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, found := b.sessions[r.PathValue("key")]
	if !found {
		fail(w, http.StatusNotFound, "session not found")
		return
	}
	client := r.URL.Query().Get("clientId")
	kept := s.Clients[:0]
	for _, c := range s.Clients {
		if c != client {
			kept = append(kept, c)
		}
	}
	s.Clients = kept
	w.WriteHeader(http.StatusNoContent)
}

func (b *fakeBackend) orderComplete(w http.ResponseWriter, r *http.Request) {
	var req orderCompleteRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, found := b.sessions[r.PathValue("key")]; found {
		s.CompletedOrderID = req.OrderID
	}
	ok(w, nil)
}

func (b *fakeBackend) createOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "bad order")
		return
	}
	b.mu.Lock()
	started, gate := b.createStarted, b.createGate
	b.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createStatus != 0 {
		fail(w, b.createStatus, "order rejected")
		return
	}
	b.nextOrder++
	total := decimal.Zero
	for _, l := range req.Items {
		total = total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	order := &models.Order{
		ID:           fmt.Sprintf("ord-%d", b.nextOrder),
		OrderNumber:  fmt.Sprintf("A%03d", b.nextOrder),
		RestaurantID: req.RestaurantID,
		TableNumber:  req.TableNumber,
		Items:        req.Items,
		TotalAmount:  total,
		Status:       models.OrderStatusPending,
		CreatedAt:    time.Now(),
	}
	b.orders[order.ID] = order
	b.orderSeq = append(b.orderSeq, order.ID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "data": order})
}

func (b *fakeBackend) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateOrderRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	cancelling := req.Status != nil && *req.Status == models.OrderStatusCancelled

	b.mu.Lock()
	started, gate := b.cancelStarted, b.cancelGate
	b.mu.Unlock()
	if cancelling {
		if started != nil {
			started <- struct{}{}
		}
		if gate != nil {
			<-gate
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	order, found := b.orders[r.PathValue("id")]
	if !found {
		fail(w, http.StatusNotFound, "order not found")
		return
	}
	if cancelling && b.cancelStatus != 0 {
		fail(w, b.cancelStatus, "cancel failed")
		return
	}
	if req.Status != nil {
		order.Status = *req.Status
	}
	if req.Approved != nil {
		order.Approved = *req.Approved
	}
	ok(w, order)
}

func (b *fakeBackend) listOrders(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []models.Order{}
	for _, id := range b.orderSeq {
		out = append(out, *b.orders[id])
	}
	ok(w, out)
}

func (b *fakeBackend) restaurant(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.restaurantLookup++
	sub := r.PathValue("sub")
	id, found := b.restaurants[sub]
	if !found {
		fail(w, http.StatusNotFound, "restaurant not found")
		return
	}
	ok(w, restaurantRecord{ID: id, Subdomain: sub, Name: "Kebapçı"})
}

func (b *fakeBackend) print(w http.ResponseWriter, r *http.Request) {
	var req cloudPrintRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	b.mu.Lock()
	defer b.mu.Unlock()
	if status := b.printStatus[req.PrinterIP]; status != 0 {
		fail(w, status, "printer "+req.PrinterIP+" is not reachable from the cloud")
		return
	}
	b.printed = append(b.printed, req)
	ok(w, map[string]bool{"delivered": true})
}

func (b *fakeBackend) order(id string) models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.orders[id]
}

func (b *fakeBackend) session(key string) models.CartSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := *b.sessions[key]
	s.Items = models.CopyItems(s.Items)
	return s
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.TableToken{}, &models.PrintLog{}))
	return db
}

// manualTicker fires only when the test says so.
type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.once.Do(func() { close(m.stopped) }) }

func (m *manualTicker) isStopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}

type tickerSource struct {
	created chan *manualTicker
}

func newTickerSource() *tickerSource {
	return &tickerSource{created: make(chan *manualTicker, 16)}
}

func (s *tickerSource) factory(time.Duration) Ticker {
	t := &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	s.created <- t
	return t
}

func (s *tickerSource) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-s.created:
		return tk
	case <-time.After(2 * time.Second):
		t.Fatal("no ticker was created")
		return nil
	}
}

// recordingObserver collects flow events in order.
type recordingObserver struct {
	events chan models.FlowEvent
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: make(chan models.FlowEvent, 256)}
}

func (o *recordingObserver) OnFlowEvent(_ context.Context, ev models.FlowEvent) {
	o.events <- ev
}

func (o *recordingObserver) next(t *testing.T) models.FlowEvent {
	t.Helper()
	select {
	case ev := <-o.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flow event")
		return models.FlowEvent{}
	}
}

func (o *recordingObserver) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-o.events:
		t.Fatalf("unexpected flow event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

// advance fires n ticks and waits for the event each one produces.
func advance(t *testing.T, tk *manualTicker, obs *recordingObserver, n int) models.FlowEvent {
	t.Helper()
	var last models.FlowEvent
	for i := 0; i < n; i++ {
		select {
		case tk.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d was not consumed", i+1)
		}
		last = obs.next(t)
	}
	return last
}
