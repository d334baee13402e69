// Package backendtest runs an in-memory ordering backend for handler and
// end-to-end tests.
package backendtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yeremiapane/qr-table-ordering/models"
)

// Server answers the REST routes the services call.
type Server struct {
	URL string

	mu          sync.Mutex
	tokens      map[string]*models.QRToken
	sessions    map[string]*models.CartSession
	orders      map[string]*models.Order
	orderSeq    []string
	restaurants map[string]string
	printed     []PrintJob
	nextOrder   int

	printStatus  map[string]int
	cancelStatus int
}

// PrintJob is a ticket the cloud accepted.
type PrintJob struct {
	PrinterIP string              `json:"printerIp"`
	Station   string              `json:"station"`
	Receipt   models.PrintPayload `json:"receipt"`
}

// New starts a backend that knows one restaurant, "R" at subdomain "kebapci".
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		tokens:      make(map[string]*models.QRToken),
		sessions:    make(map[string]*models.CartSession),
		orders:      make(map[string]*models.Order),
		restaurants: map[string]string{"kebapci": "R"},
		printStatus: make(map[string]int),
	}

	r := gin.New()
	r.POST("/qr/generate", s.generate)
	r.GET("/qr/verify/:token", s.verify)
	r.DELETE("/qr/deactivate/:token", s.deactivate)
	r.POST("/qr/refresh/:token", s.refresh)
	r.GET("/qr/restaurant/:id/tables", s.tables)
	r.POST("/sessions/join", s.join)
	r.GET("/sessions/:key", s.getSession)
	r.PUT("/sessions/:key/cart", s.pushCart)
	r.DELETE("/sessions/:key/leave", s.leave)
	r.POST("/sessions/:key/order-complete", s.orderComplete)
	r.POST("/orders", s.createOrder)
	r.PUT("/orders/:id", s.updateOrder)
	r.GET("/orders", s.listOrders)
	r.GET("/restaurants/subdomain/:sub", s.restaurant)
	r.POST("/printers/print", s.print)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	s.URL = srv.URL
	return s
}

// Order returns a copy of a stored order.
func (s *Server) Order(id string) (models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

// Session returns a copy of a stored cart session.
func (s *Server) Session(key string) (models.CartSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[key]
	if !ok {
		return models.CartSession{}, false
	}
	out := *cs
	out.Items = models.CopyItems(cs.Items)
	return out, true
}

func (s *Server) Printed() []PrintJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PrintJob(nil), s.printed...)
}

// SetCancelStatus makes cancellations fail with status (0 restores success).
func (s *Server) SetCancelStatus(status int) {
	s.mu.Lock()
	s.cancelStatus = status
	s.mu.Unlock()
}

// SetPrintStatus makes cloud prints to ip fail with status.
func (s *Server) SetPrintStatus(ip string, status int) {
	s.mu.Lock()
	s.printStatus[ip] = status
	s.mu.Unlock()
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "message": msg})
}

func (s *Server) generate(c *gin.Context) {
	var req struct {
		RestaurantID string `json:"restaurantId"`
		TableNumber  int    `json:"tableNumber"`
		Duration     int    `json:"duration"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RestaurantID == "" {
		fail(c, http.StatusBadRequest, "restaurantId is required")
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
	s.mu.Lock()
	s.tokens[tok.Token] = tok
	s.mu.Unlock()
	ok(c, tok)
}

func (s *Server) verify(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, found := s.tokens[c.Param("token")]
	if !found {
		fail(c, http.StatusNotFound, "token not found")
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) deactivate(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, found := s.tokens[c.Param("token")]
	if !found {
		fail(c, http.StatusNotFound, "token not found")
		return
	}
	if tok.Status == models.TokenStatusCompleted {
		fail(c, http.StatusBadRequest, "token already completed")
		return
	}
	tok.Status = models.TokenStatusCompleted
	tok.IsActive = false
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "deactivated"})
}

func (s *Server) refresh(c *gin.Context) {
	var req struct {
		Duration int `json:"duration"`
	}
	_ = c.ShouldBindJSON(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, found := s.tokens[c.Param("token")]
	if !found {
		fail(c, http.StatusNotFound, "token not found")
		return
	}
	if tok.Status != models.TokenStatusActive {
		fail(c, http.StatusGone, "token is "+string(tok.Status))
		return
	}
	expires := time.Now().Add(time.Duration(req.Duration) * time.Hour)
	tok.ExpiresAt = &expires
	ok(c, tok)
}

func (s *Server) tables(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.TableQR{}
	for _, tok := range s.tokens {
		if tok.RestaurantID == c.Param("id") {
			out = append(out, models.TableQR{TableNumber: tok.TableNumber, Token: tok.Token, Status: string(tok.Status), IsActive: tok.IsActive})
		}
	}
	ok(c, out)
}

func (s *Server) join(c *gin.Context) {
	var req struct {
		SessionKey   string `json:"sessionKey"`
		RestaurantID string `json:"restaurantId"`
		TableNumber  int    `json:"tableNumber"`
		ClientID     string `json:"clientId"`
	}
	_ = c.ShouldBindJSON(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, found := s.sessions[req.SessionKey]
	if !found {
		cs = &models.CartSession{SessionKey: req.SessionKey, RestaurantID: req.RestaurantID, TableNumber: req.TableNumber, Items: []models.CartItem{}}
		s.sessions[req.SessionKey] = cs
	}
	cs.Clients = append(cs.Clients, req.ClientID)
	ok(c, cs)
}

func (s *Server) getSession(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, found := s.sessions[c.Param("key")]
	if !found {
		fail(c, http.StatusNotFound, "session not found")
		return
	}
	ok(c, cs)
}

func (s *Server) pushCart(c *gin.Context) {
	var req struct {
		Items []models.CartItem `json:"items"`
	}
	_ = c.ShouldBindJSON(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := c.Param("key")
	cs, found := s.sessions[key]
	if !found {
		cs = &models.CartSession{SessionKey: key}
		s.sessions[key] = cs
	}
	cs.Items = req.Items
	cs.Version++
	ok(c, cs)
}

func (s *Server) leave(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, found := s.sessions[c.Param("key")]
	if !found {
		fail(c, http.StatusNotFound, "session not found")
		return
	}
	client := c.Query("clientId")
	kept := cs.Clients[:0]
	for _, id := range cs.Clients {
		if id != client {
			kept = append(kept, id)
		}
	}
	cs.Clients = kept
	c.Status(http.StatusNoContent)
}

func (s *Server) orderComplete(c *gin.Context) {
	var req struct {
		OrderID string `json:"orderId"`
	}
	_ = c.ShouldBindJSON(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, found := s.sessions[c.Param("key")]; found {
		cs.CompletedOrderID = req.OrderID
	}
	ok(c, nil)
}

func (s *Server) createOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "bad order")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextOrder++
	total := decimal.Zero
	for _, l := range req.Items {
		total = total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	order := &models.Order{
		ID:           fmt.Sprintf("ord-%d", s.nextOrder),
		OrderNumber:  fmt.Sprintf("A%03d", s.nextOrder),
		RestaurantID: req.RestaurantID,
		TableNumber:  req.TableNumber,
		Items:        req.Items,
		TotalAmount:  total,
		Status:       models.OrderStatusPending,
		CreatedAt:    time.Now(),
	}
	s.orders[order.ID] = order
	s.orderSeq = append(s.orderSeq, order.ID)
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": order})
}

func (s *Server) updateOrder(c *gin.Context) {
	var req models.UpdateOrderRequest
	_ = c.ShouldBindJSON(&req)
	s.mu.Lock()
	defer s.mu.Unlock()
	order, found := s.orders[c.Param("id")]
	if !found {
		fail(c, http.StatusNotFound, "order not found")
		return
	}
	if req.Status != nil && *req.Status == models.OrderStatusCancelled && s.cancelStatus != 0 {
		fail(c, s.cancelStatus, "cancel failed")
		return
	}
	if req.Status != nil {
		order.Status = *req.Status
	}
	if req.Approved != nil {
		order.Approved = *req.Approved
	}
	ok(c, order)
}

func (s *Server) listOrders(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := models.OrderStatus(c.Query("status"))
	out := []models.Order{}
	for _, id := range s.orderSeq {
		if o := s.orders[id]; status == "" || o.Status == status {
			out = append(out, *o)
		}
	}
	ok(c, out)
}

func (s *Server) restaurant(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := c.Param("sub")
	id, found := s.restaurants[sub]
	if !found {
		fail(c, http.StatusNotFound, "restaurant not found")
		return
	}
	ok(c, gin.H{"id": id, "name": sub, "subdomain": sub})
}

func (s *Server) print(c *gin.Context) {
	var job PrintJob
	_ = c.ShouldBindJSON(&job)
	s.mu.Lock()
	defer s.mu.Unlock()
	if status := s.printStatus[job.PrinterIP]; status != 0 {
		fail(c, status, "printer "+job.PrinterIP+" is not reachable from the cloud")
		return
	}
	s.printed = append(s.printed, job)
	ok(c, gin.H{"delivered": true})
}
