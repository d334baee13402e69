package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/qr-table-ordering/config"
	"github.com/yeremiapane/qr-table-ordering/internal/backendtest"
	"github.com/yeremiapane/qr-table-ordering/kds"
	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/telemetry"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// manualClock is the countdown ticker of every flow in the test.
type manualClock struct{ ch chan time.Time }

func (m *manualClock) C() <-chan time.Time { return m.ch }
func (m *manualClock) Stop()               {}

type testApp struct {
	*app
	server  *httptest.Server
	backend *backendtest.Server
	clock   *manualClock
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	backend := backendtest.New(t)

	cfg := &config.Config{
		Port:             "0",
		GinMode:          "test",
		APIBaseURL:       backend.URL,
		PrinterBridgeURL: "http://127.0.0.1:1",
		DefaultSubdomain: "kebapci",
		JWTSecret:        "integration-secret",
		BackendToken:     "service-token",
		DBDriver:         "sqlite",
		DBDSN:            "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		AllowedOrigins:   []string{"*"},
		Ordering:         config.DefaultOrdering(),
	}
	require.NoError(t, cfg.Validate())

	mp, metricsHandler, err := telemetry.NewIsolatedMeterProvider(serviceName)
	require.NoError(t, err)

	clock := &manualClock{ch: make(chan time.Time)}
	a, err := newApp(context.Background(), cfg, appOptions{
		MeterProvider:  mp,
		MetricsHandler: metricsHandler,
		NewTicker:      func(time.Duration) services.Ticker { return clock },
	})
	require.NoError(t, err)

	srv := httptest.NewServer(a.engine)
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, a.close())
	})
	return &testApp{app: a, server: srv, backend: backend, clock: clock}
}

type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ta *testApp) call(t *testing.T, method, path, bearer string, body interface{}) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ta.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Subdomain", "kebapci")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (ta *testApp) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(ta.server.URL, "http") + path
}

func TestTableSocketRequiresJoinedClient(t *testing.T) {
	ta := setupApp(t)

	cashier, err := utils.GenerateToken(1, utils.RoleCashier, "R", time.Hour)
	require.NoError(t, err)
	code, resp := ta.call(t, http.MethodPost, "/staff/qr/generate", cashier, map[string]interface{}{"restaurantId": "R", "tableNumber": 4})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var token models.QRToken
	require.NoError(t, json.Unmarshal(resp.Data, &token))

	code, resp = ta.call(t, http.MethodPost, "/table/sessions/join", "", map[string]interface{}{"tableNumber": 4, "token": token.Token, "clientId": "phone-a"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var joined models.CartSession
	require.NoError(t, json.Unmarshal(resp.Data, &joined))

	_, res, err := websocket.DefaultDialer.Dial(ta.wsURL("/ws/table?session="+joined.SessionKey+"&clientId=stranger"), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	_, res, err = websocket.DefaultDialer.Dial(ta.wsURL("/ws/table?session="+joined.SessionKey), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	code, _ = ta.call(t, http.MethodPut, "/table/sessions/"+joined.SessionKey+"/cart", "", map[string]interface{}{"clientId": "stranger", "items": []models.CartItem{}})
	assert.Equal(t, http.StatusForbidden, code)

	conn, _, err := websocket.DefaultDialer.Dial(ta.wsURL("/ws/table?session="+joined.SessionKey+"&clientId=phone-a"), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestPingAndMetrics(t *testing.T) {
	ta := setupApp(t)

	resp, err := http.Get(ta.server.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp, err = http.Get(ta.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStaffRoutesRequireAuth(t *testing.T) {
	ta := setupApp(t)

	code, _ := ta.call(t, http.MethodGet, "/staff/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	kitchen, err := utils.GenerateToken(2, utils.RoleKitchen, "R", time.Hour)
	require.NoError(t, err)
	code, _ = ta.call(t, http.MethodPost, "/staff/qr/generate", kitchen, map[string]interface{}{"restaurantId": "R", "tableNumber": 1})
	assert.Equal(t, http.StatusForbidden, code, "kitchen staff cannot issue table tokens")

	code, _ = ta.call(t, http.MethodGet, "/staff/orders", kitchen, nil)
	assert.Equal(t, http.StatusOK, code)
}

// A table scans its QR code, two soups go into the shared cart, the order is
// submitted and the grace period runs out: the order commits, the table's
// websocket hears every step and the counters move.
func TestTableOrderCommitsEndToEnd(t *testing.T) {
	ta := setupApp(t)

	cashier, err := utils.GenerateToken(1, utils.RoleCashier, "R", time.Hour)
	require.NoError(t, err)
	code, resp := ta.call(t, http.MethodPost, "/staff/qr/generate", cashier, map[string]interface{}{"restaurantId": "R", "tableNumber": 3})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var token models.QRToken
	require.NoError(t, json.Unmarshal(resp.Data, &token))

	code, resp = ta.call(t, http.MethodPost, "/table/sessions/join", "", map[string]interface{}{"tableNumber": 3, "token": token.Token, "clientId": "phone-a"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var joined models.CartSession
	require.NoError(t, json.Unmarshal(resp.Data, &joined))
	key := joined.SessionKey
	require.NotEmpty(t, key)

	wsURL := ta.wsURL("/ws/table?session=" + key + "&clientId=phone-a")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return ta.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	events := make(chan kds.Message, 256)
	go func() {
		for {
			var msg kds.Message
			if err := conn.ReadJSON(&msg); err != nil {
				close(events)
				return
			}
			events <- msg
		}
	}()

	soup := models.CartItem{ItemID: "soup", Name: "Çorba", UnitPrice: decimal.NewFromInt(80), Quantity: 2}
	code, resp = ta.call(t, http.MethodPut, "/table/sessions/"+key+"/cart", "", map[string]interface{}{"clientId": "phone-a", "items": []models.CartItem{soup}})
	require.Equal(t, http.StatusOK, code, resp.Message)

	code, resp = ta.call(t, http.MethodPost, "/table/orders", "", map[string]interface{}{"clientId": "phone-a", "sessionKey": key, "tableNumber": 3, "token": token.Token})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	var pending models.PendingOrder
	require.NoError(t, json.Unmarshal(resp.Data, &pending))

	for i := 0; i < services.DefaultGracePeriodSeconds; i++ {
		ta.clock.ch <- time.Now()
	}

	assert.Eventually(t, func() bool {
		_, r := ta.call(t, http.MethodGet, "/table/orders/pending?clientId=phone-a", "", nil)
		var snap services.FlowSnapshot
		_ = json.Unmarshal(r.Data, &snap)
		return snap.State == models.FlowCommitted
	}, 2*time.Second, 50*time.Millisecond)

	seen := map[string]int{}
	timeout := time.After(2 * time.Second)
	for seen[kds.EventOrderCommitted] == 0 {
		select {
		case msg, ok := <-events:
			require.True(t, ok, "websocket closed early")
			seen[msg.Event]++
		case <-timeout:
			t.Fatalf("no commit event, saw %v", seen)
		}
	}
	assert.Equal(t, 1, seen[kds.EventOrderSubmitted])
	assert.Equal(t, services.DefaultGracePeriodSeconds-1, seen[kds.EventGraceTick])

	order, ok := ta.backend.Order(pending.OrderID)
	require.True(t, ok)
	assert.Equal(t, models.OrderStatusPending, order.Status, "committed orders wait for the cashier")
	assert.True(t, decimal.NewFromInt(160).Equal(order.TotalAmount))

	metrics, err := http.Get(ta.server.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(metrics.Body)
	metrics.Body.Close()
	assert.Contains(t, string(body), "qr_orders_transitions_total")
	assert.Contains(t, string(body), `event="committed"`)
}
