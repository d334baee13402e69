package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/qr-table-ordering/config"
	"github.com/yeremiapane/qr-table-ordering/controllers"
	"github.com/yeremiapane/qr-table-ordering/kds"
	"github.com/yeremiapane/qr-table-ordering/middlewares"
	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

// Services is everything the HTTP layer needs. main builds it once.
type Services struct {
	Config   *config.Config
	API      *services.APIClient
	Tokens   *services.TokenService
	Ledger   *services.TokenLedger
	Carts    *services.SessionCartSync
	Resolver *services.RestaurantResolver
	Flows    *services.FlowRegistry
	Admin    *services.OrderAdmin
	Printer  *services.PrintDispatcher
	Bridge   *services.PrinterBridgeClient
	Hub      *kds.Hub
	Pollers  *services.PollerGroup

	// Metrics serves the Prometheus scrape endpoint when set.
	Metrics http.Handler
	Log     logrus.FieldLogger
}

func SetupRouter(s *Services) *gin.Engine {
	log := s.Log
	if log == nil {
		log = utils.InfoLogger
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddlewares(s.Config.AllowedOrigins))
	r.Use(middlewares.LoggerMiddleware(log))
	r.Use(middlewares.TenantMiddleware())

	// Inisialisasi controller
	tableCtrl := controllers.NewTableController(s.Tokens, s.Carts, s.Resolver, s.Flows)
	orderCtrl := controllers.NewOrderController(s.Flows)
	qrCtrl := controllers.NewQRController(s.Tokens, s.Ledger)
	staffCtrl := controllers.NewStaffOrderController(s.API, s.Admin, s.Printer, s.Bridge, s.Config.PrinterBridgeURL)
	if s.Flows != nil {
		staffCtrl.Held = s.Flows
	}
	kdsCtrl := controllers.NewKDSController(s.Hub, s.Pollers, s.Carts, s.Config.AllowedOrigins)

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics))
	}

	// -- TABLE (diner browsers, no login) --
	tableLimiter := middlewares.NewRateLimiter(20, 40)
	table := r.Group("/table")
	table.Use(tableLimiter.RateLimit())
	{
		table.GET("/verify/:token", tableCtrl.VerifyToken)

		table.POST("/sessions/join", tableCtrl.JoinSession)
		table.GET("/sessions/:key", tableCtrl.GetSession)
		table.PUT("/sessions/:key/cart", tableCtrl.UpdateCart)
		table.DELETE("/sessions/:key/leave", tableCtrl.LeaveSession)

		table.POST("/orders", orderCtrl.SubmitOrder)
		table.POST("/orders/cancel", orderCtrl.CancelOrder)
		table.POST("/orders/modify", orderCtrl.ModifyOrder)
		table.GET("/orders/pending", orderCtrl.PendingOrder)
	}

	// ----------------------------------------------------------------
	//                      STAFF ROUTES
	// ----------------------------------------------------------------
	staff := r.Group("/staff")
	staff.Use(middlewares.AuthMiddleware())

	qr := staff.Group("/qr")
	qr.Use(middlewares.RequireRoles(utils.RoleCashier, utils.RoleWaiter))
	{
		qrLimiter := middlewares.NewStrictRateLimiter(s.Config.Ordering.StrictQRRatePerHour)
		qr.POST("/generate", qrLimiter.RateLimit(), qrCtrl.GenerateToken)
		qr.DELETE("/:token", qrCtrl.DeactivateToken)
		qr.POST("/:token/renew", qrCtrl.RenewToken)
		qr.GET("/restaurant/:id/tables", qrCtrl.ListTables)
		qr.GET("/restaurant/:id/tables/:table/history", qrCtrl.TokenHistory)
	}

	staff.GET("/orders", middlewares.RequireRoles(utils.RoleCashier, utils.RoleKitchen, utils.RoleWaiter), staffCtrl.GetAllOrders)

	printing := staff.Group("/")
	printing.Use(middlewares.RequireRoles(utils.RoleCashier))
	printing.Use(middlewares.PrintAuditMiddleware(log))
	{
		printing.POST("/orders/:id/approve", staffCtrl.ApproveOrder)
		printing.POST("/print", staffCtrl.PrintTicket)
	}
	staff.GET("/orders/:id/prints", middlewares.RequireRoles(utils.RoleCashier, utils.RoleKitchen), staffCtrl.PrintLogs)
	staff.GET("/printers/:ip/status", middlewares.RequireRoles(utils.RoleCashier, utils.RoleKitchen), staffCtrl.PrinterStatus)

	// WebSocket endpoint dengan middleware khusus
	wsGroup := r.Group("/ws")
	wsGroup.Use(middlewares.WebSocketAuthMiddleware())
	{
		wsGroup.GET("/:role", kdsCtrl.Handle)
	}

	return r
}
