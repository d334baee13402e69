package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"

	"github.com/yeremiapane/qr-table-ordering/cache"
	"github.com/yeremiapane/qr-table-ordering/config"
	"github.com/yeremiapane/qr-table-ordering/kds"
	"github.com/yeremiapane/qr-table-ordering/messaging"
	"github.com/yeremiapane/qr-table-ordering/models"
	"github.com/yeremiapane/qr-table-ordering/router"
	"github.com/yeremiapane/qr-table-ordering/services"
	"github.com/yeremiapane/qr-table-ordering/telemetry"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

type appOptions struct {
	MeterProvider  otelmetric.MeterProvider
	MetricsHandler http.Handler
	// NewTicker replaces the one-second countdown ticker.
	NewTicker services.TickerFactory
}

// app owns every long-lived component so shutdown can stop them in order.
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	engine  *gin.Engine
	hub     *kds.Hub
	flows   *services.FlowRegistry
	pollers *services.PollerGroup
	monitor *services.OrderMonitor

	producer *messaging.Producer
	redis    *cache.RedisStore
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	log := utils.InfoLogger.WithField("service", serviceName)
	utils.SetJWTSecret(cfg.JWTSecret)

	db, err := config.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, db: db}

	var store cache.Store = cache.NewMemoryStore()
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL, "qr")
		if err != nil {
			return nil, err
		}
		a.redis = rs
		store = rs
	}

	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	metrics, err := telemetry.NewMetrics(mp)
	if err != nil {
		return nil, err
	}

	api := services.NewAPIClient(services.APIClientConfig{
		BaseURL:          cfg.APIBaseURL,
		DefaultSubdomain: cfg.DefaultSubdomain,
		StaffToken:       cfg.BackendToken,
		Timeout:          cfg.Ordering.HTTPTimeout,
	}, log)

	ledger := services.NewTokenLedger(db)
	tokens := services.NewTokenService(api, services.TokenServiceOptions{
		Ledger:                 ledger,
		DefaultDurationHours:   cfg.Ordering.TokenDurationHours,
		RecheckAfterDeactivate: cfg.Ordering.DeactivateRecheck,
	}, log)
	resolver := services.NewRestaurantResolver(api, store, cfg.Ordering.RestaurantCacheTTL, log)

	a.hub = kds.NewHub(log)
	hubObserver := kds.NewHubObserver(a.hub)

	carts := services.NewSessionCartSync(api, tokens, cfg.SessionKeySecret(), log)
	carts.SetObserver(hubObserver)
	carts.SetConflictRecorder(metrics)

	observers := []services.FlowObserver{hubObserver, metrics}
	if brokers := splitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		a.producer = messaging.NewProducer(brokers, messaging.TopicOrderEvents)
		observers = append(observers, messaging.NewFlowPublisher(a.producer, log))
		log.WithField("brokers", brokers).Info("publishing order events to kafka")
	}

	a.flows = services.NewFlowRegistry(func(clientID, sessionKey string) *services.OrderFlow {
		cart := services.NewLocalCart()
		if sessionKey != "" {
			cart = services.NewLinkedCart(carts, sessionKey, clientID, log)
		}
		return services.NewOrderFlow(services.OrderFlowConfig{
			ClientID:           clientID,
			SessionKey:         sessionKey,
			Cart:               cart,
			Orders:             api,
			Tokens:             tokens,
			Resolver:           resolver,
			Notifier:           carts,
			GracePeriodSeconds: cfg.Ordering.GracePeriodSeconds,
			NewTicker:          opts.NewTicker,
			Observers:          observers,
			Log:                log.WithField("client_id", clientID),
		})
	})
	a.flows.StartSweeper(cfg.Ordering.FlowIdleTTL/4, cfg.Ordering.FlowIdleTTL, log)

	a.pollers = services.NewPollerGroup(carts, cfg.Ordering.TablePollInterval, func(s models.CartSession) {
		hubObserver.OnCartUpdated(context.Background(), s)
	}, log)

	bridge := services.NewPrinterBridgeClient(cfg.Ordering.BridgeTimeout, log)
	printer := services.NewPrintDispatcher(api, bridge, cfg.PrinterBridgeURL, db, log)
	printer.AddRecorder(hubObserver)
	printer.AddRecorder(metrics)
	admin := services.NewOrderAdmin(api, printer, cfg.Ordering.Stations, log)
	admin.HoldGracePeriod(a.flows)

	if cfg.DefaultSubdomain != "" {
		a.monitor = services.NewOrderMonitor(api, hubObserver, cfg.DefaultSubdomain, cfg.Ordering.StaffPollInterval, log)
		a.monitor.Held = a.flows
		a.monitor.Start(ctx)
	}

	a.engine = router.SetupRouter(&router.Services{
		Config:   cfg,
		API:      api,
		Tokens:   tokens,
		Ledger:   ledger,
		Carts:    carts,
		Resolver: resolver,
		Flows:    a.flows,
		Admin:    admin,
		Printer:  printer,
		Bridge:   bridge,
		Hub:      a.hub,
		Pollers:  a.pollers,
		Metrics:  opts.MetricsHandler,
		Log:      log,
	})
	return a, nil
}

// close stops countdowns first so no flow emits into a closed producer.
func (a *app) close() error {
	var errs []error
	if a.monitor != nil {
		a.monitor.Stop()
	}
	a.flows.Close()
	a.pollers.Close()
	a.hub.Close()
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if sqlDB, err := a.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}

func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.TableToken{}, &models.PrintLog{}); err != nil {
		return err
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
	return nil
}

func splitBrokers(v string) []string {
	var out []string
	for _, b := range strings.Split(v, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
