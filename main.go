package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/yeremiapane/qr-table-ordering/config"
	"github.com/yeremiapane/qr-table-ordering/telemetry"
	"github.com/yeremiapane/qr-table-ordering/utils"
)

const (
	serviceName    = "qr-table-ordering"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to load config: %v", err)
	}
	utils.InitLogger(cfg.LogLevel, cfg.LogFormat)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to init tracing: %v", err)
	}
	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to init metrics: %v", err)
	}

	a, err := newApp(ctx, cfg, appOptions{
		MeterProvider:  otel.GetMeterProvider(),
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to start: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(a.engine, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	<-ctx.Done()
	utils.InfoLogger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.ErrorLogger.WithError(err).Error("http server shutdown")
	}
	if err := a.close(); err != nil {
		utils.ErrorLogger.WithError(err).Error("closing components")
	}
	if err := shutdownMeter(shutdownCtx); err != nil {
		utils.ErrorLogger.WithError(err).Error("meter provider shutdown")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		utils.ErrorLogger.WithError(err).Error("tracer provider shutdown")
	}
}
