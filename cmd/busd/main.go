// Package main is the entry point for busd — a standalone bus process
// exposing the greeter example surface over NATS JetStream, wired with
// metrics observability and a small admin HTTP surface.
//
// @title        corebus busd
// @version      1.0
// @description  Standalone message bus server: serves rpcs, listens for events, reports its own registry over HTTP.
// @host         localhost:8080
// @BasePath     /
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/arc-self/corebus/bus"
	metricsplugin "github.com/arc-self/corebus/bus/plugin/metrics"
	natstransport "github.com/arc-self/corebus/bus/transport/nats"
	"github.com/arc-self/corebus/config"
	"github.com/arc-self/corebus/examples/greeter"
	"github.com/arc-self/corebus/middleware"
	"github.com/arc-self/corebus/natsclient"
	"github.com/arc-self/corebus/telemetry"
)

func main() {
	// ── Structured Logger ──────────────────────────────────────────────────
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// ── OpenTelemetry Tracer + Meter ───────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "busd", otelEndpoint)
		if err != nil {
			logger.Error("OTel tracer init failed", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
		}

		mp, err := telemetry.InitMeterProvider(context.Background(), "busd", otelEndpoint)
		if err != nil {
			logger.Error("OTel meter init failed", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// ── Vault Secret Loading ───────────────────────────────────────────────
	vaultAddr := envOr("VAULT_ADDR", "http://localhost:8200")
	vaultToken := envOr("VAULT_TOKEN", "root")
	secretPath := envOr("VAULT_SECRET_PATH", "secret/data/arc/busd")

	natsURL := envOr("NATS_URL", "nats://localhost:4222")
	adminAddr := envOr("BUSD_ADMIN_ADDR", ":8080")

	if vaultManager, err := config.NewSecretManager(vaultAddr, vaultToken); err == nil {
		if cfg, err := vaultManager.LoadBusConfig(secretPath); err == nil {
			if cfg.NatsURL != "" {
				natsURL = cfg.NatsURL
			}
			if cfg.AdminListenAddr != "" {
				adminAddr = cfg.AdminListenAddr
			}
		} else {
			logger.Warn("no busd secrets found, falling back to environment", zap.Error(err))
		}
	} else {
		logger.Warn("Vault connection failed, falling back to environment", zap.Error(err))
	}

	// ── NATS JetStream ─────────────────────────────────────────────────────
	natsClient, err := natsclient.NewClient(natsURL, logger)
	if err != nil {
		logger.Fatal("NATS connection failed", zap.Error(err))
	}
	defer natsClient.Close()

	if err := natsClient.ProvisionStreams(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}
	logger.Info("NATS JetStream ready")

	// ── Registry + Plugins ─────────────────────────────────────────────────
	registry := bus.NewRegistry()
	if _, err := greeter.New(registry); err != nil {
		logger.Fatal("failed to register greeter api", zap.Error(err))
	}

	var plugins []bus.Plugin
	if metricsPlugin, err := metricsplugin.New(otel.Meter("busd")); err != nil {
		logger.Warn("metrics plugin disabled", zap.Error(err))
	} else {
		plugins = append(plugins, metricsPlugin)
	}

	transport := natstransport.New(natsClient)
	client := bus.NewClient(registry, transport, transport, transport, logger, plugins...)

	// ── Serve + Listen ─────────────────────────────────────────────────────
	serveCtx, serveCancel := context.WithCancel(context.Background())
	defer serveCancel()

	go func() {
		if err := client.ServeRPCs(serveCtx, []string{greeter.Name}, nil); err != nil {
			logger.Info("serve rpcs stopped", zap.Error(err))
		}
	}()

	err = client.Listen(serveCtx, []bus.EventIdentifier{
		{ApiName: greeter.Name, EventName: greeter.EventGreeted},
	}, func(ctx context.Context, msg *bus.EventMessage) error {
		logger.Info("event received", zap.String("event", msg.CanonicalName()))
		return nil
	}, bus.Options{"durable": "busd-greeter-log"})
	if err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}

	// ── Heartbeat Cron ─────────────────────────────────────────────────────
	heartbeatSchedule := envOr("BUSD_HEARTBEAT_SCHEDULE", "@every 30s")
	heartbeats := cron.New()
	var tick atomic.Int64
	_, err = heartbeats.AddFunc(heartbeatSchedule, func() {
		n := tick.Add(1)
		if err := client.Fire(serveCtx, greeter.Name, greeter.EventHeartbeat, map[string]any{"tick": float64(n)}, nil); err != nil {
			logger.Warn("heartbeat fire failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("invalid heartbeat schedule", zap.String("schedule", heartbeatSchedule), zap.Error(err))
	}
	heartbeats.Start()
	defer heartbeats.Stop()

	// ── HTTP Admin Surface ─────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("busd"))
	e.Use(middleware.NullToEmptyArray())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(echomw.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/registry", func(c echo.Context) error {
		names := make([]string, 0)
		for _, api := range registry.Public() {
			names = append(names, api.Name())
		}
		return c.JSON(http.StatusOK, names)
	})

	go func() {
		logger.Info("busd admin surface listening", zap.String("addr", adminAddr))
		if err := e.Start(adminAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	serveCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("busd shut down cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
