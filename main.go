package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xiaot623/dinematch/internal/auth"
	"github.com/xiaot623/dinematch/internal/config"
	"github.com/xiaot623/dinematch/internal/hub"
	"github.com/xiaot623/dinematch/internal/ledger"
	"github.com/xiaot623/dinematch/internal/logging"
	"github.com/xiaot623/dinematch/internal/metrics"
	"github.com/xiaot623/dinematch/internal/policy"
	"github.com/xiaot623/dinematch/internal/repository"
	"github.com/xiaot623/dinematch/internal/service"
	"github.com/xiaot623/dinematch/internal/transport/http/internalapi"
	v1 "github.com/xiaot623/dinematch/internal/transport/http/v1"
	"github.com/xiaot623/dinematch/internal/ws"
)

func main() {
	// Load configuration
	cfg, cfgErr := config.Load()

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		logger.Warn("invalid environment, using defaults", zap.Error(cfgErr))
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	logger.Info("starting dinematch",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("ws_port", cfg.WSPort),
		zap.Int("internal_port", cfg.InternalPort),
		zap.String("tally_backend", cfg.TallyBackend))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize store
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.Error(err))
	}
	defer store.Close()

	// Initialize vote tally
	var ledgerOpts []ledger.Option
	if ledger.Kind(cfg.TallyBackend) == ledger.KindRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to reach redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		ledgerOpts = append(ledgerOpts, ledger.WithRedisClient(client), ledger.WithRedisTTL(cfg.RedisTTL))
	}
	tally, err := ledger.New(ledger.Kind(cfg.TallyBackend), ledgerOpts...)
	if err != nil {
		logger.Fatal("failed to initialize tally", zap.Error(err))
	}

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	authenticator, err := auth.NewAuthenticator(cfg.JWTSecret, "")
	if err != nil {
		logger.Fatal("failed to initialize authenticator", zap.Error(err))
	}

	collector := metrics.NewCollector("dinematch")

	// Initialize hub
	connectionHub := hub.NewHub(hub.WithLogger(logger), hub.WithMetrics(collector))
	go connectionHub.Run(ctx)

	// Initialize service
	svc := service.New(store, tally, policyEngine, cfg,
		service.WithLogger(logger),
		service.WithMetrics(collector),
		service.WithBroadcaster(connectionHub))

	// Public REST server
	apiServer := echo.New()
	apiServer.HideBanner = true
	apiServer.Use(middleware.Logger())
	apiServer.Use(middleware.Recover())
	apiServer.Use(middleware.CORS())
	v1.NewHandler(svc, authenticator, logger).RegisterRoutes(apiServer)

	// WebSocket server
	wsServer := echo.New()
	wsServer.HideBanner = true
	wsServer.HidePort = true
	wsServer.Use(middleware.Logger())
	wsServer.Use(middleware.Recover())
	ws.NewServer(cfg, connectionHub, svc, authenticator, logger).RegisterRoutes(wsServer)

	// Internal server
	internalServer := internalapi.NewServer(connectionHub, collector)

	start := func(name string, port int, run func(string) error) {
		addr := fmt.Sprintf(":%d", port)
		if err := run(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.String("server", name), zap.Error(err))
		}
	}
	go start("api", cfg.HTTPPort, apiServer.Start)
	go start("websocket", cfg.WSPort, wsServer.Start)
	go start("internal", cfg.InternalPort, internalServer.Start)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("websocket server shutdown", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown", zap.Error(err))
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("internal server shutdown", zap.Error(err))
	}
	stop()

	logger.Info("dinematch stopped")
}
