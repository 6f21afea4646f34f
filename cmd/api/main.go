package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/pbn-studio/engine/internal/api"
	"github.com/pbn-studio/engine/internal/api/handlers"
	"github.com/pbn-studio/engine/internal/app"
	"github.com/pbn-studio/engine/internal/realtime"
	"github.com/pbn-studio/engine/internal/repository"
	"github.com/pbn-studio/engine/internal/services"
	"github.com/pbn-studio/engine/pkg/config"
	"github.com/pbn-studio/engine/pkg/database"
	"github.com/pbn-studio/engine/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	// Initialize logger
	log, err := app.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting pbn engine api",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("ws_addr", cfg.WSAddr),
		zap.String("store", cfg.StoreDriver),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to connect to store", zap.Error(err))
	}
	defer func() { _ = store.Close(context.Background()) }()
	log.Info("store connected")

	rdb, err := database.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	queue := asynq.NewClient(app.RedisOpt(cfg))
	defer queue.Close()
	inspector := asynq.NewInspector(app.RedisOpt(cfg))
	defer inspector.Close()

	integrations, err := app.NewIntegrations(cfg)
	if err != nil {
		log.Fatal("failed to build integrations", zap.Error(err))
	}

	// Events from this process and from workers all go through redis; the relay
	// feeds the local hub that websocket clients subscribe to.
	hub := realtime.NewHub(64)
	broker := realtime.NewRedisBroker(rdb, cfg.EventsChannel)
	relayReady := make(chan struct{})
	go broker.Relay(ctx, hub, relayReady, 30*time.Second)
	select {
	case <-relayReady:
		log.Info("event relay subscribed", zap.String("channel", cfg.EventsChannel))
	case <-time.After(15 * time.Second):
		log.Fatal("event relay could not subscribe", zap.String("channel", cfg.EventsChannel))
	}

	secret := []byte(cfg.JWTSecret)
	authSvc := services.NewAuthService(store.Users, secret, cfg.JWTTTL)
	notify := services.NewNotifier(store.Projects, broker, integrations.LLM.Model())
	projectSvc := services.NewProjectService(
		store.Projects,
		integrations.Cleaner(cfg),
		services.NewAsynqScheduler(queue, inspector, cfg.PipelineTimeout),
		notify,
		cfg.SitesDir,
	)

	router := api.NewRouter(api.Dependencies{
		VerifyToken:     authSvc.VerifyToken,
		AuthHandler:     handlers.NewAuthHandler(authSvc, int64(cfg.JWTTTL/time.Second)),
		ProjectsHandler: handlers.NewProjectsHandler(projectSvc),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Check{
			"store": store.Ping,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
		CORSOrigins:    cfg.AllowedOrigins(),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// delete and run clean up remote artefacts inside the request
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}
	gateway := realtime.NewGateway(hub, authSvc.VerifyToken)

	errCh := make(chan error, 2)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		log.Info("websocket gateway starting", zap.String("addr", cfg.WSAddr))
		if err := gateway.Listen(cfg.WSAddr); err != nil {
			errCh <- err
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := gateway.Shutdown(shutdownCtx); err != nil {
		log.Error("gateway shutdown error", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
	stop()
}
