package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pbn-studio/engine/internal/app"
	"github.com/pbn-studio/engine/internal/queue"
	"github.com/pbn-studio/engine/internal/queue/tasks"
	"github.com/pbn-studio/engine/internal/realtime"
	"github.com/pbn-studio/engine/internal/repository"
	"github.com/pbn-studio/engine/internal/services"
	"github.com/pbn-studio/engine/pkg/config"
	"github.com/pbn-studio/engine/pkg/database"
	"github.com/pbn-studio/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := app.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	rdb, err := database.OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	store, err := repository.OpenStore(ctx, cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer func() { _ = store.Close(context.Background()) }()

	if err := os.MkdirAll(cfg.SitesDir, 0o755); err != nil {
		log.Fatal("failed to create sites dir", zap.Error(err))
	}

	integrations, err := app.NewIntegrations(cfg)
	if err != nil {
		log.Fatal("failed to build integrations", zap.Error(err))
	}

	client := asynq.NewClient(app.RedisOpt(cfg))
	defer client.Close()
	inspector := asynq.NewInspector(app.RedisOpt(cfg))
	defer inspector.Close()
	scheduler := services.NewAsynqScheduler(client, inspector, cfg.PipelineTimeout)

	notify := services.NewNotifier(store.Projects, realtime.NewRedisBroker(rdb, cfg.EventsChannel), integrations.LLM.Model())
	runner := services.NewRunner(
		store.Projects,
		integrations.Pipeline(cfg),
		integrations.Cleaner(cfg),
		scheduler,
		// a lock outliving the task timeout would block the next tick
		services.NewRedisRunLock(rdb, cfg.PipelineTimeout+time.Minute),
		notify,
	)

	srv := asynq.NewServer(
		app.RedisOpt(cfg),
		asynq.Config{
			Concurrency:     cfg.AsynqConcurrency,
			Queues:          map[string]int{queue.DefaultQueue: 1},
			Logger:          log.Sugar(),
			ShutdownTimeout: cfg.ShutdownTimeout,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				log.Warn("task failed", zap.String("type", task.Type()), zap.String("task_id", id), zap.Error(err))
			}),
		},
	)

	mux := asynq.NewServeMux()
	tasks.NewSiteTickHandler(runner).Register(mux)

	reconciler := services.NewReconciler(store.Projects, scheduler, cfg.ReconcileGrace)
	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := reconciler.Sweep(ctx); err != nil {
			log.Warn("reconcile sweep failed", zap.Error(err))
		}
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.ReconcileSchedule, sweep); err != nil {
		log.Fatal("invalid reconcile schedule", zap.String("schedule", cfg.ReconcileSchedule), zap.Error(err))
	}
	// ticks that came due while no worker was running
	go sweep()
	c.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency), zap.String("reconcile", cfg.ReconcileSchedule))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("worker stopped with error", zap.Error(err))
	}

	<-c.Stop().Done()
	// Allow in-flight tasks to finish gracefully
	srv.Shutdown()
}
