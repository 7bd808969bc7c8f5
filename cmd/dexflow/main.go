// Command dexflow runs the swap-order router: HTTP ingress, WebSocket status
// streaming and the queue worker in one process.
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

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/internal/config"
	"github.com/dexflow/dexflow/internal/orders"
	"github.com/dexflow/dexflow/internal/queue"
	"github.com/dexflow/dexflow/internal/routing"
	"github.com/dexflow/dexflow/internal/server"
	"github.com/dexflow/dexflow/internal/worker"
	"github.com/dexflow/dexflow/internal/ws"
	"github.com/dexflow/dexflow/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dexflow: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("DEXFLOW_CONFIG"))
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := orders.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	store, err := orders.NewStore(db)
	if err != nil {
		return err
	}

	if err := pingRedis(cfg.Redis); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	hub := ws.NewHub(log)

	queueClient := queue.NewClient(log, redisOpt, cfg.Queue.MaxRetry)
	defer queueClient.Close()

	svc := orders.NewService(log, store, queueClient)
	engine := routing.NewEngine(log, routing.NewSource())
	processor := worker.NewProcessor(log, store, engine, hub)

	workerSrv := queue.NewServer(log, redisOpt, cfg.Queue.Concurrency, cfg.Queue.BackoffBase)
	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeOrderProcess, processor)
	if err := workerSrv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.NewServer(log, svc, hub).Router(),
	}
	go func() {
		log.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	workerSrv.Shutdown()
	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}

func pingRedis(cfg config.RedisConfig) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
