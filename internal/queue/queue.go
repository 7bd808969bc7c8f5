// Package queue is the glue between the order pipeline and its asynq-backed
// job queue: task payload codec, order-id dedup, retry backoff and worker
// server construction.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/pkg/models"
)

// TypeOrderProcess is the task type for one order-processing job.
const TypeOrderProcess = "order:process"

// ErrDuplicateOrder is returned when a job for the same order id is already
// queued or running. The order id doubles as the task id, so the queue
// enforces one job per order.
var ErrDuplicateOrder = errors.New("order already enqueued")

// OrderPayload is the job body delivered to the worker.
type OrderPayload struct {
	OrderID  string  `json:"order_id"`
	TokenIn  string  `json:"token_in"`
	TokenOut string  `json:"token_out"`
	Amount   float64 `json:"amount"`
}

// NewOrderTask serializes an order into its processing task.
func NewOrderTask(order *models.Order) (*asynq.Task, error) {
	payload, err := json.Marshal(OrderPayload{
		OrderID:  order.ID.String(),
		TokenIn:  order.TokenIn,
		TokenOut: order.TokenOut,
		Amount:   order.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order payload: %w", err)
	}
	return asynq.NewTask(TypeOrderProcess, payload), nil
}

// Client enqueues order-processing jobs.
type Client struct {
	log      *zap.Logger
	inner    *asynq.Client
	maxRetry int
}

// NewClient creates a queue client. maxRetry is the retry ceiling applied to
// every order job.
func NewClient(log *zap.Logger, redis asynq.RedisConnOpt, maxRetry int) *Client {
	return &Client{log: log, inner: asynq.NewClient(redis), maxRetry: maxRetry}
}

// EnqueueOrder schedules processing for the order. The task id equals the
// order id; enqueueing the same order twice returns ErrDuplicateOrder.
func (c *Client) EnqueueOrder(ctx context.Context, order *models.Order) error {
	task, err := NewOrderTask(order)
	if err != nil {
		return err
	}

	info, err := c.inner.EnqueueContext(ctx, task,
		asynq.TaskID(order.ID.String()),
		asynq.MaxRetry(c.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue order %s: %w", order.ID, err)
	}

	c.log.Debug("order job enqueued",
		zap.String("order_id", order.ID.String()),
		zap.String("queue", info.Queue))
	return nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.inner.Close()
}

// RetryDelay returns the queue's exponential backoff: base, 3x base, 9x base
// for the first, second and third retry.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		d := base
		for i := 1; i < n; i++ {
			d *= 3
		}
		return d
	}
}

// NewServer builds the worker server: bounded concurrency, exponential retry
// backoff, failures logged through zap.
func NewServer(log *zap.Logger, redis asynq.RedisConnOpt, concurrency int, backoffBase time.Duration) *asynq.Server {
	return asynq.NewServer(redis, asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: RetryDelay(backoffBase),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Warn("order job attempt failed",
				zap.String("type", task.Type()),
				zap.Int("retried", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err))
		}),
	})
}
