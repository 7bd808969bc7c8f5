// Package worker drives queued orders through the status state machine:
// pending, routing, building, submitted, then confirmed or failed.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/internal/queue"
	"github.com/dexflow/dexflow/pkg/models"
)

var (
	ordersConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexflow_orders_confirmed_total",
		Help: "Total number of orders that reached confirmed",
	})
	ordersFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexflow_orders_failed_total",
		Help: "Total number of orders that reached failed",
	})
	attemptsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dexflow_order_attempts_failed_total",
		Help: "Total number of failed processing attempts, including retried ones",
	})
)

// Store persists order snapshots on every transition.
type Store interface {
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
}

// Engine routes an order to a venue and executes the swap.
type Engine interface {
	Route(ctx context.Context, tokenIn, tokenOut string, amount float64) (*models.RoutingResult, error)
	Execute(ctx context.Context, tokenIn, tokenOut string, amount float64, venue string, quotedPrice float64) (*models.SwapResult, error)
}

// Notifier broadcasts a status message to the order's subscribers.
type Notifier interface {
	Broadcast(orderID string, msg models.StatusMessage)
}

// Processor consumes order jobs and runs the pipeline. It recovers nothing
// locally: every failure is re-raised to the queue, which owns the retry
// policy. The processor only decides what to report.
type Processor struct {
	log      *zap.Logger
	store    Store
	engine   Engine
	notifier Notifier
}

// NewProcessor wires the order processor.
func NewProcessor(log *zap.Logger, store Store, engine Engine, notifier Notifier) *Processor {
	return &Processor{log: log, store: store, engine: engine, notifier: notifier}
}

// ProcessTask is the asynq handler for order jobs.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job queue.OrderPayload
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		// a payload that cannot be decoded will never succeed
		return fmt.Errorf("failed to decode order payload: %v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return p.Process(ctx, job, retried >= maxRetry)
}

// Process runs one attempt for the order. When finalAttempt is set, an
// unrecoverable error is recorded and broadcast as failed before being
// re-raised; earlier attempts re-raise without reporting, so subscribers
// never see a failure that a retry might still resolve.
func (p *Processor) Process(ctx context.Context, job queue.OrderPayload, finalAttempt bool) error {
	id, err := uuid.Parse(job.OrderID)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %v: %w", job.OrderID, err, asynq.SkipRetry)
	}

	log := p.log.With(zap.String("order_id", job.OrderID))
	log.Info("processing order",
		zap.String("token_in", job.TokenIn),
		zap.String("token_out", job.TokenOut),
		zap.Float64("amount", job.Amount))

	if err := p.run(ctx, id, job, log); err != nil {
		attemptsFailed.Inc()
		if finalAttempt {
			log.Error("order failed permanently", zap.Error(err))
			ordersFailed.Inc()
			if terr := p.transition(ctx, id, models.StatusFailed,
				map[string]any{"error_text": err.Error()},
				&models.StatusData{Error: err.Error()},
				log); terr != nil {
				log.Error("failed to record terminal failure", zap.Error(terr))
			}
		} else {
			log.Warn("order attempt failed, leaving retry to the queue", zap.Error(err))
		}
		return err
	}

	ordersConfirmed.Inc()
	return nil
}

// run executes the five pipeline steps for one attempt. Every transition
// persists first and broadcasts second, so a late subscriber that queries
// the store sees a status at least as advanced as the stream delivered.
func (p *Processor) run(ctx context.Context, id uuid.UUID, job queue.OrderPayload, log *zap.Logger) error {
	// re-announcing pending is idempotent and covers re-delivery after a crash
	if err := p.transition(ctx, id, models.StatusPending, nil, nil, log); err != nil {
		return err
	}

	if err := p.transition(ctx, id, models.StatusRouting, nil, nil, log); err != nil {
		return err
	}

	route, err := p.engine.Route(ctx, job.TokenIn, job.TokenOut, job.Amount)
	if err != nil {
		return fmt.Errorf("routing failed: %w", err)
	}
	log.Info("venue selected", zap.String("venue", route.Venue), zap.String("reason", route.Reason))

	// second routing announcement, enriched with both quotes and the venue
	quotes := &models.StatusData{
		Dex:          route.Venue,
		RaydiumPrice: route.Raydium.Price,
		MeteoraPrice: route.Meteora.Price,
	}
	if err := p.transition(ctx, id, models.StatusRouting,
		map[string]any{"venue": route.Venue}, quotes, log); err != nil {
		return err
	}

	if err := p.transition(ctx, id, models.StatusBuilding, nil, quotes, log); err != nil {
		return err
	}

	if err := p.transition(ctx, id, models.StatusSubmitted, nil, quotes, log); err != nil {
		return err
	}

	swap, err := p.engine.Execute(ctx, job.TokenIn, job.TokenOut, job.Amount, route.Venue, route.Selected().Price)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	if !swap.Success {
		return fmt.Errorf("swap execution failed on %s", route.Venue)
	}

	return p.transition(ctx, id, models.StatusConfirmed,
		map[string]any{
			"tx_hash":        swap.TxHash,
			"executed_price": swap.ExecutedPrice,
		},
		&models.StatusData{
			Dex:           route.Venue,
			RaydiumPrice:  route.Raydium.Price,
			MeteoraPrice:  route.Meteora.Price,
			TxHash:        swap.TxHash,
			ExecutedPrice: swap.ExecutedPrice,
		},
		log)
}

// transition persists the new status plus any extra columns, then broadcasts
// the same fields. Store before broadcast, never the other way around.
func (p *Processor) transition(ctx context.Context, id uuid.UUID, status string, fields map[string]any, data *models.StatusData, log *zap.Logger) error {
	values := map[string]any{"status": status}
	for k, v := range fields {
		values[k] = v
	}
	if err := p.store.Update(ctx, id, values); err != nil {
		return fmt.Errorf("failed to persist %s transition: %w", status, err)
	}

	p.notifier.Broadcast(id.String(), models.StatusMessage{
		OrderID:   id.String(),
		Status:    status,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})

	log.Debug("status transition", zap.String("status", status))
	return nil
}
