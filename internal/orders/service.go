package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/pkg/models"
)

// Enqueuer admits an order into the job queue. One job per order id; a second
// enqueue for the same id must be rejected by the queue.
type Enqueuer interface {
	EnqueueOrder(ctx context.Context, order *models.Order) error
}

// Service is the ingress boundary: it records a new order and hands it to the
// queue. Reads pass through to the store.
type Service struct {
	log   *zap.Logger
	store *Store
	queue Enqueuer
}

// NewService wires the ingress service.
func NewService(log *zap.Logger, store *Store, queue Enqueuer) *Service {
	return &Service{log: log, store: store, queue: queue}
}

// Submit creates a pending order and enqueues its processing job. Validation
// of the request payload happens at the transport layer; invariants that
// must hold regardless of transport are re-checked here.
func (s *Service) Submit(ctx context.Context, tokenIn, tokenOut string, amount float64) (*models.Order, error) {
	if tokenIn == tokenOut {
		return nil, fmt.Errorf("token_in and token_out must differ")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	order, err := s.store.Create(ctx, tokenIn, tokenOut, amount)
	if err != nil {
		return nil, err
	}

	if err := s.queue.EnqueueOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to enqueue order %s: %w", order.ID, err)
	}

	s.log.Info("order accepted",
		zap.String("order_id", order.ID.String()),
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.Float64("amount", amount))
	return order, nil
}

// Get returns one order by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.store.Get(ctx, id)
}

// List returns the most recent orders.
func (s *Service) List(ctx context.Context, limit int) ([]models.Order, error) {
	return s.store.List(ctx, limit)
}
