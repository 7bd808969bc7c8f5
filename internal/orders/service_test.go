package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/pkg/models"
)

type fakeQueue struct {
	enqueued []*models.Order
	err      error
}

func (q *fakeQueue) EnqueueOrder(_ context.Context, o *models.Order) error {
	if q.err != nil {
		return q.err
	}
	q.enqueued = append(q.enqueued, o)
	return nil
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	store := newTestStore(t)
	q := &fakeQueue{}
	svc := NewService(zap.NewNop(), store, q)

	order, err := svc.Submit(context.Background(), "SOL", "USDC", 1.5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)

	require.Len(t, q.enqueued, 1)
	assert.Equal(t, order.ID, q.enqueued[0].ID)

	got, err := svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestSubmitRejectsSamePair(t *testing.T) {
	svc := NewService(zap.NewNop(), newTestStore(t), &fakeQueue{})
	_, err := svc.Submit(context.Background(), "SOL", "SOL", 1)
	assert.Error(t, err)
}

func TestSubmitRejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(zap.NewNop(), newTestStore(t), &fakeQueue{})
	_, err := svc.Submit(context.Background(), "SOL", "USDC", 0)
	assert.Error(t, err)
}

func TestSubmitPropagatesQueueFailure(t *testing.T) {
	queueErr := errors.New("redis down")
	svc := NewService(zap.NewNop(), newTestStore(t), &fakeQueue{err: queueErr})

	_, err := svc.Submit(context.Background(), "SOL", "USDC", 1.5)
	assert.ErrorIs(t, err, queueErr)
}
