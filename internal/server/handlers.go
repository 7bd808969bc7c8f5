package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/internal/orders"
	"github.com/dexflow/dexflow/internal/queue"
	"github.com/dexflow/dexflow/pkg/models"
)

const defaultListLimit = 50

// handleCreateOrder admits a new swap order into the pipeline.
func (s *Server) handleCreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order request: " + err.Error()})
		return
	}

	order, err := s.svc.Submit(c.Request.Context(), req.TokenIn, req.TokenOut, req.Amount)
	if err != nil {
		if errors.Is(err, queue.ErrDuplicateOrder) {
			c.JSON(http.StatusConflict, gin.H{"error": "order already enqueued"})
			return
		}
		s.log.Error("failed to submit order", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit order"})
		return
	}

	c.JSON(http.StatusCreated, order)
}

// handleGetOrder returns the persisted snapshot of one order.
func (s *Server) handleGetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := s.svc.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		s.log.Error("failed to load order", zap.String("order_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	}

	c.JSON(http.StatusOK, order)
}

// handleListOrders returns recent orders, newest first.
func (s *Server) handleListOrders(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	list, err := s.svc.List(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("failed to list orders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// handleOrderStream subscribes the connection to an order's status stream.
func (s *Server) handleOrderStream(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	// joining an unknown order is allowed: the subscriber may connect before
	// the order is admitted, and the persisted record remains the source of
	// truth either way
	s.hub.ServeWS(c.Writer, c.Request, id.String())
}
