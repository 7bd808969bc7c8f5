// Package server exposes the ingress REST API and the realtime status
// stream.
package server

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/internal/ws"
	"github.com/dexflow/dexflow/pkg/models"
)

// tokenPattern matches the symbols accepted for a swap leg.
var tokenPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}$`)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("token", func(fl validator.FieldLevel) bool {
			return tokenPattern.MatchString(fl.Field().String())
		})
	}
}

// OrderService is the ingress boundary consumed by the HTTP layer.
type OrderService interface {
	Submit(ctx context.Context, tokenIn, tokenOut string, amount float64) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, limit int) ([]models.Order, error)
}

// Server is the HTTP server for order ingress, reads and the WebSocket
// status stream.
type Server struct {
	log *zap.Logger
	svc OrderService
	hub *ws.Hub
}

// NewServer creates the HTTP server.
func NewServer(log *zap.Logger, svc OrderService, hub *ws.Hub) *Server {
	return &Server{log: log, svc: svc, hub: hub}
}

// Router builds the gin engine with middleware and routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.log, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.log, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws/orders/:id", s.handleOrderStream)

	api := router.Group("/api")
	{
		api.POST("/orders", s.handleCreateOrder)
		api.GET("/orders", s.handleListOrders)
		api.GET("/orders/:id", s.handleGetOrder)
	}

	return router
}
