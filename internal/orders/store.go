// Package orders owns the persistent order record and the ingress service
// that admits new orders into the pipeline.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dexflow/dexflow/pkg/models"
)

// ErrNotFound is returned when no order exists for the given id.
var ErrNotFound = errors.New("order not found")

// OpenDB opens the order database. Supported drivers: "postgres", "sqlite".
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Store persists order snapshots. The processor performs one logical
// read-modify-write per transition; row-level atomicity comes from the
// database.
type Store struct {
	db *gorm.DB
}

// NewStore migrates the order schema and returns a Store.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.Order{}); err != nil {
		return nil, fmt.Errorf("failed to migrate order schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a new pending order and returns it.
func (s *Store) Create(ctx context.Context, tokenIn, tokenOut string, amount float64) (*models.Order, error) {
	now := time.Now().UTC()
	order := &models.Order{
		ID:        uuid.New(),
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		Amount:    amount,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

// Update applies the given column values to one order. The updated_at column
// is always refreshed.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	values := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values["updated_at"] = time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one order by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	return &order, nil
}

// List returns up to limit orders, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]models.Order, error) {
	var out []models.Order
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return out, nil
}
