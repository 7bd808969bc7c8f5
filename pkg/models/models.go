package models

import (
	"time"

	"github.com/google/uuid"
)

// Order statuses, in pipeline order. An order only moves forward; confirmed
// and failed are terminal.
const (
	StatusPending   = "pending"
	StatusRouting   = "routing"
	StatusBuilding  = "building"
	StatusSubmitted = "submitted"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Simulated liquidity venues.
const (
	VenueRaydium = "raydium"
	VenueMeteora = "meteora"
)

// Order represents a swap order in the system
type Order struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	TokenIn       string    `json:"token_in" gorm:"index" validate:"required"`
	TokenOut      string    `json:"token_out" validate:"required,nefield=TokenIn"`
	Amount        float64   `json:"amount" validate:"required,gt=0"`
	Status        string    `json:"status" validate:"required,oneof=pending routing building submitted confirmed failed"`
	Venue         *string   `json:"venue,omitempty"`
	TxHash        *string   `json:"tx_hash,omitempty"`
	ExecutedPrice *float64  `json:"executed_price,omitempty"`
	ErrorText     *string   `json:"error,omitempty" gorm:"column:error_text"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Terminal reports whether the order has reached a final status.
func (o *Order) Terminal() bool {
	return o.Status == StatusConfirmed || o.Status == StatusFailed
}

// Quote is a single venue's offer for a token pair. Quotes are produced fresh
// per routing request and never cached.
type Quote struct {
	Venue     string  `json:"venue"`
	Price     float64 `json:"price"`     // quote currency per unit of token-in
	Fee       float64 `json:"fee"`       // fraction in [0,1)
	Liquidity float64 `json:"liquidity"` // score in [0,1]
}

// EffectivePrice returns the quoted price after fee deduction, the primary
// routing criterion.
func (q Quote) EffectivePrice() float64 {
	return q.Price * (1 - q.Fee)
}

// RoutingResult carries both venue quotes, the selected venue and a
// human-readable justification naming the decisive factor.
type RoutingResult struct {
	Raydium Quote  `json:"raydium"`
	Meteora Quote  `json:"meteora"`
	Venue   string `json:"venue"`
	Reason  string `json:"reason"`
}

// Selected returns the quote of the selected venue.
func (r *RoutingResult) Selected() Quote {
	if r.Venue == VenueMeteora {
		return r.Meteora
	}
	return r.Raydium
}

// SwapResult is the outcome of a simulated swap execution. A failed swap is
// reported with Success=false, not an error.
type SwapResult struct {
	Success       bool    `json:"success"`
	TxHash        string  `json:"tx_hash,omitempty"`
	ExecutedPrice float64 `json:"executed_price,omitempty"`
	Venue         string  `json:"venue"`
	Slippage      float64 `json:"slippage"` // signed fraction vs quoted price
}

// StatusData is the optional status-specific payload attached to a
// StatusMessage.
type StatusData struct {
	Dex           string  `json:"dex,omitempty"`
	RaydiumPrice  float64 `json:"raydiumPrice,omitempty"`
	MeteoraPrice  float64 `json:"meteoraPrice,omitempty"`
	TxHash        string  `json:"txHash,omitempty"`
	ExecutedPrice float64 `json:"executedPrice,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// StatusMessage is the wire unit pushed to subscribers on every order status
// transition.
type StatusMessage struct {
	OrderID   string      `json:"orderId"`
	Status    string      `json:"status"`
	Data      *StatusData `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// CreateOrderRequest is the ingress payload for a new swap order. The token
// rule is registered on gin's binding validator by the server package.
type CreateOrderRequest struct {
	TokenIn  string  `json:"tokenIn" binding:"required,token"`
	TokenOut string  `json:"tokenOut" binding:"required,token,nefield=TokenIn"`
	Amount   float64 `json:"amount" binding:"required,gte=0.01"`
}
