// Package routing simulates venue quoting, route selection and swap
// execution for a token pair.
package routing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dexflow/dexflow/pkg/models"
)

// Venue fee schedule. Meteora undercuts Raydium on fees but quotes with a
// wider downside variance.
const (
	raydiumFee = 0.003
	meteoraFee = 0.002
)

// nativeToken is the network's native asset; pairs touching it get a deeper
// Raydium liquidity range.
const nativeToken = "SOL"

// largeOrderThreshold is the amount above which liquidity may override a
// marginal price advantage.
const largeOrderThreshold = 100.0

// similarPriceBand is the relative effective-price gap under which two quotes
// count as similar.
const similarPriceBand = 0.01

// Quote latency and execution latency bounds.
const (
	quoteLatencyMin = 150 * time.Millisecond
	quoteLatencyMax = 250 * time.Millisecond
	execLatencyMin  = 2000 * time.Millisecond
	execLatencyMax  = 3000 * time.Millisecond
)

// swapSuccessRate models network/venue failure on execution.
const swapSuccessRate = 0.95

// defaultReferencePrices anchor the simulated exchange rates. Unknown tokens
// default to 1.0.
var defaultReferencePrices = map[string]float64{
	"SOL":  150.0,
	"USDC": 1.0,
	"USDT": 1.0,
	"RAY":  2.5,
	"BONK": 0.000025,
	"JUP":  0.9,
}

// Engine produces per-venue quotes, picks a venue and simulates swap
// execution. Stateless apart from its injected Source; safe for concurrent
// use.
type Engine struct {
	log       *zap.Logger
	src       Source
	refPrices map[string]float64
}

// NewEngine creates an Engine with the default reference price table.
func NewEngine(log *zap.Logger, src Source) *Engine {
	return &Engine{log: log, src: src, refPrices: defaultReferencePrices}
}

func (e *Engine) refPrice(token string) float64 {
	if p, ok := e.refPrices[token]; ok {
		return p
	}
	return 1.0
}

// uniform returns a random value in [lo, hi).
func (e *Engine) uniform(lo, hi float64) float64 {
	return lo + e.src.Float64()*(hi-lo)
}

func (e *Engine) sleepUniform(ctx context.Context, lo, hi time.Duration) {
	d := lo + time.Duration(e.src.Float64()*float64(hi-lo))
	e.src.Sleep(ctx, d)
}

// Quote fetches a simulated quote from one venue. Each call pays the venue's
// simulated round-trip latency.
func (e *Engine) Quote(ctx context.Context, venue, tokenIn, tokenOut string, amount float64) (models.Quote, error) {
	e.sleepUniform(ctx, quoteLatencyMin, quoteLatencyMax)

	baseRate := e.refPrice(tokenIn) / e.refPrice(tokenOut)

	switch venue {
	case models.VenueRaydium:
		var liq float64
		if tokenIn == nativeToken || tokenOut == nativeToken {
			liq = e.uniform(0.85, 0.95)
		} else {
			liq = e.uniform(0.70, 0.85)
		}
		return models.Quote{
			Venue:     models.VenueRaydium,
			Price:     baseRate * e.uniform(0.98, 1.02),
			Fee:       raydiumFee,
			Liquidity: liq,
		}, nil
	case models.VenueMeteora:
		return models.Quote{
			Venue:     models.VenueMeteora,
			Price:     baseRate * e.uniform(0.97, 1.02),
			Fee:       meteoraFee,
			Liquidity: e.uniform(0.65, 0.85),
		}, nil
	default:
		return models.Quote{}, fmt.Errorf("unknown venue %q", venue)
	}
}

// Route quotes both venues in parallel and selects one. Routing latency is
// bounded by the slower quote, not the sum.
func (e *Engine) Route(ctx context.Context, tokenIn, tokenOut string, amount float64) (*models.RoutingResult, error) {
	type quoteOut struct {
		quote models.Quote
		err   error
	}
	rayCh := make(chan quoteOut, 1)
	metCh := make(chan quoteOut, 1)

	go func() {
		q, err := e.Quote(ctx, models.VenueRaydium, tokenIn, tokenOut, amount)
		rayCh <- quoteOut{q, err}
	}()
	go func() {
		q, err := e.Quote(ctx, models.VenueMeteora, tokenIn, tokenOut, amount)
		metCh <- quoteOut{q, err}
	}()

	ray, met := <-rayCh, <-metCh
	if ray.err != nil {
		return nil, fmt.Errorf("raydium quote failed: %w", ray.err)
	}
	if met.err != nil {
		return nil, fmt.Errorf("meteora quote failed: %w", met.err)
	}

	result := e.selectVenue(ray.quote, met.quote, amount)
	e.log.Debug("route selected",
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.Float64("amount", amount),
		zap.String("venue", result.Venue),
		zap.String("reason", result.Reason))
	return result, nil
}

// selectVenue applies the routing rule: best effective price, except that a
// large order routes to the deeper venue when the prices are within the
// similarity band and that venue's liquidity score clears 0.8.
func (e *Engine) selectVenue(ray, met models.Quote, amount float64) *models.RoutingResult {
	result := &models.RoutingResult{Raydium: ray, Meteora: met}

	effRay := ray.EffectivePrice()
	effMet := met.EffectivePrice()
	larger := math.Max(effRay, effMet)
	similar := math.Abs(effRay-effMet) < similarPriceBand*larger

	if amount > largeOrderThreshold && similar {
		switch {
		case ray.Liquidity > 0.8 && ray.Liquidity > met.Liquidity:
			result.Venue = models.VenueRaydium
			result.Reason = fmt.Sprintf(
				"raydium has deeper liquidity (%.3f vs %.3f) at a similar effective price (%.6f vs %.6f)",
				ray.Liquidity, met.Liquidity, effRay, effMet)
			return result
		case met.Liquidity > 0.8 && met.Liquidity > ray.Liquidity:
			result.Venue = models.VenueMeteora
			result.Reason = fmt.Sprintf(
				"meteora has deeper liquidity (%.3f vs %.3f) at a similar effective price (%.6f vs %.6f)",
				met.Liquidity, ray.Liquidity, effMet, effRay)
			return result
		}
	}

	// >= breaks ties toward the primary venue.
	if effRay >= effMet {
		result.Venue = models.VenueRaydium
		result.Reason = fmt.Sprintf("raydium offers the best effective price (%.6f vs %.6f)", effRay, effMet)
	} else {
		result.Venue = models.VenueMeteora
		result.Reason = fmt.Sprintf("meteora offers the best effective price (%.6f vs %.6f)", effMet, effRay)
	}
	return result
}

// Execute simulates the swap on the selected venue. Failure is part of the
// result, not an error: callers must check Success.
func (e *Engine) Execute(ctx context.Context, tokenIn, tokenOut string, amount float64, venue string, quotedPrice float64) (*models.SwapResult, error) {
	e.sleepUniform(ctx, execLatencyMin, execLatencyMax)

	if e.src.Float64() >= swapSuccessRate {
		e.log.Warn("simulated swap failed",
			zap.String("venue", venue),
			zap.String("token_in", tokenIn),
			zap.String("token_out", tokenOut))
		return &models.SwapResult{Success: false, Venue: venue}, nil
	}

	slippage := e.uniform(-0.005, 0.002)
	return &models.SwapResult{
		Success:       true,
		TxHash:        NewTxHash(),
		ExecutedPrice: quotedPrice * (1 + slippage),
		Venue:         venue,
		Slippage:      slippage,
	}, nil
}

// NewTxHash returns a fresh opaque transaction reference, unique per call.
func NewTxHash() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b)
}
