package routing

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dexflow/dexflow/pkg/models"
)

// constSource returns the same value on every draw and skips sleeps.
type constSource struct{ v float64 }

func (s constSource) Float64() float64                     { return s.v }
func (s constSource) Sleep(context.Context, time.Duration) {}

// scriptSource replays a fixed sequence of draws and skips sleeps.
type scriptSource struct {
	mu   sync.Mutex
	vals []float64
	i    int
}

func (s *scriptSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func (s *scriptSource) Sleep(context.Context, time.Duration) {}

// seededSource draws from a fixed-seed rng and skips sleeps.
type seededSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSeededSource(seed int64) *seededSource {
	return &seededSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *seededSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *seededSource) Sleep(context.Context, time.Duration) {}

func newTestEngine(src Source) *Engine {
	return NewEngine(zap.NewNop(), src)
}

func TestQuoteFeesAndRanges(t *testing.T) {
	e := newTestEngine(newSeededSource(42))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		ray, err := e.Quote(ctx, models.VenueRaydium, "SOL", "USDC", 1.5)
		require.NoError(t, err)
		met, err := e.Quote(ctx, models.VenueMeteora, "SOL", "USDC", 1.5)
		require.NoError(t, err)

		assert.Greater(t, ray.Price, 0.0)
		assert.Greater(t, met.Price, 0.0)
		assert.Equal(t, 0.003, ray.Fee)
		assert.Equal(t, 0.002, met.Fee)
		assert.Less(t, met.Fee, ray.Fee)
		assert.GreaterOrEqual(t, ray.Liquidity, 0.85)
		assert.LessOrEqual(t, ray.Liquidity, 0.95)
		assert.GreaterOrEqual(t, met.Liquidity, 0.65)
		assert.LessOrEqual(t, met.Liquidity, 0.85)
	}
}

func TestQuoteLiquidityDependsOnNativeSide(t *testing.T) {
	e := newTestEngine(newSeededSource(7))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		q, err := e.Quote(ctx, models.VenueRaydium, "RAY", "USDC", 10)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q.Liquidity, 0.70)
		assert.LessOrEqual(t, q.Liquidity, 0.85)
	}
}

func TestQuoteUnknownVenue(t *testing.T) {
	e := newTestEngine(constSource{0.5})
	_, err := e.Quote(context.Background(), "orca", "SOL", "USDC", 1)
	assert.Error(t, err)
}

func TestQuoteUnknownTokensDefaultToParity(t *testing.T) {
	e := newTestEngine(constSource{0.5})
	q, err := e.Quote(context.Background(), models.VenueMeteora, "FOO", "BAR", 1)
	require.NoError(t, err)
	// base rate 1.0, meteora multiplier at mid-range
	assert.InDelta(t, 0.995, q.Price, 1e-9)
}

func TestSelectVenueBestEffectivePrice(t *testing.T) {
	e := newTestEngine(constSource{0.5})

	ray := models.Quote{Venue: models.VenueRaydium, Price: 100, Fee: 0.003, Liquidity: 0.9}
	met := models.Quote{Venue: models.VenueMeteora, Price: 110, Fee: 0.002, Liquidity: 0.7}

	r := e.selectVenue(ray, met, 1)
	assert.Equal(t, models.VenueMeteora, r.Venue)
	assert.Contains(t, r.Reason, "best effective price")
}

func TestSelectVenueTieGoesToRaydium(t *testing.T) {
	e := newTestEngine(constSource{0.5})

	ray := models.Quote{Venue: models.VenueRaydium, Price: 100, Fee: 0, Liquidity: 0.7}
	met := models.Quote{Venue: models.VenueMeteora, Price: 100, Fee: 0, Liquidity: 0.7}

	r := e.selectVenue(ray, met, 500)
	assert.Equal(t, models.VenueRaydium, r.Venue)
}

func TestSelectVenueLiquidityOverrideForLargeOrders(t *testing.T) {
	e := newTestEngine(constSource{0.5})

	// meteora marginally better on price, raydium much deeper
	ray := models.Quote{Venue: models.VenueRaydium, Price: 100.0, Fee: 0.003, Liquidity: 0.92}
	met := models.Quote{Venue: models.VenueMeteora, Price: 100.2, Fee: 0.002, Liquidity: 0.70}

	r := e.selectVenue(ray, met, 500)
	assert.Equal(t, models.VenueRaydium, r.Venue)
	assert.Contains(t, r.Reason, "deeper liquidity")
}

func TestSelectVenueNoOverrideForSmallOrders(t *testing.T) {
	e := newTestEngine(constSource{0.5})

	ray := models.Quote{Venue: models.VenueRaydium, Price: 100.0, Fee: 0.003, Liquidity: 0.92}
	met := models.Quote{Venue: models.VenueMeteora, Price: 100.2, Fee: 0.002, Liquidity: 0.70}

	r := e.selectVenue(ray, met, 100) // at the threshold, not above it
	assert.Equal(t, models.VenueMeteora, r.Venue)
	assert.Contains(t, r.Reason, "best effective price")
}

func TestSelectVenueNeverMuchWorse(t *testing.T) {
	e := newTestEngine(constSource{0.5})
	rng := rand.New(rand.NewSource(99))

	for i := 0; i < 1000; i++ {
		ray := models.Quote{Venue: models.VenueRaydium, Price: 95 + rng.Float64()*10, Fee: 0.003, Liquidity: 0.70 + rng.Float64()*0.25}
		met := models.Quote{Venue: models.VenueMeteora, Price: 95 + rng.Float64()*10, Fee: 0.002, Liquidity: 0.65 + rng.Float64()*0.20}
		amount := rng.Float64() * 1000

		r := e.selectVenue(ray, met, amount)
		sel := r.Selected().EffectivePrice()
		other := ray.EffectivePrice()
		if r.Venue == models.VenueRaydium {
			other = met.EffectivePrice()
		}
		assert.GreaterOrEqual(t, sel, 0.99*other)
	}
}

func TestRouteReturnsBothQuotes(t *testing.T) {
	e := newTestEngine(constSource{0.5})

	r, err := e.Route(context.Background(), "SOL", "USDC", 1.5)
	require.NoError(t, err)
	assert.Equal(t, models.VenueRaydium, r.Raydium.Venue)
	assert.Equal(t, models.VenueMeteora, r.Meteora.Venue)
	assert.Greater(t, r.Raydium.Price, 0.0)
	assert.Greater(t, r.Meteora.Price, 0.0)
	assert.NotEmpty(t, r.Reason)
}

// Route must have both quote fetches outstanding before either completes.
func TestRouteQuotesConcurrently(t *testing.T) {
	src := &rendezvousSource{barrier: make(chan struct{}, 2), release: make(chan struct{})}
	e := newTestEngine(src)

	done := make(chan struct{})
	go func() {
		_, err := e.Route(context.Background(), "SOL", "USDC", 1.5)
		assert.NoError(t, err)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-src.barrier:
		case <-time.After(2 * time.Second):
			t.Fatal("quote fetches did not run in parallel")
		}
	}
	close(src.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("route did not complete")
	}
}

// rendezvousSource parks both quote goroutines in Sleep until released,
// proving they were outstanding at the same time. Route performs exactly one
// Sleep per quote fetch.
type rendezvousSource struct {
	barrier chan struct{}
	release chan struct{}
}

func (s *rendezvousSource) Float64() float64 { return 0.5 }

func (s *rendezvousSource) Sleep(ctx context.Context, d time.Duration) {
	s.barrier <- struct{}{}
	<-s.release
}

func TestExecuteSlippageBounds(t *testing.T) {
	e := newTestEngine(newSeededSource(1))
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		res, err := e.Execute(ctx, "SOL", "USDC", 1.5, models.VenueRaydium, 100)
		require.NoError(t, err)
		if !res.Success {
			continue
		}
		assert.GreaterOrEqual(t, res.ExecutedPrice, 99.0)
		assert.LessOrEqual(t, res.ExecutedPrice, 101.0)
		assert.GreaterOrEqual(t, res.Slippage, -0.005)
		assert.LessOrEqual(t, res.Slippage, 0.002)
		assert.NotEmpty(t, res.TxHash)
	}
}

func TestExecuteFailureIsResultNotError(t *testing.T) {
	// first draw feeds the latency jitter, second the success roll
	src := &scriptSource{vals: []float64{0.1, 0.99}}
	e := newTestEngine(src)

	res, err := e.Execute(context.Background(), "SOL", "USDC", 1.5, models.VenueMeteora, 100)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.TxHash)
	assert.Equal(t, models.VenueMeteora, res.Venue)
}

func TestExecuteAppliesSlippage(t *testing.T) {
	// latency draw, success roll, slippage draw at mid-range
	src := &scriptSource{vals: []float64{0.1, 0.5, 0.5}}
	e := newTestEngine(src)

	res, err := e.Execute(context.Background(), "SOL", "USDC", 1.5, models.VenueRaydium, 100)
	require.NoError(t, err)
	require.True(t, res.Success)
	// slippage = -0.005 + 0.5*0.007 = -0.0015
	assert.InDelta(t, 99.85, res.ExecutedPrice, 1e-9)
	assert.True(t, math.Signbit(res.Slippage))
}

func TestNewTxHashUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		h := NewTxHash()
		assert.Len(t, h, 64)
		_, dup := seen[h]
		assert.False(t, dup, "duplicate tx hash %s", h)
		seen[h] = struct{}{}
	}
}
