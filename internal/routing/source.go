package routing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Source supplies the randomness and simulated latency the engine depends on.
// Production uses real jitter and sleeps; tests inject a deterministic,
// instant source.
type Source interface {
	// Float64 returns a uniform random value in [0, 1).
	Float64() float64
	// Sleep blocks for d or until ctx is cancelled.
	Sleep(ctx context.Context, d time.Duration)
}

type realSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a Source seeded from the wall clock.
func NewSource() Source {
	return &realSource{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *realSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *realSource) Sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
