// Package simulate provides the injectable randomness and time primitives used by
// every simulated collaborator (connector, verification checks, health monitor).
package simulate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Source produces the random draws behind simulated outcomes.
// Implementations must be safe for concurrent use.
type Source interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64
	// IntN returns a value in [0, n). n must be > 0.
	IntN(n int) int
}

type randSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a Source seeded from the current time.
func NewSource() Source {
	now := uint64(time.Now().UnixNano())
	return &randSource{rng: rand.New(rand.NewPCG(now, now>>1))}
}

// NewSeededSource returns a reproducible Source.
func NewSeededSource(seed uint64) Source {
	return &randSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *randSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *randSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// FixedSource replays a fixed sequence of draws, cycling when exhausted.
// IntN maps the next draw onto [0, n).
type FixedSource struct {
	mu     sync.Mutex
	values []float64
	next   int
}

// Fixed returns a FixedSource over values. With no values every draw is 0.
func Fixed(values ...float64) *FixedSource {
	return &FixedSource{values: values}
}

func (f *FixedSource) Float64() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return 0
	}
	v := f.values[f.next%len(f.values)]
	f.next++
	return v
}

func (f *FixedSource) IntN(n int) int {
	v := int(f.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

// Draws reports how many values have been consumed.
func (f *FixedSource) Draws() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

// Between returns a duration uniformly drawn from [min, max].
func Between(src Source, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(src.Float64()*float64(max-min))
}

// Range returns a float uniformly drawn from [min, max).
func Range(src Source, min, max float64) float64 {
	return min + src.Float64()*(max-min)
}

// Wait suspends for d on clock, returning early with the context error on cancellation.
// A non-positive d only checks the context.
func Wait(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
