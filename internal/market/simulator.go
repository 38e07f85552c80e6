package market

import (
	"math/rand"
	"sync"

	"options-core/pkg/db"
)

// Simulator produces a bounded random walk per symbol, seeded from the
// catalog base price. Used for non-crypto asset classes and as the
// fallback when the live fetch fails.
type Simulator struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	prices map[string]float64
}

// NewSimulator creates a simulator. Pass a fixed source for deterministic tests.
func NewSimulator(src rand.Source) *Simulator {
	return &Simulator{
		rnd:    rand.New(src),
		prices: make(map[string]float64),
	}
}

// Step advances the walk for an asset and returns the new price plus a
// synthetic 24h change. Steps are bounded at 1% of the current price and
// the synthetic change stays within [-2%, +2%].
func (s *Simulator) Step(asset db.Asset) (price, change24h float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.prices[asset.Symbol]
	if !ok || current <= 0 {
		current = asset.BasePrice
	}

	step := (s.rnd.Float64()*2 - 1) * 0.01 * current
	next := current + step
	if next <= 0 {
		next = current
	}
	s.prices[asset.Symbol] = next

	change24h = s.rnd.Float64()*4 - 2
	return next, change24h
}

// Reset drops the walk state for a symbol so the next step restarts from
// the catalog base price.
func (s *Simulator) Reset(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, symbol)
}
