package pricing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnknownAsset is returned when no price is known for an asset symbol.
var ErrUnknownAsset = errors.New("unknown asset")

// Source provides USD prices for tradable assets.
type Source interface {
	// Price returns the USD price for one unit of the asset.
	Price(asset string) (decimal.Decimal, error)
}

// Compile-time check: *Static must satisfy Source.
var _ Source = (*Static)(nil)

// Static serves prices from an in-memory table. Prices are seeded from the
// registry and can be moved at runtime, which is what the revaluation loop
// and tests need.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStatic(seed map[string]decimal.Decimal) *Static {
	prices := make(map[string]decimal.Decimal, len(seed))
	for asset, price := range seed {
		prices[asset] = price
	}
	return &Static{prices: prices}
}

func (s *Static) Price(asset string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok := s.prices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return price, nil
}

// SetPrice replaces the price for an asset.
func (s *Static) SetPrice(asset string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = price
}

// Snapshot returns a copy of the full price table, for bulk revaluation.
func (s *Static) Snapshot() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(s.prices))
	for asset, price := range s.prices {
		out[asset] = price
	}
	return out
}
