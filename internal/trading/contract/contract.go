// Package contract defines the tick grid a futures contract trades on and
// the mapping between prices and dense level indexes.
package contract

import (
	"fmt"
)

// MaxLevels caps the level count so level indexes always fit in an int
// and a misconfigured grid cannot exhaust memory.
const MaxLevels = 1 << 32

// Spec is the immutable grid definition for one contract. Legal prices are
// exactly {MinPrice + k*TickSize : 0 <= k < NumLevels()}.
type Spec struct {
	Symbol   string
	TickSize uint64
	MinPrice uint64
	MaxPrice uint64

	numLevels int
}

// New validates the grid and precomputes the level count.
func New(symbol string, tickSize, minPrice, maxPrice uint64) (*Spec, error) {
	if symbol == "" {
		return nil, fmt.Errorf("contract: empty symbol")
	}
	if tickSize == 0 {
		return nil, fmt.Errorf("contract %s: tick size must be positive", symbol)
	}
	if maxPrice < minPrice {
		return nil, fmt.Errorf("contract %s: max price %d below min price %d", symbol, maxPrice, minPrice)
	}
	levels := (maxPrice-minPrice)/tickSize + 1
	if levels > MaxLevels {
		return nil, fmt.Errorf("contract %s: grid spans %d levels, limit is %d", symbol, levels, MaxLevels)
	}
	return &Spec{
		Symbol:    symbol,
		TickSize:  tickSize,
		MinPrice:  minPrice,
		MaxPrice:  maxPrice,
		numLevels: int(levels),
	}, nil
}

// NumLevels reports how many price levels the grid holds.
func (s *Spec) NumLevels() int {
	return s.numLevels
}

// PriceToIndex maps a price onto its level index. The second return is
// false for prices outside [MinPrice, MaxPrice] or off the tick grid.
func (s *Spec) PriceToIndex(price uint64) (int, bool) {
	if price < s.MinPrice || price > s.MaxPrice {
		return 0, false
	}
	offset := price - s.MinPrice
	if offset%s.TickSize != 0 {
		return 0, false
	}
	return int(offset / s.TickSize), true
}

// IndexToPrice is the inverse of PriceToIndex over valid indexes.
func (s *Spec) IndexToPrice(idx int) uint64 {
	return s.MinPrice + uint64(idx)*s.TickSize
}

// ValidPrice reports whether price sits on the grid.
func (s *Spec) ValidPrice(price uint64) bool {
	_, ok := s.PriceToIndex(price)
	return ok
}
