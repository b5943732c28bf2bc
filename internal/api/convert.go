package api

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// ErrUnknownScale reports a symbol the converter has no price scale for.
var ErrUnknownScale = errors.New("no price scale for symbol")

// PriceConverter translates between display prices and the integer tick
// prices the engine trades in. Each symbol carries a scale, the number
// of decimal places its display form keeps: at scale 2 the display
// price 4510.25 is the tick price 451025.
type PriceConverter struct {
	scales map[string]int32
}

// NewPriceConverter copies the symbol-to-scale table.
func NewPriceConverter(scales map[string]int32) *PriceConverter {
	m := make(map[string]int32, len(scales))
	for sym, scale := range scales {
		m[sym] = scale
	}
	return &PriceConverter{scales: m}
}

// Scale returns the decimal places kept for symbol.
func (pc *PriceConverter) Scale(symbol string) (int32, bool) {
	scale, ok := pc.scales[symbol]
	return scale, ok
}

// ToTicks converts a display price to ticks. The price must be exactly
// representable at the symbol's scale and fit in a uint64.
func (pc *PriceConverter) ToTicks(symbol string, price decimal.Decimal) (uint64, error) {
	scale, ok := pc.scales[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownScale, symbol)
	}
	scaled := price.Mul(decimal.New(1, scale))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("price %s needs more than %d decimal places", price, scale)
	}
	bi := scaled.BigInt()
	if bi.Sign() < 0 || !bi.IsUint64() {
		return 0, fmt.Errorf("price %s is outside the tick range", price)
	}
	return bi.Uint64(), nil
}

// ParseTicks parses a display price string and converts it to ticks.
func (pc *PriceConverter) ParseTicks(symbol, price string) (uint64, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", price, err)
	}
	return pc.ToTicks(symbol, d)
}

// FromTicks converts a tick price back to display form.
func (pc *PriceConverter) FromTicks(symbol string, ticks uint64) (decimal.Decimal, error) {
	scale, ok := pc.scales[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownScale, symbol)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(ticks), -scale), nil
}

// FormatTicks renders a tick price for the wire. Symbols without a
// scale fall back to the raw tick integer so egress never fails.
func (pc *PriceConverter) FormatTicks(symbol string, ticks uint64) string {
	d, err := pc.FromTicks(symbol, ticks)
	if err != nil {
		return strconv.FormatUint(ticks, 10)
	}
	return d.String()
}
