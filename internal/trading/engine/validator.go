package engine

import (
	"fmt"
	"math"

	"github.com/tickmatch/tickmatch/internal/trading/model"
)

// Validation failure codes, quoted verbatim in rejection messages.
const (
	CodeInvalidPrice       = "InvalidPrice"
	CodeInvalidQuantity    = "InvalidQuantity"
	CodeInvalidSymbol      = "InvalidSymbol"
	CodeInvalidOrderID     = "InvalidOrderID"
	CodePriceOutOfRange    = "PriceOutOfRange"
	CodeQuantityOutOfRange = "QuantityOutOfRange"
)

// ValidationError reports why a request failed pre-checks.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Code + ": " + e.Message
}

// ValidationConfig bounds accepted orders. An empty AllowedSymbols list
// admits every symbol.
type ValidationConfig struct {
	MinPrice           uint64   `mapstructure:"min_price" validate:"gt=0"`
	MaxPrice           uint64   `mapstructure:"max_price"`
	MinQuantity        uint64   `mapstructure:"min_quantity" validate:"gt=0"`
	MaxQuantity        uint64   `mapstructure:"max_quantity"`
	AllowedSymbols     []string `mapstructure:"allowed_symbols"`
	EnforceCancelOwner bool     `mapstructure:"enforce_cancel_owner"`
}

// DefaultValidationConfig mirrors the usual production limits.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MinPrice:    1,
		MaxPrice:    math.MaxUint64,
		MinQuantity: 1,
		MaxQuantity: 1_000_000,
	}
}

// Validator runs stateless request pre-checks. Zero-value checks come
// before range checks so a zero price reports InvalidPrice rather than
// PriceOutOfRange.
type Validator struct {
	cfg     ValidationConfig
	allowed map[string]struct{}
}

// NewValidator compiles cfg. Zero bounds fall back to defaults.
func NewValidator(cfg ValidationConfig) *Validator {
	def := DefaultValidationConfig()
	if cfg.MinPrice == 0 {
		cfg.MinPrice = def.MinPrice
	}
	if cfg.MaxPrice == 0 {
		cfg.MaxPrice = def.MaxPrice
	}
	if cfg.MinQuantity == 0 {
		cfg.MinQuantity = def.MinQuantity
	}
	if cfg.MaxQuantity == 0 {
		cfg.MaxQuantity = def.MaxQuantity
	}
	v := &Validator{cfg: cfg}
	if len(cfg.AllowedSymbols) > 0 {
		v.allowed = make(map[string]struct{}, len(cfg.AllowedSymbols))
		for _, s := range cfg.AllowedSymbols {
			v.allowed[s] = struct{}{}
		}
	}
	return v
}

// ValidateOrder returns nil for an acceptable request.
func (v *Validator) ValidateOrder(req *model.NewOrderRequest) *ValidationError {
	if req.Price == 0 {
		return &ValidationError{CodeInvalidPrice, "price must be positive"}
	}
	if req.Quantity == 0 {
		return &ValidationError{CodeInvalidQuantity, "quantity must be positive"}
	}
	if req.Symbol == "" {
		return &ValidationError{CodeInvalidSymbol, "symbol must not be empty"}
	}
	if req.Price < v.cfg.MinPrice || req.Price > v.cfg.MaxPrice {
		return &ValidationError{CodePriceOutOfRange,
			fmt.Sprintf("price %d outside [%d, %d]", req.Price, v.cfg.MinPrice, v.cfg.MaxPrice)}
	}
	if req.Quantity < v.cfg.MinQuantity || req.Quantity > v.cfg.MaxQuantity {
		return &ValidationError{CodeQuantityOutOfRange,
			fmt.Sprintf("quantity %d outside [%d, %d]", req.Quantity, v.cfg.MinQuantity, v.cfg.MaxQuantity)}
	}
	if v.allowed != nil {
		if _, ok := v.allowed[req.Symbol]; !ok {
			return &ValidationError{CodeInvalidSymbol,
				fmt.Sprintf("symbol %q not in the allow list", req.Symbol)}
		}
	}
	return nil
}

// ValidateCancel returns nil for an acceptable cancel request.
func (v *Validator) ValidateCancel(req *model.CancelOrderRequest) *ValidationError {
	if req.OrderID == 0 {
		return &ValidationError{CodeInvalidOrderID, "order id must be positive"}
	}
	if req.Symbol == "" {
		return &ValidationError{CodeInvalidSymbol, "symbol must not be empty"}
	}
	return nil
}
