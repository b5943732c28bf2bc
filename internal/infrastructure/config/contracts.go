package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tickmatch/tickmatch/internal/trading/contract"
	"github.com/tickmatch/tickmatch/internal/trading/engine"
)

// ContractDef is one listed contract in the catalog file. Prices are in
// integer ticks internally; PriceScale says how many decimal places the
// wire representation carries.
type ContractDef struct {
	Symbol        string `yaml:"symbol" validate:"required"`
	TickSize      uint64 `yaml:"tick_size" validate:"gt=0"`
	MinPrice      uint64 `yaml:"min_price"`
	MaxPrice      uint64 `yaml:"max_price" validate:"gtfield=MinPrice"`
	PriceScale    int32  `yaml:"price_scale" validate:"gte=0,lte=12"`
	QueueCapacity int    `yaml:"queue_capacity" validate:"gte=0"`
}

// Catalog is the listed-contract universe.
type Catalog struct {
	Contracts []ContractDef `yaml:"contracts" validate:"min=1,dive"`
}

// LoadCatalog parses and validates a contract catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse contract catalog: %w", err)
	}
	if err := validator.New().Struct(&cat); err != nil {
		return nil, fmt.Errorf("validate contract catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(cat.Contracts))
	for _, def := range cat.Contracts {
		if _, dup := seen[def.Symbol]; dup {
			return nil, fmt.Errorf("duplicate contract %q in catalog", def.Symbol)
		}
		seen[def.Symbol] = struct{}{}
	}
	return &cat, nil
}

// BookSpecs compiles the catalog into engine book specs.
func (c *Catalog) BookSpecs() ([]engine.BookSpec, error) {
	specs := make([]engine.BookSpec, 0, len(c.Contracts))
	for _, def := range c.Contracts {
		cs, err := contract.New(def.Symbol, def.TickSize, def.MinPrice, def.MaxPrice)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", def.Symbol, err)
		}
		specs = append(specs, engine.BookSpec{Contract: cs, QueueCapacity: def.QueueCapacity})
	}
	return specs, nil
}

// PriceScales maps each symbol to its wire decimal places.
func (c *Catalog) PriceScales() map[string]int32 {
	scales := make(map[string]int32, len(c.Contracts))
	for _, def := range c.Contracts {
		scales[def.Symbol] = def.PriceScale
	}
	return scales
}

// Symbols lists the catalog symbols in file order.
func (c *Catalog) Symbols() []string {
	syms := make([]string, 0, len(c.Contracts))
	for _, def := range c.Contracts {
		syms = append(syms, def.Symbol)
	}
	return syms
}
