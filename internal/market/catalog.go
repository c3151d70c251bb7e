package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrMarketNotFound is returned when a symbol is absent from the catalog
var ErrMarketNotFound = errors.New("market not found")

// delistedSymbols are suppressed during catalog load. The venue still
// reports them in exchange info but rejects orders against them.
var delistedSymbols = map[string]bool{
	"BTSUSDT": true, "TOMOUSDT": true, "SCUSDT": true, "HNTUSDT": true,
	"SRMUSDT": true, "FTTUSDT": true, "RAYUSDT": true, "CVCUSDT": true,
	"COCOSUSDT": true, "STRAXUSDT": true, "DGBUSDT": true, "CTKUSDT": true,
	"ANTUSDT": true,
}

// Precision holds per-market step sizes
type Precision struct {
	Amount decimal.Decimal
	Price  decimal.Decimal
}

// AmountLimits holds the order size bounds
type AmountLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// LeverageLimits holds the leverage bracket bounds
type LeverageLimits struct {
	Min int
	Max int
}

// Limits holds per-market order constraints
type Limits struct {
	Amount      AmountLimits
	MinNotional decimal.Decimal
	Leverage    LeverageLimits
}

// Market holds immutable per-symbol contract metadata
type Market struct {
	ID        string // composite "base/quote:margin"
	Symbol    string
	Base      string
	Quote     string
	Active    bool
	Precision Precision
	Limits    Limits
}

// SnapAmount floors an amount toward zero at the market's amount step
func (m *Market) SnapAmount(amount decimal.Decimal) decimal.Decimal {
	if m.Precision.Amount.IsZero() {
		return amount
	}
	steps := amount.Div(m.Precision.Amount).Floor()
	return steps.Mul(m.Precision.Amount)
}

// SnapPrice floors a price at the market's price tick
func (m *Market) SnapPrice(price decimal.Decimal) decimal.Decimal {
	if m.Precision.Price.IsZero() {
		return price
	}
	ticks := price.Div(m.Precision.Price).Floor()
	return ticks.Mul(m.Precision.Price)
}

// Catalog holds the loaded market set, keyed by venue symbol.
// Markets are immutable after load; Replace swaps the whole map.
type Catalog struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		markets: make(map[string]*Market),
	}
}

// Replace swaps the catalog contents with the given markets.
// Delisted symbols are dropped here so every consumer sees the same
// filtered view; inactive markets are kept, with Active set to false.
func (c *Catalog) Replace(markets []*Market) {
	next := make(map[string]*Market, len(markets))
	for _, m := range markets {
		if delistedSymbols[m.Symbol] {
			continue
		}
		next[m.Symbol] = m
	}

	c.mu.Lock()
	c.markets = next
	c.mu.Unlock()
}

// Get returns the market for a venue symbol
func (c *Catalog) Get(symbol string) (*Market, error) {
	c.mu.RLock()
	m, exists := c.markets[symbol]
	c.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return m, nil
}

// Has reports whether a symbol is present in the catalog
func (c *Catalog) Has(symbol string) bool {
	c.mu.RLock()
	_, exists := c.markets[symbol]
	c.mu.RUnlock()
	return exists
}

// All returns a snapshot of all loaded markets
func (c *Catalog) All() []*Market {
	c.mu.RLock()
	defer c.mu.RUnlock()

	markets := make([]*Market, 0, len(c.markets))
	for _, m := range c.markets {
		markets = append(markets, m)
	}
	return markets
}

// Len returns the number of loaded markets
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markets)
}

// IsDelisted reports whether a symbol is on the fixed denylist
func IsDelisted(symbol string) bool {
	return delistedSymbols[symbol]
}
