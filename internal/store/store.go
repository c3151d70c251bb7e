package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrTickerNotFound is returned when no ticker is loaded for a symbol
var ErrTickerNotFound = errors.New("ticker not found")

// ErrPositionNotFound is returned when no matching open position exists
var ErrPositionNotFound = errors.New("position not found")

// stableAssets are valued 1:1 against USD without a ticker lookup
var stableAssets = map[string]bool{
	"USDT":  true,
	"USDC":  true,
	"FDUSD": true,
}

// Store is the process-local mutable projection of the trader's account:
// tickers, positions, balance, open orders and adapter settings.
// Single-writer convention: the adapter and the private stream write,
// everyone else reads snapshots.
type Store struct {
	mu sync.RWMutex

	tickers   map[string]Ticker
	positions []Position
	balance   Balance
	orders    map[string]Order // keyed by client order ID

	hedged    bool
	latencyMs int64

	marketsLoaded bool
	tickersLoaded bool
	ordersLoaded  bool
}

// New creates an empty store
func New() *Store {
	return &Store{
		tickers: make(map[string]Ticker),
		orders:  make(map[string]Order),
	}
}

// --- tickers ---

// SetTickers replaces the ticker map with the given snapshot
func (s *Store) SetTickers(tickers []Ticker) {
	next := make(map[string]Ticker, len(tickers))
	for _, t := range tickers {
		next[t.Symbol] = t
	}

	s.mu.Lock()
	s.tickers = next
	s.mu.Unlock()
}

// UpsertTicker merges a single ticker update
func (s *Store) UpsertTicker(t Ticker) {
	s.mu.Lock()
	s.tickers[t.Symbol] = t
	s.mu.Unlock()
}

// Ticker returns the ticker for a symbol
func (s *Store) Ticker(symbol string) (Ticker, error) {
	s.mu.RLock()
	t, exists := s.tickers[symbol]
	s.mu.RUnlock()

	if !exists {
		return Ticker{}, fmt.Errorf("%w: %s", ErrTickerNotFound, symbol)
	}
	return t, nil
}

// Tickers returns a snapshot of all tickers
func (s *Store) Tickers() []Ticker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickers := make([]Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		tickers = append(tickers, t)
	}
	return tickers
}

// --- positions ---

// SetPositions replaces the position list
func (s *Store) SetPositions(positions []Position) {
	next := make([]Position, len(positions))
	copy(next, positions)

	s.mu.Lock()
	s.positions = next
	s.mu.Unlock()
}

// Positions returns a snapshot of all open positions
func (s *Store) Positions() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]Position, len(s.positions))
	copy(positions, s.positions)
	return positions
}

// Position returns the open position for (symbol, side)
func (s *Store) Position(symbol string, side PositionSide) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.Symbol == symbol && p.Side == side {
			return p, nil
		}
	}
	return Position{}, fmt.Errorf("%w: %s %s", ErrPositionNotFound, symbol, side)
}

// ApplyPositionUpdate folds a stream position slot into the matching
// stored position. Unknown (symbol, side) pairs are ignored; positions
// are created by the bootstrap path, not by the stream.
func (s *Store) ApplyPositionUpdate(symbol string, side PositionSide, entryPrice, contracts, unrealizedPnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.positions {
		p := &s.positions[i]
		if p.Symbol != symbol || p.Side != side {
			continue
		}
		p.EntryPrice = entryPrice
		p.Contracts = contracts.Abs()
		p.UnrealizedPnl = unrealizedPnl
		p.Notional = contracts.Mul(entryPrice).Add(unrealizedPnl).Abs()
		return
	}
}

// --- balance ---

// SetBalance replaces the balance projection. Total is recomputed from
// the asset USD values so the stored figure always matches the list.
func (s *Store) SetBalance(b Balance) {
	b.Total = sumUSDValues(b.Assets)

	s.mu.Lock()
	s.balance = b
	s.mu.Unlock()
}

// Balance returns a snapshot of the balance projection
func (s *Store) Balance() Balance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.balance
	b.Assets = make([]Asset, len(s.balance.Assets))
	copy(b.Assets, s.balance.Assets)
	return b
}

// UpdateAssetWallet folds a stream balance slot into the matching asset
// and recomputes the balance totals. The asset's USD value is re-derived
// from the current ticker; stables are valued 1:1.
func (s *Store) UpdateAssetWallet(symbol string, walletBalance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.balance.Assets {
		a := &s.balance.Assets[i]
		if a.Symbol != symbol {
			continue
		}
		a.WalletBalance = walletBalance

		usd, err := s.assetUSDValueLocked(*a)
		if err != nil {
			return err
		}
		a.USDValue = usd

		s.balance.Total = sumUSDValues(s.balance.Assets)
		return nil
	}
	return nil
}

// ValueAssetUSD converts a wallet balance to USD using the loaded
// tickers. Non-stable assets price against their USDT pair.
func (s *Store) ValueAssetUSD(a Asset) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assetUSDValueLocked(a)
}

func (s *Store) assetUSDValueLocked(a Asset) (decimal.Decimal, error) {
	if stableAssets[a.Symbol] {
		return a.WalletBalance, nil
	}

	pair := a.Symbol + "USDT"
	t, exists := s.tickers[pair]
	if !exists {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrTickerNotFound, pair)
	}
	return t.Last.Mul(a.WalletBalance), nil
}

func sumUSDValues(assets []Asset) decimal.Decimal {
	total := decimal.Zero
	for _, a := range assets {
		total = total.Add(a.USDValue)
	}
	return total
}

// --- orders ---

// SetOrders replaces the open order map with the given snapshot
func (s *Store) SetOrders(orders []Order) {
	next := make(map[string]Order, len(orders))
	for _, o := range orders {
		o.Remaining = o.Amount.Sub(o.Filled)
		next[o.ID] = o
	}

	s.mu.Lock()
	s.orders = next
	s.mu.Unlock()
}

// UpsertOrder merges an order update, keeping filled+remaining == amount
func (s *Store) UpsertOrder(o Order) {
	o.Remaining = o.Amount.Sub(o.Filled)

	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
}

// RemoveOrder drops an order by client ID
func (s *Store) RemoveOrder(clientID string) {
	s.mu.Lock()
	delete(s.orders, clientID)
	s.mu.Unlock()
}

// Order returns the tracked order for a client ID
func (s *Store) Order(clientID string) (Order, bool) {
	s.mu.RLock()
	o, exists := s.orders[clientID]
	s.mu.RUnlock()
	return o, exists
}

// Orders returns a snapshot of all tracked orders
func (s *Store) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	return orders
}

// --- settings ---

// SetHedged records the account position mode
func (s *Store) SetHedged(hedged bool) {
	s.mu.Lock()
	s.hedged = hedged
	s.mu.Unlock()
}

// Hedged reports whether the account runs in hedge mode
func (s *Store) Hedged() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hedged
}

// SetLatency records the measured one-way stream latency in milliseconds
func (s *Store) SetLatency(ms int64) {
	s.mu.Lock()
	s.latencyMs = ms
	s.mu.Unlock()
}

// Latency returns the last measured stream latency in milliseconds
func (s *Store) Latency() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latencyMs
}

// SetMarketsLoaded marks the market catalog as loaded
func (s *Store) SetMarketsLoaded() {
	s.mu.Lock()
	s.marketsLoaded = true
	s.mu.Unlock()
}

// SetTickersLoaded marks the ticker snapshot as loaded
func (s *Store) SetTickersLoaded() {
	s.mu.Lock()
	s.tickersLoaded = true
	s.mu.Unlock()
}

// SetOrdersLoaded marks the open-order snapshot as loaded
func (s *Store) SetOrdersLoaded() {
	s.mu.Lock()
	s.ordersLoaded = true
	s.mu.Unlock()
}

// Loaded reports whether markets, tickers and orders are all loaded
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marketsLoaded && s.tickersLoaded && s.ordersLoaded
}
