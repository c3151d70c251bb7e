package orders

import (
	"errors"

	"github.com/shopspring/decimal"

	"safecex/internal/store"
)

// ErrScaleInfeasible is returned when a split intent cannot produce
// rungs that satisfy the market's size and notional minimums.
var ErrScaleInfeasible = errors.New("scale infeasible")

// Venue field values
const (
	venueSideBuy  = "BUY"
	venueSideSell = "SELL"

	venueTypeMarket       = "MARKET"
	venueTypeLimit        = "LIMIT"
	venueTypeStopMarket   = "STOP_MARKET"
	venueTypeTakeProfit   = "TAKE_PROFIT_MARKET"
	venueTypeTrailingStop = "TRAILING_STOP_MARKET"

	positionSideBoth  = "BOTH"
	positionSideLong  = "LONG"
	positionSideShort = "SHORT"

	timeInForceGTC = "GTC"
)

// Intent is a simple placement intent: one logical order, optionally
// with an attached stop-loss and/or take-profit.
type Intent struct {
	Symbol      string
	Type        store.OrderType
	Side        store.OrderSide
	Price       decimal.Decimal // unused for market orders
	Amount      decimal.Decimal
	TimeInForce string // limit orders only; defaults to GTC
	ReduceOnly  bool
	StopLoss    *decimal.Decimal
	TakeProfit  *decimal.Decimal
}

// SplitIntent distributes a quote-denominated amount across a ladder
// of limit orders between FromPrice and ToPrice, with rung sizes
// scaled linearly from FromScale to ToScale.
type SplitIntent struct {
	Symbol       string
	Side         store.OrderSide
	Type         store.OrderType
	Amount       decimal.Decimal // quote currency
	Orders       int
	FromPrice    decimal.Decimal
	ToPrice      decimal.Decimal
	FromScale    decimal.Decimal
	ToScale      decimal.Decimal
	AutoReAdjust bool
}

// UpdateIntent modifies the price and/or amount of a tracked order
type UpdateIntent struct {
	Order  store.Order
	Price  *decimal.Decimal
	Amount *decimal.Decimal
}

func venueSide(side store.OrderSide) string {
	if side == store.OrderSideBuy {
		return venueSideBuy
	}
	return venueSideSell
}

func oppositeSide(side store.OrderSide) store.OrderSide {
	if side == store.OrderSideBuy {
		return store.OrderSideSell
	}
	return store.OrderSideBuy
}

func venueOrderType(t store.OrderType) string {
	switch t {
	case store.OrderTypeMarket:
		return venueTypeMarket
	case store.OrderTypeLimit:
		return venueTypeLimit
	case store.OrderTypeStopLoss:
		return venueTypeStopMarket
	case store.OrderTypeTakeProfit:
		return venueTypeTakeProfit
	case store.OrderTypeTrailingStopLoss:
		return venueTypeTrailingStop
	}
	return venueTypeLimit
}

func isProtective(t store.OrderType) bool {
	switch t {
	case store.OrderTypeStopLoss, store.OrderTypeTakeProfit, store.OrderTypeTrailingStopLoss:
		return true
	}
	return false
}
