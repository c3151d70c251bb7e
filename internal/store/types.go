package store

import (
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of a tracked order
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderType is the uniform order type across the placement surface
type OrderType string

const (
	OrderTypeMarket           OrderType = "market"
	OrderTypeLimit            OrderType = "limit"
	OrderTypeStopLoss         OrderType = "stop_market"
	OrderTypeTakeProfit       OrderType = "take_profit_market"
	OrderTypeTrailingStopLoss OrderType = "trailing_stop_market"
)

// OrderSide is the order direction
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PositionSide is the direction of an open position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Order is the local projection of an order on the venue
type Order struct {
	ID         string // client-assigned
	OrderID    int64  // venue-assigned
	Status     OrderStatus
	Symbol     string
	Type       OrderType
	Side       OrderSide
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Filled     decimal.Decimal
	Remaining  decimal.Decimal
	ReduceOnly bool
}

// Position is the local projection of an open position.
// Contracts is always non-negative; direction is carried in Side.
type Position struct {
	Symbol           string
	Side             PositionSide
	EntryPrice       decimal.Decimal
	Contracts        decimal.Decimal
	Notional         decimal.Decimal
	Leverage         int
	UnrealizedPnl    decimal.Decimal
	LiquidationPrice decimal.Decimal
}

// Ticker is the latest market snapshot for a symbol.
// Fields the venue omits are zero.
type Ticker struct {
	Symbol       string
	Bid          decimal.Decimal
	Ask          decimal.Decimal
	Last         decimal.Decimal
	Mark         decimal.Decimal
	Index        decimal.Decimal
	Percentage   decimal.Decimal
	FundingRate  decimal.Decimal
	Volume       decimal.Decimal
	QuoteVolume  decimal.Decimal
	OpenInterest decimal.Decimal
}

// Asset is a wallet asset with its USD valuation
type Asset struct {
	Symbol        string
	WalletBalance decimal.Decimal
	USDValue      decimal.Decimal
}

// Balance is the account balance projection, in USD
type Balance struct {
	Total  decimal.Decimal
	Free   decimal.Decimal
	Used   decimal.Decimal
	UPnl   decimal.Decimal
	Assets []Asset
}
