package rest

import (
	"github.com/shopspring/decimal"
)

// ExchangeInfo represents the futures trading rules and symbol set
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolInfo represents one instrument from exchange info
type SymbolInfo struct {
	Symbol       string   `json:"symbol"`
	Pair         string   `json:"pair"`
	ContractType string   `json:"contractType"`
	Status       string   `json:"status"`
	BaseAsset    string   `json:"baseAsset"`
	QuoteAsset   string   `json:"quoteAsset"`
	MarginAsset  string   `json:"marginAsset"`
	Filters      []Filter `json:"filters"`
}

// Filter represents one symbol filter from exchange info.
// Fields absent for a given filter type decode to zero.
type Filter struct {
	FilterType  string          `json:"filterType"`
	MinPrice    decimal.Decimal `json:"minPrice"`
	MaxPrice    decimal.Decimal `json:"maxPrice"`
	TickSize    decimal.Decimal `json:"tickSize"`
	MinQty      decimal.Decimal `json:"minQty"`
	MaxQty      decimal.Decimal `json:"maxQty"`
	StepSize    decimal.Decimal `json:"stepSize"`
	Notional    decimal.Decimal `json:"notional"`
	MinNotional decimal.Decimal `json:"minNotional"`
}

// LeverageBracket represents the leverage brackets for one symbol
type LeverageBracket struct {
	Symbol   string    `json:"symbol"`
	Brackets []Bracket `json:"brackets"`
}

// Bracket is one leverage tier
type Bracket struct {
	Bracket          int             `json:"bracket"`
	InitialLeverage  int             `json:"initialLeverage"`
	NotionalCap      decimal.Decimal `json:"notionalCap"`
	NotionalFloor    decimal.Decimal `json:"notionalFloor"`
	MaintMarginRatio decimal.Decimal `json:"maintMarginRatio"`
}

// Ticker24h represents 24 hour rolling statistics for a symbol
type Ticker24h struct {
	Symbol             string          `json:"symbol"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
}

// BookTicker represents the best bid/ask for a symbol
type BookTicker struct {
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	BidQty   decimal.Decimal `json:"bidQty"`
	AskPrice decimal.Decimal `json:"askPrice"`
	AskQty   decimal.Decimal `json:"askQty"`
}

// PriceTicker represents the latest traded price for a symbol
type PriceTicker struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// AccountResponse represents futures account state: balance plus positions
type AccountResponse struct {
	TotalWalletBalance    decimal.Decimal   `json:"totalWalletBalance"`
	TotalUnrealizedProfit decimal.Decimal   `json:"totalUnrealizedProfit"`
	TotalMarginBalance    decimal.Decimal   `json:"totalMarginBalance"`
	TotalInitialMargin    decimal.Decimal   `json:"totalInitialMargin"`
	AvailableBalance      decimal.Decimal   `json:"availableBalance"`
	Assets                []AccountAsset    `json:"assets"`
	Positions             []AccountPosition `json:"positions"`
}

// AccountAsset represents one wallet asset in the account response
type AccountAsset struct {
	Asset            string          `json:"asset"`
	WalletBalance    decimal.Decimal `json:"walletBalance"`
	UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
	MarginBalance    decimal.Decimal `json:"marginBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
}

// AccountPosition represents one position slot in the account response
type AccountPosition struct {
	Symbol           string          `json:"symbol"`
	PositionAmt      decimal.Decimal `json:"positionAmt"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	UnrealizedProfit decimal.Decimal `json:"unrealizedProfit"`
	Leverage         decimal.Decimal `json:"leverage"`
	PositionSide     string          `json:"positionSide"`
	Isolated         bool            `json:"isolated"`
	UpdateTime       int64           `json:"updateTime"`
}

// AssetBalance represents one entry of the balance endpoint
type AssetBalance struct {
	Asset              string          `json:"asset"`
	Balance            decimal.Decimal `json:"balance"`
	CrossWalletBalance decimal.Decimal `json:"crossWalletBalance"`
	CrossUnPnl         decimal.Decimal `json:"crossUnPnl"`
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
}

// OrderResponse represents a placed or queried order
type OrderResponse struct {
	OrderID       int64           `json:"orderId"`
	Symbol        string          `json:"symbol"`
	Status        string          `json:"status"`
	ClientOrderID string          `json:"clientOrderId"`
	Price         decimal.Decimal `json:"price"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	StopPrice     decimal.Decimal `json:"stopPrice"`
	TimeInForce   string          `json:"timeInForce"`
	Type          string          `json:"type"`
	Side          string          `json:"side"`
	PositionSide  string          `json:"positionSide"`
	ReduceOnly    bool            `json:"reduceOnly"`
	ClosePosition bool            `json:"closePosition"`
	UpdateTime    int64           `json:"updateTime"`
}

// BatchEntry is one element of a batch order response: either an order
// acknowledgement or a per-payload venue error.
type BatchEntry struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Code          int    `json:"code"`
	Msg           string `json:"msg"`
}

// IsError reports whether this entry carries a venue error
func (e *BatchEntry) IsError() bool {
	return e.Code != 0
}

// PositionModeResponse represents the account position mode
type PositionModeResponse struct {
	DualSidePosition bool `json:"dualSidePosition"`
}

// LeverageResponse represents the result of a leverage change
type LeverageResponse struct {
	Symbol           string          `json:"symbol"`
	Leverage         int             `json:"leverage"`
	MaxNotionalValue decimal.Decimal `json:"maxNotionalValue"`
}

// ListenKeyResponse represents a user-data stream listen key
type ListenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// Kline is one candlestick
type Kline struct {
	OpenTime  int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime int64
}
