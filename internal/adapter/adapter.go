package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"safecex/internal/events"
	"safecex/internal/market"
	"safecex/internal/orders"
	"safecex/internal/rest"
	"safecex/internal/store"
	"safecex/internal/stream"
)

// Adapter wires the trading core: it bootstraps the local projection,
// keeps it fresh with the tick loop and the private stream, and exposes
// the uniform placement surface.
type Adapter struct {
	catalog   *market.Catalog
	store     *store.Store
	emitter   *events.Emitter
	formatter *orders.Formatter
	queue     *orders.Queue
	public    *rest.Client // rate-limited: account and market data
	trading   *rest.Client // unthrottled: order placement and cancels
	stream    *stream.Private
	logger    zerolog.Logger

	tickInterval time.Duration
	disposed     atomic.Bool
	cancel       context.CancelFunc
}

// New assembles the adapter from its components
func New(
	catalog *market.Catalog,
	st *store.Store,
	emitter *events.Emitter,
	formatter *orders.Formatter,
	queue *orders.Queue,
	public, trading *rest.Client,
	privateStream *stream.Private,
	tickInterval time.Duration,
	logger zerolog.Logger,
) *Adapter {
	return &Adapter{
		catalog:      catalog,
		store:        st,
		emitter:      emitter,
		formatter:    formatter,
		queue:        queue,
		public:       public,
		trading:      trading,
		stream:       privateStream,
		tickInterval: tickInterval,
		logger:       logger,
	}
}

// Start runs the bootstrap sequence and enters the tick loop.
// Each step aborts cleanly when the adapter is disposed.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.loadMarkets(ctx); err != nil {
		return fmt.Errorf("failed to load markets: %w", err)
	}
	a.store.SetMarketsLoaded()
	if a.disposed.Load() {
		return nil
	}

	if err := a.loadTickers(ctx); err != nil {
		return fmt.Errorf("failed to load tickers: %w", err)
	}
	a.store.SetTickersLoaded()
	if a.disposed.Load() {
		return nil
	}

	if err := a.stream.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect private stream: %w", err)
	}
	if a.disposed.Load() {
		return nil
	}

	hedged, err := a.public.GetPositionMode(ctx)
	if err != nil {
		return fmt.Errorf("failed to query position mode: %w", err)
	}
	a.store.SetHedged(hedged)
	if a.disposed.Load() {
		return nil
	}

	go a.tickLoop(runCtx)

	if err := a.loadOpenOrders(ctx); err != nil {
		return fmt.Errorf("failed to load open orders: %w", err)
	}
	a.store.SetOrdersLoaded()

	a.logger.Info().
		Int("markets", a.catalog.Len()).
		Bool("hedged", hedged).
		Msg("adapter started")
	return nil
}

// Dispose fans the shutdown flag out to the stream, the queue and the
// tick loop.
func (a *Adapter) Dispose() {
	if a.disposed.Swap(true) {
		return
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.queue.Dispose()
	a.stream.Dispose()
}

// --- placement surface ---

// PlaceOrders formats the intents, enqueues the payloads and waits for
// the queue to drain. It returns the client IDs of successful
// submissions. Formatting errors are fatal to the whole call.
func (a *Adapter) PlaceOrders(ctx context.Context, intents []orders.Intent) ([]string, error) {
	var payloads []*orders.Payload
	for _, intent := range intents {
		formatted, err := a.formatter.Format(intent)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, formatted...)
	}

	return a.submitAndDrain(ctx, payloads)
}

// PlaceSplitOrder formats and submits a split-order ladder
func (a *Adapter) PlaceSplitOrder(ctx context.Context, intent orders.SplitIntent) ([]string, error) {
	payloads, err := a.formatter.FormatSplit(intent)
	if err != nil {
		if errors.Is(err, orders.ErrScaleInfeasible) {
			a.emitter.EmitError(err.Error())
		}
		return nil, err
	}

	return a.submitAndDrain(ctx, payloads)
}

// UpdateOrder cancels the tracked order and places its replacement
func (a *Adapter) UpdateOrder(ctx context.Context, intent orders.UpdateIntent) ([]string, error) {
	cancelID, payloads, err := a.formatter.FormatUpdate(intent)
	if err != nil {
		return nil, err
	}

	if err := a.trading.CancelOrder(ctx, intent.Order.Symbol, cancelID); err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", cancelID, err)
	}
	a.store.RemoveOrder(cancelID)

	return a.submitAndDrain(ctx, payloads)
}

// CancelOrder cancels one order by client ID
func (a *Adapter) CancelOrder(ctx context.Context, symbol, clientID string) error {
	if err := a.trading.CancelOrder(ctx, symbol, clientID); err != nil {
		return err
	}
	a.store.RemoveOrder(clientID)
	return nil
}

// CancelAllOrders cancels every open order on a symbol
func (a *Adapter) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := a.trading.CancelAllOpenOrders(ctx, symbol); err != nil {
		return err
	}
	for _, o := range a.store.Orders() {
		if o.Symbol == symbol {
			a.store.RemoveOrder(o.ID)
		}
	}
	return nil
}

// SetLeverage changes the leverage for a symbol, clamped to the
// market's bracket limits.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m, err := a.catalog.Get(symbol)
	if err != nil {
		return err
	}
	if leverage < m.Limits.Leverage.Min {
		leverage = m.Limits.Leverage.Min
	}
	if leverage > m.Limits.Leverage.Max {
		leverage = m.Limits.Leverage.Max
	}

	if _, err := a.public.SetLeverage(ctx, symbol, leverage); err != nil {
		return err
	}
	return nil
}

// SetPositionMode switches between hedge and one-way mode. The change
// requires a flat account; with open positions it emits an error and
// does nothing.
func (a *Adapter) SetPositionMode(ctx context.Context, hedged bool) error {
	if len(a.store.Positions()) > 0 {
		a.emitter.EmitError("cannot change position mode with open positions")
		return nil
	}

	if err := a.public.SetPositionMode(ctx, hedged); err != nil {
		return err
	}
	a.store.SetHedged(hedged)
	return nil
}

// Klines fetches candlesticks through the rate-limited client
func (a *Adapter) Klines(ctx context.Context, symbol, interval string, limit int) ([]rest.Kline, error) {
	return a.public.GetKlines(ctx, symbol, interval, limit)
}

// QueueDepth returns the number of payloads waiting for dispatch
func (a *Adapter) QueueDepth() int {
	return a.queue.Depth()
}

func (a *Adapter) submitAndDrain(ctx context.Context, payloads []*orders.Payload) ([]string, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	a.queue.Enqueue(payloads)
	if err := a.queue.Wait(ctx); err != nil {
		return nil, err
	}
	return a.queue.DrainResults(), nil
}

// --- bootstrap and tick ---

// loadMarkets builds the catalog from exchange info and leverage
// brackets. Only USDT-margined perpetuals enter the catalog.
func (a *Adapter) loadMarkets(ctx context.Context) error {
	info, err := a.public.GetExchangeInfo(ctx)
	if err != nil {
		return err
	}

	brackets, err := a.public.GetLeverageBrackets(ctx)
	if err != nil {
		return err
	}
	maxLeverage := make(map[string]int, len(brackets))
	for _, b := range brackets {
		for _, tier := range b.Brackets {
			if tier.InitialLeverage > maxLeverage[b.Symbol] {
				maxLeverage[b.Symbol] = tier.InitialLeverage
			}
		}
	}

	markets := make([]*market.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" || s.MarginAsset != "USDT" {
			continue
		}

		m := &market.Market{
			ID:     s.BaseAsset + "/" + s.QuoteAsset + ":" + s.MarginAsset,
			Symbol: s.Symbol,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		}
		m.Limits.Leverage.Min = 1
		if lev := maxLeverage[s.Symbol]; lev > 0 {
			m.Limits.Leverage.Max = lev
		} else {
			m.Limits.Leverage.Max = 1
		}

		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				m.Precision.Amount = f.StepSize
				m.Limits.Amount.Min = f.MinQty
				m.Limits.Amount.Max = f.MaxQty
			case "PRICE_FILTER":
				m.Precision.Price = f.TickSize
			case "MIN_NOTIONAL", "NOTIONAL":
				if !f.Notional.IsZero() {
					m.Limits.MinNotional = f.Notional
				} else {
					m.Limits.MinNotional = f.MinNotional
				}
			}
		}

		markets = append(markets, m)
	}

	a.catalog.Replace(markets)
	return nil
}

// loadTickers merges the 24h, book and price snapshots into the store
func (a *Adapter) loadTickers(ctx context.Context) error {
	stats, err := a.public.GetTickers24h(ctx)
	if err != nil {
		return err
	}
	books, err := a.public.GetBookTickers(ctx)
	if err != nil {
		return err
	}
	prices, err := a.public.GetPriceTickers(ctx)
	if err != nil {
		return err
	}

	bookBySymbol := make(map[string]rest.BookTicker, len(books))
	for _, b := range books {
		bookBySymbol[b.Symbol] = b
	}
	priceBySymbol := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		priceBySymbol[p.Symbol] = p.Price
	}

	tickers := make([]store.Ticker, 0, len(stats))
	for _, s := range stats {
		t := store.Ticker{
			Symbol:      s.Symbol,
			Last:        s.LastPrice,
			Percentage:  s.PriceChangePercent,
			Volume:      s.Volume,
			QuoteVolume: s.QuoteVolume,
		}
		if last, exists := priceBySymbol[s.Symbol]; exists && !last.IsZero() {
			t.Last = last
		}
		if b, exists := bookBySymbol[s.Symbol]; exists {
			t.Bid = b.BidPrice
			t.Ask = b.AskPrice
		}
		tickers = append(tickers, t)
	}

	a.store.SetTickers(tickers)
	return nil
}

// loadOpenOrders seeds the order projection from the venue
func (a *Adapter) loadOpenOrders(ctx context.Context) error {
	open, err := a.public.GetOpenOrders(ctx, "")
	if err != nil {
		return err
	}

	tracked := make([]store.Order, 0, len(open))
	for _, o := range open {
		price := o.Price
		if price.IsZero() {
			price = o.StopPrice
		}
		tracked = append(tracked, store.Order{
			ID:         o.ClientOrderID,
			OrderID:    o.OrderID,
			Status:     store.OrderStatusOpen,
			Symbol:     o.Symbol,
			Type:       decodeOrderType(o.Type),
			Side:       decodeOrderSide(o.Side),
			Price:      price,
			Amount:     o.OrigQty,
			Filled:     o.ExecutedQty,
			ReduceOnly: o.ReduceOnly,
		})
	}

	a.store.SetOrders(tracked)
	return nil
}

// tickLoop refreshes balance and positions until disposed
func (a *Adapter) tickLoop(ctx context.Context) {
	a.tick(ctx)

	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if a.disposed.Load() {
				return
			}
			a.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick fetches balance and positions in one account call. On error the
// prior store state stands: stale but consistent.
func (a *Adapter) tick(ctx context.Context) {
	account, err := a.public.GetAccount(ctx)
	if err != nil {
		a.emitter.EmitError(fmt.Sprintf("account refresh failed: %v", err))
		return
	}

	assets := make([]store.Asset, 0, len(account.Assets))
	for _, raw := range account.Assets {
		if raw.WalletBalance.IsZero() {
			continue
		}
		asset := store.Asset{
			Symbol:        raw.Asset,
			WalletBalance: raw.WalletBalance,
		}
		usd, err := a.store.ValueAssetUSD(asset)
		if err != nil {
			a.emitter.EmitError(fmt.Sprintf("asset valuation failed: %v", err))
			return
		}
		asset.USDValue = usd
		assets = append(assets, asset)
	}

	a.store.SetBalance(store.Balance{
		Free:   account.AvailableBalance,
		Used:   account.TotalInitialMargin,
		UPnl:   account.TotalUnrealizedProfit,
		Assets: assets,
	})

	positions := make([]store.Position, 0, len(account.Positions))
	for _, raw := range account.Positions {
		if raw.PositionAmt.IsZero() {
			continue
		}
		// Positions for symbols outside the catalog are dropped
		if !a.catalog.Has(raw.Symbol) {
			continue
		}

		side := store.PositionSideLong
		switch raw.PositionSide {
		case "SHORT":
			side = store.PositionSideShort
		case "BOTH":
			if raw.PositionAmt.IsNegative() {
				side = store.PositionSideShort
			}
		}

		positions = append(positions, store.Position{
			Symbol:        raw.Symbol,
			Side:          side,
			EntryPrice:    raw.EntryPrice,
			Contracts:     raw.PositionAmt.Abs(),
			Notional:      raw.PositionAmt.Mul(raw.EntryPrice).Add(raw.UnrealizedProfit).Abs(),
			Leverage:      int(raw.Leverage.IntPart()),
			UnrealizedPnl: raw.UnrealizedProfit,
		})
	}

	a.store.SetPositions(positions)
}

func decodeOrderSide(side string) store.OrderSide {
	if side == "SELL" {
		return store.OrderSideSell
	}
	return store.OrderSideBuy
}

func decodeOrderType(t string) store.OrderType {
	switch t {
	case "MARKET":
		return store.OrderTypeMarket
	case "STOP_MARKET":
		return store.OrderTypeStopLoss
	case "TAKE_PROFIT_MARKET":
		return store.OrderTypeTakeProfit
	case "TRAILING_STOP_MARKET":
		return store.OrderTypeTrailingStopLoss
	}
	return store.OrderTypeLimit
}
