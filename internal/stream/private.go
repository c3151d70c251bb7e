package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"safecex/internal/events"
	"safecex/internal/store"
)

const pingRequestID = 42

// StoreWriter is the projection surface the stream reconciles into
type StoreWriter interface {
	SetLatency(ms int64)
	ApplyPositionUpdate(symbol string, side store.PositionSide, entryPrice, contracts, unrealizedPnl decimal.Decimal)
	UpdateAssetWallet(symbol string, walletBalance decimal.Decimal) error
	UpsertOrder(o store.Order)
	RemoveOrder(clientID string)
}

// Emitter is the event surface the stream publishes to
type Emitter interface {
	EmitFill(rec events.FillRecord)
	EmitPositionUpdate(raw json.RawMessage)
	EmitError(msg string)
	EmitInfo(msg string)
}

// ListenKeyClient acquires and renews the user-data listen key
type ListenKeyClient interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
}

// Private maintains the user-data websocket: listen key keep-alive,
// application-level ping latency, and reconciliation of fill, order
// and account events into the store. It holds no reference to the
// adapter; the store writer and emitter capabilities are injected.
type Private struct {
	wsURL  string
	rest   ListenKeyClient
	store  StoreWriter
	emit   Emitter
	logger zerolog.Logger

	pingInterval  time.Duration
	renewInterval time.Duration

	conn     *websocket.Conn
	msgCh    chan []byte
	cancel   context.CancelFunc
	disposed atomic.Bool

	pingTimer  *time.Timer
	pingSentAt time.Time
}

// PrivateOption configures the stream
type PrivateOption func(*Private)

// WithPingInterval sets the application ping re-arm interval
func WithPingInterval(d time.Duration) PrivateOption {
	return func(p *Private) {
		p.pingInterval = d
	}
}

// WithRenewInterval sets the listen key renewal interval
func WithRenewInterval(d time.Duration) PrivateOption {
	return func(p *Private) {
		p.renewInterval = d
	}
}

// NewPrivate creates a private stream
func NewPrivate(wsURL string, rest ListenKeyClient, st StoreWriter, emit Emitter, logger zerolog.Logger, opts ...PrivateOption) *Private {
	p := &Private{
		wsURL:         wsURL,
		rest:          rest,
		store:         st,
		emit:          emit,
		logger:        logger,
		pingInterval:  10 * time.Second,
		renewInterval: 30 * time.Minute,
		msgCh:         make(chan []byte, 64),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Connect acquires a listen key, opens the websocket and starts the
// reader and the run loop.
func (p *Private) Connect(ctx context.Context) error {
	listenKey, err := p.rest.CreateListenKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen key: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, p.wsURL+"/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("failed to connect user-data stream: %w", err)
	}
	p.conn = conn

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.readLoop()
	go p.run(runCtx)

	p.logger.Info().Msg("user-data stream connected")
	return nil
}

// Dispose stops the stream: timers stop re-arming, the socket closes
// and every subsequent callback short-circuits.
func (p *Private) Dispose() {
	if p.disposed.Swap(true) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// readLoop feeds raw frames into the run loop's channel
func (p *Private) readLoop() {
	defer close(p.msgCh)

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if !p.disposed.Load() {
				p.emit.EmitError(fmt.Sprintf("user-data stream read failed: %v", err))
			}
			return
		}
		p.msgCh <- message
	}
}

// run is the single long-running task: it owns the ping timer and the
// listen key renewal, and folds every inbound frame into the store.
func (p *Private) run(ctx context.Context) {
	p.sendPing()
	p.pingTimer = time.NewTimer(p.pingInterval)
	defer p.pingTimer.Stop()

	renew := time.NewTicker(p.renewInterval)
	defer renew.Stop()

	for {
		select {
		case msg, ok := <-p.msgCh:
			if !ok {
				return
			}
			p.handleMessage(msg)

		case <-p.pingTimer.C:
			p.sendPing()
			p.pingTimer.Reset(p.pingInterval)

		case <-renew.C:
			if err := p.rest.KeepAliveListenKey(ctx); err != nil {
				p.emit.EmitError(fmt.Sprintf("listen key renewal failed: %v", err))
			}

		case <-ctx.Done():
			return
		}
	}
}

// sendPing issues the application-level ping and records the send time
func (p *Private) sendPing() {
	if p.disposed.Load() || p.conn == nil {
		return
	}

	p.pingSentAt = time.Now()
	msg := fmt.Sprintf(`{"id":%d,"method":"LIST_SUBSCRIPTIONS"}`, pingRequestID)
	if err := p.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		p.emit.EmitError(fmt.Sprintf("stream ping failed: %v", err))
	}
}

// probe is the minimal envelope used to route inbound frames
type probe struct {
	ID    *int64 `json:"id"`
	Event string `json:"e"`
}

// handleMessage routes one inbound frame. Malformed frames are
// silently dropped.
func (p *Private) handleMessage(raw []byte) {
	if p.disposed.Load() {
		return
	}

	var head probe
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}

	if head.ID != nil && *head.ID == pingRequestID {
		p.handlePingEcho()
		return
	}

	switch head.Event {
	case "ACCOUNT_UPDATE":
		p.handleAccountUpdate(raw)
	case "ORDER_TRADE_UPDATE":
		p.handleOrderTradeUpdate(raw)
	}
}

// handlePingEcho folds the one-way latency into the store and rearms
// the ping timer.
func (p *Private) handlePingEcho() {
	elapsed := time.Since(p.pingSentAt)
	latency := int64(math.Round(float64(elapsed.Milliseconds()) / 2))
	p.store.SetLatency(latency)

	if p.pingTimer != nil {
		if !p.pingTimer.Stop() {
			select {
			case <-p.pingTimer.C:
			default:
			}
		}
		p.pingTimer.Reset(p.pingInterval)
	}
}

type accountUpdateEvent struct {
	Data struct {
		Balances []struct {
			Asset         string          `json:"a"`
			WalletBalance decimal.Decimal `json:"wb"`
		} `json:"B"`
		Positions []struct {
			Symbol        string          `json:"s"`
			PositionAmt   decimal.Decimal `json:"pa"`
			EntryPrice    decimal.Decimal `json:"ep"`
			UnrealizedPnl decimal.Decimal `json:"up"`
			PositionSide  string          `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

// handleAccountUpdate reconciles position and balance slots
func (p *Private) handleAccountUpdate(raw []byte) {
	p.emit.EmitPositionUpdate(raw)

	var event accountUpdateEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return
	}

	for _, slot := range event.Data.Positions {
		side := decodePositionSide(slot.PositionSide, slot.PositionAmt)
		p.store.ApplyPositionUpdate(slot.Symbol, side, slot.EntryPrice, slot.PositionAmt, slot.UnrealizedPnl)
	}

	for _, slot := range event.Data.Balances {
		if err := p.store.UpdateAssetWallet(slot.Asset, slot.WalletBalance); err != nil {
			p.emit.EmitError(fmt.Sprintf("balance reconciliation failed for %s: %v", slot.Asset, err))
		}
	}
}

type orderTradeUpdateEvent struct {
	Order struct {
		Symbol        string           `json:"s"`
		ClientOrderID string           `json:"c"`
		Side          string           `json:"S"`
		Type          string           `json:"o"`
		Status        string           `json:"X"`
		OrderID       int64            `json:"i"`
		Quantity      decimal.Decimal  `json:"q"`
		Price         decimal.Decimal  `json:"p"`
		StopPrice     decimal.Decimal  `json:"sp"`
		AvgPrice      decimal.Decimal  `json:"ap"`
		LastFilled    decimal.Decimal  `json:"l"`
		CumFilled     decimal.Decimal  `json:"z"`
		Commission    *decimal.Decimal `json:"n"`
		RealizedPnl   decimal.Decimal  `json:"rp"`
		ReduceOnly    bool             `json:"R"`
		Maker         bool             `json:"m"`
	} `json:"o"`
}

// handleOrderTradeUpdate folds order lifecycle and fill events
func (p *Private) handleOrderTradeUpdate(raw []byte) {
	var event orderTradeUpdateEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return
	}
	o := event.Order

	switch o.Status {
	case "PARTIALLY_FILLED", "FILLED":
		rec := events.FillRecord{
			Symbol:        o.Symbol,
			ClientOrderID: o.ClientOrderID,
			Side:          o.Side,
			Price:         o.AvgPrice,
			Amount:        o.LastFilled,
			Notional:      o.LastFilled.Mul(o.AvgPrice),
			RealizedPnl:   o.RealizedPnl,
			Commission:    o.Commission,
			ReduceOnly:    o.ReduceOnly,
			Maker:         o.Maker,
		}
		p.emit.EmitFill(rec)
	}

	switch o.Status {
	case "NEW":
		price := o.Price
		if price.IsZero() {
			price = o.StopPrice
		}
		p.store.UpsertOrder(store.Order{
			ID:         o.ClientOrderID,
			OrderID:    o.OrderID,
			Status:     store.OrderStatusOpen,
			Symbol:     o.Symbol,
			Type:       decodeOrderType(o.Type),
			Side:       decodeOrderSide(o.Side),
			Price:      price,
			Amount:     o.Quantity,
			Filled:     o.CumFilled,
			ReduceOnly: o.ReduceOnly,
		})

	case "CANCELED", "FILLED", "EXPIRED":
		p.store.RemoveOrder(o.ClientOrderID)
	}
}

func decodePositionSide(ps string, amt decimal.Decimal) store.PositionSide {
	switch ps {
	case "LONG":
		return store.PositionSideLong
	case "SHORT":
		return store.PositionSideShort
	}
	// One-way mode reports BOTH; direction rides on the sign
	if amt.IsNegative() {
		return store.PositionSideShort
	}
	return store.PositionSideLong
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
