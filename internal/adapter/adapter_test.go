package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecex/internal/auth"
	"safecex/internal/events"
	"safecex/internal/market"
	"safecex/internal/orders"
	"safecex/internal/rest"
	"safecex/internal/store"
	"safecex/internal/stream"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalogMarket(symbol string) *market.Market {
	m := &market.Market{Symbol: symbol, Base: "BTC", Quote: "USDT", Active: true}
	m.Precision.Amount = dec("0.001")
	m.Precision.Price = dec("0.1")
	m.Limits.Amount.Min = dec("0.001")
	m.Limits.Amount.Max = dec("1000")
	m.Limits.MinNotional = dec("5")
	m.Limits.Leverage.Min = 1
	m.Limits.Leverage.Max = 125
	return m
}

// newTestAdapter wires an adapter against a single httptest venue
func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *store.Store, *events.Emitter) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	signer := auth.NewSigner("k", "s")
	public := rest.NewClient(server.URL, signer, rest.WithMaxRetries(0), rest.WithoutRateLimit())
	trading := rest.NewClient(server.URL, signer, rest.WithMaxRetries(0), rest.WithoutRateLimit())

	st := store.New()
	catalog := market.NewCatalog()
	catalog.Replace([]*market.Market{testCatalogMarket("BTCUSDT")})
	emitter := events.New(zerolog.Nop())
	formatter := orders.NewFormatter(catalog, st, zerolog.Nop())
	queue := orders.NewQueueWithConfig(trading, emitter, zerolog.Nop(), orders.QueueConfig{
		Window10:  100 * time.Millisecond,
		Cap10:     50,
		Window60:  time.Second,
		Cap60:     100,
		BatchSize: 5,
	})
	privateStream := stream.NewPrivate("ws://unused", public, st, emitter, zerolog.Nop())

	a := New(catalog, st, emitter, formatter, queue, public, trading, privateStream, time.Minute, zerolog.Nop())
	t.Cleanup(a.Dispose)
	return a, st, emitter
}

const accountBody = `{
	"totalWalletBalance": "2000",
	"totalUnrealizedProfit": "15",
	"totalInitialMargin": "200",
	"availableBalance": "800",
	"assets": [
		{"asset": "USDT", "walletBalance": "1000"},
		{"asset": "BNB", "walletBalance": "2"},
		{"asset": "DUST", "walletBalance": "0"}
	],
	"positions": [
		{"symbol": "BTCUSDT", "positionAmt": "0.5", "entryPrice": "50000", "unrealizedProfit": "10", "leverage": "20", "positionSide": "LONG"},
		{"symbol": "UNKNOWNUSDT", "positionAmt": "1", "entryPrice": "10", "unrealizedProfit": "0", "leverage": "5", "positionSide": "BOTH"},
		{"symbol": "BTCUSDT", "positionAmt": "0", "entryPrice": "0", "unrealizedProfit": "0", "leverage": "20", "positionSide": "SHORT"}
	]
}`

func TestAdapter_Tick(t *testing.T) {
	a, st, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v2/account", r.URL.Path)
		w.Write([]byte(accountBody))
	})
	st.SetTickers([]store.Ticker{{Symbol: "BNBUSDT", Last: dec("500")}})

	a.tick(context.Background())

	t.Run("balance derives totals from asset values", func(t *testing.T) {
		b := st.Balance()
		// 1000 USDT + 2 BNB at 500
		assert.True(t, dec("2000").Equal(b.Total))
		assert.True(t, dec("800").Equal(b.Free))
		assert.True(t, dec("200").Equal(b.Used))
		assert.True(t, dec("15").Equal(b.UPnl))
		assert.Len(t, b.Assets, 2, "zero-balance assets are dropped")
	})

	t.Run("positions filter against the catalog", func(t *testing.T) {
		positions := st.Positions()
		require.Len(t, positions, 1, "unknown symbols and flat slots are dropped")

		p := positions[0]
		assert.Equal(t, "BTCUSDT", p.Symbol)
		assert.Equal(t, store.PositionSideLong, p.Side)
		assert.True(t, dec("0.5").Equal(p.Contracts))
		assert.Equal(t, 20, p.Leverage)
		// |0.5*50000 + 10|
		assert.True(t, dec("25010").Equal(p.Notional))
	})
}

func TestAdapter_TickKeepsPriorStateOnError(t *testing.T) {
	var fail atomic.Bool
	a, st, emitter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"code": -1000, "msg": "internal"}`))
			return
		}
		w.Write([]byte(accountBody))
	})
	st.SetTickers([]store.Ticker{{Symbol: "BNBUSDT", Last: dec("500")}})

	var errs []string
	emitter.OnError(func(msg string) { errs = append(errs, msg) })

	a.tick(context.Background())
	before := st.Balance()
	require.True(t, dec("2000").Equal(before.Total))

	fail.Store(true)
	a.tick(context.Background())

	assert.NotEmpty(t, errs)
	assert.Equal(t, before, st.Balance(), "prior state stands after a failed tick")
}

func TestAdapter_LoadMarkets(t *testing.T) {
	a, _, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			w.Write([]byte(`{"symbols": [
				{"symbol": "BTCUSDT", "contractType": "PERPETUAL", "status": "TRADING",
					"baseAsset": "BTC", "quoteAsset": "USDT", "marginAsset": "USDT",
					"filters": [
						{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"},
						{"filterType": "PRICE_FILTER", "tickSize": "0.1"},
						{"filterType": "MIN_NOTIONAL", "notional": "5"}
					]},
				{"symbol": "BTCUSDT_240927", "contractType": "CURRENT_QUARTER", "status": "TRADING",
					"baseAsset": "BTC", "quoteAsset": "USDT", "marginAsset": "USDT", "filters": []},
				{"symbol": "BTCUSD", "contractType": "PERPETUAL", "status": "TRADING",
					"baseAsset": "BTC", "quoteAsset": "USD", "marginAsset": "BTC", "filters": []},
				{"symbol": "FTTUSDT", "contractType": "PERPETUAL", "status": "TRADING",
					"baseAsset": "FTT", "quoteAsset": "USDT", "marginAsset": "USDT", "filters": []}
			]}`))
		case "/fapi/v1/leverageBracket":
			w.Write([]byte(`[{"symbol": "BTCUSDT", "brackets": [
				{"bracket": 1, "initialLeverage": 125},
				{"bracket": 2, "initialLeverage": 50}
			]}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	require.NoError(t, a.loadMarkets(context.Background()))

	catalog := a.catalog
	assert.Equal(t, 1, catalog.Len(), "only USDT-margined perpetuals off the denylist survive")

	m, err := catalog.Get("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT:USDT", m.ID)
	assert.True(t, m.Active)
	assert.True(t, dec("0.001").Equal(m.Precision.Amount))
	assert.True(t, dec("0.1").Equal(m.Precision.Price))
	assert.True(t, dec("5").Equal(m.Limits.MinNotional))
	assert.Equal(t, 125, m.Limits.Leverage.Max)
}

func TestAdapter_PlaceOrders(t *testing.T) {
	var placed atomic.Int64
	a, _, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fapi/v1/order", r.URL.Path)
		placed.Add(1)
		w.Write([]byte(`{"orderId": 1, "clientOrderId": "` + r.URL.Query().Get("newClientOrderId") + `"}`))
	})

	ids, err := a.PlaceOrders(context.Background(), []orders.Intent{{
		Symbol: "BTCUSDT",
		Type:   store.OrderTypeLimit,
		Side:   store.OrderSideBuy,
		Price:  dec("100"),
		Amount: dec("1"),
	}})
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, int64(1), placed.Load())

	t.Run("formatting errors are fatal to the call", func(t *testing.T) {
		_, err := a.PlaceOrders(context.Background(), []orders.Intent{{
			Symbol: "NOPEUSDT",
			Type:   store.OrderTypeLimit,
			Side:   store.OrderSideBuy,
			Price:  dec("100"),
			Amount: dec("1"),
		}})
		assert.ErrorIs(t, err, market.ErrMarketNotFound)
		assert.Equal(t, int64(1), placed.Load(), "nothing may be submitted")
	})
}

func TestAdapter_SetPositionMode(t *testing.T) {
	t.Run("refused with open positions", func(t *testing.T) {
		var calls atomic.Int64
		a, st, emitter := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		})
		st.SetPositions([]store.Position{{Symbol: "BTCUSDT", Side: store.PositionSideLong, Contracts: dec("1")}})

		var errs []string
		emitter.OnError(func(msg string) { errs = append(errs, msg) })

		require.NoError(t, a.SetPositionMode(context.Background(), true))
		assert.NotEmpty(t, errs)
		assert.Zero(t, calls.Load(), "no venue call on refusal")
		assert.False(t, st.Hedged())
	})

	t.Run("switches when flat", func(t *testing.T) {
		a, st, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/fapi/v1/positionSide/dual", r.URL.Path)
			assert.Equal(t, "true", r.URL.Query().Get("dualSidePosition"))
			w.Write([]byte(`{"code": 200, "msg": "success"}`))
		})

		require.NoError(t, a.SetPositionMode(context.Background(), true))
		assert.True(t, st.Hedged())
	})
}

func TestAdapter_SetLeverageClampsToBracket(t *testing.T) {
	var requested string
	a, _, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Query().Get("leverage")
		w.Write([]byte(`{"symbol": "BTCUSDT", "leverage": 125}`))
	})

	require.NoError(t, a.SetLeverage(context.Background(), "BTCUSDT", 500))
	assert.Equal(t, "125", requested)

	_, err := a.catalog.Get("NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, a.SetLeverage(context.Background(), "NOPE", 10), market.ErrMarketNotFound)
}
