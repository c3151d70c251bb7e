package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecex/internal/auth"
	"safecex/internal/orders"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	signer := auth.NewSigner("test-key", "test-secret")
	client := NewClient(server.URL, signer, WithMaxRetries(0), WithoutRateLimit())
	return client, server
}

func TestClient_GetExchangeInfo(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		w.Write([]byte(`{
			"symbols": [{
				"symbol": "BTCUSDT",
				"contractType": "PERPETUAL",
				"status": "TRADING",
				"baseAsset": "BTC",
				"quoteAsset": "USDT",
				"marginAsset": "USDT",
				"filters": [
					{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"},
					{"filterType": "PRICE_FILTER", "minPrice": "0.1", "maxPrice": "1000000", "tickSize": "0.1"},
					{"filterType": "MIN_NOTIONAL", "notional": "5"}
				]
			}]
		}`))
	})

	info, err := client.GetExchangeInfo(context.Background())
	require.NoError(t, err)
	require.Len(t, info.Symbols, 1)

	s := info.Symbols[0]
	assert.Equal(t, "BTCUSDT", s.Symbol)
	assert.Equal(t, "PERPETUAL", s.ContractType)
	require.Len(t, s.Filters, 3)
	assert.Equal(t, "0.001", s.Filters[0].StepSize.String())
	assert.Equal(t, "5", s.Filters[2].Notional.String())
}

func TestClient_PlaceOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		query := r.URL.Query()
		assert.Equal(t, "BTCUSDT", query.Get("symbol"))
		assert.NotEmpty(t, query.Get("signature"))
		assert.NotEmpty(t, query.Get("timestamp"))

		w.Write([]byte(`{"orderId": 42, "clientOrderId": "cid-1", "symbol": "BTCUSDT", "status": "NEW"}`))
	})

	p := orders.NewPayload()
	p.Set("symbol", "BTCUSDT")
	p.Set("side", "BUY")
	p.Set("type", "MARKET")
	p.Set("quantity", "0.5")
	p.Set("newClientOrderId", "cid-1")

	resp, err := client.PlaceOrder(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.OrderID)
	assert.Equal(t, "cid-1", resp.ClientOrderID)
}

func TestClient_PlaceBatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/batchOrders", r.URL.Path)

		var batch []map[string]string
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("batchOrders")), &batch))
		require.Len(t, batch, 2)
		assert.Equal(t, "BTCUSDT", batch[0]["symbol"])

		w.Write([]byte(`[
			{"orderId": 1, "clientOrderId": "cid-1"},
			{"code": -2010, "msg": "Account has insufficient balance"}
		]`))
	})

	first := orders.NewPayload()
	first.Set("symbol", "BTCUSDT")
	first.Set("newClientOrderId", "cid-1")
	second := orders.NewPayload()
	second.Set("symbol", "BTCUSDT")
	second.Set("newClientOrderId", "cid-2")

	entries, err := client.PlaceBatch(context.Background(), []*orders.Payload{first, second})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].IsError())
	assert.True(t, entries[1].IsError())
	assert.Equal(t, -2010, entries[1].Code)
}

func TestClient_PlaceBatchBounds(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := client.PlaceBatch(context.Background(), nil)
	assert.Error(t, err)

	oversized := make([]*orders.Payload, 6)
	for i := range oversized {
		oversized[i] = orders.NewPayload()
	}
	_, err = client.PlaceBatch(context.Background(), oversized)
	assert.Error(t, err)
}

func TestClient_Submit(t *testing.T) {
	t.Run("single payload uses the order endpoint", func(t *testing.T) {
		var path string
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			w.Write([]byte(`{"orderId": 1, "clientOrderId": "cid-1"}`))
		})

		p := orders.NewPayload()
		p.Set("symbol", "BTCUSDT")
		p.Set("newClientOrderId", "cid-1")

		outcomes := client.Submit(context.Background(), []*orders.Payload{p})
		require.Len(t, outcomes, 1)
		assert.NoError(t, outcomes[0].Err)
		assert.Equal(t, "cid-1", outcomes[0].OrderID)
		assert.Equal(t, "/fapi/v1/order", path)
	})

	t.Run("multiple payloads use the batch endpoint", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/fapi/v1/batchOrders", r.URL.Path)
			w.Write([]byte(`[
				{"orderId": 1, "clientOrderId": "cid-1"},
				{"code": -1111, "msg": "Precision is over the maximum"}
			]`))
		})

		first := orders.NewPayload()
		first.Set("symbol", "BTCUSDT")
		first.Set("newClientOrderId", "cid-1")
		second := orders.NewPayload()
		second.Set("symbol", "BTCUSDT")
		second.Set("newClientOrderId", "cid-2")

		outcomes := client.Submit(context.Background(), []*orders.Payload{first, second})
		require.Len(t, outcomes, 2)
		assert.NoError(t, outcomes[0].Err)
		require.Error(t, outcomes[1].Err)

		var apiErr *APIError
		require.ErrorAs(t, outcomes[1].Err, &apiErr)
		assert.Equal(t, -1111, apiErr.Code)
	})

	t.Run("batch request failure maps to every payload", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code": -1021, "msg": "Timestamp outside recvWindow"}`))
		})
		client.maxRetries = 0

		first := orders.NewPayload()
		first.Set("symbol", "BTCUSDT")
		first.Set("newClientOrderId", "cid-1")
		second := orders.NewPayload()
		second.Set("symbol", "BTCUSDT")
		second.Set("newClientOrderId", "cid-2")

		outcomes := client.Submit(context.Background(), []*orders.Payload{first, second})
		require.Len(t, outcomes, 2)
		assert.Error(t, outcomes[0].Err)
		assert.Error(t, outcomes[1].Err)
		assert.Equal(t, outcomes[0].Err, outcomes[1].Err)
	})
}

func TestClient_CancelOrder(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "cid-1", r.URL.Query().Get("origClientOrderId"))
		w.Write([]byte(`{"orderId": 1, "status": "CANCELED"}`))
	})

	require.NoError(t, client.CancelOrder(context.Background(), "BTCUSDT", "cid-1"))
	assert.Error(t, client.CancelOrder(context.Background(), "", "cid-1"))
	assert.Error(t, client.CancelOrder(context.Background(), "BTCUSDT", ""))
}

func TestClient_GetPositionMode(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dualSidePosition": true}`))
	})

	hedged, err := client.GetPositionMode(context.Background())
	require.NoError(t, err)
	assert.True(t, hedged)
}

func TestClient_ListenKey(t *testing.T) {
	var methods []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/listenKey", r.URL.Path)
		methods = append(methods, r.Method)
		w.Write([]byte(`{"listenKey": "abc"}`))
	})

	key, err := client.CreateListenKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	require.NoError(t, client.KeepAliveListenKey(context.Background()))
	assert.Equal(t, []string{http.MethodPost, http.MethodPut}, methods)
}

func TestClient_VenueErrorSurfaces(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code": -4068, "msg": "Position side cannot be changed if there exists open orders"}`))
	})

	err := client.SetPositionMode(context.Background(), true)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, -4068, apiErr.Code)
	assert.True(t, apiErr.IsPositionModeError())
}
