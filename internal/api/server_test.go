package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safecex/internal/store"
)

type stubQueue struct {
	depth int
}

func (s *stubQueue) QueueDepth() int {
	return s.depth
}

func newTestServer(t *testing.T) (*Server, *store.Store, *stubQueue) {
	t.Helper()

	st := store.New()
	queue := &stubQueue{}
	server := NewServer(ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}, st, queue, zerolog.Nop())
	return server, st, queue
}

func doGet(t *testing.T, server *Server, path string) (int, map[string]any) {
	t.Helper()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	server.Router().ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		return w.Code, nil
	}
	return w.Code, body
}

func TestServer_Health(t *testing.T) {
	server, st, _ := newTestServer(t)

	code, body := doGet(t, server, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "starting", body["status"])

	st.SetMarketsLoaded()
	st.SetTickersLoaded()
	st.SetOrdersLoaded()
	st.SetLatency(12)

	code, body = doGet(t, server, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(12), body["latency_ms"])
}

func TestServer_Balance(t *testing.T) {
	server, st, _ := newTestServer(t)
	st.SetBalance(store.Balance{
		Free: decimal.RequireFromString("800"),
		Assets: []store.Asset{
			{Symbol: "USDT", WalletBalance: decimal.RequireFromString("1000"), USDValue: decimal.RequireFromString("1000")},
		},
	})

	code, body := doGet(t, server, "/v1/balance")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1000", body["total"])
	assert.Equal(t, "800", body["free"])
	assert.Equal(t, float64(1), body["assets"])
}

func TestServer_PositionsAndOrders(t *testing.T) {
	server, st, _ := newTestServer(t)
	st.SetPositions([]store.Position{{
		Symbol:    "BTCUSDT",
		Side:      store.PositionSideLong,
		Contracts: decimal.RequireFromString("0.5"),
	}})
	st.UpsertOrder(store.Order{
		ID:     "c-1",
		Symbol: "BTCUSDT",
		Status: store.OrderStatusOpen,
		Amount: decimal.RequireFromString("1"),
	})

	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/positions", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var positions []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0]["symbol"])

	w = httptest.NewRecorder()
	server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var tracked []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tracked))
	require.Len(t, tracked, 1)
	assert.Equal(t, "c-1", tracked[0]["id"])
}

func TestServer_Queue(t *testing.T) {
	server, _, queue := newTestServer(t)
	queue.depth = 7

	code, body := doGet(t, server, "/v1/queue")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(7), body["depth"])
}
