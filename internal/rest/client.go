package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"safecex/internal/auth"
	"safecex/internal/orders"
)

// Client is the REST surface of the USDT-margined futures venue.
// The adapter runs two instances: one rate-limited for account and
// market-data traffic, one unthrottled for order placement.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	signer      *auth.Signer
	rateLimiter *RateLimiter
	maxRetries  int
}

// Option configures the client
type Option func(*Client)

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(maxRetries int) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
	}
}

// WithRateLimit throttles the client with a token bucket
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(requestsPerSecond, burst)
	}
}

// WithoutRateLimit removes throttling; used by the order client whose
// submission rate is governed by the dispatch queue.
func WithoutRateLimit() Option {
	return func(c *Client) {
		c.rateLimiter = nil
	}
}

// NewClient creates a new REST client
func NewClient(baseURL string, signer *auth.Signer, opts ...Option) *Client {
	client := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		signer:      signer,
		rateLimiter: NewRateLimiter(3, 3),
		maxRetries:  3,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// BaseURL returns the base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetExchangeInfo fetches trading rules and the instrument set
func (c *Client) GetExchangeInfo(ctx context.Context) (*ExchangeInfo, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v1/exchangeInfo", nil, false)
	if err != nil {
		return nil, ErrorWithContext(err, "GetExchangeInfo")
	}

	var info ExchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, ErrorWithContext(err, "GetExchangeInfo")
	}

	return &info, nil
}

// GetLeverageBrackets fetches the leverage brackets for all symbols
func (c *Client) GetLeverageBrackets(ctx context.Context) ([]LeverageBracket, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v1/leverageBracket", nil, true)
	if err != nil {
		return nil, ErrorWithContext(err, "GetLeverageBrackets")
	}

	var brackets []LeverageBracket
	if err := json.Unmarshal(body, &brackets); err != nil {
		return nil, ErrorWithContext(err, "GetLeverageBrackets")
	}

	return brackets, nil
}

// GetTickers24h fetches 24h rolling statistics for every symbol
func (c *Client) GetTickers24h(ctx context.Context) ([]Ticker24h, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v1/ticker/24hr", nil, false)
	if err != nil {
		return nil, ErrorWithContext(err, "GetTickers24h")
	}

	var tickers []Ticker24h
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, ErrorWithContext(err, "GetTickers24h")
	}

	return tickers, nil
}

// GetBookTickers fetches the best bid/ask for every symbol
func (c *Client) GetBookTickers(ctx context.Context) ([]BookTicker, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v1/ticker/bookTicker", nil, false)
	if err != nil {
		return nil, ErrorWithContext(err, "GetBookTickers")
	}

	var tickers []BookTicker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, ErrorWithContext(err, "GetBookTickers")
	}

	return tickers, nil
}

// GetPriceTickers fetches the latest traded price for every symbol
func (c *Client) GetPriceTickers(ctx context.Context) ([]PriceTicker, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v1/ticker/price", nil, false)
	if err != nil {
		return nil, ErrorWithContext(err, "GetPriceTickers")
	}

	var tickers []PriceTicker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, ErrorWithContext(err, "GetPriceTickers")
	}

	return tickers, nil
}

// GetAccount fetches account balance and positions in one call
func (c *Client) GetAccount(ctx context.Context) (*AccountResponse, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v2/account", nil, true)
	if err != nil {
		return nil, ErrorWithContext(err, "GetAccount")
	}

	var account AccountResponse
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, ErrorWithContext(err, "GetAccount")
	}

	return &account, nil
}

// GetBalance fetches the per-asset wallet balances
func (c *Client) GetBalance(ctx context.Context) ([]AssetBalance, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v2/balance", nil, true)
	if err != nil {
		return nil, ErrorWithContext(err, "GetBalance")
	}

	var balances []AssetBalance
	if err := json.Unmarshal(body, &balances); err != nil {
		return nil, ErrorWithContext(err, "GetBalance")
	}

	return balances, nil
}

// GetOpenOrders lists open orders; symbol is optional
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OrderResponse, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.doRequest(ctx, "GET", "/fapi/v1/openOrders", params, true)
	if err != nil {
		return nil, ErrorWithContext(err, "GetOpenOrders")
	}

	var orderList []OrderResponse
	if err := json.Unmarshal(body, &orderList); err != nil {
		return nil, ErrorWithContext(err, "GetOpenOrders")
	}

	return orderList, nil
}

// GetPositionMode reports whether the account runs in hedge mode
func (c *Client) GetPositionMode(ctx context.Context) (bool, error) {
	body, err := c.doRequest(ctx, "GET", "/fapi/v1/positionSide/dual", nil, true)
	if err != nil {
		return false, ErrorWithContext(err, "GetPositionMode")
	}

	var mode PositionModeResponse
	if err := json.Unmarshal(body, &mode); err != nil {
		return false, ErrorWithContext(err, "GetPositionMode")
	}

	return mode.DualSidePosition, nil
}

// SetPositionMode switches the account between hedge and one-way mode.
// The venue rejects the change while positions are open.
func (c *Client) SetPositionMode(ctx context.Context, hedged bool) error {
	params := url.Values{}
	params.Set("dualSidePosition", strconv.FormatBool(hedged))

	_, err := c.doRequest(ctx, "POST", "/fapi/v1/positionSide/dual", params, true)
	if err != nil {
		return ErrorWithContext(err, "SetPositionMode")
	}

	return nil
}

// SetLeverage changes the initial leverage for a symbol
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) (*LeverageResponse, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if leverage < 1 {
		return nil, fmt.Errorf("invalid leverage: %d", leverage)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	body, err := c.doRequest(ctx, "POST", "/fapi/v1/leverage", params, true)
	if err != nil {
		return nil, ErrorWithContext(err, "SetLeverage")
	}

	var resp LeverageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrorWithContext(err, "SetLeverage")
	}

	return &resp, nil
}

// PlaceOrder submits a single venue payload
func (c *Client) PlaceOrder(ctx context.Context, payload *orders.Payload) (*OrderResponse, error) {
	if payload.Symbol() == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	body, err := c.doRequest(ctx, "POST", "/fapi/v1/order", payload.Values(), true)
	if err != nil {
		return nil, ErrorWithContext(err, "PlaceOrder")
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrorWithContext(err, "PlaceOrder")
	}

	return &resp, nil
}

// PlaceBatch submits up to five payloads to the batch endpoint.
// The response carries one entry per payload, in submission order;
// an entry is either an acknowledgement or a per-payload venue error.
func (c *Client) PlaceBatch(ctx context.Context, payloads []*orders.Payload) ([]BatchEntry, error) {
	if len(payloads) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(payloads) > 5 {
		return nil, fmt.Errorf("batch too large: %d", len(payloads))
	}

	encoded, err := json.Marshal(payloads)
	if err != nil {
		return nil, ErrorWithContext(err, "PlaceBatch")
	}

	params := url.Values{}
	params.Set("batchOrders", string(encoded))

	body, err := c.doRequest(ctx, "POST", "/fapi/v1/batchOrders", params, true)
	if err != nil {
		return nil, ErrorWithContext(err, "PlaceBatch")
	}

	var entries []BatchEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, ErrorWithContext(err, "PlaceBatch")
	}

	return entries, nil
}

// CancelOrder cancels an order by client order ID
func (c *Client) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if clientOrderID == "" {
		return fmt.Errorf("client order ID is required")
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	_, err := c.doRequest(ctx, "DELETE", "/fapi/v1/order", params, true)
	if err != nil {
		return ErrorWithContext(err, "CancelOrder")
	}

	return nil
}

// CancelBatch cancels up to ten orders by client order ID
func (c *Client) CancelBatch(ctx context.Context, symbol string, clientOrderIDs []string) ([]BatchEntry, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if len(clientOrderIDs) == 0 {
		return nil, fmt.Errorf("empty cancel batch")
	}

	encoded, err := json.Marshal(clientOrderIDs)
	if err != nil {
		return nil, ErrorWithContext(err, "CancelBatch")
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderIdList", string(encoded))

	body, err := c.doRequest(ctx, "DELETE", "/fapi/v1/batchOrders", params, true)
	if err != nil {
		return nil, ErrorWithContext(err, "CancelBatch")
	}

	var entries []BatchEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, ErrorWithContext(err, "CancelBatch")
	}

	return entries, nil
}

// CancelAllOpenOrders cancels every open order on a symbol
func (c *Client) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	params := url.Values{}
	params.Set("symbol", symbol)

	_, err := c.doRequest(ctx, "DELETE", "/fapi/v1/allOpenOrders", params, true)
	if err != nil {
		return ErrorWithContext(err, "CancelAllOpenOrders")
	}

	return nil
}

// GetKlines fetches candlesticks for a symbol
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doRequest(ctx, "GET", "/fapi/v1/klines", params, false)
	if err != nil {
		return nil, ErrorWithContext(err, "GetKlines")
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrorWithContext(err, "GetKlines")
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		var k Kline
		if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
			continue
		}
		k.Open = parseDecimalJSON(row[1])
		k.High = parseDecimalJSON(row[2])
		k.Low = parseDecimalJSON(row[3])
		k.Close = parseDecimalJSON(row[4])
		k.Volume = parseDecimalJSON(row[5])
		if err := json.Unmarshal(row[6], &k.CloseTime); err != nil {
			continue
		}
		klines = append(klines, k)
	}

	return klines, nil
}

// CreateListenKey opens a user-data stream and returns its listen key
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, "POST", "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return "", ErrorWithContext(err, "CreateListenKey")
	}

	var resp ListenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", ErrorWithContext(err, "CreateListenKey")
	}

	return resp.ListenKey, nil
}

// KeepAliveListenKey renews the user-data stream listen key
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	_, err := c.doRequest(ctx, "PUT", "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return ErrorWithContext(err, "KeepAliveListenKey")
	}

	return nil
}

// doRequest handles request execution with retries and rate limiting
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.rateLimiter != nil {
			if err := c.rateLimiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		requestParams := params
		if requestParams == nil {
			requestParams = url.Values{}
		}

		if signed {
			if c.signer == nil {
				return nil, fmt.Errorf("signer required for signed request")
			}
			requestParams = c.signer.SignedRequest(requestParams)
		}

		// The venue expects all parameters in the query string, even for POST
		requestURL := c.baseURL + path
		if len(requestParams) > 0 {
			requestURL += "?" + requestParams.Encode()
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		if c.signer != nil {
			req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries && isNetworkError(err) {
				c.waitForRetry(attempt)
				continue
			}
			return nil, err
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries {
				c.waitForRetry(attempt)
				continue
			}
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		resp.Body = io.NopCloser(bytes.NewReader(respBody))
		apiErr := ParseAPIError(resp)
		lastErr = apiErr

		if attempt < c.maxRetries && IsRetryableError(apiErr) {
			c.waitForRetry(attempt)
			continue
		}

		return nil, apiErr
	}

	return nil, lastErr
}

// waitForRetry implements exponential backoff with jitter
func (c *Client) waitForRetry(attempt int) {
	baseDelay := 100 * time.Millisecond
	maxDelay := 2 * time.Second

	delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	// Add small jitter (±20%)
	jitterFactor := float64(time.Now().UnixNano()%100) / 100.0
	jitter := time.Duration(float64(delay) * 0.2 * (2*jitterFactor - 1))
	delay += jitter

	time.Sleep(delay)
}

// isNetworkError checks if an error is a network-related error
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection refused",
		"no such host",
		"timeout",
		"network unreachable",
		"connection reset",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

func parseDecimalJSON(raw json.RawMessage) decimal.Decimal {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
