// Package bitget is the live execution adapter for Bitget USDT-margined
// futures (the umcbl product line) over its signed REST API.
package bitget

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the production REST endpoint.
	DefaultBaseURL = "https://api.bitget.com"

	productType = "umcbl"
	marginCoin  = "USDT"
)

// Credentials authenticate private endpoints.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Client is the low-level REST client. Market-data endpoints work
// without credentials; account and order endpoints require them.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
}

// NewClient creates a Bitget REST client. An empty baseURL selects
// production.
func NewClient(baseURL string, creds Credentials) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Ticker returns the last traded price for an exchange symbol.
func (c *Client) Ticker(ctx context.Context, exSymbol string) (float64, error) {
	q := url.Values{"symbol": {exSymbol}}
	data, err := c.do(ctx, http.MethodGet, "/api/mix/v1/market/ticker", q, nil, false)
	if err != nil {
		return 0, fmt.Errorf("bitget: ticker %s: %w", exSymbol, err)
	}
	var t struct {
		Last string `json:"last"`
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return 0, fmt.Errorf("bitget: decode ticker: %w", err)
	}
	return parseFloat(t.Last), nil
}

// Contract is one tradable futures contract.
type Contract struct {
	Symbol      string `json:"symbol"`
	BaseCoin    string `json:"baseCoin"`
	QuoteCoin   string `json:"quoteCoin"`
	MinTradeNum string `json:"minTradeNum"`
	PricePlace  string `json:"pricePlace"`
	VolumePlace string `json:"volumePlace"`
}

// Contracts lists the tradable umcbl contracts.
func (c *Client) Contracts(ctx context.Context) ([]Contract, error) {
	q := url.Values{"productType": {productType}}
	data, err := c.do(ctx, http.MethodGet, "/api/mix/v1/market/contracts", q, nil, false)
	if err != nil {
		return nil, fmt.Errorf("bitget: contracts: %w", err)
	}
	var out []Contract
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("bitget: decode contracts: %w", err)
	}
	return out, nil
}

// UsdtEquity returns the USDT account equity.
func (c *Client) UsdtEquity(ctx context.Context) (float64, error) {
	q := url.Values{"productType": {productType}}
	data, err := c.do(ctx, http.MethodGet, "/api/mix/v1/account/accounts", q, nil, true)
	if err != nil {
		return 0, fmt.Errorf("bitget: accounts: %w", err)
	}
	var rows []struct {
		MarginCoin string `json:"marginCoin"`
		Equity     string `json:"equity"`
		UsdtEquity string `json:"usdtEquity"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return 0, fmt.Errorf("bitget: decode accounts: %w", err)
	}
	for _, r := range rows {
		if r.MarginCoin == marginCoin {
			if eq := parseFloat(r.UsdtEquity); eq > 0 {
				return eq, nil
			}
			return parseFloat(r.Equity), nil
		}
	}
	return 0, nil
}

// PositionRow is one raw position from the allPosition endpoint.
type PositionRow struct {
	Symbol           string `json:"symbol"`
	HoldSide         string `json:"holdSide"` // "long" | "short"
	Total            string `json:"total"`
	AverageOpenPrice string `json:"averageOpenPrice"`
	MarketPrice      string `json:"marketPrice"`
}

// AllPositions lists every USDT-margined position on the account.
func (c *Client) AllPositions(ctx context.Context) ([]PositionRow, error) {
	q := url.Values{"productType": {productType}, "marginCoin": {marginCoin}}
	data, err := c.do(ctx, http.MethodGet, "/api/mix/v1/position/allPosition", q, nil, true)
	if err != nil {
		return nil, fmt.Errorf("bitget: positions: %w", err)
	}
	var out []PositionRow
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("bitget: decode positions: %w", err)
	}
	return out, nil
}

// OrderParams is the placeOrder request body.
type OrderParams struct {
	Symbol              string `json:"symbol"`
	MarginCoin          string `json:"marginCoin"`
	Size                string `json:"size"`
	Price               string `json:"price,omitempty"`
	Side                string `json:"side"` // open_long, open_short, close_long, close_short
	OrderType           string `json:"orderType"`
	PresetStopLossPrice string `json:"presetStopLossPrice,omitempty"`
	PresetTakeProfit    string `json:"presetTakeProfitPrice,omitempty"`
}

// PlaceOrder submits an order and returns the exchange order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	p.MarginCoin = marginCoin
	data, err := c.do(ctx, http.MethodPost, "/api/mix/v1/order/placeOrder", nil, p, true)
	if err != nil {
		return "", fmt.Errorf("bitget: place order %s: %w", p.Symbol, err)
	}
	var resp struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("bitget: decode order response: %w", err)
	}
	return resp.OrderID, nil
}

// SetLeverage sets cross leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, exSymbol string, leverage int) error {
	body := map[string]string{
		"symbol":     exSymbol,
		"marginCoin": marginCoin,
		"leverage":   strconv.Itoa(leverage),
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/mix/v1/account/setLeverage", nil, body, true); err != nil {
		return fmt.Errorf("bitget: set leverage %s: %w", exSymbol, err)
	}
	return nil
}

// SetMarginMode switches a symbol between crossed and fixed margin.
func (c *Client) SetMarginMode(ctx context.Context, exSymbol, mode string) error {
	body := map[string]string{
		"symbol":     exSymbol,
		"marginCoin": marginCoin,
		"marginMode": mode,
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/mix/v1/account/setMarginMode", nil, body, true); err != nil {
		return fmt.Errorf("bitget: set margin mode %s: %w", exSymbol, err)
	}
	return nil
}

// do builds, optionally signs, sends, and unwraps one API call.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody any, signed bool) (json.RawMessage, error) {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var bodyBytes []byte
	if reqBody != nil {
		var err error
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("ACCESS-KEY", c.creds.APIKey)
		req.Header.Set("ACCESS-SIGN", c.sign(ts, method, requestPath, bodyBytes))
		req.Header.Set("ACCESS-TIMESTAMP", ts)
		req.Header.Set("ACCESS-PASSPHRASE", c.creds.Passphrase)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Code != "00000" {
		return nil, fmt.Errorf("api error %s: %s", envelope.Code, envelope.Msg)
	}
	return envelope.Data, nil
}

// sign computes base64(HMAC-SHA256(secret, ts + METHOD + path + body)).
func (c *Client) sign(ts, method, requestPath string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(requestPath))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
