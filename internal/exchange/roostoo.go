package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const balanceDust = 1e-8

// Roostoo talks to a Roostoo-style spot exchange. Private endpoints are
// signed with HMAC-SHA256 over the sorted query string.
type Roostoo struct {
	http   *resty.Client
	apiKey string
	secret string
	log    zerolog.Logger
	now    func() time.Time
}

// NewRoostoo builds a REST client for the given base URL and credentials.
func NewRoostoo(baseURL, apiKey, secret string, log zerolog.Logger) *Roostoo {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetTimeout(10 * time.Second)
	return &Roostoo{
		http:   client,
		apiKey: apiKey,
		secret: secret,
		log:    log,
		now:    time.Now,
	}
}

type tickerResponse struct {
	Success bool   `json:"Success"`
	ErrMsg  string `json:"ErrMsg"`
	Data    map[string]struct {
		LastPrice float64 `json:"LastPrice"`
	} `json:"Data"`
}

type balanceResponse struct {
	Success    bool   `json:"Success"`
	ErrMsg     string `json:"ErrMsg"`
	SpotWallet map[string]struct {
		Free float64 `json:"Free"`
		Lock float64 `json:"Lock"`
	} `json:"SpotWallet"`
}

type placeOrderResponse struct {
	Success     bool   `json:"Success"`
	ErrMsg      string `json:"ErrMsg"`
	OrderDetail struct {
		FilledQuantity float64 `json:"FilledQuantity"`
		UnitChange     float64 `json:"UnitChange"`
	} `json:"OrderDetail"`
}

type exchangeInfoResponse struct {
	TradePairs map[string]struct {
		AmountPrecision int     `json:"AmountPrecision"`
		MinTradeValue   float64 `json:"MinTradeValue"`
	} `json:"TradePairs"`
}

// Ticker returns the latest traded price for every listed pair.
func (c *Roostoo) Ticker(ctx context.Context) (map[string]float64, error) {
	var payload tickerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("timestamp", c.timestamp()).
		SetResult(&payload).
		Get("/v3/ticker")
	if err := classify(resp, err); err != nil {
		return nil, fmt.Errorf("ticker: %w", err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("ticker: %s: %w", payload.ErrMsg, ErrRejected)
	}
	prices := make(map[string]float64, len(payload.Data))
	for pair, data := range payload.Data {
		if data.LastPrice > 0 {
			prices[pair] = data.LastPrice
		}
	}
	return prices, nil
}

// Balances returns free cash and per-asset holdings (free + locked).
func (c *Roostoo) Balances(ctx context.Context) (Balances, error) {
	params := map[string]string{"timestamp": c.timestamp()}
	headers, _ := c.sign(params)

	var payload balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(params).
		SetResult(&payload).
		Get("/v3/balance")
	if err := classify(resp, err); err != nil {
		return Balances{}, fmt.Errorf("balance: %w", err)
	}
	if !payload.Success {
		return Balances{}, fmt.Errorf("balance: %s: %w", payload.ErrMsg, ErrRejected)
	}

	out := Balances{Holdings: make(map[string]float64)}
	for asset, amounts := range payload.SpotWallet {
		if asset == "USD" {
			out.Cash = amounts.Free
			continue
		}
		if total := amounts.Free + amounts.Lock; total > balanceDust {
			out.Holdings[asset] = total
		}
	}
	return out, nil
}

// PlaceMarketOrder submits a market order and returns the fill.
func (c *Roostoo) PlaceMarketOrder(ctx context.Context, pair string, side Side, qty float64) (OrderResult, error) {
	params := map[string]string{
		"pair":      pair,
		"side":      string(side),
		"type":      "MARKET",
		"quantity":  strconv.FormatFloat(qty, 'f', -1, 64),
		"timestamp": c.timestamp(),
	}
	headers, body := c.sign(params)

	var payload placeOrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(body).
		SetResult(&payload).
		Post("/v3/place_order")
	if err := classify(resp, err); err != nil {
		return OrderResult{}, fmt.Errorf("place order %s %s: %w", side, pair, err)
	}
	if !payload.Success {
		return OrderResult{}, fmt.Errorf("place order %s %s: %s: %w", side, pair, payload.ErrMsg, ErrRejected)
	}
	return OrderResult{
		FilledQty:   payload.OrderDetail.FilledQuantity,
		QuoteChange: payload.OrderDetail.UnitChange,
	}, nil
}

// ExchangeInfo returns the trading rules for every listed pair.
func (c *Roostoo) ExchangeInfo(ctx context.Context) (map[string]Rules, error) {
	var payload exchangeInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&payload).
		Get("/v3/exchangeInfo")
	if err := classify(resp, err); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}
	if len(payload.TradePairs) == 0 {
		return nil, fmt.Errorf("exchange info: no trade pairs: %w", ErrRejected)
	}
	rules := make(map[string]Rules, len(payload.TradePairs))
	for pair, details := range payload.TradePairs {
		rules[pair] = Rules{
			AmountPrecision: details.AmountPrecision,
			MinNotional:     details.MinTradeValue,
		}
	}
	return rules, nil
}

func (c *Roostoo) timestamp() string {
	return strconv.FormatInt(c.now().UnixMilli(), 10)
}

// sign produces the auth headers and the canonical payload: sorted k=v pairs
// joined by &, MACed with the API secret.
func (c *Roostoo) sign(params map[string]string) (map[string]string, string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + params[k]
	}
	payload := strings.Join(parts, "&")

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(payload))
	headers := map[string]string{
		"RST-API-KEY":   c.apiKey,
		"MSG-SIGNATURE": hex.EncodeToString(mac.Sum(nil)),
	}
	return headers, payload
}

// classify folds transport errors and HTTP status codes into the retryable /
// permanent taxonomy.
func classify(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrTransient)
	}
	if resp == nil {
		return ErrTransient
	}
	code := resp.StatusCode()
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("status %d: %w", code, ErrTransient)
	default:
		return fmt.Errorf("status %d: %w", code, ErrRejected)
	}
}
