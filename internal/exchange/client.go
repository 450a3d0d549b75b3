// Package exchange hosts connectors for the trading venue: the signed REST
// client, the instrument-rules cache, the websocket ticker stream, and an
// in-memory simulator for paper runs and tests.
package exchange

import (
	"context"
	"errors"
)

// Side enumerates order directions accepted by the venue.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a closing order.
	Sell Side = "SELL"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, rate limits,
	// upstream 5xx responses.
	ErrTransient = errors.New("transient exchange failure")
	// ErrRejected marks failures that will not succeed on retry: unknown
	// pair, precision rejection, exchange-side insufficient balance.
	ErrRejected = errors.New("order rejected")
)

// Rules are the per-pair constraints an order must be rounded to before
// submission.
type Rules struct {
	AmountPrecision int
	MinNotional     float64
}

// Balances is the venue-side view of the account.
type Balances struct {
	Cash     float64
	Holdings map[string]float64 // base asset -> quantity
}

// OrderResult reports a completed market order fill.
type OrderResult struct {
	FilledQty   float64
	QuoteChange float64 // cash received (sell) or spent (buy)
}

// Client is the minimal outbound surface the orchestrator consumes.
type Client interface {
	Ticker(ctx context.Context) (map[string]float64, error)
	Balances(ctx context.Context) (Balances, error)
	PlaceMarketOrder(ctx context.Context, pair string, side Side, qty float64) (OrderResult, error)
	ExchangeInfo(ctx context.Context) (map[string]Rules, error)
}
