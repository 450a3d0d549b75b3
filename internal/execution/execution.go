// Package execution handles order lifecycle: precision rounding, submission
// with bounded retry, and recording every fill into the ledger before the
// intent is considered complete.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"algobot-go/internal/exchange"
	"algobot-go/internal/ledger"
	"algobot-go/internal/metrics"
)

var (
	// ErrPermanent marks an intent that will never succeed: no trading
	// rules, quantity rounds to zero, venue rejection.
	ErrPermanent = errors.New("permanent execution failure")
	// ErrFatal marks a fill that was executed but could not be recorded.
	// Trading must halt until the ledger and venue are reconciled.
	ErrFatal = errors.New("fatal consistency failure")
)

const (
	defaultMaxAttempts = 4
	defaultBackoffBase = 500 * time.Millisecond
)

// Intent is a desired trade before precision rounding.
type Intent struct {
	Pair  string
	Side  exchange.Side
	Qty   float64
	Price float64 // reference price used when the venue omits the effective one
}

// Fill is a completed, ledger-recorded trade.
type Fill struct {
	Pair  string        `json:"pair"`
	Side  exchange.Side `json:"side"`
	Qty   float64       `json:"qty"`
	Price float64       `json:"price"`
	Ts    time.Time     `json:"ts"`
}

// Recorder captures fills for later inspection.
type Recorder interface {
	Record(Fill)
}

// Option configures Executor construction parameters.
type Option func(*Executor)

// WithRecorder attaches a fill recorder.
func WithRecorder(rec Recorder) Option {
	return func(e *Executor) { e.rec = rec }
}

// WithRetry overrides the retry ceiling and backoff base.
func WithRetry(maxAttempts int, backoffBase time.Duration) Option {
	return func(e *Executor) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if backoffBase > 0 {
			e.backoffBase = backoffBase
		}
	}
}

// Executor submits market orders against the venue and applies every fill to
// the ledger.
type Executor struct {
	log         zerolog.Logger
	client      exchange.Client
	rules       *exchange.RulesCache
	book        *ledger.Ledger
	rec         Recorder
	maxAttempts int
	backoffBase time.Duration
}

// NewExecutor wires the executor to the venue, the rules cache, and the ledger.
func NewExecutor(client exchange.Client, rules *exchange.RulesCache, book *ledger.Ledger, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		log:         log,
		client:      client,
		rules:       rules,
		book:        book,
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute rounds the intent to the pair's trading rules, submits it, and
// records the fill. Transient venue failures are retried with exponential
// backoff; permanent ones surface immediately with no ledger mutation.
func (e *Executor) Execute(ctx context.Context, intent Intent) (Fill, error) {
	rules, ok := e.rules.Get(intent.Pair)
	if !ok {
		return Fill{}, fmt.Errorf("no trading rules for %s: %w", intent.Pair, ErrPermanent)
	}

	qty := floorToPrecision(intent.Qty, rules.AmountPrecision)
	if qty <= 0 {
		return Fill{}, fmt.Errorf("%s quantity %.12f rounds to zero: %w", intent.Pair, intent.Qty, ErrPermanent)
	}
	if rules.MinNotional > 0 && intent.Price > 0 && qty*intent.Price < rules.MinNotional {
		return Fill{}, fmt.Errorf("%s notional %.2f below minimum %.2f: %w",
			intent.Pair, qty*intent.Price, rules.MinNotional, ErrPermanent)
	}

	// Sells are checked against the ledger before touching the venue so a
	// position already closed by the other loop is a cheap no-op.
	if intent.Side == exchange.Sell {
		pos, held := e.book.Position(intent.Pair)
		if !held || pos.Qty+1e-9 < qty {
			return Fill{}, fmt.Errorf("sell %s %.8f: %w", intent.Pair, qty, ledger.ErrOverSell)
		}
	}

	result, err := e.submit(ctx, intent.Pair, intent.Side, qty)
	if err != nil {
		return Fill{}, err
	}

	fillQty := qty
	if result.FilledQty > 0 {
		fillQty = result.FilledQty
	}
	price := intent.Price
	if result.FilledQty > 0 && result.QuoteChange > 0 {
		price = result.QuoteChange / result.FilledQty
	}

	if err := e.record(intent.Pair, intent.Side, fillQty, price); err != nil {
		return Fill{}, err
	}

	fill := Fill{Pair: intent.Pair, Side: intent.Side, Qty: fillQty, Price: price, Ts: time.Now().UTC()}
	metrics.OrdersTotal.WithLabelValues(fill.Pair, string(fill.Side)).Inc()
	if e.rec != nil {
		e.rec.Record(fill)
	}
	e.log.Info().
		Str("pair", fill.Pair).
		Str("side", string(fill.Side)).
		Float64("qty", fill.Qty).
		Float64("px", fill.Price).
		Msg("order filled")
	return fill, nil
}

func (e *Executor) submit(ctx context.Context, pair string, side exchange.Side, qty float64) (exchange.OrderResult, error) {
	backoff := e.backoffBase
	for attempt := 1; ; attempt++ {
		result, err := e.client.PlaceMarketOrder(ctx, pair, side, qty)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, exchange.ErrTransient) {
			return exchange.OrderResult{}, fmt.Errorf("submit %s %s: %v: %w", side, pair, err, ErrPermanent)
		}
		if attempt >= e.maxAttempts {
			return exchange.OrderResult{}, fmt.Errorf("submit %s %s: retries exhausted: %w", side, pair, err)
		}
		metrics.OrderRetriesTotal.Inc()
		e.log.Warn().Err(err).Str("pair", pair).Int("attempt", attempt).Msg("transient order failure, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return exchange.OrderResult{}, ctx.Err()
		}
		backoff *= 2
	}
}

// record applies the fill to the ledger. The venue has already filled by this
// point, so any failure here leaves a live fill unrecorded and the ledger
// diverged from the venue. That is always fatal: the benign concurrent-exit
// case is handled by the pre-venue position check, never here.
func (e *Executor) record(pair string, side exchange.Side, qty, price float64) error {
	var err error
	switch side {
	case exchange.Buy:
		_, err = e.book.ApplyBuy(pair, qty, price)
	case exchange.Sell:
		_, _, err = e.book.ApplySell(pair, qty, price)
	default:
		err = fmt.Errorf("unknown side %q", side)
	}
	if err == nil {
		return nil
	}
	return fmt.Errorf("fill %s %s %.8f @ %.8f unrecorded: %w: %w", side, pair, qty, price, err, ErrFatal)
}

// floorToPrecision rounds a quantity down to the pair's amount precision,
// never up: buys must not exceed cash, sells must not exceed the holding.
func floorToPrecision(qty float64, precision int) float64 {
	if precision < 0 {
		precision = 0
	}
	out, _ := decimal.NewFromFloat(qty).RoundFloor(int32(precision)).Float64()
	return out
}
