// Package ta sources technical-analysis signals from an external scanner and
// shields the trading loops from its latency and rate limits with a TTL cache.
package ta

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"algobot-go/internal/signal"
)

// ErrUnavailable means no signal could be produced for a pair, even from the
// stale window. The pair is skipped for the pass, not treated as fatal.
var ErrUnavailable = errors.New("signal unavailable")

// Provider fetches fresh technical snapshots for a batch of pairs.
type Provider interface {
	Fetch(ctx context.Context, pairs []string, interval string) (map[string]signal.Signal, error)
}

var defaultVenues = []string{"BINANCE", "COINBASE", "KUCOIN", "KRAKEN", "BITSTAMP", "BYBIT", "CRYPTOCOM"}

// Scanner queries a TradingView-style scan endpoint. Pairs are addressed as
// VENUE:SYMBOL; the venue hosting each pair is discovered once by probing the
// venue list and remembered for later passes.
type Scanner struct {
	http        *resty.Client
	log         zerolog.Logger
	venues      []string
	mu          sync.Mutex
	venueByPair map[string]string
	now         func() time.Time
}

// NewScanner builds a scanner client. An empty venue list falls back to the
// built-in probe order.
func NewScanner(baseURL string, venues []string, log zerolog.Logger) *Scanner {
	if len(venues) == 0 {
		venues = defaultVenues
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetTimeout(20 * time.Second)
	return &Scanner{
		http:        client,
		log:         log,
		venues:      venues,
		venueByPair: make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type scanRequest struct {
	Symbols scanSymbols `json:"symbols"`
	Columns []string    `json:"columns"`
}

type scanSymbols struct {
	Tickers []string `json:"tickers"`
}

type scanResponse struct {
	Data []scanRow `json:"data"`
}

type scanRow struct {
	Symbol string    `json:"s"`
	Values []float64 `json:"d"`
}

// Column order: close, composite recommendation, buy/sell/neutral vote counts.
func scanColumns(interval string) []string {
	suffix := "|" + interval
	return []string{
		"close" + suffix,
		"Recommend.All" + suffix,
		"Votes.Buy" + suffix,
		"Votes.Sell" + suffix,
		"Votes.Neutral" + suffix,
	}
}

// Fetch resolves signals for the requested pairs, querying known venues in
// batches and probing the venue list for pairs seen for the first time.
func (s *Scanner) Fetch(ctx context.Context, pairs []string, interval string) (map[string]signal.Signal, error) {
	byVenue := make(map[string][]string)
	var unknown []string

	s.mu.Lock()
	for _, pair := range pairs {
		if venue, ok := s.venueByPair[pair]; ok {
			byVenue[venue] = append(byVenue[venue], pair)
		} else {
			unknown = append(unknown, pair)
		}
	}
	s.mu.Unlock()

	found := make(map[string]signal.Signal)
	var lastErr error

	for venue, cached := range byVenue {
		results, err := s.scan(ctx, venue, cached, interval)
		if err != nil {
			// Forget the venue mapping and let the probe rediscover it.
			s.log.Warn().Err(err).Str("venue", venue).Msg("cached venue scan failed, rediscovering")
			unknown = append(unknown, cached...)
			lastErr = err
			continue
		}
		for pair, sig := range results {
			found[pair] = sig
		}
		for _, pair := range cached {
			if _, ok := results[pair]; !ok {
				unknown = append(unknown, pair)
			}
		}
	}

	remaining := unknown
	for _, venue := range s.venues {
		if len(remaining) == 0 {
			break
		}
		results, err := s.scan(ctx, venue, remaining, interval)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			lastErr = err
			continue
		}
		next := remaining[:0]
		for _, pair := range remaining {
			sig, ok := results[pair]
			if !ok {
				next = append(next, pair)
				continue
			}
			found[pair] = sig
			s.mu.Lock()
			s.venueByPair[pair] = venue
			s.mu.Unlock()
		}
		remaining = next
	}

	if len(found) == 0 && lastErr != nil {
		return nil, fmt.Errorf("scan: %w", lastErr)
	}
	return found, nil
}

func (s *Scanner) scan(ctx context.Context, venue string, pairs []string, interval string) (map[string]signal.Signal, error) {
	tickers := make([]string, len(pairs))
	for i, pair := range pairs {
		tickers[i] = venue + ":" + strings.ReplaceAll(pair, "/", "")
	}

	var payload scanResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(scanRequest{Symbols: scanSymbols{Tickers: tickers}, Columns: scanColumns(interval)}).
		SetResult(&payload).
		Post("/crypto/scan")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("scan %s: status %d", venue, resp.StatusCode())
	}

	rows := make(map[string]scanRow, len(payload.Data))
	for _, row := range payload.Data {
		rows[row.Symbol] = row
	}

	out := make(map[string]signal.Signal)
	ts := s.now()
	for i, pair := range pairs {
		row, ok := rows[tickers[i]]
		if !ok || len(row.Values) < 5 || row.Values[0] <= 0 {
			continue
		}
		out[pair] = signal.Signal{
			Pair:    pair,
			Price:   row.Values[0],
			Rating:  signal.BaseRating(recommendation(row.Values[1])),
			Buy:     int(row.Values[2]),
			Sell:    int(row.Values[3]),
			Neutral: int(row.Values[4]),
			Ts:      ts,
		}
	}
	return out, nil
}

// recommendation maps the scanner's composite score onto its rating bands.
func recommendation(score float64) string {
	switch {
	case score >= 0.5:
		return "STRONG_BUY"
	case score >= 0.1:
		return "BUY"
	case score <= -0.5:
		return "STRONG_SELL"
	case score <= -0.1:
		return "SELL"
	default:
		return "NEUTRAL"
	}
}
