package exchange

import (
	"context"
	"fmt"
	"sync"
)

// Sim is an in-memory exchange used by paper runs and tests. Market orders
// fill atomically at the posted price. Failures can be injected to exercise
// the executor's retry and rejection paths.
type Sim struct {
	mu            sync.Mutex
	cash          float64
	holdings      map[string]float64
	prices        map[string]float64
	rules         map[string]Rules
	transientLeft int
	rejectReason  string
}

// NewSim seeds the simulator with venue-side cash and starting prices.
func NewSim(cash float64, prices map[string]float64) *Sim {
	s := &Sim{
		cash:     cash,
		holdings: make(map[string]float64),
		prices:   make(map[string]float64, len(prices)),
		rules:    make(map[string]Rules),
	}
	for pair, px := range prices {
		s.prices[pair] = px
		s.rules[pair] = Rules{AmountPrecision: 6, MinNotional: 1}
	}
	return s
}

// SetPrice moves the market for a pair, listing it if new.
func (s *Sim) SetPrice(pair string, px float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[pair] = px
	if _, ok := s.rules[pair]; !ok {
		s.rules[pair] = Rules{AmountPrecision: 6, MinNotional: 1}
	}
}

// SetRules overrides the trading rules for a pair.
func (s *Sim) SetRules(pair string, rules Rules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[pair] = rules
}

// FailNext makes the next n orders fail with a transient error.
func (s *Sim) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientLeft = n
}

// RejectNext makes the next order fail permanently with the given reason.
func (s *Sim) RejectNext(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectReason = reason
}

// Ticker returns a copy of the current prices.
func (s *Sim) Ticker(_ context.Context) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.prices))
	for pair, px := range s.prices {
		out[pair] = px
	}
	return out, nil
}

// Balances returns the venue-side account view.
func (s *Sim) Balances(_ context.Context) (Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holdings := make(map[string]float64, len(s.holdings))
	for asset, qty := range s.holdings {
		if qty > balanceDust {
			holdings[asset] = qty
		}
	}
	return Balances{Cash: s.cash, Holdings: holdings}, nil
}

// PlaceMarketOrder fills at the posted price or fails per injected behavior.
func (s *Sim) PlaceMarketOrder(_ context.Context, pair string, side Side, qty float64) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transientLeft > 0 {
		s.transientLeft--
		return OrderResult{}, fmt.Errorf("simulated timeout: %w", ErrTransient)
	}
	if s.rejectReason != "" {
		reason := s.rejectReason
		s.rejectReason = ""
		return OrderResult{}, fmt.Errorf("%s: %w", reason, ErrRejected)
	}

	px, ok := s.prices[pair]
	if !ok || px <= 0 {
		return OrderResult{}, fmt.Errorf("unknown pair %s: %w", pair, ErrRejected)
	}
	if qty <= 0 {
		return OrderResult{}, fmt.Errorf("non-positive quantity: %w", ErrRejected)
	}

	asset := baseAsset(pair)
	notional := qty * px
	switch side {
	case Buy:
		if notional > s.cash+balanceDust {
			return OrderResult{}, fmt.Errorf("insufficient venue balance: %w", ErrRejected)
		}
		s.cash -= notional
		s.holdings[asset] += qty
	case Sell:
		if s.holdings[asset]+balanceDust < qty {
			return OrderResult{}, fmt.Errorf("insufficient venue position: %w", ErrRejected)
		}
		s.holdings[asset] -= qty
		s.cash += notional
	default:
		return OrderResult{}, fmt.Errorf("unknown side %q: %w", side, ErrRejected)
	}
	return OrderResult{FilledQty: qty, QuoteChange: notional}, nil
}

// ExchangeInfo returns the rule set for all listed pairs.
func (s *Sim) ExchangeInfo(_ context.Context) (map[string]Rules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Rules, len(s.rules))
	for pair, rules := range s.rules {
		out[pair] = rules
	}
	return out, nil
}

func baseAsset(pair string) string {
	for i := 0; i < len(pair); i++ {
		if pair[i] == '/' {
			return pair[:i]
		}
	}
	return pair
}
