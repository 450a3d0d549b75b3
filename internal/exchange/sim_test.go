package exchange

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestSimFillsAtPostedPrice(t *testing.T) {
	sim := NewSim(1000, map[string]float64{"BTC/USD": 100})
	ctx := context.Background()

	fill, err := sim.PlaceMarketOrder(ctx, "BTC/USD", Buy, 2)
	if err != nil {
		t.Fatalf("buy returned error: %v", err)
	}
	if fill.FilledQty != 2 || math.Abs(fill.QuoteChange-200) > 1e-9 {
		t.Fatalf("unexpected fill: %+v", fill)
	}

	balances, err := sim.Balances(ctx)
	if err != nil {
		t.Fatalf("Balances returned error: %v", err)
	}
	if math.Abs(balances.Cash-800) > 1e-9 || math.Abs(balances.Holdings["BTC"]-2) > 1e-9 {
		t.Fatalf("unexpected balances: %+v", balances)
	}

	if _, err := sim.PlaceMarketOrder(ctx, "BTC/USD", Sell, 3); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection selling more than held, got %v", err)
	}
}

func TestSimInjectedFailures(t *testing.T) {
	sim := NewSim(1000, map[string]float64{"BTC/USD": 100})
	ctx := context.Background()

	sim.FailNext(2)
	if _, err := sim.PlaceMarketOrder(ctx, "BTC/USD", Buy, 1); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if _, err := sim.PlaceMarketOrder(ctx, "BTC/USD", Buy, 1); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected second transient failure, got %v", err)
	}
	if _, err := sim.PlaceMarketOrder(ctx, "BTC/USD", Buy, 1); err != nil {
		t.Fatalf("expected success after failures drained, got %v", err)
	}

	sim.RejectNext("precision")
	if _, err := sim.PlaceMarketOrder(ctx, "BTC/USD", Buy, 1); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestSimUnknownPair(t *testing.T) {
	sim := NewSim(1000, nil)
	if _, err := sim.PlaceMarketOrder(context.Background(), "XYZ/USD", Buy, 1); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection for unknown pair, got %v", err)
	}
}

func TestRulesCacheLoadAndGet(t *testing.T) {
	sim := NewSim(1000, map[string]float64{"BTC/USD": 100})
	sim.SetRules("BTC/USD", Rules{AmountPrecision: 3, MinNotional: 5})

	cache := NewRulesCache(sim, nopLogger())
	if err := cache.Load(context.Background()); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	rules, ok := cache.Get("BTC/USD")
	if !ok || rules.AmountPrecision != 3 || rules.MinNotional != 5 {
		t.Fatalf("unexpected rules: %+v ok=%v", rules, ok)
	}
	if _, ok := cache.Get("ETH/USD"); ok {
		t.Fatalf("expected miss for unlisted pair")
	}
}
