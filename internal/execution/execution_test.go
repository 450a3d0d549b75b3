package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"algobot-go/internal/exchange"
	"algobot-go/internal/ledger"
)

func newTestExecutor(t *testing.T, sim *exchange.Sim, book *ledger.Ledger, opts ...Option) *Executor {
	t.Helper()
	rules := exchange.NewRulesCache(sim, zerolog.Nop())
	if err := rules.Load(context.Background()); err != nil {
		t.Fatalf("load rules: %v", err)
	}
	opts = append([]Option{WithRetry(4, time.Millisecond)}, opts...)
	return NewExecutor(sim, rules, book, zerolog.Nop(), opts...)
}

func newBook(t *testing.T, cash float64) *ledger.Ledger {
	t.Helper()
	book, err := ledger.New(cash, 0, nil)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return book
}

func TestExecuteBuyFloorsQuantityAndRecordsFill(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	sim.SetRules("BTC/USD", exchange.Rules{AmountPrecision: 2, MinNotional: 10})
	book := newBook(t, 100_000)
	journal := NewMemoryJournal(4)
	exec := newTestExecutor(t, sim, book, WithRecorder(journal))

	fill, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Buy, Qty: 1.23456789, Price: 100,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if fill.Qty != 1.23 {
		t.Fatalf("expected floored qty 1.23, got %v", fill.Qty)
	}
	pos, ok := book.Position("BTC/USD")
	if !ok {
		t.Fatalf("expected recorded position")
	}
	if pos.Qty != 1.23 || pos.AvgCost < 99.999 || pos.AvgCost > 100.001 {
		t.Fatalf("unexpected position: %+v", pos)
	}
	fills := journal.Snapshot()
	if len(fills) != 1 || fills[0].Pair != "BTC/USD" {
		t.Fatalf("unexpected journal contents: %+v", fills)
	}
}

func TestExecuteRejectsBelowMinNotional(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	sim.SetRules("BTC/USD", exchange.Rules{AmountPrecision: 6, MinNotional: 50})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)

	_, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Buy, Qty: 0.1, Price: 100,
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	if book.Cash() != 100_000 {
		t.Fatalf("cash changed on rejected intent: %v", book.Cash())
	}
}

func TestExecuteRejectsZeroAfterRounding(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	sim.SetRules("BTC/USD", exchange.Rules{AmountPrecision: 0, MinNotional: 1})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)

	_, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Buy, Qty: 0.9, Price: 100,
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent for zero-rounded qty, got %v", err)
	}
}

func TestExecuteMissingRulesIsPermanent(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)

	_, err := exec.Execute(context.Background(), Intent{
		Pair: "DOGE/USD", Side: exchange.Buy, Qty: 10, Price: 1,
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent for unlisted pair, got %v", err)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)

	sim.FailNext(2)
	fill, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Buy, Qty: 1, Price: 100,
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if fill.Qty != 1 {
		t.Fatalf("unexpected fill: %+v", fill)
	}
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)

	sim.FailNext(10)
	_, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Buy, Qty: 1, Price: 100,
	})
	if !errors.Is(err, exchange.ErrTransient) {
		t.Fatalf("expected transient error after exhausting retries, got %v", err)
	}
	if book.Cash() != 100_000 {
		t.Fatalf("cash changed on failed intent: %v", book.Cash())
	}
}

func TestExecuteVenueRejectionIsPermanent(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)

	sim.RejectNext("market closed")
	_, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Buy, Qty: 1, Price: 100,
	})
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent on venue rejection, got %v", err)
	}
}

func TestExecuteSellWithoutPositionIsOverSell(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)

	_, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Sell, Qty: 1, Price: 100,
	})
	if !errors.Is(err, ledger.ErrOverSell) {
		t.Fatalf("expected ErrOverSell, got %v", err)
	}
}

func TestExecuteSellRealizesRoundTrip(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	book := newBook(t, 100_000)
	exec := newTestExecutor(t, sim, book)
	ctx := context.Background()

	if _, err := exec.Execute(ctx, Intent{Pair: "BTC/USD", Side: exchange.Buy, Qty: 2, Price: 100}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	sim.SetPrice("BTC/USD", 110)
	if _, err := exec.Execute(ctx, Intent{Pair: "BTC/USD", Side: exchange.Sell, Qty: 2, Price: 110}); err != nil {
		t.Fatalf("sell: %v", err)
	}

	if _, ok := book.Position("BTC/USD"); ok {
		t.Fatalf("expected position removed after full liquidation")
	}
	if pnl := book.RealizedPnL(); pnl < 19.99 || pnl > 20.01 {
		t.Fatalf("expected realized pnl ~20, got %v", pnl)
	}
	if cash := book.Cash(); cash < 100_019.99 || cash > 100_020.01 {
		t.Fatalf("expected cash ~100020, got %v", cash)
	}
}

type failOnceStore struct {
	saves int
}

func (f *failOnceStore) Save(ledger.State) error {
	f.saves++
	if f.saves > 1 {
		return errors.New("disk full")
	}
	return nil
}

func (f *failOnceStore) Load() (ledger.State, bool, error) {
	return ledger.State{}, false, nil
}

func TestExecuteUnrecordableFillIsFatal(t *testing.T) {
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 100})
	book, err := ledger.New(100_000, 0, &failOnceStore{})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	exec := newTestExecutor(t, sim, book)
	ctx := context.Background()

	if _, err := exec.Execute(ctx, Intent{Pair: "BTC/USD", Side: exchange.Buy, Qty: 1, Price: 100}); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	_, err = exec.Execute(ctx, Intent{Pair: "BTC/USD", Side: exchange.Buy, Qty: 1, Price: 100})
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal, got %v", err)
	}
	if !errors.Is(err, ledger.ErrPersistence) {
		t.Fatalf("expected wrapped ErrPersistence, got %v", err)
	}
}

func TestExecuteBuyLedgerRejectionAfterFillIsFatal(t *testing.T) {
	// The venue has more cash than the ledger, so the order fills but the
	// ledger refuses it. That is a divergence, not a skippable intent.
	sim := exchange.NewSim(100_000, map[string]float64{"BTC/USD": 60})
	book := newBook(t, 100)
	exec := newTestExecutor(t, sim, book)

	_, err := exec.Execute(context.Background(), Intent{
		Pair: "BTC/USD", Side: exchange.Buy, Qty: 2, Price: 60,
	})
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("expected ErrFatal on unrecordable fill, got %v", err)
	}
	if !errors.Is(err, ledger.ErrInsufficientCash) {
		t.Fatalf("expected wrapped ErrInsufficientCash, got %v", err)
	}
}

func TestFloorToPrecision(t *testing.T) {
	for _, tc := range []struct {
		qty       float64
		precision int
		want      float64
	}{
		{1.23456789, 2, 1.23},
		{1.999999, 0, 1},
		{0.0000004, 6, 0},
		{5, 3, 5},
	} {
		if got := floorToPrecision(tc.qty, tc.precision); got != tc.want {
			t.Fatalf("floorToPrecision(%v, %d): expected %v, got %v", tc.qty, tc.precision, tc.want, got)
		}
	}
}
