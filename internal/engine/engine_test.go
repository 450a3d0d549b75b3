package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"algobot-go/internal/risk"
)

type countingSweeper struct {
	calls atomic.Int64
	err   error
	block chan struct{}
}

func (c *countingSweeper) Sweep(ctx context.Context, _ map[string]float64) ([]risk.Exit, error) {
	c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
		}
	}
	return nil, c.err
}

type countingCycle struct {
	calls atomic.Int64
	err   error
}

func (c *countingCycle) Run(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func staticPrices(prices map[string]float64) PriceFunc {
	return func(context.Context) (map[string]float64, error) { return prices, nil }
}

func TestEngineRunsFirstCycleImmediately(t *testing.T) {
	sweeper := &countingSweeper{}
	cycle := &countingCycle{}
	eng := New(sweeper, cycle, staticPrices(nil), 5*time.Millisecond, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	// The slow interval is an hour, so the only pass is the immediate one.
	if got := cycle.calls.Load(); got != 1 {
		t.Fatalf("expected 1 immediate cycle, got %d", got)
	}
	if sweeper.calls.Load() == 0 {
		t.Fatalf("expected fast sweeps to run")
	}
}

func TestEngineSkipsTicksWhileBusy(t *testing.T) {
	block := make(chan struct{})
	sweeper := &countingSweeper{block: block}
	cycle := &countingCycle{}
	eng := New(sweeper, cycle, staticPrices(nil), 5*time.Millisecond, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	// The first sweep blocks the whole window, later ticks must be skipped.
	time.Sleep(60 * time.Millisecond)
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := sweeper.calls.Load(); got > 2 {
		t.Fatalf("expected overlapping ticks to be skipped, got %d sweeps", got)
	}
}

func TestEngineHaltsOnFatalError(t *testing.T) {
	fatal := errors.New("fill unrecorded")
	sweeper := &countingSweeper{err: fatal}
	cycle := &countingCycle{}
	eng := New(sweeper, cycle, staticPrices(nil), time.Millisecond, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := eng.Run(ctx)
	if !errors.Is(err, fatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !eng.Halted() {
		t.Fatalf("expected halted latch to be set")
	}
}

func TestEngineStopsCleanlyOnCancel(t *testing.T) {
	sweeper := &countingSweeper{}
	cycle := &countingCycle{}
	eng := New(sweeper, cycle, staticPrices(nil), time.Millisecond, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("engine did not stop after cancel")
	}
}

func TestEnginePriceFailureSkipsSweep(t *testing.T) {
	sweeper := &countingSweeper{}
	cycle := &countingCycle{}
	prices := func(context.Context) (map[string]float64, error) {
		return nil, errors.New("feed down")
	}
	eng := New(sweeper, cycle, prices, time.Millisecond, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := eng.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeper.calls.Load() != 0 {
		t.Fatalf("sweeper should not run without prices, got %d calls", sweeper.calls.Load())
	}
}
