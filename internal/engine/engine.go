// Package engine runs the two trading loops: a fast threshold sweep over
// live prices and a slow signal-driven rebalancing cycle.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"algobot-go/internal/risk"
)

// Sweeper is the fast loop body.
type Sweeper interface {
	Sweep(ctx context.Context, prices map[string]float64) ([]risk.Exit, error)
}

// Rebalancer is the slow loop body.
type Rebalancer interface {
	Run(ctx context.Context) error
}

// PriceFunc supplies the latest prices for the fast loop.
type PriceFunc func(ctx context.Context) (map[string]float64, error)

// Engine schedules both loops on independent tickers. A tick that arrives
// while the previous pass of the same loop is still running is skipped, so a
// slow venue cannot pile up concurrent passes.
type Engine struct {
	log       zerolog.Logger
	sweeper   Sweeper
	cycle     Rebalancer
	prices    PriceFunc
	fastEvery time.Duration
	slowEvery time.Duration

	fastBusy atomic.Bool
	slowBusy atomic.Bool
	halted   atomic.Bool
}

// New wires the engine. fastEvery and slowEvery must be positive.
func New(sweeper Sweeper, cycle Rebalancer, prices PriceFunc, fastEvery, slowEvery time.Duration, log zerolog.Logger) *Engine {
	return &Engine{
		log:       log,
		sweeper:   sweeper,
		cycle:     cycle,
		prices:    prices,
		fastEvery: fastEvery,
		slowEvery: slowEvery,
	}
}

// Run drives both loops until the context is canceled or a fatal error
// halts trading. The first rebalancing pass starts immediately rather than
// waiting a full slow interval.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatal := make(chan error, 2)
	var wg sync.WaitGroup

	runSlow := func() {
		if e.halted.Load() || !e.slowBusy.CompareAndSwap(false, true) {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.slowBusy.Store(false)
			if err := e.cycle.Run(ctx); err != nil {
				fatal <- err
			}
		}()
	}

	runFast := func() {
		if e.halted.Load() || !e.fastBusy.CompareAndSwap(false, true) {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.fastBusy.Store(false)
			prices, err := e.prices(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					e.log.Warn().Err(err).Msg("price fetch failed, skipping sweep")
				}
				return
			}
			if _, err := e.sweeper.Sweep(ctx, prices); err != nil {
				fatal <- err
			}
		}()
	}

	runSlow()

	fastTicker := time.NewTicker(e.fastEvery)
	defer fastTicker.Stop()
	slowTicker := time.NewTicker(e.slowEvery)
	defer slowTicker.Stop()

	var runErr error
	for runErr == nil {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
		case err := <-fatal:
			e.halted.Store(true)
			e.log.Error().Err(err).Msg("trading halted")
			runErr = err
		case <-fastTicker.C:
			runFast()
		case <-slowTicker.C:
			runSlow()
		}
	}

	cancel()
	wg.Wait()
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		return nil
	}
	return runErr
}

// Halted reports whether a fatal error latched the engine off.
func (e *Engine) Halted() bool { return e.halted.Load() }
