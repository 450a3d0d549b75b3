// Package risk implements the fast take-profit / stop-loss sweep over open
// positions.
package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"algobot-go/internal/exchange"
	"algobot-go/internal/execution"
	"algobot-go/internal/ledger"
	"algobot-go/internal/metrics"
)

// Exit reasons reported by a sweep.
const (
	ReasonTakeProfit = "TP"
	ReasonStopLoss   = "SL"
)

// Thresholds are price-to-cost ratios that trigger a full liquidation.
// TakeProfit fires at ratio >= TP, StopLoss at ratio <= SL.
type Thresholds struct {
	TP float64
	SL float64
}

// Exit records one closed position.
type Exit struct {
	Pair   string
	Reason string
	Qty    float64
	Price  float64
}

// Monitor sweeps the ledger's open positions against live prices and closes
// any that crossed a threshold.
type Monitor struct {
	log        zerolog.Logger
	book       *ledger.Ledger
	exec       *execution.Executor
	thresholds Thresholds
}

// NewMonitor wires the monitor to the ledger and executor.
func NewMonitor(book *ledger.Ledger, exec *execution.Executor, thresholds Thresholds, log zerolog.Logger) *Monitor {
	return &Monitor{log: log, book: book, exec: exec, thresholds: thresholds}
}

// Sweep checks every open position against the given prices and liquidates
// those at or past a threshold. Positions without a price are skipped. An
// ErrFatal from the executor aborts the sweep; everything else degrades to
// the next position.
func (m *Monitor) Sweep(ctx context.Context, prices map[string]float64) ([]Exit, error) {
	metrics.SweepsTotal.Inc()
	snap := m.book.Snapshot()
	m.log.Debug().
		Float64("cash", snap.Cash).
		Float64("equity", snap.Equity(prices)).
		Int("positions", len(snap.Positions)).
		Msg("sweep")

	var exits []Exit
	for pair, pos := range snap.Positions {
		price, ok := prices[pair]
		if !ok || price <= 0 || pos.AvgCost <= 0 {
			continue
		}

		ratio := price / pos.AvgCost
		var reason string
		switch {
		case ratio >= m.thresholds.TP:
			reason = ReasonTakeProfit
		case ratio <= m.thresholds.SL:
			reason = ReasonStopLoss
		default:
			continue
		}

		fill, err := m.exec.Execute(ctx, execution.Intent{
			Pair:  pair,
			Side:  exchange.Sell,
			Qty:   pos.Qty,
			Price: price,
		})
		if err != nil {
			if errors.Is(err, execution.ErrFatal) {
				return exits, fmt.Errorf("sweep %s: %w", pair, err)
			}
			if errors.Is(err, ledger.ErrOverSell) {
				// The other loop closed it first.
				m.log.Debug().Str("pair", pair).Msg("position already closed")
				continue
			}
			m.log.Warn().Err(err).Str("pair", pair).Str("reason", reason).Msg("exit order failed")
			continue
		}

		metrics.ExitsTotal.WithLabelValues(reason).Inc()
		m.log.Info().
			Str("pair", pair).
			Str("reason", reason).
			Float64("px", fill.Price).
			Float64("cost", pos.AvgCost).
			Float64("ratio", ratio).
			Msg("threshold exit")
		exits = append(exits, Exit{Pair: pair, Reason: reason, Qty: fill.Qty, Price: fill.Price})
	}
	return exits, nil
}
