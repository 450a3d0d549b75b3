// Package cycle implements the slow rebalancing pass: rank the universe,
// close positions the signals have turned against, then deploy free capital
// into the strongest entries.
package cycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"algobot-go/internal/alloc"
	"algobot-go/internal/exchange"
	"algobot-go/internal/execution"
	"algobot-go/internal/ledger"
	"algobot-go/internal/metrics"
	"algobot-go/internal/signal"
	"algobot-go/internal/ta"
)

const rankedLogTop = 10

// Config holds the parameters of one rebalancing pass.
type Config struct {
	Pairs      []string
	Interval   string
	TP         float64
	SL         float64
	MinTicket  float64
	Classifier signal.Classifier
}

// Cycle is stateless between runs: every pass re-reads the ledger and the
// signal cache, so consecutive runs over unchanged inputs are no-ops.
type Cycle struct {
	log   zerolog.Logger
	cache *ta.Cache
	book  *ledger.Ledger
	exec  *execution.Executor
	cfg   Config
}

// New wires a rebalancing cycle.
func New(cache *ta.Cache, book *ledger.Ledger, exec *execution.Executor, cfg Config, log zerolog.Logger) *Cycle {
	return &Cycle{log: log, cache: cache, book: book, exec: exec, cfg: cfg}
}

// Run executes one full pass. Per-pair failures degrade to the next pair;
// only an unrecordable fill aborts the pass with an error.
func (c *Cycle) Run(ctx context.Context) error {
	metrics.CyclesTotal.Inc()

	signals := c.cache.GetAll(ctx, c.cfg.Pairs, c.cfg.Interval)
	if len(signals) == 0 {
		c.log.Warn().Msg("no signals available, skipping cycle")
		return nil
	}
	ranked := signal.Rank(signals)
	c.logRanked(ranked)

	if err := c.closeExits(ctx, signals, ranked); err != nil {
		return err
	}
	return c.openEntries(ctx, ranked)
}

// closeExits liquidates held positions that hit a threshold against their
// signal price, turned strong-sell, or are weak enough to rotate out of when
// a strong entry is waiting for capital.
func (c *Cycle) closeExits(ctx context.Context, signals map[string]signal.Signal, ranked []signal.Ranked) error {
	rotationOpen := false
	for _, r := range ranked {
		if _, held := c.book.Position(r.Pair); held {
			continue
		}
		if c.cfg.Classifier.StrongBuy(r.Signal) {
			rotationOpen = true
			break
		}
	}

	snap := c.book.Snapshot()
	for pair, pos := range snap.Positions {
		sig, ok := signals[pair]
		if !ok || sig.Price <= 0 || pos.AvgCost <= 0 {
			continue
		}

		ratio := sig.Price / pos.AvgCost
		var reason string
		switch {
		case ratio >= c.cfg.TP:
			reason = "TP"
		case ratio <= c.cfg.SL:
			reason = "SL"
		case c.cfg.Classifier.StrongSell(sig):
			reason = "strong sell"
		case rotationOpen && c.cfg.Classifier.WeakSell(sig):
			reason = "rotation"
		default:
			continue
		}

		if err := c.sell(ctx, pair, pos, sig.Price, reason); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cycle) sell(ctx context.Context, pair string, pos ledger.Position, price float64, reason string) error {
	fill, err := c.exec.Execute(ctx, execution.Intent{
		Pair:  pair,
		Side:  exchange.Sell,
		Qty:   pos.Qty,
		Price: price,
	})
	if err != nil {
		if errors.Is(err, execution.ErrFatal) {
			return fmt.Errorf("cycle exit %s: %w", pair, err)
		}
		if errors.Is(err, ledger.ErrOverSell) {
			c.log.Debug().Str("pair", pair).Msg("position already closed")
			return nil
		}
		c.log.Warn().Err(err).Str("pair", pair).Str("reason", reason).Msg("cycle exit failed")
		return nil
	}
	if reason == "TP" || reason == "SL" {
		metrics.ExitsTotal.WithLabelValues(reason).Inc()
	}
	c.log.Info().
		Str("pair", pair).
		Str("reason", reason).
		Float64("px", fill.Price).
		Float64("cost", pos.AvgCost).
		Msg("cycle exit")
	return nil
}

// openEntries allocates whatever cash survived the exit phase across the
// strong-buy candidates, largest share to the best-ranked pair.
func (c *Cycle) openEntries(ctx context.Context, ranked []signal.Ranked) error {
	var candidates []signal.Ranked
	for _, r := range ranked {
		if !c.cfg.Classifier.StrongBuy(r.Signal) || r.Signal.Price <= 0 {
			continue
		}
		if _, held := c.book.Position(r.Pair); held {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}

	pairs := make([]string, len(candidates))
	prices := make(map[string]float64, len(candidates))
	for i, r := range candidates {
		pairs[i] = r.Pair
		prices[r.Pair] = r.Signal.Price
	}

	for _, entry := range alloc.Plan(pairs, c.book.Available()) {
		if entry.Notional < c.cfg.MinTicket {
			c.log.Debug().Str("pair", entry.Pair).Float64("notional", entry.Notional).Msg("allocation below minimum ticket")
			continue
		}
		price := prices[entry.Pair]
		fill, err := c.exec.Execute(ctx, execution.Intent{
			Pair:  entry.Pair,
			Side:  exchange.Buy,
			Qty:   entry.Notional / price,
			Price: price,
		})
		if err != nil {
			if errors.Is(err, execution.ErrFatal) {
				return fmt.Errorf("cycle entry %s: %w", entry.Pair, err)
			}
			c.log.Warn().Err(err).Str("pair", entry.Pair).Msg("cycle entry failed")
			continue
		}
		c.log.Info().
			Str("pair", fill.Pair).
			Float64("qty", fill.Qty).
			Float64("px", fill.Price).
			Float64("notional", entry.Notional).
			Msg("cycle entry")
	}
	return nil
}

func (c *Cycle) logRanked(ranked []signal.Ranked) {
	top := ranked
	if len(top) > rankedLogTop {
		top = top[:rankedLogTop]
	}
	for i, r := range top {
		c.log.Debug().
			Int("rank", i+1).
			Str("pair", r.Pair).
			Int("score", r.Signal.Score()).
			Str("rating", string(c.cfg.Classifier.Rate(r.Signal))).
			Msg("ranked signal")
	}
}
