package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"algobot-go/internal/config"
	"algobot-go/internal/cycle"
	"algobot-go/internal/engine"
	"algobot-go/internal/exchange"
	"algobot-go/internal/execution"
	"algobot-go/internal/ledger"
	"algobot-go/internal/metrics"
	"algobot-go/internal/risk"
	"algobot-go/internal/signal"
	"algobot-go/internal/ta"
	"algobot-go/internal/util"
)

// Paper mode runs both loops against the in-memory simulator: live signals,
// simulated fills, no venue credentials required.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Seed simulator prices from one live snapshot of the signal provider.
	scanner := ta.NewScanner(cfg.TA.BaseURL, cfg.TA.Venues, log)
	seed, err := scanner.Fetch(ctx, cfg.Exchange.Pairs, cfg.TA.Interval)
	if err != nil {
		log.Fatal().Err(err).Msg("seed prices")
	}
	prices := make(map[string]float64, len(seed))
	for pair, s := range seed {
		prices[pair] = s.Price
	}
	sim := exchange.NewSim(cfg.Ledger.StartingCash, prices)

	rules := exchange.NewRulesCache(sim, log)
	if err := rules.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("load rules")
	}

	book, err := ledger.New(cfg.Ledger.StartingCash, cfg.Trading.ReserveCash, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("new ledger")
	}

	journal := execution.NewMemoryJournal(256)
	exec := execution.NewExecutor(sim, rules, book, log, execution.WithRecorder(journal))

	cache := ta.NewCache(scanner,
		time.Duration(cfg.TA.CacheTTLSecs)*time.Second,
		time.Duration(cfg.TA.StaleForSecs)*time.Second,
		log)

	classifier := signal.Classifier{
		StrongBuyVotes:  cfg.Trading.StrongBuyVotes,
		StrongSellVotes: cfg.Trading.StrongSellVotes,
		WeakSellVotes:   cfg.Trading.WeakSellVotes,
	}
	reb := cycle.New(cache, book, exec, cycle.Config{
		Pairs:      cfg.Exchange.Pairs,
		Interval:   cfg.TA.Interval,
		TP:         cfg.Trading.TPThreshold,
		SL:         cfg.Trading.SLThreshold,
		MinTicket:  cfg.Trading.MinTicket,
		Classifier: classifier,
	}, log)
	monitor := risk.NewMonitor(book, exec, risk.Thresholds{
		TP: cfg.Trading.TPThreshold,
		SL: cfg.Trading.SLThreshold,
	}, log)

	// Keep simulator prices tracking the latest signal prices so the fast
	// loop has something to sweep against.
	priceFn := func(ctx context.Context) (map[string]float64, error) {
		for pair, s := range cache.GetAll(ctx, cfg.Exchange.Pairs, cfg.TA.Interval) {
			if s.Price > 0 {
				sim.SetPrice(pair, s.Price)
			}
		}
		return sim.Ticker(ctx)
	}

	eng := engine.New(monitor, reb, priceFn,
		time.Duration(cfg.Trading.FastIntervalSecs)*time.Second,
		time.Duration(cfg.Trading.SlowIntervalSecs)*time.Second,
		log)

	log.Info().Int("pairs", len(cfg.Exchange.Pairs)).Msg("paper engine started")
	if err := eng.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}

	snap := book.Snapshot()
	log.Info().
		Float64("cash", snap.Cash).
		Float64("realized_pnl", snap.RealizedPnL).
		Int("open_positions", len(snap.Positions)).
		Int("fills", len(journal.Snapshot())).
		Msg("paper run finished")
}
