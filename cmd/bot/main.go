package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

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

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)

	// Credentials come from the environment, never the config file.
	if key := os.Getenv("ROOSTOO_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("ROOSTOO_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := exchange.NewRoostoo(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret, log)

	rules := exchange.NewRulesCache(client, log)
	if err := rules.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("load exchange rules")
	}
	go rules.Run(ctx, time.Duration(cfg.Exchange.RulesRefreshSecs)*time.Second)

	store, err := ledger.NewFileStore(cfg.Ledger.StatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open ledger store")
	}
	book, err := ledger.New(cfg.Ledger.StartingCash, cfg.Trading.ReserveCash, store)
	if err != nil {
		log.Fatal().Err(err).Msg("restore ledger")
	}
	snap := book.Snapshot()
	log.Info().Float64("cash", snap.Cash).Int("positions", len(snap.Positions)).Msg("ledger ready")

	journal, err := execution.NewJSONLJournal(cfg.Ledger.FillsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open fill journal")
	}
	defer journal.Close()

	exec := execution.NewExecutor(client, rules, book, log, execution.WithRecorder(journal))

	scanner := ta.NewScanner(cfg.TA.BaseURL, cfg.TA.Venues, log)
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

	prices := engine.PriceFunc(client.Ticker)
	if cfg.Exchange.Stream.Enabled {
		stream := exchange.NewTickerStream(cfg.Exchange.Stream.URL, cfg.Exchange.Pairs, cfg.Exchange.Stream.Symbols, log)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("ticker stream stopped")
			}
		}()
		prices = func(callCtx context.Context) (map[string]float64, error) {
			if px := stream.Prices(); len(px) > 0 {
				return px, nil
			}
			return client.Ticker(callCtx)
		}
	}

	eng := engine.New(monitor, reb, prices,
		time.Duration(cfg.Trading.FastIntervalSecs)*time.Second,
		time.Duration(cfg.Trading.SlowIntervalSecs)*time.Second,
		log)

	log.Info().Str("env", cfg.App.Env).Int("pairs", len(cfg.Exchange.Pairs)).Msg("bot started")
	if err := eng.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutting down")
}
