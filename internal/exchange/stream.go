package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultStreamURL = "wss://stream.binance.com:9443/stream"

// TickerStream keeps a last-price snapshot warm from Binance combined
// miniTicker streams so the fast loop never blocks on a REST round trip.
type TickerStream struct {
	log     zerolog.Logger
	url     string
	symbols map[string]string // stream symbol -> pair
	mu      sync.RWMutex
	prices  map[string]float64
}

// NewTickerStream maps each pair to its stream symbol. Overrides win;
// otherwise BTC/USD becomes btcusdt.
func NewTickerStream(url string, pairs []string, overrides map[string]string, log zerolog.Logger) *TickerStream {
	if url == "" {
		url = defaultStreamURL
	}
	symbols := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		sym := overrides[pair]
		if sym == "" {
			sym = streamSymbol(pair)
		}
		symbols[strings.ToLower(sym)] = pair
	}
	return &TickerStream{
		log:     log,
		url:     strings.TrimSuffix(url, "/"),
		symbols: symbols,
		prices:  make(map[string]float64),
	}
}

// streamSymbol derives the Binance stream name for a pair: strip the slash,
// quote USD trades against the USDT book.
func streamSymbol(pair string) string {
	sym := strings.ToLower(strings.ReplaceAll(pair, "/", ""))
	if strings.HasSuffix(sym, "usd") {
		sym += "t"
	}
	return sym
}

// Prices returns a copy of the latest observed prices keyed by pair.
func (s *TickerStream) Prices() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for pair, px := range s.prices {
		out[pair] = px
	}
	return out
}

type streamEnvelope struct {
	Stream string           `json:"stream"`
	Data   miniTickerUpdate `json:"data"`
}

type miniTickerUpdate struct {
	Symbol string `json:"s"`
	Close  string `json:"c"`
}

// Run consumes the stream until the context is canceled, reconnecting with
// capped backoff on failure.
func (s *TickerStream) Run(ctx context.Context) error {
	if len(s.symbols) == 0 {
		return fmt.Errorf("ticker stream requires at least one pair")
	}

	streams := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		streams = append(streams, sym+"@miniTicker")
	}
	url := fmt.Sprintf("%s?streams=%s", s.url, strings.Join(streams, "/"))

	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.consume(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn().Err(err).Msg("ticker stream disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (s *TickerStream) consume(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info().Int("pairs", len(s.symbols)).Msg("connected ticker stream")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("ticker stream ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env streamEnvelope
		if err := json.Unmarshal(message, &env); err != nil {
			s.log.Warn().Err(err).Msg("failed to decode stream message")
			continue
		}
		s.apply(env)
	}
}

func (s *TickerStream) apply(env streamEnvelope) {
	sym := strings.ToLower(env.Data.Symbol)
	if sym == "" {
		if parts := strings.Split(env.Stream, "@"); len(parts) > 0 {
			sym = parts[0]
		}
	}
	pair, ok := s.symbols[sym]
	if !ok {
		return
	}
	px, err := strconv.ParseFloat(env.Data.Close, 64)
	if err != nil || px <= 0 {
		return
	}
	s.mu.Lock()
	s.prices[pair] = px
	s.mu.Unlock()
}
