package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RulesCache keeps the venue's per-pair trading rules warm so the executor
// never rounds against stale or missing constraints.
type RulesCache struct {
	log    zerolog.Logger
	client Client
	mu     sync.RWMutex
	rules  map[string]Rules
}

// NewRulesCache constructs an empty cache backed by the given client.
func NewRulesCache(client Client, log zerolog.Logger) *RulesCache {
	return &RulesCache{log: log, client: client, rules: make(map[string]Rules)}
}

// Load fetches the full rule set. The bot cannot trade without rules, so
// startup treats a failure here as fatal.
func (r *RulesCache) Load(ctx context.Context) error {
	rules, err := r.client.ExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("load exchange rules: %w", err)
	}
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	r.log.Info().Int("pairs", len(rules)).Msg("loaded exchange trading rules")
	return nil
}

// Get returns the rules for a pair, if listed.
func (r *RulesCache) Get(pair string) (Rules, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules, ok := r.rules[pair]
	return rules, ok
}

// Run refreshes the rule set periodically until the context is canceled.
// Refresh failures keep the previous rules.
func (r *RulesCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Load(ctx); err != nil {
				r.log.Warn().Err(err).Msg("exchange rules refresh failed")
			}
		}
	}
}
