// Package ledger is the authoritative record of cash and positions. Both
// trading loops mutate it only through ApplyBuy/ApplySell, which serialize
// access and persist every successful mutation before it is visible.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const epsilon = 1e-9

var (
	// ErrInsufficientCash rejects a buy that would drive cash negative.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrOverSell rejects a sell larger than the current holding.
	ErrOverSell = errors.New("sell exceeds position")
	// ErrPersistence marks a mutation whose durable write failed; the
	// in-memory state is left untouched.
	ErrPersistence = errors.New("ledger persistence failed")
)

// Position is one pair's holding with its weighted-average cost basis.
type Position struct {
	Qty         float64   `json:"quantity"`
	AvgCost     float64   `json:"weighted_avg_cost"`
	LastUpdated time.Time `json:"last_updated"`
}

// State is the durable form of the ledger, written on every mutation.
type State struct {
	Cash        float64             `json:"cash"`
	RealizedPnL float64             `json:"realized_pnl"`
	Positions   map[string]Position `json:"positions"`
}

// Store persists ledger state. Save must be atomic: a crash mid-write leaves
// the previous state intact.
type Store interface {
	Save(State) error
	Load() (State, bool, error)
}

// Ledger tracks cash, realized PnL, and per-pair positions under a mutex
// scoped to individual mutations, never to a whole decision pipeline.
type Ledger struct {
	mu        sync.Mutex
	cash      float64
	reserve   float64
	realized  float64
	positions map[string]Position
	store     Store
	now       func() time.Time
}

// New builds a ledger with startingCash, restoring any previously persisted
// state from the store first. A nil store disables persistence (tests, paper
// runs that should not survive a restart).
func New(startingCash, reserve float64, store Store) (*Ledger, error) {
	l := &Ledger{
		cash:      startingCash,
		reserve:   reserve,
		positions: make(map[string]Position),
		store:     store,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if store != nil {
		state, ok, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("restore ledger: %w", err)
		}
		if ok {
			l.cash = state.Cash
			l.realized = state.RealizedPnL
			for pair, pos := range state.Positions {
				if pos.Qty > epsilon {
					l.positions[pair] = pos
				}
			}
		}
	}
	return l, nil
}

// Snapshot is an immutable copy of the ledger for lock-free decision making.
type Snapshot struct {
	Cash        float64
	Reserve     float64
	RealizedPnL float64
	Positions   map[string]Position
}

// Equity values the snapshot at the supplied prices. Pairs without a quote
// contribute nothing.
func (s Snapshot) Equity(prices map[string]float64) float64 {
	total := s.Cash
	for pair, pos := range s.Positions {
		if px := prices[pair]; px > 0 {
			total += pos.Qty * px
		}
	}
	return total
}

// ApplyBuy increases the holding, recomputes the weighted-average cost, and
// debits cash. The mutation is durable before it returns successfully.
func (l *Ledger) ApplyBuy(pair string, qty, price float64) (Position, error) {
	if qty <= 0 {
		return Position{}, errors.New("quantity must be positive")
	}
	if price <= 0 {
		return Position{}, errors.New("price must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	notional := qty * price
	if notional > l.cash+epsilon {
		return Position{}, fmt.Errorf("buy %s %.8f @ %.8f: %w", pair, qty, price, ErrInsufficientCash)
	}

	state := l.positions[pair]
	newQty := state.Qty + qty
	newAvg := price
	if newQty > 0 {
		newAvg = ((state.AvgCost * state.Qty) + notional) / newQty
	}
	next := Position{Qty: newQty, AvgCost: newAvg, LastUpdated: l.now()}

	if err := l.persist(func(s *State) {
		s.Cash -= notional
		s.Positions[pair] = next
	}); err != nil {
		return Position{}, err
	}

	l.cash -= notional
	l.positions[pair] = next
	return next, nil
}

// ApplySell decreases the holding and credits cash. The cost basis is
// untouched by partial sells; a full liquidation removes the entry. The
// removed return reports whether the position is gone.
func (l *Ledger) ApplySell(pair string, qty, price float64) (Position, bool, error) {
	if qty <= 0 {
		return Position{}, false, errors.New("quantity must be positive")
	}
	if price <= 0 {
		return Position{}, false, errors.New("price must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.positions[pair]
	if !ok || state.Qty+epsilon < qty {
		return Position{}, false, fmt.Errorf("sell %s %.8f: %w", pair, qty, ErrOverSell)
	}

	notional := qty * price
	realized := (price - state.AvgCost) * qty
	newQty := state.Qty - qty
	removed := newQty <= epsilon
	next := Position{Qty: newQty, AvgCost: state.AvgCost, LastUpdated: l.now()}

	if err := l.persist(func(s *State) {
		s.Cash += notional
		s.RealizedPnL += realized
		if removed {
			delete(s.Positions, pair)
		} else {
			s.Positions[pair] = next
		}
	}); err != nil {
		return Position{}, false, err
	}

	l.cash += notional
	l.realized += realized
	if removed {
		delete(l.positions, pair)
		return Position{}, true, nil
	}
	l.positions[pair] = next
	return next, false, nil
}

// persist writes the would-be next state. Callers hold the mutex and commit
// in-memory only after the durable write succeeds.
func (l *Ledger) persist(mutate func(*State)) error {
	if l.store == nil {
		return nil
	}
	next := State{
		Cash:        l.cash,
		RealizedPnL: l.realized,
		Positions:   make(map[string]Position, len(l.positions)+1),
	}
	for pair, pos := range l.positions {
		next.Positions[pair] = pos
	}
	mutate(&next)
	if err := l.store.Save(next); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Snapshot returns a copy of the current state for decision making.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	positions := make(map[string]Position, len(l.positions))
	for pair, pos := range l.positions {
		positions[pair] = pos
	}
	return Snapshot{Cash: l.cash, Reserve: l.reserve, RealizedPnL: l.realized, Positions: positions}
}

// Available is the cash the allocator may deploy: free cash above the reserve
// floor, clamped at zero.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	free := l.cash - l.reserve
	if free < 0 {
		return 0
	}
	return free
}

// Cash returns the current free cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Position returns the current holding for the pair, if any.
func (l *Ledger) Position(pair string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[pair]
	return pos, ok
}

// RealizedPnL returns total closed-trade profit and loss.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized
}
