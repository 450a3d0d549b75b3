// Package signal standardizes the technical snapshots shared between the
// provider layer and both trading loops.
package signal

import (
	"sort"
	"strings"
	"time"
)

// Rating is the discrete classification attached to a Signal.
type Rating string

const (
	StrongBuy  Rating = "STRONG_BUY"
	Buy        Rating = "BUY"
	Neutral    Rating = "NEUTRAL"
	Sell       Rating = "SELL"
	StrongSell Rating = "STRONG_SELL"
)

// Signal is one pair's technical snapshot for a single evaluation pass.
// Signals are never mutated; the next pass supersedes them wholesale.
type Signal struct {
	Pair    string    `json:"pair"`
	Price   float64   `json:"price"`
	Buy     int       `json:"buy"`
	Sell    int       `json:"sell"`
	Neutral int       `json:"neutral"`
	Rating  Rating    `json:"rating"`
	Ts      time.Time `json:"ts"`
}

// Score is the composite indicator vote: buy count minus sell count.
func (s Signal) Score() int { return s.Buy - s.Sell }

// BaseRating collapses a provider recommendation string to BUY/SELL/NEUTRAL.
func BaseRating(recommendation string) Rating {
	rec := strings.ToUpper(recommendation)
	switch {
	case strings.Contains(rec, "BUY"):
		return Buy
	case strings.Contains(rec, "SELL"):
		return Sell
	default:
		return Neutral
	}
}

// Ranked pairs a signal with its pair for ordered consumption.
type Ranked struct {
	Pair   string
	Signal Signal
}

// Rank orders signals by descending composite score. Ties break on ascending
// pair name so a fixed input always yields the same order.
func Rank(signals map[string]Signal) []Ranked {
	out := make([]Ranked, 0, len(signals))
	for pair, sig := range signals {
		out = append(out, Ranked{Pair: pair, Signal: sig})
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Signal.Score(), out[j].Signal.Score()
		if si != sj {
			return si > sj
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}

// Classifier applies the configured vote thresholds to signals. The strong
// and weak sell thresholds are independent: a held pair can fail both and is
// simply kept.
type Classifier struct {
	StrongBuyVotes  int
	StrongSellVotes int
	WeakSellVotes   int
}

// StrongBuy reports whether the signal is a conviction entry candidate.
func (c Classifier) StrongBuy(s Signal) bool {
	return (s.Rating == Buy || s.Rating == StrongBuy) && s.Buy >= c.StrongBuyVotes
}

// StrongSell reports whether a held pair should be liquidated outright.
func (c Classifier) StrongSell(s Signal) bool {
	return (s.Rating == Sell || s.Rating == StrongSell) && s.Sell >= c.StrongSellVotes
}

// WeakSell reports whether a held pair is soft enough to rotate out of when
// capital is needed for a strong entry. It looks only at sell votes.
func (c Classifier) WeakSell(s Signal) bool {
	return s.Sell >= c.WeakSellVotes
}

// Rate returns the five-level rating for display, upgrading the base rating
// when its vote count crosses the strong threshold.
func (c Classifier) Rate(s Signal) Rating {
	switch s.Rating {
	case Buy, StrongBuy:
		if s.Buy >= c.StrongBuyVotes {
			return StrongBuy
		}
		return Buy
	case Sell, StrongSell:
		if s.Sell >= c.StrongSellVotes {
			return StrongSell
		}
		return Sell
	default:
		return Neutral
	}
}
