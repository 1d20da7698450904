// Package pot tracks per-player contributions over the betting rounds of one
// hand and computes the tiered main/side-pot distribution at showdown.
//
// Players are addressed by hand index (position in the dealt-in order), never
// by seat. The engine is pure bookkeeping over in-memory state: callers must
// validate amounts against stacks first, and an inconsistent call is a caller
// bug, not a recoverable error.
package pot

import (
	"fmt"
	"sort"

	"riverchain/internal/holdem"
)

// State is owned by the active hand and persisted with it.
type State struct {
	// CurrentBets is the live street bet per player, reset every round.
	CurrentBets []uint64 `json:"currentBets"`
	// Invested is the cumulative total each player has put into the hand.
	Invested []uint64 `json:"invested"`
	// Collected is the portion of Invested already swept out of street bets.
	Collected uint64 `json:"collected"`
}

func New(n int) State {
	return State{
		CurrentBets: make([]uint64, n),
		Invested:    make([]uint64, n),
	}
}

// AddBet records amount as street and cumulative contribution. No stack
// check here; callers have already deducted from the seat.
func (s *State) AddBet(handIdx int, amount uint64) {
	s.CurrentBets[handIdx] += amount
	s.Invested[handIdx] += amount
}

// AddDead records dead money (antes, owed missed blinds): it goes straight
// into the collected pot and counts toward the player's invested total, but
// never toward the live street bet.
func (s *State) AddDead(handIdx int, amount uint64) {
	s.Invested[handIdx] += amount
	s.Collected += amount
}

// ReturnExcess backs an uncalled amount out of a player's street bet and
// invested total before settlement.
func (s *State) ReturnExcess(handIdx int, amount uint64) {
	if s.CurrentBets[handIdx] < amount || s.Invested[handIdx] < amount {
		panic(fmt.Sprintf("pot: excess %d exceeds contribution of player %d", amount, handIdx))
	}
	s.CurrentBets[handIdx] -= amount
	s.Invested[handIdx] -= amount
}

func (s *State) CurrentBet(handIdx int) uint64 { return s.CurrentBets[handIdx] }

func (s *State) MaxCurrentBet() uint64 {
	var m uint64
	for _, b := range s.CurrentBets {
		if b > m {
			m = b
		}
	}
	return m
}

// CallAmount is what the player owes to match the street, floored at zero.
func (s *State) CallAmount(handIdx int) uint64 {
	m := s.MaxCurrentBet()
	if m <= s.CurrentBets[handIdx] {
		return 0
	}
	return m - s.CurrentBets[handIdx]
}

// CollectBets sweeps every street bet into the pot and resets the street
// trackers. Called once per completed betting round. Folded players' street
// bets stay live until this sweep so the uncalled-excess computation can see
// what the largest bet actually had matched against it.
func (s *State) CollectBets() {
	for i := range s.CurrentBets {
		s.Collected += s.CurrentBets[i]
		s.CurrentBets[i] = 0
	}
}

// TotalPot is everything contributed to the hand so far.
func (s *State) TotalPot() uint64 {
	total := s.Collected
	for _, b := range s.CurrentBets {
		total += b
	}
	return total
}

func (s *State) TotalInvested(handIdx int) uint64 { return s.Invested[handIdx] }

// Payout is one tier award. A player may appear multiple times across tiers;
// callers sum per player before crediting.
type Payout struct {
	HandIdx int    `json:"handIdx"`
	Amount  uint64 `json:"amount"`
}

// Distribution partitions the invested totals into ascending contribution
// tiers and awards each tier segment to the best-ranked eligible hand(s).
// rankings[i] is the evaluated rank, or holdem.Folded for players that never
// showed; active[i] marks non-folded players. Exact ties split a segment
// evenly with the integer remainder going to the tied winner closest
// clockwise from the dealer, so no chip is lost or duplicated.
func (s *State) Distribution(rankings []holdem.Rank, active []bool, dealerIdx int) []Payout {
	n := len(s.Invested)
	if len(rankings) != n || len(active) != n {
		panic("pot: rankings/active length mismatch")
	}

	levels := make([]uint64, 0, n)
	for _, inv := range s.Invested {
		if inv > 0 {
			levels = append(levels, inv)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	distinct := levels[:0]
	for _, l := range levels {
		if len(distinct) == 0 || distinct[len(distinct)-1] != l {
			distinct = append(distinct, l)
		}
	}

	payouts := []Payout{}
	var prev uint64
	for _, level := range distinct {
		width := level - prev
		segment := uint64(0)
		for _, inv := range s.Invested {
			if inv >= level {
				segment += width
			}
		}

		var winners []int
		best := holdem.Folded
		for i := 0; i < n; i++ {
			if !active[i] || s.Invested[i] < level {
				continue
			}
			switch holdem.Compare(rankings[i], best) {
			case 1:
				best = rankings[i]
				winners = []int{i}
			case 0:
				if best != holdem.Folded {
					winners = append(winners, i)
				}
			}
		}
		if len(winners) == 0 {
			// Every contributor at this tier folded; cannot happen when the
			// caller returned uncalled excess first.
			panic(fmt.Sprintf("pot: no eligible winner for tier %d", level))
		}

		share := segment / uint64(len(winners))
		rem := segment % uint64(len(winners))
		remIdx := winners[0]
		if rem > 0 && len(winners) > 1 {
			bestDist := n
			for _, w := range winners {
				d := (w - dealerIdx - 1 + n) % n
				if d < bestDist {
					bestDist = d
					remIdx = w
				}
			}
		}
		for _, w := range winners {
			amt := share
			if w == remIdx {
				amt += rem
			}
			if amt == 0 {
				continue
			}
			payouts = append(payouts, Payout{HandIdx: w, Amount: amt})
		}
		prev = level
	}
	return payouts
}
