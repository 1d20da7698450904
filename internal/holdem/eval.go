// Package holdem evaluates seven-card Texas Hold'em hands into a totally
// ordered (category, tiebreaker) pair.
package holdem

import (
	"fmt"
	"sort"
)

// Card is a card id in 0..51: rank = id%13+2 (2..14, ace high),
// suit = id/13 (0=clubs, 1=diamonds, 2=hearts, 3=spades).
type Card uint8

func (c Card) Rank() uint8 { return uint8(c%13) + 2 }

func (c Card) Suit() uint8 { return uint8(c / 13) }

type Category uint8

// Categories are ordered; 0 is reserved for the folded sentinel.
const (
	HighCard Category = iota + 1
	OnePair
	TwoPair
	Trips
	Straight
	Flush
	FullHouse
	Quads
	StraightFlush
)

// Rank is the evaluated strength of a hand. Higher Category wins; equal
// categories are broken by Tiebreaker, which packs up to five card ranks
// high-to-low into 8-bit lanes so uint64 comparison matches lexicographic
// kicker comparison.
type Rank struct {
	Category   Category `json:"category"`
	Tiebreaker uint64   `json:"tiebreaker"`
}

// Folded is the protocol sentinel for players that never evaluate; it ranks
// below every real hand.
var Folded = Rank{}

func Compare(a, b Rank) int {
	if a.Category != b.Category {
		if a.Category < b.Category {
			return -1
		}
		return 1
	}
	if a.Tiebreaker != b.Tiebreaker {
		if a.Tiebreaker < b.Tiebreaker {
			return -1
		}
		return 1
	}
	return 0
}

func packTiebreaker(vals ...uint8) uint64 {
	var tb uint64
	for i, v := range vals {
		tb |= uint64(v) << (8 * (4 - i))
	}
	return tb
}

func assertDistinct(cards []Card, label string) error {
	seen := make([]bool, 52)
	for _, c := range cards {
		if c > 51 {
			return fmt.Errorf("%s contains invalid card id %d", label, c)
		}
		if seen[c] {
			return fmt.Errorf("%s contains duplicate card id %d", label, c)
		}
		seen[c] = true
	}
	return nil
}

func ranksDesc(cards []Card) []uint8 {
	r := make([]uint8, 0, len(cards))
	for _, c := range cards {
		r = append(r, c.Rank())
	}
	sort.Slice(r, func(i, j int) bool { return r[i] > r[j] })
	return r
}

func straightHighFromRanksDesc(uniqueRanksDesc []uint8) (uint8, bool) {
	if len(uniqueRanksDesc) != 5 {
		return 0, false
	}
	// Wheel (A-5) counts as a five-high straight.
	hasAce := uniqueRanksDesc[0] == 14
	wheel := hasAce && uniqueRanksDesc[1] == 5 && uniqueRanksDesc[2] == 4 && uniqueRanksDesc[3] == 3 && uniqueRanksDesc[4] == 2
	if wheel {
		return 5, true
	}
	for i := 1; i < len(uniqueRanksDesc); i++ {
		if uniqueRanksDesc[i-1]-1 != uniqueRanksDesc[i] {
			return 0, false
		}
	}
	return uniqueRanksDesc[0], true
}

func evaluate5(cards5 []Card) (Rank, error) {
	if len(cards5) != 5 {
		return Rank{}, fmt.Errorf("evaluate5 expected 5 cards, got %d", len(cards5))
	}
	if err := assertDistinct(cards5, "cards5"); err != nil {
		return Rank{}, err
	}

	isFlush := true
	for i := 1; i < len(cards5); i++ {
		if cards5[i].Suit() != cards5[0].Suit() {
			isFlush = false
			break
		}
	}

	ranks := ranksDesc(cards5)
	counts := map[uint8]uint8{}
	for _, r := range ranks {
		counts[r] = counts[r] + 1
	}
	uniqueRanksDesc := make([]uint8, 0, len(counts))
	for r := range counts {
		uniqueRanksDesc = append(uniqueRanksDesc, r)
	}
	sort.Slice(uniqueRanksDesc, func(i, j int) bool { return uniqueRanksDesc[i] > uniqueRanksDesc[j] })

	straightHigh, isStraight := straightHighFromRanksDesc(uniqueRanksDesc)

	type group struct {
		rank  uint8
		count uint8
	}
	groups := make([]group, 0, len(counts))
	for r, c := range counts {
		groups = append(groups, group{rank: r, count: c})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].rank > groups[j].rank
	})

	if isStraight && isFlush {
		return Rank{Category: StraightFlush, Tiebreaker: packTiebreaker(straightHigh)}, nil
	}
	if groups[0].count == 4 {
		quadRank := groups[0].rank
		var kicker uint8
		for _, g := range groups {
			if g.count == 1 {
				kicker = g.rank
				break
			}
		}
		return Rank{Category: Quads, Tiebreaker: packTiebreaker(quadRank, kicker)}, nil
	}
	if groups[0].count == 3 && groups[1].count == 2 {
		return Rank{Category: FullHouse, Tiebreaker: packTiebreaker(groups[0].rank, groups[1].rank)}, nil
	}
	if isFlush {
		return Rank{Category: Flush, Tiebreaker: packTiebreaker(ranks...)}, nil
	}
	if isStraight {
		return Rank{Category: Straight, Tiebreaker: packTiebreaker(straightHigh)}, nil
	}
	if groups[0].count == 3 {
		vals := []uint8{groups[0].rank}
		for _, g := range groups {
			if g.count == 1 {
				vals = append(vals, g.rank)
			}
		}
		sort.Slice(vals[1:], func(i, j int) bool { return vals[1+i] > vals[1+j] })
		return Rank{Category: Trips, Tiebreaker: packTiebreaker(vals...)}, nil
	}
	if groups[0].count == 2 && groups[1].count == 2 {
		hiPair, loPair := groups[0].rank, groups[1].rank
		if loPair > hiPair {
			hiPair, loPair = loPair, hiPair
		}
		var kicker uint8
		for _, g := range groups {
			if g.count == 1 {
				kicker = g.rank
				break
			}
		}
		return Rank{Category: TwoPair, Tiebreaker: packTiebreaker(hiPair, loPair, kicker)}, nil
	}
	if groups[0].count == 2 {
		vals := []uint8{groups[0].rank}
		for _, g := range groups {
			if g.count == 1 {
				vals = append(vals, g.rank)
			}
		}
		sort.Slice(vals[1:], func(i, j int) bool { return vals[1+i] > vals[1+j] })
		return Rank{Category: OnePair, Tiebreaker: packTiebreaker(vals...)}, nil
	}

	return Rank{Category: HighCard, Tiebreaker: packTiebreaker(ranks...)}, nil
}

var combos7Choose5 = [21][5]int{
	{0, 1, 2, 3, 4},
	{0, 1, 2, 3, 5},
	{0, 1, 2, 3, 6},
	{0, 1, 2, 4, 5},
	{0, 1, 2, 4, 6},
	{0, 1, 2, 5, 6},
	{0, 1, 3, 4, 5},
	{0, 1, 3, 4, 6},
	{0, 1, 3, 5, 6},
	{0, 1, 4, 5, 6},
	{0, 2, 3, 4, 5},
	{0, 2, 3, 4, 6},
	{0, 2, 3, 5, 6},
	{0, 2, 4, 5, 6},
	{0, 3, 4, 5, 6},
	{1, 2, 3, 4, 5},
	{1, 2, 3, 4, 6},
	{1, 2, 3, 5, 6},
	{1, 2, 4, 5, 6},
	{1, 3, 4, 5, 6},
	{2, 3, 4, 5, 6},
}

// Evaluate7 returns the best five-card rank among all 21 subsets of the
// seven given cards.
func Evaluate7(cards7 []Card) (Rank, error) {
	if len(cards7) != 7 {
		return Rank{}, fmt.Errorf("Evaluate7 expected 7 cards, got %d", len(cards7))
	}
	if err := assertDistinct(cards7, "cards7"); err != nil {
		return Rank{}, err
	}

	var best Rank
	for _, idx := range combos7Choose5 {
		r, err := evaluate5([]Card{cards7[idx[0]], cards7[idx[1]], cards7[idx[2]], cards7[idx[3]], cards7[idx[4]]})
		if err != nil {
			return Rank{}, err
		}
		if Compare(r, best) == 1 {
			best = r
		}
	}
	return best, nil
}
