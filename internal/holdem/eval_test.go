package holdem

import (
	"crypto/sha256"
	"fmt"
	"testing"

	"github.com/paulhankin/poker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riverchain/internal/shuffle"
)

// c builds a card from rank (2..14) and suit (0..3).
func c(rank, suit uint8) Card {
	return Card(uint8(suit)*13 + (rank - 2))
}

func eval5(t *testing.T, cards ...Card) Rank {
	t.Helper()
	r, err := evaluate5(cards)
	require.NoError(t, err)
	return r
}

func TestEvaluate5Categories(t *testing.T) {
	tests := []struct {
		name  string
		cards []Card
		want  Category
	}{
		{"straight flush", []Card{c(9, 2), c(8, 2), c(7, 2), c(6, 2), c(5, 2)}, StraightFlush},
		{"quads", []Card{c(9, 0), c(9, 1), c(9, 2), c(9, 3), c(2, 0)}, Quads},
		{"full house", []Card{c(9, 0), c(9, 1), c(9, 2), c(4, 0), c(4, 1)}, FullHouse},
		{"flush", []Card{c(14, 1), c(10, 1), c(8, 1), c(6, 1), c(3, 1)}, Flush},
		{"straight", []Card{c(10, 0), c(9, 1), c(8, 2), c(7, 3), c(6, 0)}, Straight},
		{"wheel straight", []Card{c(14, 0), c(5, 1), c(4, 2), c(3, 3), c(2, 0)}, Straight},
		{"trips", []Card{c(9, 0), c(9, 1), c(9, 2), c(13, 0), c(4, 1)}, Trips},
		{"two pair", []Card{c(9, 0), c(9, 1), c(4, 2), c(4, 0), c(13, 1)}, TwoPair},
		{"one pair", []Card{c(9, 0), c(9, 1), c(13, 2), c(7, 0), c(4, 1)}, OnePair},
		{"high card", []Card{c(14, 0), c(12, 1), c(9, 2), c(7, 0), c(4, 1)}, HighCard},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, eval5(t, tc.cards...).Category)
		})
	}
}

func TestWheelIsLowestStraight(t *testing.T) {
	wheel := eval5(t, c(14, 0), c(5, 1), c(4, 2), c(3, 3), c(2, 0))
	sixHigh := eval5(t, c(6, 0), c(5, 1), c(4, 2), c(3, 3), c(2, 0))
	assert.Equal(t, 1, Compare(sixHigh, wheel))
}

func TestKickersBreakTies(t *testing.T) {
	aceKicker := eval5(t, c(9, 0), c(9, 1), c(14, 2), c(7, 0), c(4, 1))
	kingKicker := eval5(t, c(9, 2), c(9, 3), c(13, 2), c(7, 1), c(4, 2))
	assert.Equal(t, 1, Compare(aceKicker, kingKicker))

	// Identical ranks in different suits tie exactly.
	a := eval5(t, c(14, 0), c(12, 1), c(9, 2), c(7, 0), c(4, 1))
	b := eval5(t, c(14, 1), c(12, 2), c(9, 3), c(7, 1), c(4, 2))
	assert.Equal(t, 0, Compare(a, b))
}

func TestFoldedLosesToEverything(t *testing.T) {
	weakest := eval5(t, c(7, 0), c(5, 1), c(4, 2), c(3, 3), c(2, 0))
	assert.Equal(t, 1, Compare(weakest, Folded))
	assert.Equal(t, -1, Compare(Folded, weakest))
	assert.Equal(t, 0, Compare(Folded, Folded))
}

func TestEvaluate7PicksBestSubset(t *testing.T) {
	// Board has a flush; the pair in the hole must not distract.
	r, err := Evaluate7([]Card{
		c(14, 1), c(10, 1), c(8, 1), c(6, 1), c(3, 1),
		c(14, 0), c(14, 2),
	})
	require.NoError(t, err)
	assert.Equal(t, Flush, r.Category)
}

func TestEvaluate7RejectsDuplicates(t *testing.T) {
	_, err := Evaluate7([]Card{
		c(14, 1), c(10, 1), c(8, 1), c(6, 1), c(3, 1),
		c(14, 1), c(2, 0),
	})
	assert.Error(t, err)

	_, err = Evaluate7([]Card{c(2, 0)})
	assert.Error(t, err)
}

// oracleCard converts to the reference evaluator's encoding (ace is 1).
func oracleCard(t *testing.T, card Card) poker.Card {
	t.Helper()
	r := card.Rank()
	if r == 14 {
		r = 1
	}
	pc, err := poker.MakeCard(poker.Suit(card.Suit()), poker.Rank(r))
	require.NoError(t, err)
	return pc
}

func oracleScore(t *testing.T, cards []Card) int16 {
	t.Helper()
	var hand [7]poker.Card
	for i, card := range cards {
		hand[i] = oracleCard(t, card)
	}
	return poker.Eval7(&hand)
}

// TestEvaluate7AgainstOracle cross-checks hand ordering against the
// paulhankin evaluator over many deterministic deals: two players sharing a
// board must be ordered identically by both.
func TestEvaluate7AgainstOracle(t *testing.T) {
	for trial := 0; trial < 100; trial++ {
		seedInput := sha256.Sum256([]byte(fmt.Sprintf("oracle-%d", trial)))
		perm := shuffle.Permutation(seedInput)

		board := make([]Card, 5)
		for i := 0; i < 5; i++ {
			board[i] = Card(perm[i])
		}
		handA := append(append([]Card{}, board...), Card(perm[5]), Card(perm[6]))
		handB := append(append([]Card{}, board...), Card(perm[7]), Card(perm[8]))

		rA, err := Evaluate7(handA)
		require.NoError(t, err)
		rB, err := Evaluate7(handB)
		require.NoError(t, err)

		oA := oracleScore(t, handA)
		oB := oracleScore(t, handB)

		got := Compare(rA, rB)
		want := 0
		if oA > oB {
			want = 1
		} else if oA < oB {
			want = -1
		}
		require.Equal(t, want, got, "trial %d: cards A=%v B=%v", trial, handA, handB)
	}
}
