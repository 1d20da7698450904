package app

import (
	"crypto/sha256"
	"strings"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/holdem"
	"riverchain/internal/shuffle"
	"riverchain/internal/state"
)

// secretFor derives a deterministic shuffle secret per player.
func secretFor(name string) []byte {
	s := sha256.Sum256([]byte("secret-" + name))
	return s[:]
}

func handPlayerNames(t *testing.T, a *RiverApp, tableID uint64) []string {
	t.Helper()
	tbl := a.st.Tables[tableID]
	h := activeHand(t, a, tableID)
	names := make([]string, h.NumPlayers())
	for i, s := range h.PlayersInHand {
		names[i] = tbl.Seats[s].Player
	}
	return names
}

// startToPreflop drives a hand from start_hand through everyone's commit and
// reveal, leaving the table in preflop with blinds posted.
func startToPreflop(t *testing.T, a *RiverApp, tableID uint64, height, nowUnix int64) {
	t.Helper()
	tbl := a.st.Tables[tableID]
	var caller string
	for _, s := range tbl.Seats {
		if s != nil {
			caller = s.Player
			break
		}
	}
	mustOk(t, a.deliverTx(txBytes(t, "poker/start_hand", map[string]any{
		"caller": caller, "tableId": tableID,
	}), height, nowUnix))

	names := handPlayerNames(t, a, tableID)
	for _, name := range names {
		digest := shuffle.CommitDigest(secretFor(name))
		mustOk(t, a.deliverTx(txBytes(t, "poker/commit", map[string]any{
			"player": name, "tableId": tableID, "digest": digest[:],
		}), height, nowUnix))
	}
	for _, name := range names {
		mustOk(t, a.deliverTx(txBytes(t, "poker/reveal", map[string]any{
			"player": name, "tableId": tableID, "secret": secretFor(name),
		}), height, nowUnix))
	}

	if got := activeHand(t, a, tableID).Phase; got != state.PhasePreflop {
		t.Fatalf("phase = %s, want preflop", got)
	}
}

func actionPlayer(t *testing.T, a *RiverApp, tableID uint64) string {
	t.Helper()
	h := activeHand(t, a, tableID)
	if h.ActionOn < 0 {
		t.Fatalf("no player to act")
	}
	return a.st.Tables[tableID].Seats[h.SeatOf(h.ActionOn)].Player
}

func act(t *testing.T, a *RiverApp, tableID uint64, player, action string, amount uint64) *abci.ExecTxResult {
	t.Helper()
	return mustOk(t, a.deliverTx(txBytes(t, "poker/act", map[string]any{
		"player": player, "tableId": tableID, "action": action, "amount": amount,
	}), 1, 0))
}

func tryAct(t *testing.T, a *RiverApp, tableID uint64, player, action string, amount uint64) *abci.ExecTxResult {
	t.Helper()
	return a.deliverTx(txBytes(t, "poker/act", map[string]any{
		"player": player, "tableId": tableID, "action": action, "amount": amount,
	}), 1, 0)
}

func foldOut(t *testing.T, a *RiverApp, tableID uint64) {
	t.Helper()
	for a.st.Tables[tableID].Hand != nil {
		act(t, a, tableID, actionPlayer(t, a, tableID), "fold", 0)
	}
}

func TestStartHandNeedsTwoEligiblePlayers(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)

	mustOk(t, a.deliverTx(txBytes(t, "poker/sit_out", map[string]any{"player": "bob", "tableId": tableID}), 1, 0))
	mustFail(t, a.deliverTx(txBytes(t, "poker/start_hand", map[string]any{"caller": "alice", "tableId": tableID}), 1, 0))
}

func TestCommitRevealFlow(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)

	mustOk(t, a.deliverTx(txBytes(t, "poker/start_hand", map[string]any{"caller": "alice", "tableId": tableID}), 1, 100))
	h := activeHand(t, a, tableID)
	if h.Phase != state.PhaseCommit {
		t.Fatalf("phase = %s, want commit", h.Phase)
	}
	if h.CommitDeadline != 160 || h.RevealDeadline != 220 {
		t.Fatalf("deadlines = %d/%d, want 160/220", h.CommitDeadline, h.RevealDeadline)
	}

	// Acting before the deal is rejected.
	mustFail(t, tryAct(t, a, tableID, "alice", "check", 0))

	// A digest must be exactly 32 bytes.
	mustFail(t, a.deliverTx(txBytes(t, "poker/commit", map[string]any{
		"player": "alice", "tableId": tableID, "digest": []byte{1, 2, 3},
	}), 1, 100))

	for _, name := range []string{"alice", "bob"} {
		digest := shuffle.CommitDigest(secretFor(name))
		mustOk(t, a.deliverTx(txBytes(t, "poker/commit", map[string]any{
			"player": name, "tableId": tableID, "digest": digest[:],
		}), 1, 100))
	}
	if got := activeHand(t, a, tableID).Phase; got != state.PhaseReveal {
		t.Fatalf("phase = %s, want reveal", got)
	}

	// A secret that does not hash to the commit is rejected.
	res := mustFail(t, a.deliverTx(txBytes(t, "poker/reveal", map[string]any{
		"player": "alice", "tableId": tableID, "secret": secretFor("wrong"),
	}), 1, 100))
	if !strings.Contains(res.Log, "does not match") {
		t.Fatalf("unexpected log %q", res.Log)
	}

	for _, name := range []string{"alice", "bob"} {
		mustOk(t, a.deliverTx(txBytes(t, "poker/reveal", map[string]any{
			"player": name, "tableId": tableID, "secret": secretFor(name),
		}), 1, 100))
	}

	h = activeHand(t, a, tableID)
	if h.Phase != state.PhasePreflop {
		t.Fatalf("phase = %s, want preflop", h.Phase)
	}
	// Heads-up: the button posts the small blind and acts first.
	if h.SmallBlindSeat != 0 || h.BigBlindSeat != 1 {
		t.Fatalf("blinds on seats %d/%d, want 0/1", h.SmallBlindSeat, h.BigBlindSeat)
	}
	if seatStack(a, tableID, 0) != 995 || seatStack(a, tableID, 1) != 990 {
		t.Fatalf("stacks = %d/%d, want 995/990", seatStack(a, tableID, 0), seatStack(a, tableID, 1))
	}
	if h.Pot.TotalPot() != 15 {
		t.Fatalf("pot = %d, want 15", h.Pot.TotalPot())
	}
	if got := actionPlayer(t, a, tableID); got != "alice" {
		t.Fatalf("first to act = %s, want alice", got)
	}
}

func TestActOutOfTurnRejected(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	res := mustFail(t, tryAct(t, a, tableID, "bob", "check", 0))
	if !strings.Contains(res.Log, "not your turn") {
		t.Fatalf("unexpected log %q", res.Log)
	}
}

func TestFoldWinReturnsUncalledExcess(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	// Alice raises to 100; only bob's 10 is matched, so 90 comes back and she
	// collects the 20 that was contested.
	act(t, a, tableID, "alice", "raise_to", 100)
	res := act(t, a, tableID, "bob", "fold", 0)

	if a.st.Tables[tableID].Hand != nil {
		t.Fatalf("expected hand finished")
	}
	if got := attr(findEvent(res.Events, "HandCompleted"), "reason"); got != "fold" {
		t.Fatalf("completion reason = %q, want fold", got)
	}
	if got := parseU64(t, attr(findEvent(res.Events, "PotAwarded"), "amount")); got != 20 {
		t.Fatalf("awarded = %d, want 20", got)
	}
	if seatStack(a, tableID, 0) != 1010 || seatStack(a, tableID, 1) != 990 {
		t.Fatalf("stacks = %d/%d, want 1010/990", seatStack(a, tableID, 0), seatStack(a, tableID, 1))
	}
}

func TestFoldWinKeepsFoldedChipsInPot(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob", "carol"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	// Alice over-bets to 40 and both blinds fold. The matched level is the
	// big blind's 10, so 30 comes back to alice and the blinds' folded chips
	// stay in the pot she wins: 10 matched + 5 + 10 dead.
	act(t, a, tableID, "alice", "raise_to", 40)
	act(t, a, tableID, "bob", "fold", 0)
	res := act(t, a, tableID, "carol", "fold", 0)

	if got := parseU64(t, attr(findEvent(res.Events, "PotAwarded"), "amount")); got != 25 {
		t.Fatalf("awarded = %d, want 25", got)
	}
	if seatStack(a, tableID, 0) != 1015 || seatStack(a, tableID, 1) != 995 || seatStack(a, tableID, 2) != 990 {
		t.Fatalf("stacks = %d/%d/%d, want 1015/995/990",
			seatStack(a, tableID, 0), seatStack(a, tableID, 1), seatStack(a, tableID, 2))
	}
}

func TestMinRaiseExactBoundary(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	// Facing the 10 big blind with a 10 minimum raise: 19 is one chip short,
	// 20 is exactly legal.
	before := a.st.AppHash()
	res := mustFail(t, tryAct(t, a, tableID, "alice", "raise_to", 19))
	if !strings.Contains(res.Log, "below minimum") {
		t.Fatalf("unexpected log %q", res.Log)
	}
	if string(before) != string(a.st.AppHash()) {
		t.Fatalf("rejected raise mutated state")
	}

	act(t, a, tableID, "alice", "raise_to", 20)
	h := activeHand(t, a, tableID)
	if h.MinRaise != 10 || h.LastAggressor != 0 {
		t.Fatalf("minRaise/aggressor = %d/%d, want 10/0", h.MinRaise, h.LastAggressor)
	}

	// The exact-minimum raise reopened action: bob may re-raise, with the
	// same boundary shifted to 30.
	mustFail(t, tryAct(t, a, tableID, "bob", "raise_to", 29))
	act(t, a, tableID, "bob", "raise_to", 30)
	h = activeHand(t, a, tableID)
	if h.LastAggressor != 1 {
		t.Fatalf("aggressor = %d, want 1", h.LastAggressor)
	}
	// And bob's full raise handed alice a fresh decision in turn.
	if got := actionPlayer(t, a, tableID); got != "alice" {
		t.Fatalf("action on %s, want alice", got)
	}
}

func TestHeadsUpCheckDownToShowdown(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	// Work out the winner independently while the hand state is still live:
	// with two players the first four deck cards are hole cards and the next
	// five become the board.
	h := activeHand(t, a, tableID)
	board := make([]holdem.Card, 0, 5)
	for _, c := range h.Deck[4:9] {
		board = append(board, holdem.Card(c))
	}
	names := handPlayerNames(t, a, tableID)
	ranks := make([]holdem.Rank, len(names))
	for i, name := range names {
		key := shuffle.CardKey(secretFor(name), uint8(h.PlayersInHand[i]))
		hole := shuffle.Crypt(h.EncryptedHole[i], key)
		if len(hole) != 2 {
			t.Fatalf("hole = %d bytes", len(hole))
		}
		seven := append(append([]holdem.Card{}, board...), holdem.Card(hole[0]), holdem.Card(hole[1]))
		r, err := holdem.Evaluate7(seven)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		ranks[i] = r
	}

	act(t, a, tableID, "alice", "call", 0)
	act(t, a, tableID, "bob", "check", 0)
	var last *abci.ExecTxResult
	for _, phase := range []state.HandPhase{state.PhaseFlop, state.PhaseTurn, state.PhaseRiver} {
		if got := activeHand(t, a, tableID).Phase; got != phase {
			t.Fatalf("phase = %s, want %s", got, phase)
		}
		act(t, a, tableID, "alice", "check", 0)
		last = act(t, a, tableID, "bob", "check", 0)
	}

	if a.st.Tables[tableID].Hand != nil {
		t.Fatalf("expected hand finished")
	}
	if got := attr(findEvent(last.Events, "HandCompleted"), "reason"); got != "showdown" {
		t.Fatalf("completion reason = %q, want showdown", got)
	}

	aliceStack, bobStack := seatStack(a, tableID, 0), seatStack(a, tableID, 1)
	if aliceStack+bobStack != 2000 {
		t.Fatalf("chips not conserved: %d + %d", aliceStack, bobStack)
	}
	switch holdem.Compare(ranks[0], ranks[1]) {
	case 1:
		if aliceStack != 1010 {
			t.Fatalf("alice stack = %d, want 1010", aliceStack)
		}
	case -1:
		if bobStack != 1010 {
			t.Fatalf("bob stack = %d, want 1010", bobStack)
		}
	default:
		if aliceStack != 1000 || bobStack != 1000 {
			t.Fatalf("split pot stacks = %d/%d, want 1000/1000", aliceStack, bobStack)
		}
	}
}

func TestBigBlindKeepsOption(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob", "carol"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	// Button seat 0, blinds seats 1 and 2: alice opens, and calls all around
	// must still hand the big blind a final decision.
	act(t, a, tableID, "alice", "call", 0)
	act(t, a, tableID, "bob", "call", 0)

	h := activeHand(t, a, tableID)
	if h.Phase != state.PhasePreflop {
		t.Fatalf("phase = %s, want preflop", h.Phase)
	}
	if got := actionPlayer(t, a, tableID); got != "carol" {
		t.Fatalf("action on %s, want carol (big blind option)", got)
	}

	act(t, a, tableID, "carol", "check", 0)
	if got := activeHand(t, a, tableID).Phase; got != state.PhaseFlop {
		t.Fatalf("phase = %s, want flop", got)
	}
}

func TestFullRaiseReopensShortAllInDoesNot(t *testing.T) {
	a := newTestApp(t)
	for _, p := range []string{"alice", "bob", "carol"} {
		mustOk(t, a.deliverTx(txBytes(t, "bank/mint", map[string]any{"to": p, "amount": 10000}), 1, 0))
	}
	res := mustOk(t, a.deliverTx(txBytes(t, "poker/create_table", map[string]any{
		"creator": "alice", "smallBlind": 5, "bigBlind": 10, "minBuyIn": 10, "maxBuyIn": 5000,
	}), 1, 0))
	tableID := parseU64(t, attr(findEvent(res.Events, "TableCreated"), "tableId"))

	// Bob sits short so his shove cannot be a full raise.
	for i, j := range []struct {
		player string
		buyIn  uint64
	}{{"alice", 1000}, {"bob", 30}, {"carol", 1000}} {
		mustOk(t, a.deliverTx(txBytes(t, "poker/join", map[string]any{
			"player": j.player, "tableId": tableID, "seat": i, "buyIn": j.buyIn,
		}), 1, 0))
	}
	startToPreflop(t, a, tableID, 1, 0)

	// Alice's raise to 25 is a full raise of 15: the minimum steps up.
	act(t, a, tableID, "alice", "raise_to", 25)
	if got := activeHand(t, a, tableID).MinRaise; got != 15 {
		t.Fatalf("min raise = %d, want 15", got)
	}

	// Bob's all-in to 30 raises only 5: legal, but it reopens nothing.
	act(t, a, tableID, "bob", "raise_to", 30)
	h := activeHand(t, a, tableID)
	if h.MinRaise != 15 {
		t.Fatalf("min raise = %d, want 15 after short all-in", h.MinRaise)
	}
	if h.Status[1] != state.StatusAllIn {
		t.Fatalf("bob status = %s, want allin", h.Status[1])
	}

	act(t, a, tableID, "carol", "call", 0)

	// Alice already acted this round; facing only the short shove she may
	// call but not raise again.
	before := a.st.AppHash()
	failed := mustFail(t, tryAct(t, a, tableID, "alice", "raise_to", 45))
	if !strings.Contains(failed.Log, "not reopened") {
		t.Fatalf("unexpected log %q", failed.Log)
	}
	if string(before) != string(a.st.AppHash()) {
		t.Fatalf("rejected raise mutated state")
	}

	act(t, a, tableID, "alice", "call", 0)
	h = activeHand(t, a, tableID)
	if h.Phase != state.PhaseFlop {
		t.Fatalf("phase = %s, want flop", h.Phase)
	}
	if got := h.Pot.Collected; got != 90 {
		t.Fatalf("collected = %d, want 90", got)
	}
	if h.MinRaise != 10 {
		t.Fatalf("min raise = %d, want big blind 10 on new street", h.MinRaise)
	}
	if seatStack(a, tableID, 0) != 970 || seatStack(a, tableID, 1) != 0 || seatStack(a, tableID, 2) != 970 {
		t.Fatalf("stacks = %d/%d/%d", seatStack(a, tableID, 0), seatStack(a, tableID, 1), seatStack(a, tableID, 2))
	}
}

func TestBothAllInRunsBoardOut(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	act(t, a, tableID, "alice", "all_in", 0)
	last := act(t, a, tableID, "bob", "call", 0)

	if a.st.Tables[tableID].Hand != nil {
		t.Fatalf("expected board run out and hand settled")
	}
	if ev := findEvent(last.Events, "HandCompleted"); attr(ev, "reason") != "showdown" {
		t.Fatalf("want showdown completion, got %v", ev)
	}
	if got := seatStack(a, tableID, 0) + seatStack(a, tableID, 1); got != 2000 {
		t.Fatalf("chips not conserved: %d", got)
	}
}

func TestStraddleFlow(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob", "carol"}, map[string]any{"straddleEnabled": true})
	startToPreflop(t, a, tableID, 1, 0)

	// The straddle doubles the price and keeps the straddler's option alive.
	act(t, a, tableID, "alice", "straddle", 0)
	h := activeHand(t, a, tableID)
	if h.StraddleIdx != 0 || h.StraddleAmount != 20 {
		t.Fatalf("straddle = idx %d amount %d", h.StraddleIdx, h.StraddleAmount)
	}
	if h.MinRaise != 20 {
		t.Fatalf("min raise = %d, want 20", h.MinRaise)
	}
	if h.Pot.TotalPot() != 35 {
		t.Fatalf("pot = %d, want 35", h.Pot.TotalPot())
	}

	act(t, a, tableID, "bob", "call", 0)
	act(t, a, tableID, "carol", "call", 0)

	// Action returns to the straddler before the street may close.
	if got := actionPlayer(t, a, tableID); got != "alice" {
		t.Fatalf("action on %s, want alice", got)
	}
	act(t, a, tableID, "alice", "check", 0)

	h = activeHand(t, a, tableID)
	if h.Phase != state.PhaseFlop {
		t.Fatalf("phase = %s, want flop", h.Phase)
	}
	if got := h.Pot.Collected; got != 60 {
		t.Fatalf("collected = %d, want 60", got)
	}
}

func TestStraddleRejectedWhenDisabledOrLate(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob", "carol"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	mustFail(t, tryAct(t, a, tableID, "alice", "straddle", 0))

	mustOk(t, a.deliverTx(txBytes(t, "poker/set_straddle", map[string]any{
		"owner": "alice", "tableId": tableID, "enabled": true,
	}), 1, 0))

	// No longer the opening action once somebody has acted.
	act(t, a, tableID, "alice", "call", 0)
	mustFail(t, tryAct(t, a, tableID, "bob", "straddle", 0))
}

func TestDeadButtonAccruesAndCollectsMissedBlinds(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob", "carol"}, nil)

	// Hand 1: button 0, blinds 1/2. Everyone folds to the big blind.
	startToPreflop(t, a, tableID, 1, 0)
	foldOut(t, a, tableID)

	// Alice sits out; the big-blind obligation walks past her seat.
	mustOk(t, a.deliverTx(txBytes(t, "poker/sit_out", map[string]any{"player": "alice", "tableId": tableID}), 1, 0))
	startToPreflop(t, a, tableID, 2, 0)
	if got := a.st.Tables[tableID].MissedBlinds[0]; got != 10 {
		t.Fatalf("missed blinds = %d, want 10", got)
	}
	foldOut(t, a, tableID)

	// On return the owed blind comes in as dead money alongside her small blind.
	mustOk(t, a.deliverTx(txBytes(t, "poker/sit_in", map[string]any{"player": "alice", "tableId": tableID}), 1, 0))
	startToPreflop(t, a, tableID, 3, 0)

	tbl := a.st.Tables[tableID]
	h := activeHand(t, a, tableID)
	if tbl.DealerButton != 2 || h.SmallBlindSeat != 0 || h.BigBlindSeat != 1 {
		t.Fatalf("button/blinds = %d/%d/%d, want 2/0/1", tbl.DealerButton, h.SmallBlindSeat, h.BigBlindSeat)
	}
	if got := tbl.MissedBlinds[0]; got != 0 {
		t.Fatalf("missed blinds = %d, want 0 after posting", got)
	}
	if got := h.Pot.TotalPot(); got != 25 {
		t.Fatalf("pot = %d, want 25 (5 sb + 10 bb + 10 dead)", got)
	}
	idx := h.HandIdxOf(0)
	if got := h.Pot.TotalInvested(idx); got != 15 {
		t.Fatalf("alice invested = %d, want 15", got)
	}
	// Dead money sets no price: the call is still 10.
	if got := h.Pot.MaxCurrentBet(); got != 10 {
		t.Fatalf("max street bet = %d, want 10", got)
	}
}

func TestLeaveDuringHandIsQueued(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	res := mustOk(t, a.deliverTx(txBytes(t, "poker/leave", map[string]any{"player": "bob", "tableId": tableID}), 1, 0))
	if findEvent(res.Events, "LeaveQueued") == nil {
		t.Fatalf("expected LeaveQueued, got %v", res.Events)
	}
	if a.st.Tables[tableID].Seats[1] == nil {
		t.Fatalf("bob must stay seated until the hand ends")
	}

	// Bob folds the hand out; his departure settles with the hand.
	last := act(t, a, tableID, "alice", "fold", 0)
	if findEvent(last.Events, "PlayerLeft") == nil {
		t.Fatalf("expected PlayerLeft with hand completion, got %v", last.Events)
	}
	if a.st.Tables[tableID].Seats[1] != nil {
		t.Fatalf("expected seat 1 cleared")
	}
	// Blinds: bob posted 10 as big blind and won alice's 5 small blind.
	if got := a.st.Balance("bob"); got != 10005 {
		t.Fatalf("bob balance = %d, want 10005", got)
	}
}
