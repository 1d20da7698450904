package app

import (
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/shuffle"
	"riverchain/internal/state"
)

func initFee(t *testing.T, a *RiverApp) {
	t.Helper()
	mustOk(t, a.deliverTx(txBytes(t, "fee/init", map[string]any{
		"admin": "gov", "collector": "rake",
	}), 1, 0))
}

func timeoutTx(t *testing.T, a *RiverApp, tableID uint64, nowUnix int64) *abci.ExecTxResult {
	t.Helper()
	return a.deliverTx(txBytes(t, "poker/timeout", map[string]any{"tableId": tableID}), 1, nowUnix)
}

func TestCommitTimeoutPenalizesAndAborts(t *testing.T) {
	a := newTestApp(t)
	initFee(t, a)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)

	mustOk(t, a.deliverTx(txBytes(t, "poker/start_hand", map[string]any{"caller": "alice", "tableId": tableID}), 1, 0))
	digest := shuffle.CommitDigest(secretFor("alice"))
	mustOk(t, a.deliverTx(txBytes(t, "poker/commit", map[string]any{
		"player": "alice", "tableId": tableID, "digest": digest[:],
	}), 1, 0))

	// Default commit window is 60s; one second early is too soon.
	mustFail(t, timeoutTx(t, a, tableID, 59))

	res := mustOk(t, timeoutTx(t, a, tableID, 60))
	pen := findEvent(res.Events, "TimeoutPenalty")
	if attr(pen, "player") != "bob" {
		t.Fatalf("penalized %q, want bob", attr(pen, "player"))
	}
	if got := parseU64(t, attr(pen, "amount")); got != 100 {
		t.Fatalf("penalty = %d, want 100 (10%% of 1000)", got)
	}
	if got := attr(findEvent(res.Events, "HandAborted"), "reason"); got != "commit timeout" {
		t.Fatalf("abort reason = %q", got)
	}

	if a.st.Tables[tableID].Hand != nil {
		t.Fatalf("expected hand cleared")
	}
	if seatStack(a, tableID, 1) != 900 {
		t.Fatalf("bob stack = %d, want 900", seatStack(a, tableID, 1))
	}
	if !a.st.Tables[tableID].Seats[1].SittingOut {
		t.Fatalf("bob must be sitting out")
	}
	// Alice committed in time: untouched and still in.
	if seatStack(a, tableID, 0) != 1000 || a.st.Tables[tableID].Seats[0].SittingOut {
		t.Fatalf("alice must be unaffected")
	}
	if got := a.st.Balance("rake"); got != 100 {
		t.Fatalf("collector balance = %d, want 100", got)
	}
}

func TestRevealTimeout(t *testing.T) {
	a := newTestApp(t)
	initFee(t, a)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)

	mustOk(t, a.deliverTx(txBytes(t, "poker/start_hand", map[string]any{"caller": "alice", "tableId": tableID}), 1, 0))
	for _, name := range []string{"alice", "bob"} {
		digest := shuffle.CommitDigest(secretFor(name))
		mustOk(t, a.deliverTx(txBytes(t, "poker/commit", map[string]any{
			"player": name, "tableId": tableID, "digest": digest[:],
		}), 1, 0))
	}
	mustOk(t, a.deliverTx(txBytes(t, "poker/reveal", map[string]any{
		"player": "alice", "tableId": tableID, "secret": secretFor("alice"),
	}), 1, 0))

	// The reveal deadline was fixed at hand start: commit window + reveal window.
	mustFail(t, timeoutTx(t, a, tableID, 119))

	res := mustOk(t, timeoutTx(t, a, tableID, 120))
	if got := attr(findEvent(res.Events, "HandAborted"), "reason"); got != "reveal timeout" {
		t.Fatalf("abort reason = %q", got)
	}
	if got := attr(findEvent(res.Events, "TimeoutPenalty"), "player"); got != "bob" {
		t.Fatalf("penalized %q, want bob", got)
	}
	if seatStack(a, tableID, 1) != 900 {
		t.Fatalf("bob stack = %d, want 900", seatStack(a, tableID, 1))
	}
}

func TestActionTimeoutAutoFolds(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	mustFail(t, timeoutTx(t, a, tableID, 29))

	res := mustOk(t, timeoutTx(t, a, tableID, 30))
	if got := attr(findEvent(res.Events, "TimeoutFold"), "player"); got != "alice" {
		t.Fatalf("folded %q, want alice", got)
	}
	if got := attr(findEvent(res.Events, "HandCompleted"), "reason"); got != "fold" {
		t.Fatalf("completion reason = %q", got)
	}
	// Alice forfeits her small blind to bob.
	if seatStack(a, tableID, 0) != 995 || seatStack(a, tableID, 1) != 1005 {
		t.Fatalf("stacks = %d/%d, want 995/1005", seatStack(a, tableID, 0), seatStack(a, tableID, 1))
	}
}

func TestActionTimeoutMidHandAdvancesAction(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob", "carol"}, nil)
	startToPreflop(t, a, tableID, 1, 0)

	// Three-handed the button opens; the timeout folds the opener but the
	// hand continues between the blinds.
	res := mustOk(t, timeoutTx(t, a, tableID, 30))
	if got := attr(findEvent(res.Events, "TimeoutFold"), "player"); got != "alice" {
		t.Fatalf("folded %q, want alice", got)
	}
	h := activeHand(t, a, tableID)
	if h.Status[0] != state.StatusFolded {
		t.Fatalf("alice status = %s, want folded", h.Status[0])
	}
	if got := actionPlayer(t, a, tableID); got != "bob" {
		t.Fatalf("action on %s, want bob", got)
	}
}

func TestTimeoutPenaltyWaivedWithoutCollector(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, nil)

	mustOk(t, a.deliverTx(txBytes(t, "poker/start_hand", map[string]any{"caller": "alice", "tableId": tableID}), 1, 0))
	res := mustOk(t, timeoutTx(t, a, tableID, 60))

	// No fee collector exists, so there is nowhere to send a penalty; the
	// stalled players still get sat out.
	for _, ev := range res.Events {
		if ev.Type == "TimeoutPenalty" && attr(&ev, "amount") != "0" {
			t.Fatalf("expected waived penalty, got %s", attr(&ev, "amount"))
		}
	}
	if seatStack(a, tableID, 0) != 1000 || seatStack(a, tableID, 1) != 1000 {
		t.Fatalf("stacks must be untouched")
	}
	if !a.st.Tables[tableID].Seats[0].SittingOut || !a.st.Tables[tableID].Seats[1].SittingOut {
		t.Fatalf("stalled players must be sitting out")
	}
}

func TestCustomTimeoutWindows(t *testing.T) {
	a := newTestApp(t)
	tableID := setupTable(t, a, []string{"alice", "bob"}, map[string]any{
		"commitTimeoutSecs": 10, "revealTimeoutSecs": 20, "actionTimeoutSecs": 5,
	})

	mustOk(t, a.deliverTx(txBytes(t, "poker/start_hand", map[string]any{"caller": "alice", "tableId": tableID}), 1, 100))
	h := activeHand(t, a, tableID)
	if h.CommitDeadline != 110 || h.RevealDeadline != 130 {
		t.Fatalf("deadlines = %d/%d, want 110/130", h.CommitDeadline, h.RevealDeadline)
	}
}
