package app

import (
	"bytes"
	"encoding/json"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/codec"
	"riverchain/internal/holdem"
	"riverchain/internal/pot"
	"riverchain/internal/shuffle"
	"riverchain/internal/state"
)

// eligibleSeat reports whether a seat gets dealt into the next hand.
func eligibleSeat(t *state.Table, seatIdx int) bool {
	s := t.Seats[seatIdx]
	return s != nil && !s.SittingOut && s.Stack > 0
}

func eligibleSeats(t *state.Table) []int {
	out := make([]int, 0, state.NumSeats)
	for i := 0; i < state.NumSeats; i++ {
		if eligibleSeat(t, i) {
			out = append(out, i)
		}
	}
	return out
}

func nextEligibleSeat(t *state.Table, from int) int {
	for k := 1; k <= state.NumSeats; k++ {
		s := (from + k) % state.NumSeats
		if eligibleSeat(t, s) {
			return s
		}
	}
	return -1
}

func countNotFolded(h *state.Hand) int {
	n := 0
	for _, st := range h.Status {
		if st != state.StatusFolded {
			n++
		}
	}
	return n
}

func countActive(h *state.Hand) int {
	n := 0
	for _, st := range h.Status {
		if st == state.StatusActive {
			n++
		}
	}
	return n
}

func nonFoldedMask(h *state.Hand) []bool {
	mask := make([]bool, len(h.Status))
	for i, st := range h.Status {
		mask[i] = st != state.StatusFolded
	}
	return mask
}

// nextToAct scans clockwise from the position after `from` for an active
// player who still owes a decision this street: either they have not acted
// since the last reopen, or their street bet is below the current maximum.
func nextToAct(h *state.Hand, from int) int {
	n := h.NumPlayers()
	max := h.Pot.MaxCurrentBet()
	for k := 1; k <= n; k++ {
		i := (from + k + n) % n
		if h.Status[i] != state.StatusActive {
			continue
		}
		if !h.HasActed[i] || h.Pot.CurrentBet(i) < max {
			return i
		}
	}
	return -1
}

func streetComplete(h *state.Hand) bool {
	max := h.Pot.MaxCurrentBet()
	for i := range h.Status {
		if h.Status[i] != state.StatusActive {
			continue
		}
		if !h.HasActed[i] || h.Pot.CurrentBet(i) != max {
			return false
		}
	}
	return true
}

func cardsString(cards []state.Card) string {
	var buf bytes.Buffer
	for i, c := range cards {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(c.String())
	}
	return buf.String()
}

// ---- start_hand ----

func applyStartHand(st *state.State, env codec.TxEnvelope, nowUnix int64) *abci.ExecTxResult {
	var msg codec.PokerStartHandTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/start_hand value")
	}
	if msg.Caller == "" {
		return failTx("missing caller")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	if t.Hand != nil {
		return failTx("hand already in progress")
	}
	if t.Paused {
		return failTx("table is paused")
	}
	if t.AdminOnlyStart && msg.Caller != t.Owner {
		return failTx("only the table owner may start a hand")
	}
	if err := requireActorAuth(st, env, msg.Caller); err != nil {
		return failTx("%s", err.Error())
	}

	players := eligibleSeats(t)
	if len(players) < 2 {
		return failTx("need at least 2 eligible players")
	}

	if t.DealerButton < 0 {
		t.DealerButton = players[0]
	} else {
		t.DealerButton = nextEligibleSeat(t, t.DealerButton)
	}

	var sbSeat, bbSeat int
	if len(players) == 2 {
		sbSeat = t.DealerButton
		bbSeat = nextEligibleSeat(t, sbSeat)
	} else {
		sbSeat = nextEligibleSeat(t, t.DealerButton)
		bbSeat = nextEligibleSeat(t, sbSeat)
	}

	// Dead-button bookkeeping: the big-blind obligation walks seat by seat.
	// Occupied seats it passes while sitting out owe a blind on return.
	if t.NextBBSeat >= 0 && t.NextBBSeat != bbSeat {
		for k := t.NextBBSeat; k != bbSeat; k = (k + 1) % state.NumSeats {
			if t.Seats[k] != nil && t.Seats[k].SittingOut {
				t.MissedBlinds[k] += t.Params.BigBlind
			}
		}
	}
	t.NextBBSeat = (bbSeat + 1) % state.NumSeats

	handID := t.NextHandID
	t.NextHandID++

	n := len(players)
	h := &state.Hand{
		HandID:         handID,
		Phase:          state.PhaseCommit,
		PlayersInHand:  players,
		Status:         make([]state.SeatStatus, n),
		SmallBlindSeat: sbSeat,
		BigBlindSeat:   bbSeat,
		Commits:        make([][]byte, n),
		Secrets:        make([][]byte, n),
		EncryptedHole:  make([][]byte, n),
		Community:      []state.Card{},
		Pot:            pot.New(n),
		ActionOn:       -1,
		MinRaise:       t.Params.BigBlind,
		LastAggressor:  -1,
		HasActed:       make([]bool, n),
		StraddleIdx:    -1,
	}
	for i := range h.Status {
		h.Status[i] = state.StatusActive
	}
	h.DealerIdx = h.HandIdxOf(t.DealerButton)

	// Both deadlines are fixed before any secret lands, so the shuffle seed
	// inputs are committed up front.
	commitDL, err := addInt64AndU64Checked(nowUnix, tableCommitTimeoutSecs(t), "commit deadline")
	if err != nil {
		return failTx("%s", err.Error())
	}
	revealDL, err := addInt64AndU64Checked(commitDL, tableRevealTimeoutSecs(t), "reveal deadline")
	if err != nil {
		return failTx("%s", err.Error())
	}
	h.CommitDeadline = commitDL
	h.RevealDeadline = revealDL
	t.Hand = h

	return okEvent("HandStarted", map[string]string{
		"tableId":        fmt.Sprintf("%d", msg.TableID),
		"handId":         fmt.Sprintf("%d", handID),
		"buttonSeat":     fmt.Sprintf("%d", t.DealerButton),
		"smallBlindSeat": fmt.Sprintf("%d", sbSeat),
		"bigBlindSeat":   fmt.Sprintf("%d", bbSeat),
		"players":        fmt.Sprintf("%d", n),
		"commitDeadline": fmt.Sprintf("%d", commitDL),
		"revealDeadline": fmt.Sprintf("%d", revealDL),
	})
}

// ---- commit / reveal ----

func playerHandIdx(t *state.Table, player string) (int, error) {
	seatIdx := seatOfPlayer(t, player)
	if seatIdx < 0 {
		return -1, fmt.Errorf("player not seated")
	}
	idx := t.Hand.HandIdxOf(seatIdx)
	if idx < 0 {
		return -1, fmt.Errorf("player not dealt into this hand")
	}
	return idx, nil
}

func applyCommit(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerCommitTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/commit value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	if t.Hand == nil || t.Hand.Phase != state.PhaseCommit {
		return failTx("not in commit phase")
	}
	if len(msg.Digest) != shuffle.CommitSize {
		return failTx("digest must be %d bytes", shuffle.CommitSize)
	}
	idx, err := playerHandIdx(t, msg.Player)
	if err != nil {
		return failTx("%s", err.Error())
	}
	h := t.Hand
	if h.Commits[idx] != nil {
		return failTx("already committed")
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}
	h.Commits[idx] = msg.Digest

	remaining := 0
	for _, c := range h.Commits {
		if c == nil {
			remaining++
		}
	}
	events := []abci.Event{event("CommitRecorded", map[string]string{
		"tableId":   fmt.Sprintf("%d", msg.TableID),
		"handId":    fmt.Sprintf("%d", h.HandID),
		"player":    msg.Player,
		"remaining": fmt.Sprintf("%d", remaining),
	})}
	if remaining == 0 {
		h.Phase = state.PhaseReveal
		events = append(events, event("PhaseAdvanced", map[string]string{
			"tableId": fmt.Sprintf("%d", msg.TableID),
			"handId":  fmt.Sprintf("%d", h.HandID),
			"phase":   string(h.Phase),
		}))
	}
	return &abci.ExecTxResult{Code: 0, Events: events}
}

func applyReveal(st *state.State, env codec.TxEnvelope, height int64, nowUnix int64) *abci.ExecTxResult {
	var msg codec.PokerRevealTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/reveal value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	if t.Hand == nil || t.Hand.Phase != state.PhaseReveal {
		return failTx("not in reveal phase")
	}
	if !shuffle.ValidSecretSize(msg.Secret) {
		return failTx("secret must be %d..%d bytes", shuffle.MinSecretSize, shuffle.MaxSecretSize)
	}
	idx, err := playerHandIdx(t, msg.Player)
	if err != nil {
		return failTx("%s", err.Error())
	}
	h := t.Hand
	if h.Secrets[idx] != nil {
		return failTx("already revealed")
	}
	digest := shuffle.CommitDigest(msg.Secret)
	if !bytes.Equal(digest[:], h.Commits[idx]) {
		return failTx("secret does not match commit")
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}
	h.Secrets[idx] = msg.Secret

	remaining := 0
	for _, s := range h.Secrets {
		if s == nil {
			remaining++
		}
	}
	events := []abci.Event{event("SecretRevealed", map[string]string{
		"tableId":   fmt.Sprintf("%d", msg.TableID),
		"handId":    fmt.Sprintf("%d", h.HandID),
		"player":    msg.Player,
		"remaining": fmt.Sprintf("%d", remaining),
	})}
	if remaining == 0 {
		if err := dealAndPost(st, t, height, nowUnix, &events); err != nil {
			return failTx("%s", err.Error())
		}
	}
	return &abci.ExecTxResult{Code: 0, Events: events}
}

// dealAndPost runs once the last secret lands: derive the shuffle, deal and
// encrypt hole cards, post the forced stakes, and open preflop betting.
func dealAndPost(st *state.State, t *state.Table, height int64, nowUnix int64, events *[]abci.Event) error {
	h := t.Hand
	n := h.NumPlayers()

	seed := shuffle.DeriveSeed(h.Secrets, h.CommitDeadline, h.RevealDeadline, uint64(height))
	perm := shuffle.Permutation(seed)
	h.Deck = make([]state.Card, len(perm))
	for i, c := range perm {
		h.Deck[i] = state.Card(c)
	}

	// Two consecutive cards per player, dealt clockwise from the button.
	for k := 0; k < n; k++ {
		i := (h.DealerIdx + 1 + k) % n
		c0, c1 := h.Deck[h.DeckCursor], h.Deck[h.DeckCursor+1]
		h.DeckCursor += 2
		key := shuffle.CardKey(h.Secrets[i], uint8(h.SeatOf(i)))
		h.EncryptedHole[i] = shuffle.Crypt([]byte{byte(c0), byte(c1)}, key)
	}

	postStakes(t)
	h.Phase = state.PhasePreflop
	h.MinRaise = t.Params.BigBlind

	*events = append(*events, event("HoleCardsDealt", map[string]string{
		"tableId": fmt.Sprintf("%d", t.ID),
		"handId":  fmt.Sprintf("%d", h.HandID),
	}), event("BlindsPosted", map[string]string{
		"tableId":        fmt.Sprintf("%d", t.ID),
		"handId":         fmt.Sprintf("%d", h.HandID),
		"smallBlindSeat": fmt.Sprintf("%d", h.SmallBlindSeat),
		"bigBlindSeat":   fmt.Sprintf("%d", h.BigBlindSeat),
		"pot":            fmt.Sprintf("%d", h.Pot.TotalPot()),
	}))

	// Preflop action opens left of the big blind; heads-up the button posts
	// the small blind and acts first.
	prev := h.HandIdxOf(h.BigBlindSeat)
	if n == 2 {
		prev = (h.DealerIdx - 1 + n) % n
	}
	first := nextToAct(h, prev)
	if first < 0 {
		// Forced stakes left nobody able to act; run the board out.
		return advanceStreet(st, t, nowUnix, events)
	}
	h.ActionOn = first
	if err := setActionDeadline(t, nowUnix); err != nil {
		return err
	}
	*events = append(*events, event("PhaseAdvanced", map[string]string{
		"tableId":  fmt.Sprintf("%d", t.ID),
		"handId":   fmt.Sprintf("%d", h.HandID),
		"phase":    string(h.Phase),
		"actionOn": fmt.Sprintf("%d", h.ActionOn),
	}))
	return nil
}

func postForced(t *state.Table, idx int, amount uint64) {
	h := t.Hand
	seat := t.Seats[h.SeatOf(idx)]
	pay := min(amount, seat.Stack)
	seat.Stack -= pay
	h.Pot.AddBet(idx, pay)
	if seat.Stack == 0 {
		h.Status[idx] = state.StatusAllIn
	}
}

func postStakes(t *state.Table) {
	h := t.Hand
	p := t.Params
	n := h.NumPlayers()

	if p.Ante > 0 {
		for i := 0; i < n; i++ {
			seat := t.Seats[h.SeatOf(i)]
			pay := min(p.Ante, seat.Stack)
			seat.Stack -= pay
			h.Pot.AddDead(i, pay)
			if seat.Stack == 0 {
				h.Status[i] = state.StatusAllIn
			}
		}
	}

	// Owed missed blinds come in as dead money: they buy no street action.
	for i := 0; i < n; i++ {
		s := h.SeatOf(i)
		owed := t.MissedBlinds[s]
		if owed == 0 {
			continue
		}
		seat := t.Seats[s]
		pay := min(owed, seat.Stack)
		seat.Stack -= pay
		h.Pot.AddDead(i, pay)
		t.MissedBlinds[s] -= pay
		if seat.Stack == 0 {
			h.Status[i] = state.StatusAllIn
		}
	}

	postForced(t, h.HandIdxOf(h.SmallBlindSeat), p.SmallBlind)
	postForced(t, h.HandIdxOf(h.BigBlindSeat), p.BigBlind)
}

// ---- player actions ----

func applyActTx(st *state.State, env codec.TxEnvelope, nowUnix int64) *abci.ExecTxResult {
	var msg codec.PokerActTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/act value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	if t.Hand == nil {
		return failTx("no active hand")
	}
	h := t.Hand
	if !h.Phase.IsBetting() {
		return failTx("no betting in progress")
	}
	idx, err := playerHandIdx(t, msg.Player)
	if err != nil {
		return failTx("%s", err.Error())
	}
	if h.ActionOn != idx {
		return failTx("not your turn")
	}
	if h.Status[idx] != state.StatusActive {
		return failTx("cannot act: status=%s", h.Status[idx])
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}

	if err := applyPlayerAction(t, idx, msg.Action, msg.Amount); err != nil {
		return failTx("%s", err.Error())
	}
	events := []abci.Event{event("ActionApplied", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"handId":  fmt.Sprintf("%d", h.HandID),
		"player":  msg.Player,
		"action":  msg.Action,
		"amount":  fmt.Sprintf("%d", msg.Amount),
		"phase":   string(h.Phase),
	})}
	if err := advanceAfterAction(st, t, nowUnix, &events); err != nil {
		return failTx("%s", err.Error())
	}
	return &abci.ExecTxResult{Code: 0, Events: events}
}

func applyPlayerAction(t *state.Table, idx int, action string, amount uint64) error {
	h := t.Hand
	seat := t.Seats[h.SeatOf(idx)]

	switch action {
	case "fold":
		// The street bet stays live until the round's sweep so a lone
		// over-bettor is only refunded the portion nobody matched.
		h.Status[idx] = state.StatusFolded
		h.HasActed[idx] = true
		return nil

	case "check":
		if h.Pot.CallAmount(idx) != 0 {
			return fmt.Errorf("cannot check facing a bet of %d", h.Pot.CallAmount(idx))
		}
		h.HasActed[idx] = true
		return nil

	case "call":
		need := h.Pot.CallAmount(idx)
		if need == 0 {
			return fmt.Errorf("nothing to call")
		}
		pay := min(need, seat.Stack)
		seat.Stack -= pay
		h.Pot.AddBet(idx, pay)
		if seat.Stack == 0 {
			h.Status[idx] = state.StatusAllIn
		}
		h.HasActed[idx] = true
		return nil

	case "raise_to":
		return applyRaiseTo(t, idx, amount)

	case "all_in":
		return applyAllIn(t, idx)

	case "straddle":
		return applyStraddle(t, idx)

	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func applyRaiseTo(t *state.Table, idx int, amount uint64) error {
	h := t.Hand
	seat := t.Seats[h.SeatOf(idx)]
	cur := h.Pot.CurrentBet(idx)
	maxBet := h.Pot.MaxCurrentBet()

	if amount <= maxBet {
		return fmt.Errorf("raise to %d must exceed current bet %d", amount, maxBet)
	}
	if h.HasActed[idx] {
		return fmt.Errorf("cannot re-raise: betting was not reopened")
	}
	delta := amount - cur
	if delta > seat.Stack {
		return fmt.Errorf("raise to %d exceeds stack", amount)
	}
	allIn := delta == seat.Stack
	raiseSize := amount - maxBet
	if raiseSize < h.MinRaise && !allIn {
		return fmt.Errorf("raise size %d below minimum %d", raiseSize, h.MinRaise)
	}

	seat.Stack -= delta
	h.Pot.AddBet(idx, delta)
	if allIn {
		h.Status[idx] = state.StatusAllIn
	}
	if raiseSize >= h.MinRaise {
		reopenBetting(h, idx, raiseSize)
	}
	h.HasActed[idx] = true
	return nil
}

func applyAllIn(t *state.Table, idx int) error {
	h := t.Hand
	seat := t.Seats[h.SeatOf(idx)]
	if seat.Stack == 0 {
		return fmt.Errorf("no chips behind")
	}
	maxBet := h.Pot.MaxCurrentBet()
	total := h.Pot.CurrentBet(idx) + seat.Stack
	if total > maxBet && h.HasActed[idx] {
		return fmt.Errorf("cannot re-raise: betting was not reopened")
	}

	h.Pot.AddBet(idx, seat.Stack)
	seat.Stack = 0
	h.Status[idx] = state.StatusAllIn
	if total > maxBet {
		raiseSize := total - maxBet
		if raiseSize >= h.MinRaise {
			reopenBetting(h, idx, raiseSize)
		}
	}
	h.HasActed[idx] = true
	return nil
}

// reopenBetting records a full raise: everyone else gets a fresh decision.
func reopenBetting(h *state.Hand, idx int, raiseSize uint64) {
	h.MinRaise = raiseSize
	h.LastAggressor = idx
	for i := range h.HasActed {
		if i != idx {
			h.HasActed[i] = false
		}
	}
}

// applyStraddle posts a voluntary 2x big-blind live bet as the opening
// preflop action. The straddler's acted flag stays false, so action cannot
// close until it returns to them.
func applyStraddle(t *state.Table, idx int) error {
	h := t.Hand
	if h.Phase != state.PhasePreflop {
		return fmt.Errorf("straddle is preflop only")
	}
	if !t.Params.StraddleEnabled {
		return fmt.Errorf("straddle disabled at this table")
	}
	if h.StraddleIdx >= 0 {
		return fmt.Errorf("straddle already posted")
	}
	for _, acted := range h.HasActed {
		if acted {
			return fmt.Errorf("straddle must be the opening action")
		}
	}
	if h.LastAggressor >= 0 {
		return fmt.Errorf("straddle must be the opening action")
	}

	amt, err := addU64Checked(t.Params.BigBlind, t.Params.BigBlind, "straddle")
	if err != nil {
		return err
	}
	seat := t.Seats[h.SeatOf(idx)]
	cur := h.Pot.CurrentBet(idx)
	if amt <= cur {
		return fmt.Errorf("straddle of %d below current bet", amt)
	}
	delta := amt - cur
	if delta > seat.Stack {
		return fmt.Errorf("insufficient stack to straddle")
	}
	seat.Stack -= delta
	h.Pot.AddBet(idx, delta)
	if seat.Stack == 0 {
		h.Status[idx] = state.StatusAllIn
	}
	h.StraddleIdx = idx
	h.StraddleAmount = amt
	h.MinRaise = amt
	return nil
}

// ---- round / hand advancement ----

func advanceAfterAction(st *state.State, t *state.Table, nowUnix int64, events *[]abci.Event) error {
	h := t.Hand
	if countNotFolded(h) == 1 {
		return settleFoldWin(st, t, events)
	}
	if streetComplete(h) {
		return advanceStreet(st, t, nowUnix, events)
	}
	next := nextToAct(h, h.ActionOn)
	if next < 0 {
		// Unmatched players are all all-in; nothing more to decide.
		return advanceStreet(st, t, nowUnix, events)
	}
	h.ActionOn = next
	return setActionDeadline(t, nowUnix)
}

// returnUncalledStreetExcess refunds the unmatched top of the street's
// largest bet before it would be swept into the pot, so nobody can win chips
// no opponent was able to contest.
func returnUncalledStreetExcess(t *state.Table) {
	h := t.Hand
	var max, second uint64
	maxIdx := -1
	maxCount := 0
	for i, b := range h.Pot.CurrentBets {
		switch {
		case b > max:
			second = max
			max = b
			maxIdx = i
			maxCount = 1
		case b == max && b > 0:
			maxCount++
		case b > second:
			second = b
		}
	}
	if maxIdx < 0 || maxCount != 1 || max == second {
		return
	}
	excess := max - second
	h.Pot.ReturnExcess(maxIdx, excess)
	seat := t.Seats[h.SeatOf(maxIdx)]
	seat.Stack += excess
	if h.Status[maxIdx] == state.StatusAllIn && seat.Stack > 0 {
		h.Status[maxIdx] = state.StatusActive
	}
}

func dealCommunity(h *state.Hand, k int) []state.Card {
	dealt := make([]state.Card, 0, k)
	for j := 0; j < k; j++ {
		c := h.Deck[h.DeckCursor]
		h.DeckCursor++
		h.Community = append(h.Community, c)
		dealt = append(dealt, c)
	}
	return dealt
}

func dealNextStreet(t *state.Table, events *[]abci.Event) {
	h := t.Hand
	var street string
	var dealt []state.Card
	switch h.Phase {
	case state.PhasePreflop:
		h.Phase = state.PhaseFlop
		street = "flop"
		dealt = dealCommunity(h, 3)
	case state.PhaseFlop:
		h.Phase = state.PhaseTurn
		street = "turn"
		dealt = dealCommunity(h, 1)
	case state.PhaseTurn:
		h.Phase = state.PhaseRiver
		street = "river"
		dealt = dealCommunity(h, 1)
	default:
		return
	}
	*events = append(*events, event("StreetDealt", map[string]string{
		"tableId": fmt.Sprintf("%d", t.ID),
		"handId":  fmt.Sprintf("%d", h.HandID),
		"street":  street,
		"cards":   cardsString(dealt),
		"board":   cardsString(h.Community),
	}))
}

func postflopFirstToAct(h *state.Hand) int {
	n := h.NumPlayers()
	start := (h.DealerIdx + 1) % n
	if n == 2 {
		start = h.DealerIdx
	}
	for k := 0; k < n; k++ {
		i := (start + k) % n
		if h.Status[i] == state.StatusActive {
			return i
		}
	}
	return -1
}

// advanceStreet closes the current betting round: refund uncalled excess,
// sweep street bets into the pot, and either open the next street or settle.
func advanceStreet(st *state.State, t *state.Table, nowUnix int64, events *[]abci.Event) error {
	h := t.Hand
	returnUncalledStreetExcess(t)
	h.Pot.CollectBets()
	for i := range h.HasActed {
		h.HasActed[i] = false
	}
	h.MinRaise = t.Params.BigBlind
	h.LastAggressor = -1
	h.ActionOn = -1
	h.ActionDeadline = 0

	if h.Phase == state.PhaseRiver {
		return settleShowdown(st, t, events)
	}
	dealNextStreet(t, events)

	if countActive(h) > 1 {
		first := postflopFirstToAct(h)
		if first >= 0 {
			h.ActionOn = first
			if err := setActionDeadline(t, nowUnix); err != nil {
				return err
			}
			*events = append(*events, event("PhaseAdvanced", map[string]string{
				"tableId":  fmt.Sprintf("%d", t.ID),
				"handId":   fmt.Sprintf("%d", h.HandID),
				"phase":    string(h.Phase),
				"actionOn": fmt.Sprintf("%d", h.ActionOn),
			}))
			return nil
		}
	}

	// At most one player can still act: run the board out to showdown.
	for h.Phase != state.PhaseRiver {
		dealNextStreet(t, events)
	}
	return settleShowdown(st, t, events)
}

// ---- settlement ----

func settleFoldWin(st *state.State, t *state.Table, events *[]abci.Event) error {
	h := t.Hand
	winner := -1
	for i, status := range h.Status {
		if status != state.StatusFolded {
			winner = i
			break
		}
	}
	if winner < 0 {
		return fmt.Errorf("fold-win with no survivor")
	}

	returnUncalledStreetExcess(t)
	h.Pot.CollectBets()
	total := h.Pot.TotalPot()

	fee, err := accrueTableFee(st, t, total)
	if err != nil {
		return err
	}
	win := total - fee
	seat := t.Seats[h.SeatOf(winner)]
	newStack, err := addU64Checked(seat.Stack, win, "stack")
	if err != nil {
		return err
	}
	seat.Stack = newStack

	*events = append(*events, event("PotAwarded", map[string]string{
		"tableId": fmt.Sprintf("%d", t.ID),
		"handId":  fmt.Sprintf("%d", h.HandID),
		"player":  seat.Player,
		"amount":  fmt.Sprintf("%d", win),
	}))
	if fee > 0 {
		if err := st.Credit(st.Fee.Collector, fee); err != nil {
			return err
		}
		*events = append(*events, feeEvent(t, fee))
	}
	*events = append(*events, event("HandCompleted", map[string]string{
		"tableId": fmt.Sprintf("%d", t.ID),
		"handId":  fmt.Sprintf("%d", h.HandID),
		"reason":  "fold",
	}))
	return finishHand(st, t, events)
}

func feeEvent(t *state.Table, fee uint64) abci.Event {
	return event("FeeCollected", map[string]string{
		"tableId": fmt.Sprintf("%d", t.ID),
		"amount":  fmt.Sprintf("%d", fee),
		"carry":   fmt.Sprintf("%d", t.FeeAccumulator),
	})
}

func settleShowdown(st *state.State, t *state.Table, events *[]abci.Event) error {
	h := t.Hand
	h.Phase = state.PhaseShowdown
	h.ActionOn = -1
	h.ActionDeadline = 0
	n := h.NumPlayers()

	if len(h.Community) != 5 {
		return fmt.Errorf("showdown with %d community cards", len(h.Community))
	}
	board := make([]holdem.Card, 0, 7)
	for _, c := range h.Community {
		board = append(board, holdem.Card(c))
	}

	active := nonFoldedMask(h)
	rankings := make([]holdem.Rank, n)
	for i := 0; i < n; i++ {
		if !active[i] {
			rankings[i] = holdem.Folded
			continue
		}
		key := shuffle.CardKey(h.Secrets[i], uint8(h.SeatOf(i)))
		hole := shuffle.Crypt(h.EncryptedHole[i], key)
		if len(hole) != 2 {
			return abortHandRefund(st, t, "corrupt hole cards", events)
		}
		seven := append(append([]holdem.Card{}, board...), holdem.Card(hole[0]), holdem.Card(hole[1]))
		r, err := holdem.Evaluate7(seven)
		if err != nil {
			return abortHandRefund(st, t, "hand evaluation failed", events)
		}
		rankings[i] = r
		*events = append(*events, event("HoleCardsShown", map[string]string{
			"tableId": fmt.Sprintf("%d", t.ID),
			"handId":  fmt.Sprintf("%d", h.HandID),
			"player":  t.Seats[h.SeatOf(i)].Player,
			"cards":   cardsString([]state.Card{state.Card(hole[0]), state.Card(hole[1])}),
		}))
	}

	payouts := h.Pot.Distribution(rankings, active, h.DealerIdx)
	wins := make([]uint64, n)
	for _, p := range payouts {
		wins[p.HandIdx] += p.Amount
	}

	totalPot := h.Pot.TotalPot()
	fee, err := accrueTableFee(st, t, totalPot)
	if err != nil {
		return err
	}

	// Each winner carries fee in proportion to their share; the last one
	// absorbs the rounding remainder so the collector receives exactly fee.
	remFee, remPot := fee, totalPot
	for i := 0; i < n; i++ {
		w := wins[i]
		if w == 0 {
			continue
		}
		fi := mulDiv64(remFee, w, remPot)
		remFee -= fi
		remPot -= w
		net := w - fi
		seat := t.Seats[h.SeatOf(i)]
		newStack, err := addU64Checked(seat.Stack, net, "stack")
		if err != nil {
			return err
		}
		seat.Stack = newStack
		*events = append(*events, event("PotAwarded", map[string]string{
			"tableId": fmt.Sprintf("%d", t.ID),
			"handId":  fmt.Sprintf("%d", h.HandID),
			"player":  seat.Player,
			"amount":  fmt.Sprintf("%d", net),
			"fee":     fmt.Sprintf("%d", fi),
		}))
	}
	if fee > 0 {
		if err := st.Credit(st.Fee.Collector, fee); err != nil {
			return err
		}
		*events = append(*events, feeEvent(t, fee))
	}
	*events = append(*events, event("HandCompleted", map[string]string{
		"tableId": fmt.Sprintf("%d", t.ID),
		"handId":  fmt.Sprintf("%d", h.HandID),
		"reason":  "showdown",
	}))
	return finishHand(st, t, events)
}

// abortHandRefund unwinds an unfinishable hand: every participant gets their
// full invested total back and no fee accrues.
func abortHandRefund(st *state.State, t *state.Table, reason string, events *[]abci.Event) error {
	h := t.Hand
	for i := 0; i < h.NumPlayers(); i++ {
		refund := h.Pot.TotalInvested(i)
		if refund == 0 {
			continue
		}
		seat := t.Seats[h.SeatOf(i)]
		newStack, err := addU64Checked(seat.Stack, refund, "stack")
		if err != nil {
			return err
		}
		seat.Stack = newStack
	}
	*events = append(*events, event("HandAborted", map[string]string{
		"tableId": fmt.Sprintf("%d", t.ID),
		"handId":  fmt.Sprintf("%d", h.HandID),
		"reason":  reason,
	}))
	return finishHand(st, t, events)
}

// finishHand clears the hand and settles any departures queued while it ran.
func finishHand(st *state.State, t *state.Table, events *[]abci.Event) error {
	t.Hand = nil
	for s := 0; s < state.NumSeats; s++ {
		if !t.PendingLeaves[s] || t.Seats[s] == nil {
			t.PendingLeaves[s] = false
			continue
		}
		player, refund, err := removeSeat(st, t, s)
		if err != nil {
			return err
		}
		*events = append(*events, event("PlayerLeft", map[string]string{
			"tableId": fmt.Sprintf("%d", t.ID),
			"seat":    fmt.Sprintf("%d", s),
			"player":  player,
			"refund":  fmt.Sprintf("%d", refund),
		}))
	}
	return nil
}
