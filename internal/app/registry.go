package app

import (
	"encoding/json"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/codec"
	"riverchain/internal/state"
)

const (
	defaultCommitTimeoutSecs uint64 = 60
	defaultRevealTimeoutSecs uint64 = 60
	defaultActionTimeoutSecs uint64 = 30
)

func seatOfPlayer(t *state.Table, player string) int {
	for i := 0; i < state.NumSeats; i++ {
		if t.Seats[i] != nil && t.Seats[i].Player == player {
			return i
		}
	}
	return -1
}

// dealtIn reports whether a seat participates in the currently running hand.
func dealtIn(t *state.Table, seatIdx int) bool {
	return t.Hand != nil && t.Hand.HandIdxOf(seatIdx) >= 0
}

// removeSeat cashes a seat out to its account and clears all per-seat table
// bookkeeping. Must not be called while the seat is dealt into a hand.
func removeSeat(st *state.State, t *state.Table, seatIdx int) (string, uint64, error) {
	s := t.Seats[seatIdx]
	if s == nil {
		return "", 0, fmt.Errorf("seat %d empty", seatIdx)
	}
	if err := st.Credit(s.Player, s.Stack); err != nil {
		return "", 0, err
	}
	player, refund := s.Player, s.Stack
	t.Seats[seatIdx] = nil
	t.MissedBlinds[seatIdx] = 0
	t.PendingLeaves[seatIdx] = false
	return player, refund, nil
}

func applyCreateTable(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerCreateTableTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/create_table value")
	}
	if msg.Creator == "" {
		return failTx("missing creator")
	}
	if msg.SmallBlind == 0 || msg.BigBlind <= msg.SmallBlind {
		return failTx("invalid blinds: big blind must exceed small blind")
	}
	if msg.MinBuyIn == 0 || msg.MaxBuyIn < msg.MinBuyIn {
		return failTx("invalid buy-in range")
	}
	if msg.FeeBps > feeUnitScale {
		return failTx("feeBps out of range")
	}
	if err := requireActorAuth(st, env, msg.Creator); err != nil {
		return failTx("%s", err.Error())
	}

	id := st.NextTableID
	st.NextTableID++
	t := &state.Table{
		ID:    id,
		Owner: msg.Creator,
		Label: msg.TableLabel,
		Params: state.TableParams{
			SmallBlind:        msg.SmallBlind,
			BigBlind:          msg.BigBlind,
			MinBuyIn:          msg.MinBuyIn,
			MaxBuyIn:          msg.MaxBuyIn,
			Ante:              msg.Ante,
			StraddleEnabled:   msg.StraddleEnabled,
			FeeBps:            msg.FeeBps,
			CommitTimeoutSecs: msg.CommitTO,
			RevealTimeoutSecs: msg.RevealTO,
			ActionTimeoutSecs: msg.ActionTO,
		},
		NextHandID:   1,
		DealerButton: -1,
		NextBBSeat:   -1,
	}
	st.Tables[id] = t

	return okEvent("TableCreated", map[string]string{
		"tableId": fmt.Sprintf("%d", id),
		"owner":   msg.Creator,
	})
}

func applyJoin(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerJoinTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/join value")
	}
	if msg.Player == "" {
		return failTx("missing player")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	if msg.Seat >= state.NumSeats {
		return failTx("invalid seat")
	}
	if t.Seats[msg.Seat] != nil {
		return failTx("seat occupied")
	}
	if seatOfPlayer(t, msg.Player) >= 0 {
		return failTx("player already seated")
	}
	if msg.BuyIn < t.Params.MinBuyIn || msg.BuyIn > t.Params.MaxBuyIn {
		return failTx("buy-in out of range")
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}
	if err := st.Debit(msg.Player, msg.BuyIn); err != nil {
		return failTx("%s", err.Error())
	}
	t.Seats[msg.Seat] = &state.Seat{Player: msg.Player, Stack: msg.BuyIn}
	return okEvent("PlayerJoined", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"seat":    fmt.Sprintf("%d", msg.Seat),
		"player":  msg.Player,
		"buyIn":   fmt.Sprintf("%d", msg.BuyIn),
	})
}

func applyLeave(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerLeaveTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/leave value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	seatIdx := seatOfPlayer(t, msg.Player)
	if seatIdx < 0 {
		return failTx("player not seated")
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}

	if dealtIn(t, seatIdx) {
		// Mid-hand departures settle when the hand clears.
		t.PendingLeaves[seatIdx] = true
		return okEvent("LeaveQueued", map[string]string{
			"tableId": fmt.Sprintf("%d", msg.TableID),
			"seat":    fmt.Sprintf("%d", seatIdx),
			"player":  msg.Player,
		})
	}

	player, refund, err := removeSeat(st, t, seatIdx)
	if err != nil {
		return failTx("%s", err.Error())
	}
	return okEvent("PlayerLeft", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"seat":    fmt.Sprintf("%d", seatIdx),
		"player":  player,
		"refund":  fmt.Sprintf("%d", refund),
	})
}

func applySitOut(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerSitOutTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/sit_out value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	seatIdx := seatOfPlayer(t, msg.Player)
	if seatIdx < 0 {
		return failTx("player not seated")
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}
	// Takes effect at the next deal; a running hand plays out.
	t.Seats[seatIdx].SittingOut = true
	return okEvent("PlayerSatOut", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"seat":    fmt.Sprintf("%d", seatIdx),
		"player":  msg.Player,
	})
}

func applySitIn(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerSitInTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/sit_in value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	seatIdx := seatOfPlayer(t, msg.Player)
	if seatIdx < 0 {
		return failTx("player not seated")
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}
	t.Seats[seatIdx].SittingOut = false
	return okEvent("PlayerSatIn", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"seat":    fmt.Sprintf("%d", seatIdx),
		"player":  msg.Player,
		"owed":    fmt.Sprintf("%d", t.MissedBlinds[seatIdx]),
	})
}

func applyTopUp(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerTopUpTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/top_up value")
	}
	if msg.Amount == 0 {
		return failTx("missing amount")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	seatIdx := seatOfPlayer(t, msg.Player)
	if seatIdx < 0 {
		return failTx("player not seated")
	}
	if dealtIn(t, seatIdx) {
		return failTx("cannot top up during a hand")
	}
	s := t.Seats[seatIdx]
	newStack, err := addU64Checked(s.Stack, msg.Amount, "stack")
	if err != nil {
		return failTx("%s", err.Error())
	}
	if newStack > t.Params.MaxBuyIn {
		return failTx("top-up exceeds max buy-in")
	}
	if err := requireActorAuth(st, env, msg.Player); err != nil {
		return failTx("%s", err.Error())
	}
	if err := st.Debit(msg.Player, msg.Amount); err != nil {
		return failTx("%s", err.Error())
	}
	s.Stack = newStack
	return okEvent("StackToppedUp", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"seat":    fmt.Sprintf("%d", seatIdx),
		"player":  msg.Player,
		"stack":   fmt.Sprintf("%d", s.Stack),
	})
}

func applyCloseTable(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerCloseTableTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/close_table value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	if msg.Owner != t.Owner {
		return failTx("only the table owner may close it")
	}
	if t.Hand != nil {
		return failTx("hand in progress")
	}
	if err := requireActorAuth(st, env, msg.Owner); err != nil {
		return failTx("%s", err.Error())
	}
	for i := 0; i < state.NumSeats; i++ {
		if t.Seats[i] == nil {
			continue
		}
		if _, _, err := removeSeat(st, t, i); err != nil {
			return failTx("%s", err.Error())
		}
	}
	delete(st.Tables, msg.TableID)
	return okEvent("TableClosed", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
	})
}

func applyTransferOwnership(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerTransferOwnershipTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/transfer_ownership value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	if msg.Owner != t.Owner {
		return failTx("only the table owner may transfer ownership")
	}
	if msg.NewOwner == "" {
		return failTx("missing newOwner")
	}
	if err := requireActorAuth(st, env, msg.Owner); err != nil {
		return failTx("%s", err.Error())
	}
	t.Owner = msg.NewOwner
	return okEvent("OwnershipTransferred", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"owner":   msg.NewOwner,
	})
}
