package app

import (
	"encoding/json"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/codec"
	"riverchain/internal/state"
)

// ownerTable resolves a table and enforces owner-only access; all table
// admin operations route through here.
func ownerTable(st *state.State, env codec.TxEnvelope, tableID uint64, owner string) (*state.Table, *abci.ExecTxResult) {
	t := st.Tables[tableID]
	if t == nil {
		return nil, failTx("table not found")
	}
	if owner != t.Owner {
		return nil, failTx("only the table owner may do this")
	}
	if err := requireActorAuth(st, env, owner); err != nil {
		return nil, failTx("%s", err.Error())
	}
	return t, nil
}

func applyUpdateConfig(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerUpdateConfigTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/update_config value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	if t.Hand != nil {
		return failTx("cannot reconfigure during a hand")
	}
	if msg.SmallBlind == 0 || msg.BigBlind <= msg.SmallBlind {
		return failTx("invalid blinds: big blind must exceed small blind")
	}
	if msg.MinBuyIn == 0 || msg.MaxBuyIn < msg.MinBuyIn {
		return failTx("invalid buy-in range")
	}
	t.Params.SmallBlind = msg.SmallBlind
	t.Params.BigBlind = msg.BigBlind
	t.Params.MinBuyIn = msg.MinBuyIn
	t.Params.MaxBuyIn = msg.MaxBuyIn
	t.Params.Ante = msg.Ante
	return okEvent("TableConfigUpdated", map[string]string{
		"tableId":    fmt.Sprintf("%d", msg.TableID),
		"smallBlind": fmt.Sprintf("%d", msg.SmallBlind),
		"bigBlind":   fmt.Sprintf("%d", msg.BigBlind),
		"ante":       fmt.Sprintf("%d", msg.Ante),
	})
}

func applySetStraddle(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerSetStraddleTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/set_straddle value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	t.Params.StraddleEnabled = msg.Enabled
	return okEvent("StraddleConfigSet", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"enabled": fmt.Sprintf("%t", msg.Enabled),
	})
}

func applyPause(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerPauseTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/pause value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	// Blocks new deals only; a running hand plays out.
	t.Paused = true
	return okEvent("TablePaused", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
	})
}

func applyResume(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerResumeTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/resume value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	t.Paused = false
	return okEvent("TableResumed", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
	})
}

func applySetAdminOnlyStart(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerSetAdminOnlyStartTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/set_admin_only_start value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	t.AdminOnlyStart = msg.Enabled
	return okEvent("AdminOnlyStartSet", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"enabled": fmt.Sprintf("%t", msg.Enabled),
	})
}

func applyKick(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerKickTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/kick value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	if msg.Seat >= state.NumSeats {
		return failTx("invalid seat")
	}
	if t.Seats[msg.Seat] == nil {
		return failTx("seat empty")
	}
	if dealtIn(t, int(msg.Seat)) {
		t.PendingLeaves[msg.Seat] = true
		return okEvent("LeaveQueued", map[string]string{
			"tableId": fmt.Sprintf("%d", msg.TableID),
			"seat":    fmt.Sprintf("%d", msg.Seat),
			"player":  t.Seats[msg.Seat].Player,
		})
	}
	player, refund, err := removeSeat(st, t, int(msg.Seat))
	if err != nil {
		return failTx("%s", err.Error())
	}
	return okEvent("PlayerKicked", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"seat":    fmt.Sprintf("%d", msg.Seat),
		"player":  player,
		"refund":  fmt.Sprintf("%d", refund),
	})
}

func applyForceSitOut(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerForceSitOutTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/force_sit_out value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	if msg.Seat >= state.NumSeats {
		return failTx("invalid seat")
	}
	if t.Seats[msg.Seat] == nil {
		return failTx("seat empty")
	}
	t.Seats[msg.Seat].SittingOut = true
	return okEvent("PlayerForcedSitOut", map[string]string{
		"tableId": fmt.Sprintf("%d", msg.TableID),
		"seat":    fmt.Sprintf("%d", msg.Seat),
		"player":  t.Seats[msg.Seat].Player,
	})
}

func applyEmergencyAbort(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.PokerEmergencyAbortTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/emergency_abort value")
	}
	t, res := ownerTable(st, env, msg.TableID, msg.Owner)
	if res != nil {
		return res
	}
	if t.Hand == nil {
		return failTx("no active hand")
	}
	events := []abci.Event{}
	if err := abortHandRefund(st, t, "emergency", &events); err != nil {
		return failTx("%s", err.Error())
	}
	return &abci.ExecTxResult{Code: 0, Events: events}
}
