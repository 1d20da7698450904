package app

import (
	"encoding/json"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/codec"
	"riverchain/internal/state"
)

func tableCommitTimeoutSecs(t *state.Table) uint64 {
	if t == nil || t.Params.CommitTimeoutSecs == 0 {
		return defaultCommitTimeoutSecs
	}
	return t.Params.CommitTimeoutSecs
}

func tableRevealTimeoutSecs(t *state.Table) uint64 {
	if t == nil || t.Params.RevealTimeoutSecs == 0 {
		return defaultRevealTimeoutSecs
	}
	return t.Params.RevealTimeoutSecs
}

func tableActionTimeoutSecs(t *state.Table) uint64 {
	if t == nil || t.Params.ActionTimeoutSecs == 0 {
		return defaultActionTimeoutSecs
	}
	return t.Params.ActionTimeoutSecs
}

func setActionDeadline(t *state.Table, nowUnix int64) error {
	h := t.Hand
	if h == nil || !h.Phase.IsBetting() || h.ActionOn < 0 {
		if h != nil {
			h.ActionDeadline = 0
		}
		return nil
	}
	deadline, err := addInt64AndU64Checked(nowUnix, tableActionTimeoutSecs(t), "action deadline")
	if err != nil {
		return err
	}
	h.ActionDeadline = deadline
	return nil
}

// applyTimeoutTx enforces an expired deadline. Anyone may call it: deadlines
// are lazy and only bite when some party reports them.
func applyTimeoutTx(st *state.State, env codec.TxEnvelope, nowUnix int64) *abci.ExecTxResult {
	var msg codec.PokerTimeoutTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad poker/timeout value")
	}
	t := st.Tables[msg.TableID]
	if t == nil {
		return failTx("table not found")
	}
	h := t.Hand
	if h == nil {
		return failTx("no active hand")
	}

	events := []abci.Event{}
	switch {
	case h.Phase == state.PhaseCommit:
		if nowUnix < h.CommitDeadline {
			return failTx("commit deadline not reached")
		}
		missing := []int{}
		for i, c := range h.Commits {
			if c == nil {
				missing = append(missing, i)
			}
		}
		if err := penalizeStalled(st, t, missing, &events); err != nil {
			return failTx("%s", err.Error())
		}
		if err := abortHandRefund(st, t, "commit timeout", &events); err != nil {
			return failTx("%s", err.Error())
		}

	case h.Phase == state.PhaseReveal:
		if nowUnix < h.RevealDeadline {
			return failTx("reveal deadline not reached")
		}
		missing := []int{}
		for i, s := range h.Secrets {
			if s == nil {
				missing = append(missing, i)
			}
		}
		if err := penalizeStalled(st, t, missing, &events); err != nil {
			return failTx("%s", err.Error())
		}
		if err := abortHandRefund(st, t, "reveal timeout", &events); err != nil {
			return failTx("%s", err.Error())
		}

	case h.Phase.IsBetting():
		if h.ActionDeadline == 0 || nowUnix < h.ActionDeadline {
			return failTx("action deadline not reached")
		}
		idx := h.ActionOn
		if idx < 0 {
			return failTx("no action pending")
		}
		player := t.Seats[h.SeatOf(idx)].Player
		if err := applyPlayerAction(t, idx, "fold", 0); err != nil {
			return failTx("%s", err.Error())
		}
		events = append(events, event("TimeoutFold", map[string]string{
			"tableId": fmt.Sprintf("%d", msg.TableID),
			"handId":  fmt.Sprintf("%d", h.HandID),
			"player":  player,
		}))
		if err := advanceAfterAction(st, t, nowUnix, &events); err != nil {
			return failTx("%s", err.Error())
		}

	default:
		return failTx("no pending deadline in phase %s", h.Phase)
	}

	return &abci.ExecTxResult{Code: 0, Events: events}
}

// penalizeStalled docks players who missed a commit/reveal deadline 10% of
// their stack and sits them out. The penalty is waived when the fee system
// has no collector to receive it.
func penalizeStalled(st *state.State, t *state.Table, missing []int, events *[]abci.Event) error {
	h := t.Hand
	for _, i := range missing {
		seat := t.Seats[h.SeatOf(i)]
		var pen uint64
		if st.Fee != nil && st.Fee.Collector != "" {
			pen = penaltyAmount(seat.Stack, timeoutPenaltyBps)
			seat.Stack -= pen
			if err := st.Credit(st.Fee.Collector, pen); err != nil {
				return err
			}
		}
		seat.SittingOut = true
		*events = append(*events, event("TimeoutPenalty", map[string]string{
			"tableId": fmt.Sprintf("%d", t.ID),
			"handId":  fmt.Sprintf("%d", h.HandID),
			"player":  seat.Player,
			"amount":  fmt.Sprintf("%d", pen),
		}))
	}
	return nil
}
