package app

import (
	"encoding/json"
	"fmt"
	"math/bits"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/codec"
	"riverchain/internal/state"
)

// feeUnitScale converts between whole chips and the fractional accumulator
// (chips * 10000), which is also the basis-point denominator.
const feeUnitScale = 10000

// timeoutPenaltyBps is the stack penalty for missing a commit or reveal
// deadline.
const timeoutPenaltyBps uint32 = 1000 // 10%

// accrueTableFee adds pot*feeBps to the table's fractional accumulator and
// withdraws the whole-chip part. The sub-chip remainder stays in the
// accumulator so the effective rate converges exactly over many hands.
// Returns 0 when the fee system is uninitialized: there is nowhere to send
// chips, and silently burning them would be worse than waiving the rake.
func accrueTableFee(st *state.State, t *state.Table, pot uint64) (uint64, error) {
	if st.Fee == nil || st.Fee.Collector == "" || t.Params.FeeBps == 0 || pot == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(pot, uint64(t.Params.FeeBps))
	if hi != 0 {
		return 0, fmt.Errorf("fee accrual overflow: pot=%d bps=%d", pot, t.Params.FeeBps)
	}
	acc, err := addU64Checked(t.FeeAccumulator, lo, "fee accumulator")
	if err != nil {
		return 0, err
	}
	fee := acc / feeUnitScale
	t.FeeAccumulator = acc % feeUnitScale
	if fee > pot {
		fee = pot
	}
	return fee, nil
}

// penaltyAmount is bps of the stack, rounded up, capped at the stack.
func penaltyAmount(stack uint64, bps uint32) uint64 {
	if stack == 0 || bps == 0 {
		return 0
	}
	hi, lo := bits.Mul64(stack, uint64(bps))
	q, r := bits.Div64(hi, lo, feeUnitScale)
	if r != 0 {
		q++
	}
	if q > stack {
		return stack
	}
	return q
}

func applyFeeInit(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.FeeInitTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad fee/init value")
	}
	if msg.Admin == "" || msg.Collector == "" {
		return failTx("missing admin/collector")
	}
	if st.Fee != nil {
		return failTx("fee config already initialized")
	}
	if err := requireActorAuth(st, env, msg.Admin); err != nil {
		return failTx("%s", err.Error())
	}
	st.Fee = &state.FeeConfig{Admin: msg.Admin, Collector: msg.Collector}
	return okEvent("FeeInitialized", map[string]string{
		"admin":     msg.Admin,
		"collector": msg.Collector,
	})
}

func applyFeeUpdateCollector(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.FeeUpdateCollectorTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad fee/update_collector value")
	}
	if st.Fee == nil {
		return failTx("fee config not initialized")
	}
	if msg.Admin != st.Fee.Admin {
		return failTx("only the fee admin may update the collector")
	}
	if msg.Collector == "" {
		return failTx("missing collector")
	}
	if err := requireActorAuth(st, env, msg.Admin); err != nil {
		return failTx("%s", err.Error())
	}
	st.Fee.Collector = msg.Collector
	return okEvent("FeeCollectorUpdated", map[string]string{
		"collector": msg.Collector,
	})
}

func applyFeeTransferAdmin(st *state.State, env codec.TxEnvelope) *abci.ExecTxResult {
	var msg codec.FeeTransferAdminTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return failTx("bad fee/transfer_admin value")
	}
	if st.Fee == nil {
		return failTx("fee config not initialized")
	}
	if msg.Admin != st.Fee.Admin {
		return failTx("only the fee admin may transfer adminship")
	}
	if msg.NewAdmin == "" {
		return failTx("missing newAdmin")
	}
	if err := requireActorAuth(st, env, msg.Admin); err != nil {
		return failTx("%s", err.Error())
	}
	st.Fee.Admin = msg.NewAdmin
	return okEvent("FeeAdminTransferred", map[string]string{
		"admin": msg.NewAdmin,
	})
}
