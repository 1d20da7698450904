package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the transaction container.
//
// CometBFT transactions are opaque bytes; riverchain uses JSON-encoded txs
// routed by Type. Nonce/Signer/Sig carry the optional ed25519 tx auth: the
// signature covers (type, nonce, signer, sha256(value)) and the nonce must
// strictly increase per signer.
type TxEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Auth ----

// Account pubkey registration for tx authentication.
type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Table lifecycle ----

type PokerCreateTableTx struct {
	Creator         string `json:"creator"`
	SmallBlind      uint64 `json:"smallBlind"`
	BigBlind        uint64 `json:"bigBlind"`
	MinBuyIn        uint64 `json:"minBuyIn"`
	MaxBuyIn        uint64 `json:"maxBuyIn"`
	Ante            uint64 `json:"ante,omitempty"`
	StraddleEnabled bool   `json:"straddleEnabled,omitempty"`
	FeeBps          uint32 `json:"feeBps,omitempty"`
	CommitTO        uint64 `json:"commitTimeoutSecs,omitempty"`
	RevealTO        uint64 `json:"revealTimeoutSecs,omitempty"`
	ActionTO        uint64 `json:"actionTimeoutSecs,omitempty"`
	TableLabel      string `json:"label,omitempty"`
}

type PokerJoinTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
	Seat    uint8  `json:"seat"`
	BuyIn   uint64 `json:"buyIn"`
}

type PokerLeaveTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
}

type PokerSitOutTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
}

type PokerSitInTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
}

type PokerTopUpTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
	Amount  uint64 `json:"amount"`
}

type PokerCloseTableTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
}

type PokerTransferOwnershipTx struct {
	Owner    string `json:"owner"`
	TableID  uint64 `json:"tableId"`
	NewOwner string `json:"newOwner"`
}

// ---- Admin ----

// Blind/ante/buy-in updates apply between hands only.
type PokerUpdateConfigTx struct {
	Owner      string `json:"owner"`
	TableID    uint64 `json:"tableId"`
	SmallBlind uint64 `json:"smallBlind"`
	BigBlind   uint64 `json:"bigBlind"`
	MinBuyIn   uint64 `json:"minBuyIn"`
	MaxBuyIn   uint64 `json:"maxBuyIn"`
	Ante       uint64 `json:"ante"`
}

type PokerSetStraddleTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
	Enabled bool   `json:"enabled"`
}

type PokerPauseTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
}

type PokerResumeTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
}

type PokerSetAdminOnlyStartTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
	Enabled bool   `json:"enabled"`
}

type PokerKickTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
	Seat    uint8  `json:"seat"`
}

type PokerForceSitOutTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
	Seat    uint8  `json:"seat"`
}

type PokerEmergencyAbortTx struct {
	Owner   string `json:"owner"`
	TableID uint64 `json:"tableId"`
}

// ---- Hand flow ----

type PokerStartHandTx struct {
	Caller  string `json:"caller"`
	TableID uint64 `json:"tableId"`
}

type PokerCommitTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
	Digest  []byte `json:"digest"` // exactly 32 bytes
}

type PokerRevealTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
	Secret  []byte `json:"secret"` // 16..32 bytes, must hash to the commit
}

type PokerTimeoutTx struct {
	TableID uint64 `json:"tableId"`
}

type PokerActTx struct {
	Player  string `json:"player"`
	TableID uint64 `json:"tableId"`
	Action  string `json:"action"`           // fold|check|call|raise_to|all_in|straddle
	Amount  uint64 `json:"amount,omitempty"` // raise_to only: desired total street commitment
}

// ---- Fee admin (global scope) ----

type FeeInitTx struct {
	Admin     string `json:"admin"`
	Collector string `json:"collector"`
}

type FeeUpdateCollectorTx struct {
	Admin     string `json:"admin"`
	Collector string `json:"collector"`
}

type FeeTransferAdminTx struct {
	Admin    string `json:"admin"`
	NewAdmin string `json:"newAdmin"`
}
