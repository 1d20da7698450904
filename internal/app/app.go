package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"

	"riverchain/internal/codec"
	"riverchain/internal/state"
)

const (
	AppVersion uint64 = 1
)

// RiverApp is the ABCI application. All tx execution is serialized behind mu;
// each tx runs against a staged clone of state and commits only on success,
// so a failed tx can never leave a half-applied hand behind.
type RiverApp struct {
	*abci.BaseApplication

	home string

	mu       sync.Mutex
	st       *state.State
	lastHash []byte
}

func New(home string) (*RiverApp, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &RiverApp{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		st:              st,
		lastHash:        st.AppHash(),
	}
	return a, nil
}

func (a *RiverApp) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "riverchain (v1)",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *RiverApp) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: 1, Log: err.Error()}, nil
	}
	// Structural validation only; full auth runs at delivery.
	return &abci.CheckTxResponse{Code: 0}, nil
}

func (a *RiverApp) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	return &abci.InitChainResponse{}, nil
}

func (a *RiverApp) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height
	nowUnix := req.Time.Unix()

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height, nowUnix)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *RiverApp) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// CometBFT expects Commit to not crash; return error so node halts loudly.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

// deliverTx executes one tx against a staged copy of state. The copy is
// adopted only when the tx succeeds, which makes every tx atomic.
func (a *RiverApp) deliverTx(txBytes []byte, height int64, nowUnix int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return failTx("%s", err.Error())
	}
	staged, err := a.st.Clone()
	if err != nil {
		return failTx("%s", err.Error())
	}
	staged.Height = height
	res := applyTx(staged, env, height, nowUnix)
	if res.Code == 0 {
		a.st = staged
	}
	return res
}

func applyTx(st *state.State, env codec.TxEnvelope, height int64, nowUnix int64) *abci.ExecTxResult {
	switch env.Type {
	case "bank/mint":
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failTx("bad bank/mint value")
		}
		if msg.To == "" || msg.Amount == 0 {
			return failTx("missing to/amount")
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return failTx("%s", err.Error())
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failTx("bad bank/send value")
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return failTx("missing from/to/amount")
		}
		if err := requireActorAuth(st, env, msg.From); err != nil {
			return failTx("%s", err.Error())
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return failTx("%s", err.Error())
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return failTx("%s", err.Error())
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return failTx("bad auth/register_account value")
		}
		if len(st.AccountKeys[msg.Account]) > 0 {
			return failTx("account already registered")
		}
		if err := requireRegisterAccountAuth(st, env, msg); err != nil {
			return failTx("%s", err.Error())
		}
		st.AccountKeys[msg.Account] = msg.PubKey
		return okEvent("AccountRegistered", map[string]string{
			"account": msg.Account,
		})

	case "fee/init":
		return applyFeeInit(st, env)
	case "fee/update_collector":
		return applyFeeUpdateCollector(st, env)
	case "fee/transfer_admin":
		return applyFeeTransferAdmin(st, env)

	case "poker/create_table":
		return applyCreateTable(st, env)
	case "poker/join":
		return applyJoin(st, env)
	case "poker/leave":
		return applyLeave(st, env)
	case "poker/sit_out":
		return applySitOut(st, env)
	case "poker/sit_in":
		return applySitIn(st, env)
	case "poker/top_up":
		return applyTopUp(st, env)
	case "poker/close_table":
		return applyCloseTable(st, env)
	case "poker/transfer_ownership":
		return applyTransferOwnership(st, env)

	case "poker/update_config":
		return applyUpdateConfig(st, env)
	case "poker/set_straddle":
		return applySetStraddle(st, env)
	case "poker/pause":
		return applyPause(st, env)
	case "poker/resume":
		return applyResume(st, env)
	case "poker/set_admin_only_start":
		return applySetAdminOnlyStart(st, env)
	case "poker/kick":
		return applyKick(st, env)
	case "poker/force_sit_out":
		return applyForceSitOut(st, env)
	case "poker/emergency_abort":
		return applyEmergencyAbort(st, env)

	case "poker/start_hand":
		return applyStartHand(st, env, nowUnix)
	case "poker/commit":
		return applyCommit(st, env)
	case "poker/reveal":
		return applyReveal(st, env, height, nowUnix)
	case "poker/act":
		return applyActTx(st, env, nowUnix)
	case "poker/timeout":
		return applyTimeoutTx(st, env, nowUnix)

	default:
		return failTx("unknown tx type: %s", env.Type)
	}
}

// ---- queries ----

// handView is the public projection of a running hand: per-player secrets
// stay out and the deck order is never served, even though reveals make it
// recomputable off-chain.
type handView struct {
	HandID         uint64             `json:"handId"`
	Phase          state.HandPhase    `json:"phase"`
	PlayersInHand  []int              `json:"playersInHand"`
	Status         []state.SeatStatus `json:"status"`
	DealerIdx      int                `json:"dealerIdx"`
	SmallBlindSeat int                `json:"smallBlindSeat"`
	BigBlindSeat   int                `json:"bigBlindSeat"`
	Committed      []bool             `json:"committed"`
	Revealed       []bool             `json:"revealed"`
	Community      []string           `json:"community"`
	Pot            uint64             `json:"pot"`
	CurrentBets    []uint64           `json:"currentBets"`
	Invested       []uint64           `json:"invested"`
	ActionOn       int                `json:"actionOn"`
	ActionDeadline int64              `json:"actionDeadline,omitempty"`
	CommitDeadline int64              `json:"commitDeadline,omitempty"`
	RevealDeadline int64              `json:"revealDeadline,omitempty"`
	MinRaise       uint64             `json:"minRaise"`
	LastAggressor  int                `json:"lastAggressor"`
	StraddleIdx    int                `json:"straddleIdx"`
	StraddleAmount uint64             `json:"straddleAmount,omitempty"`
}

func newHandView(h *state.Hand) *handView {
	if h == nil {
		return nil
	}
	n := h.NumPlayers()
	committed := make([]bool, n)
	revealed := make([]bool, n)
	for i := 0; i < n; i++ {
		committed[i] = h.Commits[i] != nil
		revealed[i] = h.Secrets[i] != nil
	}
	community := make([]string, 0, len(h.Community))
	for _, c := range h.Community {
		community = append(community, c.String())
	}
	return &handView{
		HandID:         h.HandID,
		Phase:          h.Phase,
		PlayersInHand:  h.PlayersInHand,
		Status:         h.Status,
		DealerIdx:      h.DealerIdx,
		SmallBlindSeat: h.SmallBlindSeat,
		BigBlindSeat:   h.BigBlindSeat,
		Committed:      committed,
		Revealed:       revealed,
		Community:      community,
		Pot:            h.Pot.TotalPot(),
		CurrentBets:    h.Pot.CurrentBets,
		Invested:       h.Pot.Invested,
		ActionOn:       h.ActionOn,
		ActionDeadline: h.ActionDeadline,
		CommitDeadline: h.CommitDeadline,
		RevealDeadline: h.RevealDeadline,
		MinRaise:       h.MinRaise,
		LastAggressor:  h.LastAggressor,
		StraddleIdx:    h.StraddleIdx,
		StraddleAmount: h.StraddleAmount,
	}
}

type tableView struct {
	ID             uint64                 `json:"id"`
	Owner          string                 `json:"owner"`
	Label          string                 `json:"label,omitempty"`
	Params         state.TableParams      `json:"params"`
	Seats          [state.NumSeats]*seat  `json:"seats"`
	DealerButton   int                    `json:"dealerButton"`
	NextBBSeat     int                    `json:"nextBbSeat"`
	MissedBlinds   [state.NumSeats]uint64 `json:"missedBlinds"`
	FeeAccumulator uint64                 `json:"feeAccumulator"`
	Paused         bool                   `json:"paused,omitempty"`
	AdminOnlyStart bool                   `json:"adminOnlyStart,omitempty"`
	PendingLeaves  [state.NumSeats]bool   `json:"pendingLeaves"`
	Hand           *handView              `json:"hand,omitempty"`
}

type seat struct {
	Player     string `json:"player"`
	Stack      uint64 `json:"stack"`
	SittingOut bool   `json:"sittingOut,omitempty"`
}

func newTableView(t *state.Table) tableView {
	v := tableView{
		ID:             t.ID,
		Owner:          t.Owner,
		Label:          t.Label,
		Params:         t.Params,
		DealerButton:   t.DealerButton,
		NextBBSeat:     t.NextBBSeat,
		MissedBlinds:   t.MissedBlinds,
		FeeAccumulator: t.FeeAccumulator,
		Paused:         t.Paused,
		AdminOnlyStart: t.AdminOnlyStart,
		PendingLeaves:  t.PendingLeaves,
		Hand:           newHandView(t.Hand),
	}
	for i, s := range t.Seats {
		if s == nil {
			continue
		}
		v.Seats[i] = &seat{Player: s.Player, Stack: s.Stack, SittingOut: s.SittingOut}
	}
	return v
}

func (a *RiverApp) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Paths:
	// - /tables
	// - /account/<addr>
	// - /fee
	// - /table/<id>
	// - /table/<id>/hand
	// - /table/<id>/hole/<seat>
	path := strings.TrimSpace(req.Path)
	switch {
	case path == "/tables":
		ids := make([]uint64, 0, len(a.st.Tables))
		for id := range a.st.Tables {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		b, _ := json.Marshal(ids)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil

	case path == "/fee":
		if a.st.Fee == nil {
			return &abci.QueryResponse{Code: 1, Log: "fee config not initialized", Height: a.st.Height}, nil
		}
		b, _ := json.Marshal(a.st.Fee)
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil

	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		bal := a.st.Balance(addr)
		b, _ := json.Marshal(map[string]any{"addr": addr, "balance": bal})
		return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil

	case strings.HasPrefix(path, "/table/"):
		rest := strings.TrimPrefix(path, "/table/")
		parts := strings.Split(rest, "/")
		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return &abci.QueryResponse{Code: 1, Log: "invalid table id", Height: a.st.Height}, nil
		}
		t, ok := a.st.Tables[id]
		if !ok {
			return &abci.QueryResponse{Code: 1, Log: "table not found", Height: a.st.Height}, nil
		}
		switch {
		case len(parts) == 1:
			b, _ := json.Marshal(newTableView(t))
			return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil

		case len(parts) == 2 && parts[1] == "hand":
			if t.Hand == nil {
				return &abci.QueryResponse{Code: 1, Log: "no active hand", Height: a.st.Height}, nil
			}
			b, _ := json.Marshal(newHandView(t.Hand))
			return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil

		case len(parts) == 3 && parts[1] == "hole":
			if t.Hand == nil {
				return &abci.QueryResponse{Code: 1, Log: "no active hand", Height: a.st.Height}, nil
			}
			seatIdx, err := strconv.Atoi(parts[2])
			if err != nil || seatIdx < 0 || seatIdx >= state.NumSeats {
				return &abci.QueryResponse{Code: 1, Log: "invalid seat", Height: a.st.Height}, nil
			}
			idx := t.Hand.HandIdxOf(seatIdx)
			if idx < 0 {
				return &abci.QueryResponse{Code: 1, Log: "seat not in hand", Height: a.st.Height}, nil
			}
			b, _ := json.Marshal(map[string]any{
				"seat":          seatIdx,
				"encryptedHole": t.Hand.EncryptedHole[idx],
			})
			return &abci.QueryResponse{Code: 0, Value: b, Height: a.st.Height}, nil
		}
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil

	default:
		return &abci.QueryResponse{Code: 1, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

// ---- result helpers ----

func event(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}

func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	return &abci.ExecTxResult{
		Code:   0,
		Events: []abci.Event{event(typ, attrs)},
	}
}

func failTx(format string, args ...any) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: 1, Log: fmt.Sprintf(format, args...)}
}
