package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"riverchain/internal/pot"
)

// NumSeats is a protocol constant: every table has exactly five seats.
const NumSeats = 5

type State struct {
	Height int64 `json:"height"`

	NextTableID uint64            `json:"nextTableId"`
	Accounts    map[string]uint64 `json:"accounts"`
	AccountKeys map[string][]byte `json:"accountKeys,omitempty"` // addr -> ed25519 pubkey (32 bytes)
	NonceMax    map[string]uint64 `json:"nonceMax,omitempty"`    // signer -> last accepted tx.nonce (u64), for replay protection
	Tables      map[uint64]*Table `json:"tables"`

	Fee *FeeConfig `json:"fee,omitempty"`
}

// FeeConfig is the global fee scope: who administers the fee system and
// which account receives collected fees and timeout penalties. The rate
// itself is per-table (TableParams.FeeBps).
type FeeConfig struct {
	Admin     string `json:"admin"`
	Collector string `json:"collector"`
}

func NewState() *State {
	return &State{
		Height:      0,
		NextTableID: 1,
		Accounts:    map[string]uint64{},
		AccountKeys: map[string][]byte{},
		NonceMax:    map[string]uint64{},
		Tables:      map[uint64]*Table{},
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) normalize() {
	if s.Accounts == nil {
		s.Accounts = map[string]uint64{}
	}
	if s.AccountKeys == nil {
		s.AccountKeys = map[string][]byte{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.Tables == nil {
		s.Tables = map[uint64]*Table{}
	}
	if s.NextTableID == 0 {
		s.NextTableID = 1
	}
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Deterministic JSON hash: marshal with stable key ordering by serializing
	// a normalized view.
	//
	// Note: encoding/json does NOT guarantee map key order, so we manually
	// normalize maps into slices.
	type accountKV struct {
		Addr    string `json:"addr"`
		Balance uint64 `json:"balance"`
	}
	type accountKeyKV struct {
		Addr   string `json:"addr"`
		PubKey []byte `json:"pubKey"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	type tableKV struct {
		ID    uint64 `json:"id"`
		Table *Table `json:"table"`
	}

	accounts := make([]accountKV, 0, len(s.Accounts))
	for k, v := range s.Accounts {
		accounts = append(accounts, accountKV{Addr: k, Balance: v})
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Addr < accounts[j].Addr })

	accountKeys := make([]accountKeyKV, 0, len(s.AccountKeys))
	for k, v := range s.AccountKeys {
		accountKeys = append(accountKeys, accountKeyKV{Addr: k, PubKey: v})
	}
	sort.Slice(accountKeys, func(i, j int) bool { return accountKeys[i].Addr < accountKeys[j].Addr })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	tables := make([]tableKV, 0, len(s.Tables))
	for id, t := range s.Tables {
		tables = append(tables, tableKV{ID: id, Table: t})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })

	normalized := struct {
		Height      int64          `json:"height"`
		NextTableID uint64         `json:"nextTableId"`
		Accounts    []accountKV    `json:"accounts"`
		AccountKeys []accountKeyKV `json:"accountKeys,omitempty"`
		NonceMax    []nonceKV      `json:"nonceMax,omitempty"`
		Tables      []tableKV      `json:"tables"`
		Fee         *FeeConfig     `json:"fee,omitempty"`
	}{
		Height:      s.Height,
		NextTableID: s.NextTableID,
		Accounts:    accounts,
		AccountKeys: accountKeys,
		NonceMax:    nonces,
		Tables:      tables,
		Fee:         s.Fee,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}

// ---- Bank ----

func (s *State) Balance(addr string) uint64 {
	return s.Accounts[addr]
}

func (s *State) Credit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal > ^uint64(0)-amount {
		return fmt.Errorf("balance overflow: have=%d add=%d", bal, amount)
	}
	s.Accounts[addr] = bal + amount
	return nil
}

func (s *State) Debit(addr string, amount uint64) error {
	bal := s.Accounts[addr]
	if bal < amount {
		return fmt.Errorf("insufficient funds: have=%d need=%d", bal, amount)
	}
	s.Accounts[addr] = bal - amount
	return nil
}

// ---- Poker ----

type TableParams struct {
	SmallBlind      uint64 `json:"smallBlind"`
	BigBlind        uint64 `json:"bigBlind"`
	MinBuyIn        uint64 `json:"minBuyIn"`
	MaxBuyIn        uint64 `json:"maxBuyIn"`
	Ante            uint64 `json:"ante,omitempty"`
	StraddleEnabled bool   `json:"straddleEnabled,omitempty"`

	// FeeBps is the flat settlement fee in basis points of the pot; the
	// fractional remainder carries across hands in Table.FeeAccumulator.
	FeeBps uint32 `json:"feeBps,omitempty"`

	// Timeouts are enforced lazily via `poker/timeout` (or any action that
	// observes a passed deadline). Zero means the default.
	CommitTimeoutSecs uint64 `json:"commitTimeoutSecs,omitempty"`
	RevealTimeoutSecs uint64 `json:"revealTimeoutSecs,omitempty"`
	ActionTimeoutSecs uint64 `json:"actionTimeoutSecs,omitempty"`
}

type Table struct {
	ID     uint64      `json:"id"`
	Owner  string      `json:"owner"`
	Label  string      `json:"label,omitempty"`
	Params TableParams `json:"params"`

	Seats [NumSeats]*Seat `json:"seats"`

	NextHandID uint64 `json:"nextHandId"`

	// DealerButton advances to the next occupied, non-sitting-out, funded
	// seat each hand. NextBBSeat and MissedBlinds implement the dead-button
	// rule: the big-blind obligation follows the seat, and an occupied seat
	// the obligation passes while sitting out owes the blind on return.
	DealerButton int              `json:"dealerButton"`
	NextBBSeat   int              `json:"nextBbSeat"`
	MissedBlinds [NumSeats]uint64 `json:"missedBlinds"`

	// FeeAccumulator carries the fractional fee in chips*10000 units so the
	// long-run rate converges exactly despite integer truncation.
	FeeAccumulator uint64 `json:"feeAccumulator"`

	Paused         bool           `json:"paused,omitempty"`
	AdminOnlyStart bool           `json:"adminOnlyStart,omitempty"`
	PendingLeaves  [NumSeats]bool `json:"pendingLeaves"`

	Hand *Hand `json:"hand,omitempty"` // nil while waiting
}

type Seat struct {
	Player     string `json:"player"`
	Stack      uint64 `json:"stack"`
	SittingOut bool   `json:"sittingOut,omitempty"`
}

type HandPhase string

const (
	PhaseCommit   HandPhase = "commit"
	PhaseReveal   HandPhase = "reveal"
	PhasePreflop  HandPhase = "preflop"
	PhaseFlop     HandPhase = "flop"
	PhaseTurn     HandPhase = "turn"
	PhaseRiver    HandPhase = "river"
	PhaseShowdown HandPhase = "showdown"
)

// IsBetting reports whether the phase accepts player betting actions.
func (p HandPhase) IsBetting() bool {
	switch p {
	case PhasePreflop, PhaseFlop, PhaseTurn, PhaseRiver:
		return true
	}
	return false
}

type SeatStatus string

const (
	StatusActive SeatStatus = "active"
	StatusFolded SeatStatus = "folded"
	StatusAllIn  SeatStatus = "allin"
)

// Hand is the active-hand aggregate. Per-player slices are indexed by hand
// index: the player's position in PlayersInHand, which is distinct from the
// fixed seat index. Convert only via SeatOf/HandIdxOf.
type Hand struct {
	HandID uint64    `json:"handId"`
	Phase  HandPhase `json:"phase"`

	PlayersInHand []int        `json:"playersInHand"` // hand idx -> seat idx
	Status        []SeatStatus `json:"status"`
	DealerIdx     int          `json:"dealerIdx"` // hand idx of the button

	// Positional state (seat indices, fixed at hand start).
	SmallBlindSeat int `json:"smallBlindSeat"`
	BigBlindSeat   int `json:"bigBlindSeat"`

	Commits       [][]byte `json:"commits"`       // 32-byte digests; nil until submitted
	Secrets       [][]byte `json:"secrets"`       // revealed preimages; nil until revealed
	EncryptedHole [][]byte `json:"encryptedHole"` // 2 bytes each, XOR-protected

	Deck       []Card `json:"deck,omitempty"`
	DeckCursor uint8  `json:"deckCursor"`
	Community  []Card `json:"community"`

	Pot pot.State `json:"pot"`

	ActionOn       int   `json:"actionOn"` // hand idx, -1 when nobody acts
	ActionDeadline int64 `json:"actionDeadline,omitempty"`
	CommitDeadline int64 `json:"commitDeadline,omitempty"`
	RevealDeadline int64 `json:"revealDeadline,omitempty"`

	MinRaise      uint64 `json:"minRaise"`
	LastAggressor int    `json:"lastAggressor"` // hand idx, -1 until someone reopens action
	HasActed      []bool `json:"hasActed"`

	StraddleIdx    int    `json:"straddleIdx"` // hand idx, -1 when not posted
	StraddleAmount uint64 `json:"straddleAmount,omitempty"`
}

// SeatOf maps a hand index to its seat index.
func (h *Hand) SeatOf(handIdx int) int {
	return h.PlayersInHand[handIdx]
}

// HandIdxOf maps a seat index to its hand index, or -1 if the seat was not
// dealt into this hand.
func (h *Hand) HandIdxOf(seat int) int {
	for i, s := range h.PlayersInHand {
		if s == seat {
			return i
		}
	}
	return -1
}

func (h *Hand) NumPlayers() int { return len(h.PlayersInHand) }

type Card uint8 // 0..51

func (c Card) Rank() uint8 { // 2..14
	return uint8(c%13) + 2
}

func (c Card) Suit() uint8 { // 0..3
	return uint8(c / 13)
}

func (c Card) String() string {
	r := c.Rank()
	var rch byte
	switch r {
	case 14:
		rch = 'A'
	case 13:
		rch = 'K'
	case 12:
		rch = 'Q'
	case 11:
		rch = 'J'
	case 10:
		rch = 'T'
	}
	if r >= 2 && r <= 9 {
		rch = byte('0' + r)
	}
	s := c.Suit()
	var sch byte
	switch s {
	case 0:
		sch = 'c'
	case 1:
		sch = 'd'
	case 2:
		sch = 'h'
	case 3:
		sch = 's'
	default:
		sch = '?'
	}
	return string([]byte{rch, sch})
}
