package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"emberlend/core/types"
	"emberlend/crypto"
	"emberlend/native/incentives"
	"emberlend/native/pricefeed"
	"emberlend/native/vesting"
)

// Key prefixes. Every record family owns one prefix so families never
// collide regardless of identifier contents.
const (
	prefixDistributor   = "incentives/distributor/"
	prefixPool          = "incentives/pool/"
	prefixPosition      = "incentives/position/"
	prefixVestingAcct   = "vesting/account/"
	prefixRewardToken   = "vesting/rewardtoken/"
	keyRewardTokenIndex = "vesting/rewardtokens"
	keyVestingTotals    = "vesting/totals"
	prefixOracle        = "pricefeed/oracle/"
	prefixAccount       = "account/"
	keyGenesisSeeded    = "genesis/seeded"
)

// State adapts a raw key-value database to the persistence interfaces the
// native engines consume. Records are stored as JSON with big integers
// rendered as decimal strings. Events accumulate in memory for the duration
// of one transition and are drained by the host.
//
// Begin/Commit/Discard scope a transition: writes made between Begin and
// Commit stay in an in-memory overlay, so a failed operation can be dropped
// without leaving partial records in the database.
type State struct {
	db Database

	mu        sync.Mutex
	events    []types.Event
	overlay   map[string][]byte
	eventMark int
}

// NewState wraps the database.
func NewState(db Database) *State {
	return &State{db: db}
}

// Begin opens a buffered transition. Subsequent writes and events stay in
// memory until Commit flushes them or Discard drops them.
func (s *State) Begin() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay = make(map[string][]byte)
	s.eventMark = len(s.events)
}

// Commit flushes the open transition to the database.
func (s *State) Commit() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, raw := range s.overlay {
		if err := s.db.Put([]byte(key), raw); err != nil {
			return err
		}
	}
	s.overlay = nil
	return nil
}

// Discard drops the open transition, including any events it appended.
func (s *State) Discard() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overlay == nil {
		return
	}
	s.overlay = nil
	s.events = s.events[:s.eventMark]
}

// AppendEvent records a transition event for the host to drain.
func (s *State) AppendEvent(evt *types.Event) {
	if s == nil || evt == nil {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, *evt)
	s.mu.Unlock()
}

// DrainEvents returns the accumulated events and clears the buffer.
func (s *State) DrainEvents() []types.Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.events
	s.events = nil
	return drained
}

func (s *State) getJSON(key string, out interface{}) (bool, error) {
	raw, err := s.load(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *State) putJSON(key string, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.store(key, raw)
}

func (s *State) load(key string) ([]byte, error) {
	s.mu.Lock()
	if s.overlay != nil {
		if raw, ok := s.overlay[key]; ok {
			s.mu.Unlock()
			return raw, nil
		}
	}
	s.mu.Unlock()
	return s.db.Get([]byte(key))
}

func (s *State) store(key string, raw []byte) error {
	s.mu.Lock()
	if s.overlay != nil {
		s.overlay[key] = raw
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.db.Put([]byte(key), raw)
}

// --- stored record forms ---

type storedDistributor struct {
	ID              string   `json:"id"`
	TotalAllocPoint uint64   `json:"totalAllocPoint"`
	Pools           []string `json:"pools"`
}

type storedPool struct {
	Token             string `json:"token"`
	AllocPoints       uint64 `json:"allocPoints"`
	TotalStaked       string `json:"totalStaked"`
	LastAccrualTime   uint64 `json:"lastAccrualTime"`
	AccRewardPerShare string `json:"accRewardPerShare"`
}

type storedPosition struct {
	Token      string `json:"token"`
	Account    string `json:"account"`
	Amount     string `json:"amount"`
	RewardDebt string `json:"rewardDebt"`
}

type storedTranche struct {
	Amount     string `json:"amount"`
	UnlockTime uint64 `json:"unlockTime"`
}

type storedVestingAccount struct {
	Address    string            `json:"address"`
	Locked     []storedTranche   `json:"locked,omitempty"`
	Earned     []storedTranche   `json:"earned,omitempty"`
	Unlocked   string            `json:"unlocked"`
	RewardPaid map[string]string `json:"rewardPaid,omitempty"`
	Rewards    map[string]string `json:"rewards,omitempty"`
}

type storedRewardToken struct {
	Token                string `json:"token"`
	RewardPerTokenStored string `json:"rewardPerTokenStored"`
	LastUpdateTime       uint64 `json:"lastUpdateTime"`
}

type storedTotals struct {
	TotalBalance string `json:"totalBalance"`
}

type storedOracleState struct {
	Status        uint8  `json:"status"`
	LastGoodPrice string `json:"lastGoodPrice,omitempty"`
}

type storedAccount struct {
	Nonce    uint64            `json:"nonce"`
	Balances map[string]string `json:"balances,omitempty"`
}

func encodeBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeBig(v string) (*big.Int, error) {
	if v == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("storage: invalid integer %q", v)
	}
	return out, nil
}

// --- incentives.State ---

func distributorKey(id string) string { return prefixDistributor + id }

func poolKey(id string, token crypto.Address) string {
	return prefixPool + id + "/" + token.String()
}

func positionKey(id string, token, account crypto.Address) string {
	return prefixPosition + id + "/" + token.String() + "/" + account.String()
}

func (s *State) GetDistributor(id string) (*incentives.Distributor, error) {
	var stored storedDistributor
	ok, err := s.getJSON(distributorKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &incentives.Distributor{
		ID:               stored.ID,
		TotalAllocPoints: stored.TotalAllocPoint,
		Pools:            stored.Pools,
	}, nil
}

func (s *State) PutDistributor(id string, dist *incentives.Distributor) error {
	return s.putJSON(distributorKey(id), storedDistributor{
		ID:              dist.ID,
		TotalAllocPoint: dist.TotalAllocPoints,
		Pools:           dist.Pools,
	})
}

func (s *State) GetPool(id string, token crypto.Address) (*incentives.Pool, error) {
	var stored storedPool
	ok, err := s.getJSON(poolKey(id, token), &stored)
	if err != nil || !ok {
		return nil, err
	}
	poolToken, err := crypto.DecodeAddress(stored.Token)
	if err != nil {
		return nil, err
	}
	totalStaked, err := decodeBig(stored.TotalStaked)
	if err != nil {
		return nil, err
	}
	acc, err := decodeBig(stored.AccRewardPerShare)
	if err != nil {
		return nil, err
	}
	return &incentives.Pool{
		Token:             poolToken,
		AllocPoints:       stored.AllocPoints,
		TotalStaked:       totalStaked,
		LastAccrualTime:   stored.LastAccrualTime,
		AccRewardPerShare: acc,
	}, nil
}

func (s *State) PutPool(id string, pool *incentives.Pool) error {
	return s.putJSON(poolKey(id, pool.Token), storedPool{
		Token:             pool.Token.String(),
		AllocPoints:       pool.AllocPoints,
		TotalStaked:       encodeBig(pool.TotalStaked),
		LastAccrualTime:   pool.LastAccrualTime,
		AccRewardPerShare: encodeBig(pool.AccRewardPerShare),
	})
}

func (s *State) GetPosition(id string, token, account crypto.Address) (*incentives.Position, error) {
	var stored storedPosition
	ok, err := s.getJSON(positionKey(id, token, account), &stored)
	if err != nil || !ok {
		return nil, err
	}
	amount, err := decodeBig(stored.Amount)
	if err != nil {
		return nil, err
	}
	debt, err := decodeBig(stored.RewardDebt)
	if err != nil {
		return nil, err
	}
	return &incentives.Position{
		Token:      token,
		Account:    account,
		Amount:     amount,
		RewardDebt: debt,
	}, nil
}

func (s *State) PutPosition(id string, position *incentives.Position) error {
	return s.putJSON(positionKey(id, position.Token, position.Account), storedPosition{
		Token:      position.Token.String(),
		Account:    position.Account.String(),
		Amount:     encodeBig(position.Amount),
		RewardDebt: encodeBig(position.RewardDebt),
	})
}

// --- vesting.State ---

func vestingAccountKey(addr crypto.Address) string { return prefixVestingAcct + addr.String() }

func rewardTokenKey(token crypto.Address) string { return prefixRewardToken + token.String() }

func encodeTranches(entries []vesting.LockedBalance) []storedTranche {
	if len(entries) == 0 {
		return nil
	}
	out := make([]storedTranche, len(entries))
	for i, entry := range entries {
		out[i] = storedTranche{Amount: encodeBig(entry.Amount), UnlockTime: entry.UnlockTime}
	}
	return out
}

func decodeTranches(entries []storedTranche) ([]vesting.LockedBalance, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make([]vesting.LockedBalance, len(entries))
	for i, entry := range entries {
		amount, err := decodeBig(entry.Amount)
		if err != nil {
			return nil, err
		}
		out[i] = vesting.LockedBalance{Amount: amount, UnlockTime: entry.UnlockTime}
	}
	return out, nil
}

func encodeBigMap(values map[string]*big.Int) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = encodeBig(value)
	}
	return out
}

func decodeBigMap(values map[string]string) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(values))
	for key, value := range values {
		decoded, err := decodeBig(value)
		if err != nil {
			return nil, err
		}
		out[key] = decoded
	}
	return out, nil
}

func (s *State) GetVestingAccount(addr crypto.Address) (*vesting.VestingAccount, error) {
	var stored storedVestingAccount
	ok, err := s.getJSON(vestingAccountKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	locked, err := decodeTranches(stored.Locked)
	if err != nil {
		return nil, err
	}
	earned, err := decodeTranches(stored.Earned)
	if err != nil {
		return nil, err
	}
	unlocked, err := decodeBig(stored.Unlocked)
	if err != nil {
		return nil, err
	}
	rewardPaid, err := decodeBigMap(stored.RewardPaid)
	if err != nil {
		return nil, err
	}
	rewards, err := decodeBigMap(stored.Rewards)
	if err != nil {
		return nil, err
	}
	return &vesting.VestingAccount{
		Address:    addr,
		Locked:     locked,
		Earned:     earned,
		Unlocked:   unlocked,
		RewardPaid: rewardPaid,
		Rewards:    rewards,
	}, nil
}

func (s *State) PutVestingAccount(account *vesting.VestingAccount) error {
	return s.putJSON(vestingAccountKey(account.Address), storedVestingAccount{
		Address:    account.Address.String(),
		Locked:     encodeTranches(account.Locked),
		Earned:     encodeTranches(account.Earned),
		Unlocked:   encodeBig(account.Unlocked),
		RewardPaid: encodeBigMap(account.RewardPaid),
		Rewards:    encodeBigMap(account.Rewards),
	})
}

func (s *State) GetRewardToken(token crypto.Address) (*vesting.RewardTokenEntry, error) {
	var stored storedRewardToken
	ok, err := s.getJSON(rewardTokenKey(token), &stored)
	if err != nil || !ok {
		return nil, err
	}
	accumulated, err := decodeBig(stored.RewardPerTokenStored)
	if err != nil {
		return nil, err
	}
	return &vesting.RewardTokenEntry{
		Token:                token,
		RewardPerTokenStored: accumulated,
		LastUpdateTime:       stored.LastUpdateTime,
	}, nil
}

func (s *State) PutRewardToken(entry *vesting.RewardTokenEntry) error {
	var index []string
	if _, err := s.getJSON(keyRewardTokenIndex, &index); err != nil {
		return err
	}
	encoded := entry.Token.String()
	seen := false
	for _, existing := range index {
		if existing == encoded {
			seen = true
			break
		}
	}
	if !seen {
		index = append(index, encoded)
		if err := s.putJSON(keyRewardTokenIndex, index); err != nil {
			return err
		}
	}
	return s.putJSON(rewardTokenKey(entry.Token), storedRewardToken{
		Token:                encoded,
		RewardPerTokenStored: encodeBig(entry.RewardPerTokenStored),
		LastUpdateTime:       entry.LastUpdateTime,
	})
}

func (s *State) RewardTokens() ([]crypto.Address, error) {
	var index []string
	if _, err := s.getJSON(keyRewardTokenIndex, &index); err != nil {
		return nil, err
	}
	out := make([]crypto.Address, 0, len(index))
	for _, encoded := range index {
		token, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	return out, nil
}

func (s *State) GetVestingTotals() (*vesting.Totals, error) {
	var stored storedTotals
	ok, err := s.getJSON(keyVestingTotals, &stored)
	if err != nil || !ok {
		return nil, err
	}
	total, err := decodeBig(stored.TotalBalance)
	if err != nil {
		return nil, err
	}
	return &vesting.Totals{TotalBalance: total}, nil
}

func (s *State) PutVestingTotals(totals *vesting.Totals) error {
	return s.putJSON(keyVestingTotals, storedTotals{TotalBalance: encodeBig(totals.TotalBalance)})
}

// --- pricefeed.State ---

// FeedState binds one oracle asset stream to its persisted singleton record.
type FeedState struct {
	state   *State
	assetID string
}

// FeedState returns the pricefeed persistence adapter for the asset stream.
func (s *State) FeedState(assetID string) *FeedState {
	return &FeedState{state: s, assetID: assetID}
}

func (f *FeedState) key() string { return prefixOracle + f.assetID }

func (f *FeedState) GetOracleState() (*pricefeed.OracleState, error) {
	var stored storedOracleState
	ok, err := f.state.getJSON(f.key(), &stored)
	if err != nil || !ok {
		return nil, err
	}
	out := &pricefeed.OracleState{Status: pricefeed.Status(stored.Status)}
	if stored.LastGoodPrice != "" {
		price, err := decodeBig(stored.LastGoodPrice)
		if err != nil {
			return nil, err
		}
		out.LastGoodPrice = price
	}
	return out, nil
}

func (f *FeedState) PutOracleState(state *pricefeed.OracleState) error {
	stored := storedOracleState{Status: uint8(state.Status)}
	if state.LastGoodPrice != nil {
		stored.LastGoodPrice = state.LastGoodPrice.String()
	}
	return f.state.putJSON(f.key(), stored)
}

func (f *FeedState) AppendEvent(evt *types.Event) {
	f.state.AppendEvent(evt)
}

// GenesisSeeded reports whether the one-time treasury seed has been applied.
func (s *State) GenesisSeeded() (bool, error) {
	var seeded bool
	ok, err := s.getJSON(keyGenesisSeeded, &seeded)
	if err != nil {
		return false, err
	}
	return ok && seeded, nil
}

// MarkGenesisSeeded records that the treasury seed ran, so restarts do not
// mint it again.
func (s *State) MarkGenesisSeeded() error {
	return s.putJSON(keyGenesisSeeded, true)
}

// --- account balances ---

func accountKey(addr crypto.Address) string { return prefixAccount + addr.String() }

// GetAccount loads the wallet record, defaulting to an empty account.
func (s *State) GetAccount(addr crypto.Address) (*types.Account, error) {
	var stored storedAccount
	ok, err := s.getJSON(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{Balances: make(map[string]*big.Int)}
	if !ok {
		return account, nil
	}
	account.Nonce = stored.Nonce
	for token, value := range stored.Balances {
		balance, err := decodeBig(value)
		if err != nil {
			return nil, err
		}
		account.Balances[token] = balance
	}
	return account, nil
}

// PutAccount stores the wallet record.
func (s *State) PutAccount(addr crypto.Address, account *types.Account) error {
	stored := storedAccount{Nonce: account.Nonce, Balances: make(map[string]string, len(account.Balances))}
	for token, balance := range account.Balances {
		if balance == nil || balance.Sign() == 0 {
			continue
		}
		stored.Balances[token] = balance.String()
	}
	return s.putJSON(accountKey(addr), stored)
}
