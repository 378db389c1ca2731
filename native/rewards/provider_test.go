package rewards

import (
	"math/big"
	"testing"

	"emberlend/core/types"
	"emberlend/crypto"
	"emberlend/native/emissions"
	"emberlend/native/incentives"
	"emberlend/native/vesting"
)

// memStore backs both distributor engines and the vesting ledger in one
// in-memory map set, and doubles as the wallet balance source.
type memStore struct {
	distributors map[string]*incentives.Distributor
	pools        map[string]*incentives.Pool
	positions    map[string]*incentives.Position
	accounts     map[string]*vesting.VestingAccount
	rewardTokens map[string]*vesting.RewardTokenEntry
	tokenOrder   []crypto.Address
	totals       *vesting.Totals
	wallet       map[string]*big.Int
	events       []types.Event
}

func newMemStore() *memStore {
	return &memStore{
		distributors: make(map[string]*incentives.Distributor),
		pools:        make(map[string]*incentives.Pool),
		positions:    make(map[string]*incentives.Position),
		accounts:     make(map[string]*vesting.VestingAccount),
		rewardTokens: make(map[string]*vesting.RewardTokenEntry),
		wallet:       make(map[string]*big.Int),
	}
}

func (m *memStore) GetDistributor(id string) (*incentives.Distributor, error) {
	return m.distributors[id], nil
}

func (m *memStore) PutDistributor(id string, dist *incentives.Distributor) error {
	m.distributors[id] = dist
	return nil
}

func poolKey(id string, token crypto.Address) string {
	return id + "/" + string(token.Bytes())
}

func (m *memStore) GetPool(id string, token crypto.Address) (*incentives.Pool, error) {
	return m.pools[poolKey(id, token)], nil
}

func (m *memStore) PutPool(id string, pool *incentives.Pool) error {
	m.pools[poolKey(id, pool.Token)] = pool
	return nil
}

func positionKey(id string, token, account crypto.Address) string {
	return id + "/" + string(token.Bytes()) + "/" + string(account.Bytes())
}

func (m *memStore) GetPosition(id string, token, account crypto.Address) (*incentives.Position, error) {
	return m.positions[positionKey(id, token, account)], nil
}

func (m *memStore) PutPosition(id string, position *incentives.Position) error {
	m.positions[positionKey(id, position.Token, position.Account)] = position
	return nil
}

func (m *memStore) GetVestingAccount(addr crypto.Address) (*vesting.VestingAccount, error) {
	return m.accounts[string(addr.Bytes())], nil
}

func (m *memStore) PutVestingAccount(account *vesting.VestingAccount) error {
	m.accounts[string(account.Address.Bytes())] = account
	return nil
}

func (m *memStore) GetRewardToken(token crypto.Address) (*vesting.RewardTokenEntry, error) {
	return m.rewardTokens[string(token.Bytes())], nil
}

func (m *memStore) PutRewardToken(entry *vesting.RewardTokenEntry) error {
	key := string(entry.Token.Bytes())
	if _, seen := m.rewardTokens[key]; !seen {
		m.tokenOrder = append(m.tokenOrder, entry.Token)
	}
	m.rewardTokens[key] = entry
	return nil
}

func (m *memStore) RewardTokens() ([]crypto.Address, error) {
	return append([]crypto.Address(nil), m.tokenOrder...), nil
}

func (m *memStore) GetVestingTotals() (*vesting.Totals, error) {
	return m.totals, nil
}

func (m *memStore) PutVestingTotals(totals *vesting.Totals) error {
	m.totals = totals
	return nil
}

func (m *memStore) AppendEvent(evt *types.Event) {
	m.events = append(m.events, *evt)
}

func (m *memStore) BalanceOf(token, account crypto.Address) (*big.Int, error) {
	key := string(token.Bytes()) + "/" + string(account.Bytes())
	if bal, ok := m.wallet[key]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

func newFixture(t *testing.T) (*Provider, *memStore, []*incentives.Engine, *vesting.Ledger) {
	t.Helper()
	schedule, err := emissions.NewSchedule([]emissions.Entry{
		{StartOffset: 0, RatePerSecond: big.NewInt(20)},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	store := newMemStore()

	govToken := makeAddress(crypto.TokenPrefix, 0x01)
	ledger := vesting.NewLedger(vesting.Params{
		GovToken:     govToken,
		LockDuration: 90 * 24 * 3600,
		VestDuration: 30 * 24 * 3600,
		PenaltyBps:   5000,
		PenaltySink:  makeAddress(crypto.AccountPrefix, 0xFF),
	})
	ledger.SetState(store)

	staking := incentives.NewEngine("staking", schedule, emissions.ShareFloor, 0)
	lending := incentives.NewEngine("lending", schedule, emissions.ShareRemainder, 0)
	engines := []*incentives.Engine{staking, lending}
	for _, engine := range engines {
		engine.SetState(store)
		engine.SetVester(ledger)
	}

	provider := NewProvider(engines, ledger, store, []crypto.Address{govToken})
	return provider, store, engines, ledger
}

func TestUserIncentiveCombinesAllViews(t *testing.T) {
	provider, store, engines, ledger := newFixture(t)
	staking, lending := engines[0], engines[1]
	account := makeAddress(crypto.AccountPrefix, 0xAA)
	stakeToken := makeAddress(crypto.TokenPrefix, 0x10)
	debtToken := makeAddress(crypto.TokenPrefix, 0x11)

	staking.SetTimestamp(0)
	lending.SetTimestamp(0)
	ledger.SetTimestamp(0)
	if err := staking.RegisterPool(stakeToken, 1); err != nil {
		t.Fatalf("register staking pool: %v", err)
	}
	if err := lending.RegisterPool(debtToken, 1); err != nil {
		t.Fatalf("register lending pool: %v", err)
	}
	if err := staking.Deposit(account, stakeToken, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.Vest(account, big.NewInt(1000)); err != nil {
		t.Fatalf("vest: %v", err)
	}
	store.wallet[string(provider.watched[0].Bytes())+"/"+string(account.Bytes())] = big.NewInt(55)

	staking.SetTimestamp(10)
	lending.SetTimestamp(10)
	ledger.SetTimestamp(10)

	snapshot, err := provider.UserIncentive(account)
	if err != nil {
		t.Fatalf("user incentive: %v", err)
	}
	// Nominal 20/sec splits 10/10; the account is the sole staker of the
	// only staking pool, so ten seconds accrue 100.
	if snapshot.TotalPending.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("total pending: got %s want 100", snapshot.TotalPending)
	}
	if len(snapshot.Distributors) != 2 {
		t.Fatalf("expected 2 distributor standings, got %d", len(snapshot.Distributors))
	}
	if got := snapshot.Distributors[0].Pools[0].Staked; got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("staked: got %s want 100", got)
	}
	if got := snapshot.Distributors[1].Pools[0].Pending; got.Sign() != 0 {
		t.Fatalf("lending pending: got %s want 0", got)
	}
	if snapshot.TotalVesting.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("total vesting: got %s want 1000", snapshot.TotalVesting)
	}
	if snapshot.Earned.Total.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("earned total: got %s want 1000", snapshot.Earned.Total)
	}
	if len(snapshot.Wallet) != 1 || snapshot.Wallet[0].Amount.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("wallet: %+v", snapshot.Wallet)
	}
}

func TestUserIncentiveNeverMutates(t *testing.T) {
	provider, store, engines, ledger := newFixture(t)
	staking := engines[0]
	account := makeAddress(crypto.AccountPrefix, 0xAA)
	stakeToken := makeAddress(crypto.TokenPrefix, 0x10)

	staking.SetTimestamp(0)
	engines[1].SetTimestamp(0)
	ledger.SetTimestamp(0)
	if err := staking.RegisterPool(stakeToken, 1); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := staking.Deposit(account, stakeToken, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	staking.SetTimestamp(10)
	engines[1].SetTimestamp(10)
	ledger.SetTimestamp(10)

	first, err := provider.UserIncentive(account)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := provider.UserIncentive(account)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.TotalPending.Cmp(second.TotalPending) != 0 {
		t.Fatalf("snapshot drifted: %s then %s", first.TotalPending, second.TotalPending)
	}
	pool := store.pools[poolKey("staking", stakeToken)]
	if pool.LastAccrualTime != 0 {
		t.Fatalf("provider advanced the accrual clock to %d", pool.LastAccrualTime)
	}
}
