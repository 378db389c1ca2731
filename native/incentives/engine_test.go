package incentives

import (
	"errors"
	"math/big"
	"testing"

	"emberlend/core/types"
	"emberlend/crypto"
	"emberlend/native/emissions"
)

type mockState struct {
	dists     map[string]*Distributor
	pools     map[string]*Pool
	positions map[string]*Position
	events    []types.Event
}

func newMockState() *mockState {
	return &mockState{
		dists:     make(map[string]*Distributor),
		pools:     make(map[string]*Pool),
		positions: make(map[string]*Position),
	}
}

func poolKey(id string, token crypto.Address) string {
	return id + "/" + string(token.Bytes())
}

func positionKey(id string, token, account crypto.Address) string {
	return id + "/" + string(token.Bytes()) + "/" + string(account.Bytes())
}

func (m *mockState) GetDistributor(id string) (*Distributor, error) {
	return m.dists[id], nil
}

func (m *mockState) PutDistributor(id string, dist *Distributor) error {
	m.dists[id] = dist
	return nil
}

func (m *mockState) GetPool(id string, token crypto.Address) (*Pool, error) {
	return m.pools[poolKey(id, token)], nil
}

func (m *mockState) PutPool(id string, pool *Pool) error {
	m.pools[poolKey(id, pool.Token)] = pool
	return nil
}

func (m *mockState) GetPosition(id string, token, account crypto.Address) (*Position, error) {
	return m.positions[positionKey(id, token, account)], nil
}

func (m *mockState) PutPosition(id string, position *Position) error {
	m.positions[positionKey(id, position.Token, position.Account)] = position
	return nil
}

func (m *mockState) AppendEvent(evt *types.Event) {
	m.events = append(m.events, *evt)
}

type mockVester struct {
	vested map[string]*big.Int
	fail   error
}

func newMockVester() *mockVester {
	return &mockVester{vested: make(map[string]*big.Int)}
}

func (v *mockVester) Vest(account crypto.Address, amount *big.Int) error {
	if v.fail != nil {
		return v.fail
	}
	key := string(account.Bytes())
	total, ok := v.vested[key]
	if !ok {
		total = big.NewInt(0)
	}
	v.vested[key] = new(big.Int).Add(total, amount)
	return nil
}

func (v *mockVester) total(account crypto.Address) *big.Int {
	if amount, ok := v.vested[string(account.Bytes())]; ok {
		return amount
	}
	return big.NewInt(0)
}

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(prefix, raw)
}

// flatEngine builds an engine whose own share emits ratePerSecond tokens per
// second: the nominal schedule carries double and the floor half goes to this
// instance.
func flatEngine(t *testing.T, ratePerSecond int64) (*Engine, *mockState, *mockVester) {
	t.Helper()
	schedule, err := emissions.NewSchedule([]emissions.Entry{
		{StartOffset: 0, RatePerSecond: big.NewInt(2 * ratePerSecond)},
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	engine := NewEngine("staking", schedule, emissions.ShareFloor, 0)
	state := newMockState()
	vester := newMockVester()
	engine.SetState(state)
	engine.SetVester(vester)
	return engine, state, vester
}

func TestPendingRewardSingleStaker(t *testing.T) {
	engine, _, _ := flatEngine(t, 10)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.Deposit(staker, token, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	engine.SetTimestamp(10)
	pending, err := engine.PendingReward(token, staker)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected pending 100, got %s", pending)
	}
}

func TestPendingRewardIsPureProjection(t *testing.T) {
	engine, state, _ := flatEngine(t, 10)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.Deposit(staker, token, big.NewInt(33)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	engine.SetTimestamp(17)
	first, err := engine.PendingReward(token, staker)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	second, err := engine.PendingReward(token, staker)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if first.Cmp(second) != 0 {
		t.Fatalf("projection drifted: %s then %s", first, second)
	}
	pool := state.pools[poolKey("staking", token)]
	if pool.LastAccrualTime != 0 {
		t.Fatalf("projection mutated stored pool, lastAccrualTime=%d", pool.LastAccrualTime)
	}
}

func TestProjectionMatchesSettlement(t *testing.T) {
	engine, _, vester := flatEngine(t, 10)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.Deposit(staker, token, big.NewInt(33)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	engine.SetTimestamp(17)
	projected, err := engine.PendingReward(token, staker)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	claimed, err := engine.Claim(staker, []crypto.Address{token})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if projected.Cmp(claimed) != 0 {
		t.Fatalf("projection %s != settlement %s", projected, claimed)
	}
	if vester.total(staker).Cmp(claimed) != 0 {
		t.Fatalf("vester received %s, want %s", vester.total(staker), claimed)
	}
}

func TestStakeTotalsConserved(t *testing.T) {
	engine, state, _ := flatEngine(t, 5)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	alice := makeAddress(crypto.AccountPrefix, 0xA1)
	bob := makeAddress(crypto.AccountPrefix, 0xB2)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}

	steps := []struct {
		ts      uint64
		account crypto.Address
		amount  int64
		deposit bool
	}{
		{1, alice, 100, true},
		{2, bob, 50, true},
		{5, alice, 40, false},
		{9, bob, 10, true},
		{12, alice, 60, false},
	}
	for _, step := range steps {
		engine.SetTimestamp(step.ts)
		var err error
		if step.deposit {
			err = engine.Deposit(step.account, token, big.NewInt(step.amount))
		} else {
			err = engine.Withdraw(step.account, token, big.NewInt(step.amount))
		}
		if err != nil {
			t.Fatalf("step at t=%d: %v", step.ts, err)
		}
		pool := state.pools[poolKey("staking", token)]
		sum := big.NewInt(0)
		for _, position := range state.positions {
			sum.Add(sum, position.Amount)
		}
		if sum.Cmp(pool.TotalStaked) != 0 {
			t.Fatalf("t=%d: positions sum %s != totalStaked %s", step.ts, sum, pool.TotalStaked)
		}
	}
}

func TestWithdrawBeyondStakeFails(t *testing.T) {
	engine, _, _ := flatEngine(t, 5)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.Deposit(staker, token, big.NewInt(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Withdraw(staker, token, big.NewInt(11)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
}

func TestRegisterPoolRejectsDuplicates(t *testing.T) {
	engine, _, _ := flatEngine(t, 5)
	token := makeAddress(crypto.TokenPrefix, 0x01)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.RegisterPool(token, 2); !errors.Is(err, ErrDuplicatePool) {
		t.Fatalf("expected ErrDuplicatePool, got %v", err)
	}
}

func TestZeroStakeEmissionForgone(t *testing.T) {
	engine, _, _ := flatEngine(t, 10)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}

	// Nobody staked for 50 seconds; that emission is discarded, not banked.
	engine.SetTimestamp(50)
	if err := engine.Deposit(staker, token, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	engine.SetTimestamp(60)
	pending, err := engine.PendingReward(token, staker)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 10s of emission only, got %s", pending)
	}
}

func TestTwoStakersSplitProRata(t *testing.T) {
	engine, _, vester := flatEngine(t, 12)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	alice := makeAddress(crypto.AccountPrefix, 0xA1)
	bob := makeAddress(crypto.AccountPrefix, 0xB2)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.Deposit(alice, token, big.NewInt(100)); err != nil {
		t.Fatalf("deposit alice: %v", err)
	}
	if err := engine.Deposit(bob, token, big.NewInt(300)); err != nil {
		t.Fatalf("deposit bob: %v", err)
	}

	engine.SetTimestamp(100)
	// 1200 emitted; alice holds 1/4 of the stake, bob 3/4.
	if _, err := engine.Claim(alice, []crypto.Address{token}); err != nil {
		t.Fatalf("claim alice: %v", err)
	}
	if _, err := engine.Claim(bob, []crypto.Address{token}); err != nil {
		t.Fatalf("claim bob: %v", err)
	}
	if vester.total(alice).Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("alice share: got %s want 300", vester.total(alice))
	}
	if vester.total(bob).Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("bob share: got %s want 900", vester.total(bob))
	}
}

func TestAllocPointsWeightPools(t *testing.T) {
	engine, _, _ := flatEngine(t, 10)
	heavy := makeAddress(crypto.TokenPrefix, 0x01)
	light := makeAddress(crypto.TokenPrefix, 0x02)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(heavy, 3); err != nil {
		t.Fatalf("register heavy: %v", err)
	}
	if err := engine.RegisterPool(light, 1); err != nil {
		t.Fatalf("register light: %v", err)
	}
	if err := engine.Deposit(staker, heavy, big.NewInt(10)); err != nil {
		t.Fatalf("deposit heavy: %v", err)
	}
	if err := engine.Deposit(staker, light, big.NewInt(10)); err != nil {
		t.Fatalf("deposit light: %v", err)
	}

	engine.SetTimestamp(40)
	heavyPending, err := engine.PendingReward(heavy, staker)
	if err != nil {
		t.Fatalf("pending heavy: %v", err)
	}
	lightPending, err := engine.PendingReward(light, staker)
	if err != nil {
		t.Fatalf("pending light: %v", err)
	}
	// 400 emitted over 40s: 300 to the 3-point pool, 100 to the 1-point pool.
	if heavyPending.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("heavy pool pending: got %s want 300", heavyPending)
	}
	if lightPending.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("light pool pending: got %s want 100", lightPending)
	}
}

func TestFailingVesterRestoresStake(t *testing.T) {
	engine, state, vester := flatEngine(t, 10)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.Deposit(staker, token, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	engine.SetTimestamp(10)
	vester.fail = errors.New("vesting ledger unavailable")
	err := engine.Deposit(staker, token, big.NewInt(1))
	if err == nil || err.Error() != "vesting ledger unavailable" {
		t.Fatalf("expected vester failure to surface, got %v", err)
	}
	// The failed transition left no partial state: the stake change and the
	// accrual both rolled back, so the pending reward is still owed.
	position := state.positions[positionKey("staking", token, staker)]
	if position.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed deposit left partial stake, amount=%s", position.Amount)
	}
	pool := state.pools[poolKey("staking", token)]
	if pool.TotalStaked.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed deposit left partial pool total, totalStaked=%s", pool.TotalStaked)
	}
	pending, err := engine.PendingReward(token, staker)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("pending reward destroyed by failed deposit: got %s want 100", pending)
	}

	// Once the ledger recovers, the retried deposit settles the same reward.
	vester.fail = nil
	if err := engine.Deposit(staker, token, big.NewInt(1)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if vester.total(staker).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("retried deposit vested %s want 100", vester.total(staker))
	}
}

func TestFailingVesterRestoresClaim(t *testing.T) {
	engine, state, vester := flatEngine(t, 10)
	token := makeAddress(crypto.TokenPrefix, 0x01)
	staker := makeAddress(crypto.AccountPrefix, 0xAA)

	engine.SetTimestamp(0)
	if err := engine.RegisterPool(token, 1); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	if err := engine.Deposit(staker, token, big.NewInt(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	engine.SetTimestamp(10)
	vester.fail = errors.New("vesting ledger unavailable")
	if _, err := engine.Claim(staker, []crypto.Address{token}); err == nil {
		t.Fatal("expected claim to fail")
	}
	position := state.positions[positionKey("staking", token, staker)]
	if position.RewardDebt.Sign() != 0 {
		t.Fatalf("failed claim advanced reward debt to %s", position.RewardDebt)
	}
	pending, err := engine.PendingReward(token, staker)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("failed claim destroyed pending reward: got %s want 100", pending)
	}

	vester.fail = nil
	claimed, err := engine.Claim(staker, []crypto.Address{token})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if claimed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("retried claim settled %s want 100", claimed)
	}
}
