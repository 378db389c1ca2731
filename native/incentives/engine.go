package incentives

import (
	"math/big"
	"strings"

	"emberlend/core/types"
	"emberlend/crypto"
	"emberlend/native/emissions"
)

// State describes the persistence the distributor engine needs from the
// surrounding store. All records are owned by exactly one distributor
// instance and keyed by its identifier.
type State interface {
	GetDistributor(id string) (*Distributor, error)
	PutDistributor(id string, dist *Distributor) error
	GetPool(id string, token crypto.Address) (*Pool, error)
	PutPool(id string, pool *Pool) error
	GetPosition(id string, token, account crypto.Address) (*Position, error)
	PutPosition(id string, position *Position) error
	AppendEvent(evt *types.Event)
}

// RewardVester receives newly settled governance-token rewards and locks
// them into the vesting ledger. It is resolved once at engine wiring rather
// than through a runtime-polymorphic hook chain.
type RewardVester interface {
	Vest(account crypto.Address, amount *big.Int) error
}

// Engine implements the per-pool reward accrual bookkeeping for one
// distributor instance. Two instances run side by side, each drawing one
// half of the shared emission budget.
type Engine struct {
	state         State
	schedule      *emissions.Schedule
	share         emissions.DistributorShare
	startTime     uint64
	timestamp     uint64
	distributorID string
	vester        RewardVester
}

// NewEngine constructs a distributor engine bound to its half of the
// emission schedule. startTime is the unix second the emission program
// began.
func NewEngine(id string, schedule *emissions.Schedule, share emissions.DistributorShare, startTime uint64) *Engine {
	return &Engine{
		distributorID: strings.TrimSpace(id),
		schedule:      schedule,
		share:         share,
		startTime:     startTime,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

// SetVester wires the vesting ledger that receives settled rewards.
func (e *Engine) SetVester(v RewardVester) {
	if e == nil {
		return
	}
	e.vester = v
}

// SetTimestamp records the transition timestamp used for accrual deltas. The
// host stamps every transition before invoking an operation; the engine
// never reads the wall clock itself.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// DistributorID returns the configured instance identifier.
func (e *Engine) DistributorID() string {
	if e == nil {
		return ""
	}
	return e.distributorID
}

// RegisterPool adds a staking pool with the provided allocation points.
func (e *Engine) RegisterPool(token crypto.Address, allocPoints uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return err
	}
	existing, err := e.state.GetPool(e.distributorID, token)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicatePool
	}
	if err := e.accrueAll(dist); err != nil {
		return err
	}
	pool := &Pool{
		Token:             token,
		AllocPoints:       allocPoints,
		TotalStaked:       big.NewInt(0),
		LastAccrualTime:   e.timestamp,
		AccRewardPerShare: big.NewInt(0),
	}
	dist.TotalAllocPoints += allocPoints
	dist.Pools = append(dist.Pools, token.String())
	if err := e.state.PutPool(e.distributorID, pool); err != nil {
		return err
	}
	if err := e.state.PutDistributor(e.distributorID, dist); err != nil {
		return err
	}
	e.emit(eventPoolRegistered, poolAttributes(token, allocPoints))
	return nil
}

// SetAllocPoints reweights a registered pool. Every pool is accrued first so
// emission already earned under the old weighting is not repriced.
func (e *Engine) SetAllocPoints(token crypto.Address, allocPoints uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return err
	}
	pool, err := e.state.GetPool(e.distributorID, token)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolNotFound
	}
	if err := e.accrueAll(dist); err != nil {
		return err
	}
	pool, err = e.state.GetPool(e.distributorID, token)
	if err != nil {
		return err
	}
	dist.TotalAllocPoints = dist.TotalAllocPoints - pool.AllocPoints + allocPoints
	pool.AllocPoints = allocPoints
	if err := e.state.PutPool(e.distributorID, pool); err != nil {
		return err
	}
	return e.state.PutDistributor(e.distributorID, dist)
}

// Accrue settles elapsed emission into the pool's accumulator and persists
// the result.
func (e *Engine) Accrue(token crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return err
	}
	pool, err := e.state.GetPool(e.distributorID, token)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolNotFound
	}
	e.accruePool(dist, pool)
	return e.state.PutPool(e.distributorID, pool)
}

// Deposit stakes amount for the account, settling any pending reward first.
func (e *Engine) Deposit(account, token crypto.Address, amount *big.Int) error {
	return e.adjustStake(account, token, amount, true)
}

// Withdraw unstakes amount for the account, settling any pending reward
// first. Withdrawing more than the staked balance fails with
// ErrInsufficientStake.
func (e *Engine) Withdraw(account, token crypto.Address, amount *big.Int) error {
	return e.adjustStake(account, token, amount, false)
}

func (e *Engine) adjustStake(account, token crypto.Address, amount *big.Int, deposit bool) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return err
	}
	pool, err := e.state.GetPool(e.distributorID, token)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolNotFound
	}
	position, err := e.ensurePosition(token, account)
	if err != nil {
		return err
	}
	if !deposit && position.Amount.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	poolBefore := pool.Clone()
	positionBefore := position.Clone()

	e.accruePool(dist, pool)
	pending := pendingFor(pool, position)

	if deposit {
		position.Amount = new(big.Int).Add(position.Amount, amount)
		pool.TotalStaked = new(big.Int).Add(pool.TotalStaked, amount)
	} else {
		position.Amount = new(big.Int).Sub(position.Amount, amount)
		pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, amount)
	}
	position.RewardDebt = debtFor(pool, position)

	if err := e.state.PutPool(e.distributorID, pool); err != nil {
		return err
	}
	if err := e.state.PutPosition(e.distributorID, position); err != nil {
		return err
	}

	// Bookkeeping is persisted before the vesting collaborator runs, so a
	// failing or reentrant vester cannot observe a half-updated ledger. A
	// failed vest reinstates the pre-transition records: the stake change and
	// its settled reward both survive to be retried.
	if err := e.vestReward(account, token, pending); err != nil {
		if restoreErr := e.restoreStake(poolBefore, positionBefore); restoreErr != nil {
			return restoreErr
		}
		return err
	}

	eventType := eventWithdrawn
	if deposit {
		eventType = eventDeposited
	}
	e.emit(eventType, stakeAttributes(token, account, amount.String()))
	return nil
}

// restoreStake reinstates the pre-transition pool and position records after
// a failed vest.
func (e *Engine) restoreStake(pool *Pool, position *Position) error {
	if err := e.state.PutPool(e.distributorID, pool); err != nil {
		return err
	}
	return e.state.PutPosition(e.distributorID, position)
}

// Claim settles the pending reward of each listed pool for the account and
// locks the total into the vesting ledger.
func (e *Engine) Claim(account crypto.Address, tokens []crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	type claimed struct {
		pool     *Pool
		position *Position
	}
	var snapshots []claimed
	for _, token := range tokens {
		pool, err := e.state.GetPool(e.distributorID, token)
		if err != nil {
			return nil, err
		}
		if pool == nil {
			return nil, ErrPoolNotFound
		}
		position, err := e.ensurePosition(token, account)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, claimed{pool: pool.Clone(), position: position.Clone()})
		e.accruePool(dist, pool)
		pending := pendingFor(pool, position)
		if pending.Sign() == 0 {
			if err := e.state.PutPool(e.distributorID, pool); err != nil {
				return nil, err
			}
			continue
		}
		position.RewardDebt = debtFor(pool, position)
		if err := e.state.PutPool(e.distributorID, pool); err != nil {
			return nil, err
		}
		if err := e.state.PutPosition(e.distributorID, position); err != nil {
			return nil, err
		}
		total.Add(total, pending)
	}
	if total.Sign() == 0 {
		return total, nil
	}
	// A failed vest reinstates every accrued pool and settled position so the
	// claim stays pending.
	if err := e.vestTotal(account, total); err != nil {
		for _, snapshot := range snapshots {
			if restoreErr := e.restoreStake(snapshot.pool, snapshot.position); restoreErr != nil {
				return nil, restoreErr
			}
		}
		return nil, err
	}
	return total, nil
}

// PendingReward projects the claimable reward for the account without
// mutating any stored state. It must match exactly what a subsequent accrue
// plus settlement would yield.
func (e *Engine) PendingReward(token, account crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return nil, err
	}
	pool, err := e.state.GetPool(e.distributorID, token)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	position, err := e.ensurePosition(token, account)
	if err != nil {
		return nil, err
	}
	projected := e.projectedAccumulator(dist, pool)
	simulated := &Pool{AccRewardPerShare: projected}
	return pendingFor(simulated, position), nil
}

// PoolSnapshot returns the stored pool with the accumulator projected to the
// current transition timestamp, without mutating state.
func (e *Engine) PoolSnapshot(token crypto.Address) (*PoolSnapshot, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return nil, err
	}
	pool, err := e.state.GetPool(e.distributorID, token)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotFound
	}
	return &PoolSnapshot{
		Token:             pool.Token,
		AllocPoints:       pool.AllocPoints,
		TotalStaked:       copyBigInt(pool.TotalStaked),
		LastAccrualTime:   pool.LastAccrualTime,
		AccRewardPerShare: e.projectedAccumulator(dist, pool),
	}, nil
}

// Pools lists the registered pool tokens in registration order.
func (e *Engine) Pools() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	dist, err := e.ensureDistributor()
	if err != nil {
		return nil, err
	}
	tokens := make([]crypto.Address, 0, len(dist.Pools))
	for _, encoded := range dist.Pools {
		token, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// Position returns the stored stake for the account, defaulting to zero.
func (e *Engine) Position(token, account crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.ensureDistributor(); err != nil {
		return nil, err
	}
	return e.ensurePosition(token, account)
}

func (e *Engine) ensureDistributor() (*Distributor, error) {
	if strings.TrimSpace(e.distributorID) == "" {
		return nil, ErrNotConfigured
	}
	dist, err := e.state.GetDistributor(e.distributorID)
	if err != nil {
		return nil, err
	}
	if dist == nil {
		dist = &Distributor{ID: e.distributorID}
	}
	return dist, nil
}

func (e *Engine) ensurePosition(token, account crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(e.distributorID, token, account)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Token: token, Account: account}
	}
	if position.Amount == nil {
		position.Amount = big.NewInt(0)
	}
	if position.RewardDebt == nil {
		position.RewardDebt = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) accrueAll(dist *Distributor) error {
	for _, encoded := range dist.Pools {
		token, err := crypto.DecodeAddress(encoded)
		if err != nil {
			return err
		}
		pool, err := e.state.GetPool(e.distributorID, token)
		if err != nil {
			return err
		}
		if pool == nil {
			continue
		}
		e.accruePool(dist, pool)
		if err := e.state.PutPool(e.distributorID, pool); err != nil {
			return err
		}
	}
	return nil
}

// accruePool advances the pool accumulator to the transition timestamp.
// Intervals with zero stake or zero weight advance the clock without
// granting reward; emission for those seconds is permanently forgone.
func (e *Engine) accruePool(dist *Distributor, pool *Pool) {
	now := e.timestamp
	if now <= pool.LastAccrualTime {
		return
	}
	if pool.TotalStaked == nil || pool.TotalStaked.Sign() == 0 ||
		dist.TotalAllocPoints == 0 || pool.AllocPoints == 0 {
		pool.LastAccrualTime = now
		return
	}
	reward := e.poolEmission(dist, pool, pool.LastAccrualTime, now)
	if reward.Sign() > 0 {
		delta := reward.Mul(reward, RewardPrecision)
		delta.Quo(delta, pool.TotalStaked)
		pool.AccRewardPerShare = new(big.Int).Add(pool.AccRewardPerShare, delta)
	}
	pool.LastAccrualTime = now
}

// projectedAccumulator simulates accruePool without touching the stored
// record.
func (e *Engine) projectedAccumulator(dist *Distributor, pool *Pool) *big.Int {
	acc := copyBigInt(pool.AccRewardPerShare)
	now := e.timestamp
	if now <= pool.LastAccrualTime {
		return acc
	}
	if pool.TotalStaked == nil || pool.TotalStaked.Sign() == 0 ||
		dist.TotalAllocPoints == 0 || pool.AllocPoints == 0 {
		return acc
	}
	reward := e.poolEmission(dist, pool, pool.LastAccrualTime, now)
	if reward.Sign() > 0 {
		delta := reward.Mul(reward, RewardPrecision)
		delta.Quo(delta, pool.TotalStaked)
		acc.Add(acc, delta)
	}
	return acc
}

// poolEmission computes this pool's slice of the distributor emission for
// the wall-clock window [from, to).
func (e *Engine) poolEmission(dist *Distributor, pool *Pool, from, to uint64) *big.Int {
	if e.schedule == nil || to <= from || to <= e.startTime {
		return big.NewInt(0)
	}
	startElapsed := uint64(0)
	if from > e.startTime {
		startElapsed = from - e.startTime
	}
	endElapsed := to - e.startTime
	emission := e.schedule.EmissionBetween(startElapsed, endElapsed, e.share)
	if emission.Sign() == 0 {
		return emission
	}
	emission.Mul(emission, new(big.Int).SetUint64(pool.AllocPoints))
	return emission.Quo(emission, new(big.Int).SetUint64(dist.TotalAllocPoints))
}

func pendingFor(pool *Pool, position *Position) *big.Int {
	accrued := new(big.Int).Mul(position.Amount, pool.AccRewardPerShare)
	accrued.Quo(accrued, RewardPrecision)
	pending := accrued.Sub(accrued, position.RewardDebt)
	if pending.Sign() < 0 {
		// A negative settlement indicates corrupted bookkeeping upstream;
		// clamp so the defect cannot mint negative claims.
		return big.NewInt(0)
	}
	return pending
}

func debtFor(pool *Pool, position *Position) *big.Int {
	debt := new(big.Int).Mul(position.Amount, pool.AccRewardPerShare)
	return debt.Quo(debt, RewardPrecision)
}

func (e *Engine) vestReward(account crypto.Address, token crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if e.vester == nil {
		return ErrVesterNotSet
	}
	if err := e.vester.Vest(account, amount); err != nil {
		return err
	}
	attrs := stakeAttributes(token, account, amount.String())
	e.emit(eventRewardVested, attrs)
	return nil
}

func (e *Engine) vestTotal(account crypto.Address, amount *big.Int) error {
	if e.vester == nil {
		return ErrVesterNotSet
	}
	if err := e.vester.Vest(account, amount); err != nil {
		return err
	}
	e.emit(eventRewardVested, map[string]string{
		"account": account.String(),
		"amount":  amount.String(),
	})
	return nil
}
