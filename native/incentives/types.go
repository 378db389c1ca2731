package incentives

import (
	"math/big"

	"emberlend/crypto"
)

// RewardPrecision scales the accumulated-reward-per-share bookkeeping. All
// per-share math multiplies by this factor before dividing so truncation
// always rounds toward zero, favouring slight under-payment.
var RewardPrecision = big.NewInt(1_000_000_000_000)

// Pool tracks the accrual bookkeeping for one staked token inside a
// distributor instance.
type Pool struct {
	// Token identifies the staked deposit token and doubles as the pool id.
	Token crypto.Address
	// AllocPoints weights this pool's slice of the distributor emission.
	AllocPoints uint64
	// TotalStaked is the aggregate amount currently deposited.
	TotalStaked *big.Int
	// LastAccrualTime records the unix second of the last accrual.
	LastAccrualTime uint64
	// AccRewardPerShare is the cumulative reward per staked unit, scaled by
	// RewardPrecision.
	AccRewardPerShare *big.Int
}

// Position maintains one account's stake in a pool.
type Position struct {
	Token   crypto.Address
	Account crypto.Address
	// Amount is the staked balance.
	Amount *big.Int
	// RewardDebt is Amount * AccRewardPerShare / RewardPrecision captured at
	// the last settlement, so only newly accrued reward is owed.
	RewardDebt *big.Int
}

// Clone deep-copies the pool so a pre-transition snapshot survives later
// in-place accrual.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		Token:             p.Token,
		AllocPoints:       p.AllocPoints,
		TotalStaked:       copyBigInt(p.TotalStaked),
		LastAccrualTime:   p.LastAccrualTime,
		AccRewardPerShare: copyBigInt(p.AccRewardPerShare),
	}
}

// Clone deep-copies the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Token:      p.Token,
		Account:    p.Account,
		Amount:     copyBigInt(p.Amount),
		RewardDebt: copyBigInt(p.RewardDebt),
	}
}

// Distributor aggregates the instance-wide registration state shared by all
// pools of one distributor.
type Distributor struct {
	ID               string
	TotalAllocPoints uint64
	// Pools lists registered pool tokens in registration order, encoded as
	// bech32 strings for stable persistence.
	Pools []string
}

// PoolSnapshot is the read-only projection served to display surfaces.
type PoolSnapshot struct {
	Token             crypto.Address `json:"token"`
	AllocPoints       uint64         `json:"allocPoints"`
	TotalStaked       *big.Int       `json:"totalStaked"`
	LastAccrualTime   uint64         `json:"lastAccrualTime"`
	AccRewardPerShare *big.Int       `json:"accRewardPerShare"`
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
