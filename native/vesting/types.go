package vesting

import (
	"math/big"

	"emberlend/crypto"
)

// RewardPrecision scales the fee-sharing reward-per-token accumulator.
var RewardPrecision = big.NewInt(1_000_000_000_000)

// LockedBalance is one vesting tranche: an amount and the unix second it
// matures.
type LockedBalance struct {
	Amount     *big.Int `json:"amount"`
	UnlockTime uint64   `json:"unlockTime"`
}

// VestingAccount tracks the locked, earned and unlocked governance-token
// balances for one participant, plus the per-token fee-sharing settlement
// state. Tranche slices are time-ordered oldest first; maturity sweeps are
// prefix scans.
type VestingAccount struct {
	Address crypto.Address `json:"address"`
	// Locked tranches come from governance-token reward lock-ins and are
	// subject to the early-exit penalty.
	Locked []LockedBalance `json:"locked"`
	// Earned tranches come from base-emission claims and vest penalty-free
	// on their own duration.
	Earned []LockedBalance `json:"earned"`
	// Unlocked is the matured balance available for penalty-free withdrawal.
	Unlocked *big.Int `json:"unlocked"`
	// RewardPaid holds the reward-per-token value last settled against, per
	// reward token (bech32 key).
	RewardPaid map[string]*big.Int `json:"rewardPaid"`
	// Rewards holds settled but unclaimed reward amounts per reward token.
	Rewards map[string]*big.Int `json:"rewards"`
}

// TotalBalance is Unlocked plus every outstanding tranche. The ledger keeps
// this identity intact after every mutation.
func (a *VestingAccount) TotalBalance() *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	total := copyBigInt(a.Unlocked)
	for _, entry := range a.Locked {
		total.Add(total, entry.Amount)
	}
	for _, entry := range a.Earned {
		total.Add(total, entry.Amount)
	}
	return total
}

// Clone deep-copies the account so a pre-transition snapshot survives later
// in-place mutation.
func (a *VestingAccount) Clone() *VestingAccount {
	if a == nil {
		return nil
	}
	return &VestingAccount{
		Address:    a.Address,
		Locked:     cloneTranches(a.Locked),
		Earned:     cloneTranches(a.Earned),
		Unlocked:   copyBigInt(a.Unlocked),
		RewardPaid: cloneBigMap(a.RewardPaid),
		Rewards:    cloneBigMap(a.Rewards),
	}
}

func cloneTranches(entries []LockedBalance) []LockedBalance {
	if len(entries) == 0 {
		return nil
	}
	out := make([]LockedBalance, len(entries))
	for i, entry := range entries {
		out[i] = LockedBalance{Amount: copyBigInt(entry.Amount), UnlockTime: entry.UnlockTime}
	}
	return out
}

func cloneBigMap(values map[string]*big.Int) map[string]*big.Int {
	if values == nil {
		return nil
	}
	out := make(map[string]*big.Int, len(values))
	for key, value := range values {
		out[key] = copyBigInt(value)
	}
	return out
}

// RewardTokenEntry tracks the fee-sharing accumulator for one distributable
// reward token.
type RewardTokenEntry struct {
	Token                crypto.Address `json:"token"`
	RewardPerTokenStored *big.Int       `json:"rewardPerTokenStored"`
	LastUpdateTime       uint64         `json:"lastUpdateTime"`
}

// Totals carries the ledger-wide aggregates that apportion fee-sharing
// rewards.
type Totals struct {
	// TotalBalance sums every account's locked, earned and unlocked
	// governance tokens.
	TotalBalance *big.Int `json:"totalBalance"`
}

// Clone copies the aggregates for a pre-transition snapshot.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return nil
	}
	return &Totals{TotalBalance: copyBigInt(t.TotalBalance)}
}

// BalanceBreakdown is the pure projection returned by LockedBalances and
// EarnedBalances.
type BalanceBreakdown struct {
	Total      *big.Int        `json:"total"`
	Unlockable *big.Int        `json:"unlockable"`
	Locked     *big.Int        `json:"locked"`
	Entries    []LockedBalance `json:"entries"`
}

// WithdrawableBreakdown reports what an immediate full exit would pay.
// PenaltyAmount is zero once every tranche has matured.
type WithdrawableBreakdown struct {
	Amount        *big.Int `json:"amount"`
	PenaltyAmount *big.Int `json:"penaltyAmount"`
}

// ClaimableReward pairs a reward token with the amount an account could
// claim now.
type ClaimableReward struct {
	Token  crypto.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
