package vesting

import (
	"errors"

	"emberlend/crypto"
)

// Params fixes the vesting policy at construction; none of these values are
// reloadable at runtime.
type Params struct {
	// GovToken is the governance token locked by this ledger.
	GovToken crypto.Address
	// TreasuryAddress funds reward payouts and receives penalty amounts when
	// the deployment redistributes instead of burning.
	TreasuryAddress crypto.Address
	// LockDuration is the cliff, in seconds, applied to governance-token
	// reward lock-ins.
	LockDuration uint64
	// VestDuration is the cliff, in seconds, applied to base-emission
	// tranches.
	VestDuration uint64
	// PenaltyBps is the early-exit penalty as basis points of the amount
	// withdrawn before maturity.
	PenaltyBps uint64
	// PenaltySink receives charged penalties. The zero address burns them.
	PenaltySink crypto.Address
}

const penaltyBpsDenominator = 10_000

// Validate ensures the parameters fall within acceptable bounds.
func (p Params) Validate() error {
	if p.GovToken.IsZero() {
		return errors.New("vesting: governance token required")
	}
	if p.LockDuration == 0 {
		return errors.New("vesting: lock duration must be positive")
	}
	if p.VestDuration == 0 {
		return errors.New("vesting: vest duration must be positive")
	}
	if p.PenaltyBps > penaltyBpsDenominator {
		return errors.New("vesting: penalty cannot exceed 100%")
	}
	return nil
}
