package rewards

import (
	"math/big"

	"emberlend/crypto"
	"emberlend/native/incentives"
	"emberlend/native/vesting"
)

// BalanceSource exposes wallet balances for display. The vesting ledger's
// token collaborator satisfies it.
type BalanceSource interface {
	BalanceOf(token, account crypto.Address) (*big.Int, error)
}

// PoolStanding is one account's view of a single pool.
type PoolStanding struct {
	Token   crypto.Address
	Staked  *big.Int
	Pending *big.Int
}

// DistributorStanding groups the account's pool standings for one
// distributor instance.
type DistributorStanding struct {
	ID    string
	Pools []PoolStanding
}

// WalletBalance is one token balance held directly in the account's wallet.
type WalletBalance struct {
	Token  crypto.Address
	Amount *big.Int
}

// UserIncentive is the combined account snapshot served to the display
// layer. Every field is computed from pure projections; reading it never
// advances any ledger.
type UserIncentive struct {
	Account      crypto.Address
	Distributors []DistributorStanding
	TotalPending *big.Int
	Locked       *vesting.BalanceBreakdown
	Earned       *vesting.BalanceBreakdown
	Withdrawable *vesting.WithdrawableBreakdown
	Claimable    []vesting.ClaimableReward
	TotalVesting *big.Int
	Wallet       []WalletBalance
}

// Provider composes the two distributor instances, the vesting ledger, and
// wallet balances into per-account snapshots.
type Provider struct {
	engines  []*incentives.Engine
	ledger   *vesting.Ledger
	balances BalanceSource
	watched  []crypto.Address
}

// NewProvider constructs a read-only aggregator. watched lists the wallet
// tokens reported alongside the ledger views.
func NewProvider(engines []*incentives.Engine, ledger *vesting.Ledger, balances BalanceSource, watched []crypto.Address) *Provider {
	return &Provider{
		engines:  engines,
		ledger:   ledger,
		balances: balances,
		watched:  append([]crypto.Address(nil), watched...),
	}
}

// UserIncentive assembles the full account snapshot. Staleness in the
// underlying ledgers is visible to the caller; the provider never accrues,
// sweeps, or settles on their behalf.
func (p *Provider) UserIncentive(account crypto.Address) (*UserIncentive, error) {
	if p == nil {
		return nil, incentives.ErrNilState
	}
	out := &UserIncentive{
		Account:      account,
		TotalPending: big.NewInt(0),
	}
	for _, engine := range p.engines {
		standing, err := p.distributorStanding(engine, account)
		if err != nil {
			return nil, err
		}
		for _, pool := range standing.Pools {
			out.TotalPending.Add(out.TotalPending, pool.Pending)
		}
		out.Distributors = append(out.Distributors, standing)
	}
	if p.ledger != nil {
		locked, err := p.ledger.LockedBalances(account)
		if err != nil {
			return nil, err
		}
		earned, err := p.ledger.EarnedBalances(account)
		if err != nil {
			return nil, err
		}
		withdrawable, err := p.ledger.WithdrawableBalance(account)
		if err != nil {
			return nil, err
		}
		claimable, err := p.ledger.ClaimableRewards(account)
		if err != nil {
			return nil, err
		}
		total, err := p.ledger.TotalBalance(account)
		if err != nil {
			return nil, err
		}
		out.Locked = locked
		out.Earned = earned
		out.Withdrawable = withdrawable
		out.Claimable = claimable
		out.TotalVesting = total
	}
	if p.balances != nil {
		for _, token := range p.watched {
			amount, err := p.balances.BalanceOf(token, account)
			if err != nil {
				return nil, err
			}
			out.Wallet = append(out.Wallet, WalletBalance{Token: token, Amount: amount})
		}
	}
	return out, nil
}

func (p *Provider) distributorStanding(engine *incentives.Engine, account crypto.Address) (DistributorStanding, error) {
	standing := DistributorStanding{ID: engine.DistributorID()}
	tokens, err := engine.Pools()
	if err != nil {
		return DistributorStanding{}, err
	}
	for _, token := range tokens {
		position, err := engine.Position(token, account)
		if err != nil {
			return DistributorStanding{}, err
		}
		pending, err := engine.PendingReward(token, account)
		if err != nil {
			return DistributorStanding{}, err
		}
		standing.Pools = append(standing.Pools, PoolStanding{
			Token:   token,
			Staked:  position.Amount,
			Pending: pending,
		})
	}
	return standing, nil
}
