package vesting

import (
	"fmt"
	"math/big"

	"emberlend/core/types"
	"emberlend/crypto"
)

// State describes the persistence the vesting ledger needs from the
// surrounding store.
type State interface {
	GetVestingAccount(addr crypto.Address) (*VestingAccount, error)
	PutVestingAccount(account *VestingAccount) error
	GetRewardToken(token crypto.Address) (*RewardTokenEntry, error)
	PutRewardToken(entry *RewardTokenEntry) error
	RewardTokens() ([]crypto.Address, error)
	GetVestingTotals() (*Totals, error)
	PutVestingTotals(totals *Totals) error
	AppendEvent(evt *types.Event)
}

// TokenTransfer is the narrow external collaborator that moves tokens out of
// the ledger treasury. Implementations may fail or re-enter; the ledger
// always finalizes its own bookkeeping before calling it and reinstates the
// pre-transition records when the call fails.
type TokenTransfer interface {
	Transfer(token, to crypto.Address, amount *big.Int) error
	BalanceOf(token, account crypto.Address) (*big.Int, error)
}

// Ledger tracks locked and earned governance-token tranches per account,
// charges the early-exit penalty, and apportions multi-token fee-sharing
// rewards across all vesting balances.
type Ledger struct {
	state     State
	transfer  TokenTransfer
	params    Params
	timestamp uint64
}

// NewLedger constructs a vesting ledger with the fixed deployment policy.
func NewLedger(params Params) *Ledger {
	return &Ledger{params: params}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state State) { l.state = state }

// SetTransfer wires the token collaborator used for payouts.
func (l *Ledger) SetTransfer(t TokenTransfer) {
	if l == nil {
		return
	}
	l.transfer = t
}

// SetTimestamp records the transition timestamp used for maturity checks.
func (l *Ledger) SetTimestamp(ts uint64) {
	if l == nil {
		return
	}
	l.timestamp = ts
}

// Params returns the fixed deployment policy.
func (l *Ledger) Params() Params {
	if l == nil {
		return Params{}
	}
	return l.params
}

// Lock appends a governance-token reward lock-in tranche subject to the
// early-exit penalty.
func (l *Ledger) Lock(addr crypto.Address, amount *big.Int) error {
	return l.appendTranche(addr, amount, true)
}

// Vest appends a base-emission tranche vesting penalty-free on its own
// duration. This is the settlement target for both distributor instances.
func (l *Ledger) Vest(addr crypto.Address, amount *big.Int) error {
	return l.appendTranche(addr, amount, false)
}

func (l *Ledger) appendTranche(addr crypto.Address, amount *big.Int, locked bool) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	account, err := l.ensureAccount(addr)
	if err != nil {
		return err
	}
	if err := l.settleRewards(account); err != nil {
		return err
	}
	l.sweep(account)

	duration := l.params.VestDuration
	if locked {
		duration = l.params.LockDuration
	}
	entry := LockedBalance{Amount: new(big.Int).Set(amount), UnlockTime: l.timestamp + duration}
	if locked {
		account.Locked = append(account.Locked, entry)
	} else {
		account.Earned = append(account.Earned, entry)
	}

	totals, err := l.ensureTotals()
	if err != nil {
		return err
	}
	totals.TotalBalance = new(big.Int).Add(totals.TotalBalance, amount)

	if err := l.state.PutVestingAccount(account); err != nil {
		return err
	}
	if err := l.state.PutVestingTotals(totals); err != nil {
		return err
	}
	eventType := eventVested
	if locked {
		eventType = eventLocked
	}
	l.emit(eventType, trancheAttributes(addr, amount.String(), entry.UnlockTime))
	return nil
}

// Withdraw pays out up to amount of the account's governance tokens. Matured
// balance is paid penalty-free; when allowEarly is set, still-locked reward
// tranches are consumed oldest first with the configured penalty charged and
// routed to the penalty sink.
func (l *Ledger) Withdraw(addr crypto.Address, amount *big.Int, allowEarly bool) (*big.Int, *big.Int, error) {
	if l == nil || l.state == nil {
		return nil, nil, ErrNilState
	}
	if l.transfer == nil {
		return nil, nil, ErrTransferNotSet
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	account, err := l.ensureAccount(addr)
	if err != nil {
		return nil, nil, err
	}
	snapshot := account.Clone()
	if err := l.settleRewards(account); err != nil {
		return nil, nil, err
	}
	l.sweep(account)

	remaining := new(big.Int).Set(amount)
	payout := big.NewInt(0)
	penalty := big.NewInt(0)
	consumed := big.NewInt(0)

	fromUnlocked := new(big.Int).Set(account.Unlocked)
	if fromUnlocked.Cmp(remaining) > 0 {
		fromUnlocked.Set(remaining)
	}
	if fromUnlocked.Sign() > 0 {
		account.Unlocked = new(big.Int).Sub(account.Unlocked, fromUnlocked)
		payout.Add(payout, fromUnlocked)
		consumed.Add(consumed, fromUnlocked)
		remaining.Sub(remaining, fromUnlocked)
	}

	if remaining.Sign() > 0 {
		if !allowEarly {
			stillLocked := big.NewInt(0)
			for _, entry := range account.Locked {
				stillLocked.Add(stillLocked, entry.Amount)
			}
			if stillLocked.Cmp(remaining) >= 0 {
				return nil, nil, ErrEarlyExitDisallowed
			}
			return nil, nil, ErrInsufficientBalance
		}
		kept := account.Locked[:0]
		for i, entry := range account.Locked {
			if remaining.Sign() == 0 {
				kept = append(kept, account.Locked[i:]...)
				break
			}
			take := new(big.Int).Set(entry.Amount)
			if take.Cmp(remaining) > 0 {
				take.Set(remaining)
			}
			entryPenalty := new(big.Int).Mul(take, new(big.Int).SetUint64(l.params.PenaltyBps))
			entryPenalty.Quo(entryPenalty, big.NewInt(penaltyBpsDenominator))
			payout.Add(payout, new(big.Int).Sub(take, entryPenalty))
			penalty.Add(penalty, entryPenalty)
			consumed.Add(consumed, take)
			remaining.Sub(remaining, take)
			leftover := new(big.Int).Sub(entry.Amount, take)
			if leftover.Sign() > 0 {
				kept = append(kept, LockedBalance{Amount: leftover, UnlockTime: entry.UnlockTime})
			}
		}
		account.Locked = kept
		if remaining.Sign() > 0 {
			return nil, nil, ErrInsufficientBalance
		}
	}

	totals, err := l.ensureTotals()
	if err != nil {
		return nil, nil, err
	}
	totalsSnapshot := totals.Clone()
	totals.TotalBalance = new(big.Int).Sub(totals.TotalBalance, consumed)

	if err := l.state.PutVestingAccount(account); err != nil {
		return nil, nil, err
	}
	if err := l.state.PutVestingTotals(totals); err != nil {
		return nil, nil, err
	}

	// Bookkeeping is persisted before the external token collaborator runs.
	// A failed transfer reinstates the pre-transition records so the account
	// keeps its balance and the withdrawal can be retried.
	if payout.Sign() > 0 {
		if err := l.transfer.Transfer(l.params.GovToken, addr, payout); err != nil {
			if restoreErr := l.restore(snapshot, totalsSnapshot); restoreErr != nil {
				return nil, nil, restoreErr
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrRewardTransferFailed, err)
		}
	}
	if penalty.Sign() > 0 {
		if err := l.transfer.Transfer(l.params.GovToken, l.params.PenaltySink, penalty); err != nil {
			if restoreErr := l.restore(snapshot, totalsSnapshot); restoreErr != nil {
				return nil, nil, restoreErr
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrRewardTransferFailed, err)
		}
	}

	attrs := trancheAttributes(addr, payout.String(), l.timestamp)
	attrs["penalty"] = penalty.String()
	l.emit(eventWithdrawn, attrs)
	return payout, penalty, nil
}

// WithdrawableBalance reports what an immediate full exit would pay right
// now: unlocked plus matured tranches penalty-free, still-locked reward
// tranches discounted by the penalty. Pure projection.
func (l *Ledger) WithdrawableBalance(addr crypto.Address) (*WithdrawableBreakdown, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	account, err := l.ensureAccount(addr)
	if err != nil {
		return nil, err
	}
	amount := copyBigInt(account.Unlocked)
	penalty := big.NewInt(0)
	for _, entry := range account.Locked {
		if entry.UnlockTime <= l.timestamp {
			amount.Add(amount, entry.Amount)
			continue
		}
		entryPenalty := new(big.Int).Mul(entry.Amount, new(big.Int).SetUint64(l.params.PenaltyBps))
		entryPenalty.Quo(entryPenalty, big.NewInt(penaltyBpsDenominator))
		amount.Add(amount, new(big.Int).Sub(entry.Amount, entryPenalty))
		penalty.Add(penalty, entryPenalty)
	}
	for _, entry := range account.Earned {
		if entry.UnlockTime <= l.timestamp {
			amount.Add(amount, entry.Amount)
		}
	}
	return &WithdrawableBreakdown{Amount: amount, PenaltyAmount: penalty}, nil
}

// LockedBalances is the pure projection of the reward lock-in tranches.
func (l *Ledger) LockedBalances(addr crypto.Address) (*BalanceBreakdown, error) {
	return l.breakdown(addr, true)
}

// EarnedBalances is the pure projection of the base-emission tranches.
func (l *Ledger) EarnedBalances(addr crypto.Address) (*BalanceBreakdown, error) {
	return l.breakdown(addr, false)
}

func (l *Ledger) breakdown(addr crypto.Address, locked bool) (*BalanceBreakdown, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	account, err := l.ensureAccount(addr)
	if err != nil {
		return nil, err
	}
	entries := account.Earned
	if locked {
		entries = account.Locked
	}
	out := &BalanceBreakdown{
		Total:      big.NewInt(0),
		Unlockable: big.NewInt(0),
		Locked:     big.NewInt(0),
		Entries:    make([]LockedBalance, 0, len(entries)),
	}
	for _, entry := range entries {
		out.Total.Add(out.Total, entry.Amount)
		if entry.UnlockTime <= l.timestamp {
			out.Unlockable.Add(out.Unlockable, entry.Amount)
		} else {
			out.Locked.Add(out.Locked, entry.Amount)
		}
		out.Entries = append(out.Entries, LockedBalance{
			Amount:     copyBigInt(entry.Amount),
			UnlockTime: entry.UnlockTime,
		})
	}
	return out, nil
}

// TotalBalance reports the account's full governance-token balance inside
// the ledger.
func (l *Ledger) TotalBalance(addr crypto.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	account, err := l.ensureAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.TotalBalance(), nil
}

// --- fee-sharing side ---

// RegisterRewardToken adds a distributable reward token. The set is fixed
// and small; registration order is preserved for claim iteration.
func (l *Ledger) RegisterRewardToken(token crypto.Address) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	existing, err := l.state.GetRewardToken(token)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDuplicateRewardToken
	}
	entry := &RewardTokenEntry{
		Token:                token,
		RewardPerTokenStored: big.NewInt(0),
		LastUpdateTime:       l.timestamp,
	}
	return l.state.PutRewardToken(entry)
}

// NotifyReward distributes amount of the reward token across all vesting
// balances by advancing the per-token accumulator. Rewards notified while
// nothing is vesting are forgone.
func (l *Ledger) NotifyReward(token crypto.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	entry, err := l.state.GetRewardToken(token)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrTokenNotRegistered
	}
	totals, err := l.ensureTotals()
	if err != nil {
		return err
	}
	if totals.TotalBalance.Sign() > 0 {
		delta := new(big.Int).Mul(amount, RewardPrecision)
		delta.Quo(delta, totals.TotalBalance)
		entry.RewardPerTokenStored = new(big.Int).Add(entry.RewardPerTokenStored, delta)
	}
	entry.LastUpdateTime = l.timestamp
	if err := l.state.PutRewardToken(entry); err != nil {
		return err
	}
	l.emit(eventRewardNotified, map[string]string{
		"token":  token.String(),
		"amount": amount.String(),
	})
	return nil
}

// ClaimableRewards returns the amount of every registered reward token the
// account could claim now. Pure projection.
func (l *Ledger) ClaimableRewards(addr crypto.Address) ([]ClaimableReward, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	account, err := l.ensureAccount(addr)
	if err != nil {
		return nil, err
	}
	tokens, err := l.state.RewardTokens()
	if err != nil {
		return nil, err
	}
	out := make([]ClaimableReward, 0, len(tokens))
	for _, token := range tokens {
		entry, err := l.state.GetRewardToken(token)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		out = append(out, ClaimableReward{
			Token:  token,
			Amount: l.claimableFor(account, entry),
		})
	}
	return out, nil
}

// GetReward settles and pays out the listed reward tokens. Claimed
// governance-token rewards are not transferred out; they are locked into a
// new reward tranche. A failing transfer aborts the whole claim with
// ErrRewardTransferFailed and reinstates the pre-claim records, so the
// rewards stay claimable; no partial claim state survives the transition.
func (l *Ledger) GetReward(addr crypto.Address, tokens []crypto.Address) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if l.transfer == nil {
		return ErrTransferNotSet
	}
	account, err := l.ensureAccount(addr)
	if err != nil {
		return err
	}
	snapshot := account.Clone()
	totals, err := l.ensureTotals()
	if err != nil {
		return err
	}
	totalsSnapshot := totals.Clone()
	if err := l.settleRewards(account); err != nil {
		return err
	}

	type payout struct {
		token  crypto.Address
		amount *big.Int
	}
	payouts := make([]payout, 0, len(tokens))
	var lockIn *big.Int
	for _, token := range tokens {
		entry, err := l.state.GetRewardToken(token)
		if err != nil {
			return err
		}
		if entry == nil {
			return ErrTokenNotRegistered
		}
		key := token.String()
		owed := copyBigInt(account.Rewards[key])
		if owed.Sign() == 0 {
			continue
		}
		account.Rewards[key] = big.NewInt(0)
		if token.Equal(l.params.GovToken) {
			lockIn = owed
			continue
		}
		payouts = append(payouts, payout{token: token, amount: owed})
	}

	if err := l.state.PutVestingAccount(account); err != nil {
		return err
	}
	if lockIn != nil {
		if err := l.Lock(addr, lockIn); err != nil {
			return err
		}
	}

	// Bookkeeping is persisted before the external transfers run. A failure
	// on any token aborts the claim as a whole: the pre-claim records come
	// back and every settled reward stays claimable.
	for _, p := range payouts {
		if err := l.transfer.Transfer(p.token, addr, p.amount); err != nil {
			if restoreErr := l.restore(snapshot, totalsSnapshot); restoreErr != nil {
				return restoreErr
			}
			return fmt.Errorf("%w: token %s: %v", ErrRewardTransferFailed, p.token.String(), err)
		}
	}
	for _, p := range payouts {
		l.emit(eventRewardClaimed, map[string]string{
			"account": addr.String(),
			"token":   p.token.String(),
			"amount":  p.amount.String(),
		})
	}
	return nil
}

// restore reinstates the pre-transition account and totals records after a
// failed external transfer.
func (l *Ledger) restore(account *VestingAccount, totals *Totals) error {
	if err := l.state.PutVestingAccount(account); err != nil {
		return err
	}
	return l.state.PutVestingTotals(totals)
}

// --- internals ---

func (l *Ledger) ensureAccount(addr crypto.Address) (*VestingAccount, error) {
	account, err := l.state.GetVestingAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &VestingAccount{Address: addr}
	}
	if account.Unlocked == nil {
		account.Unlocked = big.NewInt(0)
	}
	if account.RewardPaid == nil {
		account.RewardPaid = make(map[string]*big.Int)
	}
	if account.Rewards == nil {
		account.Rewards = make(map[string]*big.Int)
	}
	return account, nil
}

func (l *Ledger) ensureTotals() (*Totals, error) {
	totals, err := l.state.GetVestingTotals()
	if err != nil {
		return nil, err
	}
	if totals == nil {
		totals = &Totals{}
	}
	if totals.TotalBalance == nil {
		totals.TotalBalance = big.NewInt(0)
	}
	return totals, nil
}

// sweep moves matured tranches into the unlocked balance. Tranche lists are
// time-ordered so the scan stops at the first immature entry. Sweeping twice
// in a row is a no-op.
func (l *Ledger) sweep(account *VestingAccount) {
	account.Locked = l.sweepList(account, account.Locked)
	account.Earned = l.sweepList(account, account.Earned)
}

func (l *Ledger) sweepList(account *VestingAccount, entries []LockedBalance) []LockedBalance {
	idx := 0
	for idx < len(entries) && entries[idx].UnlockTime <= l.timestamp {
		account.Unlocked = new(big.Int).Add(account.Unlocked, entries[idx].Amount)
		idx++
	}
	if idx == 0 {
		return entries
	}
	return append([]LockedBalance(nil), entries[idx:]...)
}

// settleRewards folds the accumulated fee-sharing rewards into the
// account's stored reward balances before its vesting balance changes.
func (l *Ledger) settleRewards(account *VestingAccount) error {
	tokens, err := l.state.RewardTokens()
	if err != nil {
		return err
	}
	for _, token := range tokens {
		entry, err := l.state.GetRewardToken(token)
		if err != nil {
			return err
		}
		if entry == nil {
			continue
		}
		key := token.String()
		account.Rewards[key] = l.claimableFor(account, entry)
		account.RewardPaid[key] = copyBigInt(entry.RewardPerTokenStored)
	}
	return nil
}

func (l *Ledger) claimableFor(account *VestingAccount, entry *RewardTokenEntry) *big.Int {
	key := entry.Token.String()
	paid := copyBigInt(account.RewardPaid[key])
	stored := copyBigInt(account.Rewards[key])
	delta := new(big.Int).Sub(entry.RewardPerTokenStored, paid)
	if delta.Sign() <= 0 {
		return stored
	}
	owed := delta.Mul(delta, account.TotalBalance())
	owed.Quo(owed, RewardPrecision)
	return stored.Add(stored, owed)
}
