package storage

import (
	"errors"
	"fmt"
	"math/big"

	"emberlend/crypto"
)

// ErrInsufficientFunds indicates the vault's funding account cannot cover a
// requested transfer.
var ErrInsufficientFunds = errors.New("storage: insufficient vault funds")

// TokenVault moves tokens out of a single funding account into recipient
// wallets. The vesting ledger and reward payouts use it as their token
// collaborator.
type TokenVault struct {
	state   *State
	funding crypto.Address
}

// NewTokenVault binds the vault to its funding account.
func NewTokenVault(state *State, funding crypto.Address) *TokenVault {
	return &TokenVault{state: state, funding: funding}
}

// Credit mints amount of token into the account. Used for genesis funding
// and deposits coming in from outside the ledger.
func (v *TokenVault) Credit(token, to crypto.Address, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("storage: vault not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("storage: credit amount must be positive")
	}
	account, err := v.state.GetAccount(to)
	if err != nil {
		return err
	}
	account.SetBalance(token.String(), new(big.Int).Add(account.Balance(token.String()), amount))
	return v.state.PutAccount(to, account)
}

// Fund credits incoming fee or seed income to the funding account so later
// payouts can draw on it.
func (v *TokenVault) Fund(token crypto.Address, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("storage: vault not initialised")
	}
	return v.Credit(token, v.funding, amount)
}

// Transfer moves amount of token from the funding account to the recipient.
func (v *TokenVault) Transfer(token, to crypto.Address, amount *big.Int) error {
	if v == nil || v.state == nil {
		return fmt.Errorf("storage: vault not initialised")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("storage: transfer amount must be positive")
	}
	source, err := v.state.GetAccount(v.funding)
	if err != nil {
		return err
	}
	key := token.String()
	balance := source.Balance(key)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s", ErrInsufficientFunds, key)
	}
	source.SetBalance(key, new(big.Int).Sub(balance, amount))
	if err := v.state.PutAccount(v.funding, source); err != nil {
		return err
	}
	recipient, err := v.state.GetAccount(to)
	if err != nil {
		return err
	}
	recipient.SetBalance(key, new(big.Int).Add(recipient.Balance(key), amount))
	return v.state.PutAccount(to, recipient)
}

// BalanceOf reads the account's balance of the token.
func (v *TokenVault) BalanceOf(token, account crypto.Address) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, fmt.Errorf("storage: vault not initialised")
	}
	stored, err := v.state.GetAccount(account)
	if err != nil {
		return nil, err
	}
	return stored.Balance(token.String()), nil
}
