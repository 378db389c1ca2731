package types

import "math/big"

// Account tracks the token balances a participant holds outside the incentive
// ledgers. Balances are keyed by bech32 token address and denominated in wei
// as big integers to match on-chain precision.
type Account struct {
	Nonce    uint64              `json:"nonce"`
	Balances map[string]*big.Int `json:"balances"`
}

// Balance returns the balance held for the given token, treating missing
// entries as zero.
func (a *Account) Balance(token string) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Balances[token]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetBalance stores the balance for the given token, initialising the map on
// first use.
func (a *Account) SetBalance(token string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Balances[token] = amount
}
