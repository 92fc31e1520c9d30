package types

import "github.com/holiman/uint256"

// Account is the balance record kept for every address that has received
// value from the escrow vault.
type Account struct {
	Balance *uint256.Int `json:"balance"`
	// Received counts the inbound transfers credited to the account.
	Received uint64 `json:"received"`
}

// EnsureAccount returns acc with non-nil amount fields, allocating an empty
// account when acc is nil.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: new(uint256.Int)}
	}
	if acc.Balance == nil {
		acc.Balance = new(uint256.Int)
	}
	return acc
}
