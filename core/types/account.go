package types

import "math/big"

// Account holds the ledger-side record for a single address. CodeHash is
// non-empty only for contract accounts; the launch guards use it to tell
// externally-owned accounts apart from contracts.
type Account struct {
	Nonce    uint64   `json:"nonce"`
	Balance  *big.Int `json:"balance"`
	CodeHash []byte   `json:"codeHash,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result without touching
// the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	clone := &Account{Nonce: a.Nonce, Balance: big.NewInt(0)}
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	if len(a.CodeHash) > 0 {
		clone.CodeHash = append([]byte(nil), a.CodeHash...)
	}
	return clone
}

// IsContract reports whether the account carries deployed code.
func (a *Account) IsContract() bool {
	return a != nil && len(a.CodeHash) > 0
}
