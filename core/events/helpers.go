package events

import (
	"math/big"

	"kestrel/crypto"
)

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(addr).String()
}
