package events

import (
	"encoding/hex"
	"math/big"
	"strings"

	"kestrel/core/types"
)

const (
	TypeSaleContribution = "sale.contribution"
	TypeSaleFinalized    = "sale.finalized"
	TypeSaleClaimed      = "sale.claimed"
)

type SaleContribution struct {
	Buyer   [20]byte
	Amount  *big.Int
	Receipt [32]byte
}

func (SaleContribution) EventType() string { return TypeSaleContribution }

func (e SaleContribution) Event() *types.Event {
	return &types.Event{Type: TypeSaleContribution, Attributes: map[string]string{
		"buyer":   formatAddress(e.Buyer),
		"amount":  formatAmount(e.Amount),
		"receipt": "0x" + strings.ToLower(hex.EncodeToString(e.Receipt[:])),
	}}
}

type SaleFinalized struct {
	Raised   *big.Int
	Accepted *big.Int
}

func (SaleFinalized) EventType() string { return TypeSaleFinalized }

func (e SaleFinalized) Event() *types.Event {
	return &types.Event{Type: TypeSaleFinalized, Attributes: map[string]string{
		"raised":   formatAmount(e.Raised),
		"accepted": formatAmount(e.Accepted),
	}}
}

type SaleClaimed struct {
	Buyer  [20]byte
	Tokens *big.Int
	Refund *big.Int
}

func (SaleClaimed) EventType() string { return TypeSaleClaimed }

func (e SaleClaimed) Event() *types.Event {
	attrs := map[string]string{
		"buyer":  formatAddress(e.Buyer),
		"tokens": formatAmount(e.Tokens),
	}
	if e.Refund != nil && e.Refund.Sign() > 0 {
		attrs["refund"] = formatAmount(e.Refund)
	}
	return &types.Event{Type: TypeSaleClaimed, Attributes: attrs}
}
