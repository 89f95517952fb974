package events

import (
	"math/big"

	"kestrel/core/types"
)

const (
	// TypeTransfer is emitted for every committed KST balance movement.
	TypeTransfer = "transfer.native"
	// TypeFeeCollected is emitted when a launch fee is routed to the sink.
	TypeFeeCollected = "transfer.fee"
)

type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
	Net    *big.Int
	Fee    *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   formatAddress(e.From),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
		"net":    formatAmount(e.Net),
	}
	if e.Fee != nil && e.Fee.Sign() > 0 {
		attrs["fee"] = formatAmount(e.Fee)
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type FeeCollected struct {
	Payer  [20]byte
	Sink   [20]byte
	Amount *big.Int
}

func (FeeCollected) EventType() string { return TypeFeeCollected }

func (e FeeCollected) Event() *types.Event {
	return &types.Event{Type: TypeFeeCollected, Attributes: map[string]string{
		"payer":  formatAddress(e.Payer),
		"sink":   formatAddress(e.Sink),
		"amount": formatAmount(e.Amount),
	}}
}
