package events

import (
	"math/big"
	"strconv"

	"kestrel/core/types"
)

const (
	TypeVestingCreated   = "vesting.created"
	TypeVestingIncreased = "vesting.increased"
	TypeVestingMerged    = "vesting.merged"
	TypeVestingReleased  = "vesting.released"
	TypeVestingRevoked   = "vesting.revoked"
)

type VestingCreated struct {
	Beneficiary [20]byte
	Total       *big.Int
	Start       uint64
	Cliff       uint64
	Duration    uint64
	Revocable   bool
	Role        string
}

func (VestingCreated) EventType() string { return TypeVestingCreated }

func (e VestingCreated) Event() *types.Event {
	return &types.Event{Type: TypeVestingCreated, Attributes: map[string]string{
		"beneficiary": formatAddress(e.Beneficiary),
		"total":       formatAmount(e.Total),
		"start":       strconv.FormatUint(e.Start, 10),
		"cliff":       strconv.FormatUint(e.Cliff, 10),
		"duration":    strconv.FormatUint(e.Duration, 10),
		"revocable":   strconv.FormatBool(e.Revocable),
		"role":        e.Role,
	}}
}

type VestingIncreased struct {
	Beneficiary [20]byte
	Added       *big.Int
	Total       *big.Int
}

func (VestingIncreased) EventType() string { return TypeVestingIncreased }

func (e VestingIncreased) Event() *types.Event {
	return &types.Event{Type: TypeVestingIncreased, Attributes: map[string]string{
		"beneficiary": formatAddress(e.Beneficiary),
		"added":       formatAmount(e.Added),
		"total":       formatAmount(e.Total),
	}}
}

type VestingMerged struct {
	Beneficiary [20]byte
	Cliff       uint64
	Duration    uint64
	Total       *big.Int
}

func (VestingMerged) EventType() string { return TypeVestingMerged }

func (e VestingMerged) Event() *types.Event {
	return &types.Event{Type: TypeVestingMerged, Attributes: map[string]string{
		"beneficiary": formatAddress(e.Beneficiary),
		"cliff":       strconv.FormatUint(e.Cliff, 10),
		"duration":    strconv.FormatUint(e.Duration, 10),
		"total":       formatAmount(e.Total),
	}}
}

type VestingReleased struct {
	Beneficiary [20]byte
	Amount      *big.Int
	Released    *big.Int
}

func (VestingReleased) EventType() string { return TypeVestingReleased }

func (e VestingReleased) Event() *types.Event {
	return &types.Event{Type: TypeVestingReleased, Attributes: map[string]string{
		"beneficiary": formatAddress(e.Beneficiary),
		"amount":      formatAmount(e.Amount),
		"released":    formatAmount(e.Released),
	}}
}

type VestingRevoked struct {
	Beneficiary [20]byte
	PaidOut     *big.Int
	Returned    *big.Int
}

func (VestingRevoked) EventType() string { return TypeVestingRevoked }

func (e VestingRevoked) Event() *types.Event {
	return &types.Event{Type: TypeVestingRevoked, Attributes: map[string]string{
		"beneficiary": formatAddress(e.Beneficiary),
		"paidOut":     formatAmount(e.PaidOut),
		"returned":    formatAmount(e.Returned),
	}}
}
