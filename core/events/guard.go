package events

import (
	"strconv"

	"kestrel/core/types"
)

const (
	// TypeTradingEnabled is emitted once when the trading gate opens.
	TypeTradingEnabled = "guard.trading_enabled"
	// TypeCategoryLocked is emitted when a configuration category is
	// permanently locked.
	TypeCategoryLocked = "guard.category_locked"
	// TypeGuardsSunset is emitted when the sunset timestamp is configured.
	TypeGuardsSunset = "guard.sunset_scheduled"
)

type TradingEnabled struct {
	At      int64
	Ordinal uint64
}

func (TradingEnabled) EventType() string { return TypeTradingEnabled }

func (e TradingEnabled) Event() *types.Event {
	return &types.Event{Type: TypeTradingEnabled, Attributes: map[string]string{
		"at":      strconv.FormatInt(e.At, 10),
		"ordinal": strconv.FormatUint(e.Ordinal, 10),
	}}
}

type CategoryLocked struct {
	Category string
}

func (CategoryLocked) EventType() string { return TypeCategoryLocked }

func (e CategoryLocked) Event() *types.Event {
	return &types.Event{Type: TypeCategoryLocked, Attributes: map[string]string{
		"category": e.Category,
	}}
}

type GuardsSunset struct {
	At int64
}

func (GuardsSunset) EventType() string { return TypeGuardsSunset }

func (e GuardsSunset) Event() *types.Event {
	return &types.Event{Type: TypeGuardsSunset, Attributes: map[string]string{
		"at": strconv.FormatInt(e.At, 10),
	}}
}
