package token

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// configJSON is the persistence shape for Config. Address sets are stored as
// sorted hex lists, cooldown stamps as a hex-keyed map and locks as their
// canonical category names.
type configJSON struct {
	Paused             bool             `json:"paused"`
	TradingEnabled     bool             `json:"tradingEnabled"`
	EnabledAtTime      int64            `json:"enabledAtTime,omitempty"`
	EnabledAtOrdinal   uint64           `json:"enabledAtOrdinal,omitempty"`
	MaxTxBps           uint32           `json:"maxTxBps"`
	MaxWalletBps       uint32           `json:"maxWalletBps"`
	CooldownSeconds    uint64           `json:"cooldownSeconds"`
	SniperWindowLength uint64           `json:"sniperWindowLength"`
	BuyFeeBps          uint32           `json:"buyFeeBps"`
	SellFeeBps         uint32           `json:"sellFeeBps"`
	FeeSink            string           `json:"feeSink,omitempty"`
	KYCEnabled         bool             `json:"kycEnabled"`
	GuardsSunsetAt     int64            `json:"guardsSunsetAt,omitempty"`
	FeeCapBps          uint32           `json:"feeCapBps"`
	CombinedFeeCapBps  uint32           `json:"combinedFeeCapBps"`
	FeeExcluded        []string         `json:"feeExcluded,omitempty"`
	LimitsExcluded     []string         `json:"limitsExcluded,omitempty"`
	LiquidityPairs     []string         `json:"liquidityPairs,omitempty"`
	Blacklisted        []string         `json:"blacklisted,omitempty"`
	KYCExempt          []string         `json:"kycExempt,omitempty"`
	LastTradeAt        map[string]int64 `json:"lastTradeAt,omitempty"`
	LockedCategories   []string         `json:"lockedCategories,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c *Config) MarshalJSON() ([]byte, error) {
	out := configJSON{
		Paused:             c.Paused,
		TradingEnabled:     c.TradingEnabled,
		EnabledAtTime:      c.EnabledAtTime,
		EnabledAtOrdinal:   c.EnabledAtOrdinal,
		MaxTxBps:           c.MaxTxBps,
		MaxWalletBps:       c.MaxWalletBps,
		CooldownSeconds:    c.CooldownSeconds,
		SniperWindowLength: c.SniperWindowLength,
		BuyFeeBps:          c.BuyFeeBps,
		SellFeeBps:         c.SellFeeBps,
		KYCEnabled:         c.KYCEnabled,
		GuardsSunsetAt:     c.GuardsSunsetAt,
		FeeCapBps:          c.feeCapBps,
		CombinedFeeCapBps:  c.combinedFeeCapBps,
		FeeExcluded:        encodeSet(c.feeExcluded),
		LimitsExcluded:     encodeSet(c.limitsExcluded),
		LiquidityPairs:     encodeSet(c.liquidityPairs),
		Blacklisted:        encodeSet(c.blacklisted),
		KYCExempt:          encodeSet(c.kycExempt),
		LockedCategories:   c.locks.LockedCategories(),
	}
	if c.FeeSink != ([20]byte{}) {
		out.FeeSink = hex.EncodeToString(c.FeeSink[:])
	}
	if len(c.lastTradeAt) > 0 {
		out.LastTradeAt = make(map[string]int64, len(c.lastTradeAt))
		for addr, ts := range c.lastTradeAt {
			out.LastTradeAt[hex.EncodeToString(addr[:])] = ts
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Config) UnmarshalJSON(data []byte) error {
	var decoded configJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	restored := NewConfig()
	restored.Paused = decoded.Paused
	restored.TradingEnabled = decoded.TradingEnabled
	restored.EnabledAtTime = decoded.EnabledAtTime
	restored.EnabledAtOrdinal = decoded.EnabledAtOrdinal
	restored.MaxTxBps = decoded.MaxTxBps
	restored.MaxWalletBps = decoded.MaxWalletBps
	restored.CooldownSeconds = decoded.CooldownSeconds
	restored.SniperWindowLength = decoded.SniperWindowLength
	restored.BuyFeeBps = decoded.BuyFeeBps
	restored.SellFeeBps = decoded.SellFeeBps
	restored.KYCEnabled = decoded.KYCEnabled
	restored.GuardsSunsetAt = decoded.GuardsSunsetAt
	if decoded.FeeCapBps > 0 {
		restored.feeCapBps = decoded.FeeCapBps
	}
	if decoded.CombinedFeeCapBps > 0 {
		restored.combinedFeeCapBps = decoded.CombinedFeeCapBps
	}
	if decoded.FeeSink != "" {
		sink, err := decodeAddr(decoded.FeeSink)
		if err != nil {
			return fmt.Errorf("token: decode fee sink: %w", err)
		}
		restored.FeeSink = sink
	}
	var err error
	if restored.feeExcluded, err = decodeSet(decoded.FeeExcluded); err != nil {
		return err
	}
	if restored.limitsExcluded, err = decodeSet(decoded.LimitsExcluded); err != nil {
		return err
	}
	if restored.liquidityPairs, err = decodeSet(decoded.LiquidityPairs); err != nil {
		return err
	}
	if restored.blacklisted, err = decodeSet(decoded.Blacklisted); err != nil {
		return err
	}
	if restored.kycExempt, err = decodeSet(decoded.KYCExempt); err != nil {
		return err
	}
	for encoded, ts := range decoded.LastTradeAt {
		addr, err := decodeAddr(encoded)
		if err != nil {
			return fmt.Errorf("token: decode trade stamp: %w", err)
		}
		restored.lastTradeAt[addr] = ts
	}
	for _, name := range decoded.LockedCategories {
		category, err := ParseLockCategory(name)
		if err != nil {
			return err
		}
		if err := restored.locks.Lock(category); err != nil {
			return err
		}
	}
	*c = *restored
	return nil
}

func encodeSet(set map[[20]byte]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, hex.EncodeToString(addr[:]))
	}
	sort.Strings(out)
	return out
}

func decodeSet(encoded []string) (map[[20]byte]bool, error) {
	set := make(map[[20]byte]bool, len(encoded))
	for _, entry := range encoded {
		addr, err := decodeAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("token: decode address set: %w", err)
		}
		set[addr] = true
	}
	return set, nil
}

func decodeAddr(encoded string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes (got %d)", len(addr), len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}
