package token

import "fmt"

// BpsDenominator is the basis-point scale used by every fractional parameter.
const BpsDenominator = 10_000

// Default hard caps. DefaultFeeCapBps bounds each side individually and
// DefaultCombinedFeeCapBps bounds the sum; both are validated when fees are
// set, never retroactively.
const (
	DefaultFeeCapBps         uint32 = 500
	DefaultCombinedFeeCapBps uint32 = 800
)

// Config holds every mutable launch-guard parameter. It is an explicitly
// owned object injected into the transfer engine; there is no package-level
// instance.
type Config struct {
	Paused bool

	TradingEnabled   bool
	EnabledAtTime    int64
	EnabledAtOrdinal uint64

	MaxTxBps     uint32
	MaxWalletBps uint32

	CooldownSeconds    uint64
	SniperWindowLength uint64

	BuyFeeBps  uint32
	SellFeeBps uint32
	FeeSink    [20]byte

	KYCEnabled bool

	// GuardsSunsetAt disables every launch limit once reached. Zero means no
	// sunset is scheduled.
	GuardsSunsetAt int64

	feeCapBps         uint32
	combinedFeeCapBps uint32

	feeExcluded    map[[20]byte]bool
	limitsExcluded map[[20]byte]bool
	liquidityPairs map[[20]byte]bool
	blacklisted    map[[20]byte]bool
	kycExempt      map[[20]byte]bool

	lastTradeAt map[[20]byte]int64

	locks *Locks
}

// NewConfig returns a config with every guard disabled, every set empty and
// the default fee caps.
func NewConfig() *Config {
	return &Config{
		feeCapBps:         DefaultFeeCapBps,
		combinedFeeCapBps: DefaultCombinedFeeCapBps,
		feeExcluded:       make(map[[20]byte]bool),
		limitsExcluded:    make(map[[20]byte]bool),
		liquidityPairs:    make(map[[20]byte]bool),
		blacklisted:       make(map[[20]byte]bool),
		kycExempt:         make(map[[20]byte]bool),
		lastTradeAt:       make(map[[20]byte]int64),
		locks:             NewLocks(),
	}
}

// SetFeeCaps overrides the hard fee caps. Deployment-variant tuning only;
// not reachable from the admin surface.
func (c *Config) SetFeeCaps(perSide, combined uint32) {
	c.feeCapBps = perSide
	c.combinedFeeCapBps = combined
}

// Locks exposes the category lock authority.
func (c *Config) Locks() *Locks { return c.locks }

// --- Membership views ---

func (c *Config) IsFeeExcluded(addr [20]byte) bool    { return c.feeExcluded[addr] }
func (c *Config) IsLimitsExcluded(addr [20]byte) bool { return c.limitsExcluded[addr] }
func (c *Config) IsLiquidityPair(addr [20]byte) bool  { return c.liquidityPairs[addr] }
func (c *Config) IsBlacklisted(addr [20]byte) bool    { return c.blacklisted[addr] }
func (c *Config) IsKYCExempt(addr [20]byte) bool      { return c.kycExempt[addr] }

// LastTradeAt returns the cooldown stamp for the address, zero when the
// address has never traded.
func (c *Config) LastTradeAt(addr [20]byte) int64 { return c.lastTradeAt[addr] }

func (c *Config) stampTrade(addr [20]byte, now int64) {
	if c.lastTradeAt == nil {
		c.lastTradeAt = make(map[[20]byte]int64)
	}
	c.lastTradeAt[addr] = now
}

// --- Setters (each consults the lock authority for its category) ---

// EnableTrading performs the one-way Closed -> Open transition, stamping the
// enable time and ordinal used by the sniper window and cooldown logic.
func (c *Config) EnableTrading(now int64, ordinal uint64) error {
	if c.TradingEnabled {
		return ErrTradingAlreadyOpen
	}
	c.TradingEnabled = true
	c.EnabledAtTime = now
	c.EnabledAtOrdinal = ordinal
	return nil
}

// SetFees validates the per-side and combined caps synchronously; later cap
// changes do not re-validate stored fees.
func (c *Config) SetFees(buyBps, sellBps uint32) error {
	if err := c.locks.Ensure(LockFees); err != nil {
		return err
	}
	if buyBps > c.feeCapBps || sellBps > c.feeCapBps {
		return fmt.Errorf("%w: side cap %d bps", ErrFeeCapExceeded, c.feeCapBps)
	}
	if buyBps+sellBps > c.combinedFeeCapBps {
		return fmt.Errorf("%w: combined cap %d bps", ErrFeeCapExceeded, c.combinedFeeCapBps)
	}
	c.BuyFeeBps = buyBps
	c.SellFeeBps = sellBps
	return nil
}

// SetFeeSink routes collected fees to the supplied address.
func (c *Config) SetFeeSink(addr [20]byte) error {
	if err := c.locks.Ensure(LockFees); err != nil {
		return err
	}
	c.FeeSink = addr
	return nil
}

// SetMaxTxBps configures the per-transaction cap as a fraction of total
// supply. Zero disables the check.
func (c *Config) SetMaxTxBps(bps uint32) error {
	if err := c.locks.Ensure(LockLimits); err != nil {
		return err
	}
	if bps > BpsDenominator {
		return ErrFractionOutOfRange
	}
	c.MaxTxBps = bps
	return nil
}

// SetMaxWalletBps configures the per-wallet cap as a fraction of total
// supply. Zero disables the check.
func (c *Config) SetMaxWalletBps(bps uint32) error {
	if err := c.locks.Ensure(LockLimits); err != nil {
		return err
	}
	if bps > BpsDenominator {
		return ErrFractionOutOfRange
	}
	c.MaxWalletBps = bps
	return nil
}

// SetCooldownSeconds configures the per-actor trade cooldown.
func (c *Config) SetCooldownSeconds(seconds uint64) error {
	if err := c.locks.Ensure(LockLimits); err != nil {
		return err
	}
	c.CooldownSeconds = seconds
	return nil
}

// SetSniperWindowLength configures how many ordinals after enable the
// EOA-only buy restriction applies for.
func (c *Config) SetSniperWindowLength(length uint64) error {
	if err := c.locks.Ensure(LockLimits); err != nil {
		return err
	}
	c.SniperWindowLength = length
	return nil
}

// SetGuardsSunsetAt schedules the timestamp after which all launch limits are
// bypassed. The stored limit values are retained.
func (c *Config) SetGuardsSunsetAt(at int64) error {
	if err := c.locks.Ensure(LockLimits); err != nil {
		return err
	}
	c.GuardsSunsetAt = at
	return nil
}

// SetFeeExcluded toggles fee exclusion for the address.
func (c *Config) SetFeeExcluded(addr [20]byte, excluded bool) error {
	if err := c.locks.Ensure(LockFeeExclusions); err != nil {
		return err
	}
	setMembership(c.feeExcluded, addr, excluded)
	return nil
}

// SetLimitsExcluded toggles launch-limit exclusion for the address.
func (c *Config) SetLimitsExcluded(addr [20]byte, excluded bool) error {
	if err := c.locks.Ensure(LockLimits); err != nil {
		return err
	}
	setMembership(c.limitsExcluded, addr, excluded)
	return nil
}

// SetLiquidityPair designates or clears a liquidity pair address.
func (c *Config) SetLiquidityPair(addr [20]byte, pair bool) error {
	if err := c.locks.Ensure(LockPairs); err != nil {
		return err
	}
	setMembership(c.liquidityPairs, addr, pair)
	return nil
}

// SetBlacklisted toggles blacklist membership for the address.
func (c *Config) SetBlacklisted(addr [20]byte, listed bool) error {
	if err := c.locks.Ensure(LockBlacklist); err != nil {
		return err
	}
	setMembership(c.blacklisted, addr, listed)
	return nil
}

// SetKYCExempt toggles KYC exemption for the address.
func (c *Config) SetKYCExempt(addr [20]byte, exempt bool) error {
	if err := c.locks.Ensure(LockKYC); err != nil {
		return err
	}
	setMembership(c.kycExempt, addr, exempt)
	return nil
}

// SetKYCEnabled toggles the recipient approval gate.
func (c *Config) SetKYCEnabled(enabled bool) error {
	if err := c.locks.Ensure(LockKYC); err != nil {
		return err
	}
	c.KYCEnabled = enabled
	return nil
}

// SetPaused toggles the emergency pause. The pause is deliberately not
// lockable; it must stay available to the owner.
func (c *Config) SetPaused(paused bool) {
	c.Paused = paused
}

func setMembership(set map[[20]byte]bool, addr [20]byte, member bool) {
	if member {
		set[addr] = true
		return
	}
	delete(set, addr)
}
