package token

import (
	"errors"
	"math/big"
	"time"

	"kestrel/core/events"
	"kestrel/core/types"
)

var (
	errNilState  = errors.New("token engine: state not configured")
	errNilConfig = errors.New("token engine: guard config not configured")
)

type engineState interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
	GuardConfigPut(cfg *Config) error
}

// ApprovalView is the read-only predicate exposed by the external approval
// registry. A nil view means no registry reference is configured.
type ApprovalView interface {
	IsApproved(addr [20]byte) bool
}

type tokenEvent struct {
	evt *types.Event
}

func (e tokenEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e tokenEvent) Event() *types.Event { return e.evt }

// Engine evaluates every proposed KST transfer against the launch-guard
// pipeline and commits the (possibly reduced) movement atomically. The guard
// configuration is an injected, explicitly owned object; the engine is the
// single writer.
type Engine struct {
	state       engineState
	cfg         *Config
	registry    ApprovalView
	emitter     events.Emitter
	totalSupply *big.Int
	nowFn       func() int64
	ordinalFn   func() uint64
}

// NewEngine creates a transfer engine around the supplied guard config with a
// no-op emitter. Callers override collaborators via the Set methods.
func NewEngine(cfg *Config, totalSupply *big.Int) *Engine {
	supply := big.NewInt(0)
	if totalSupply != nil {
		supply = new(big.Int).Set(totalSupply)
	}
	return &Engine{
		cfg:         cfg,
		totalSupply: supply,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
		ordinalFn:   func() uint64 { return 0 },
	}
}

// SetState configures the ledger state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry configures the external approval registry predicate. Passing
// nil marks the registry reference as unset.
func (e *Engine) SetRegistry(view ApprovalView) { e.registry = view }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetOrdinalFunc overrides the block-ordering counter source supplied by the
// execution environment.
func (e *Engine) SetOrdinalFunc(ordinal func() uint64) {
	if ordinal == nil {
		e.ordinalFn = func() uint64 { return 0 }
		return
	}
	e.ordinalFn = ordinal
}

// Config returns the injected guard configuration.
func (e *Engine) Config() *Config { return e.cfg }

// TotalSupply returns the fixed mint amount the fractional caps are computed
// against.
func (e *Engine) TotalSupply() *big.Int { return new(big.Int).Set(e.totalSupply) }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(tokenEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ordinal() uint64 {
	if e == nil || e.ordinalFn == nil {
		return 0
	}
	return e.ordinalFn()
}

// MaxTxAmount returns the current per-transaction cap in base units, nil when
// the cap is unset.
func (e *Engine) MaxTxAmount() *big.Int {
	return e.fractionOfSupply(e.cfg.MaxTxBps)
}

// MaxWalletAmount returns the current per-wallet cap in base units, nil when
// the cap is unset.
func (e *Engine) MaxWalletAmount() *big.Int {
	return e.fractionOfSupply(e.cfg.MaxWalletBps)
}

func (e *Engine) fractionOfSupply(bps uint32) *big.Int {
	if bps == 0 {
		return nil
	}
	out := new(big.Int).Mul(e.totalSupply, new(big.Int).SetUint64(uint64(bps)))
	return out.Div(out, big.NewInt(BpsDenominator))
}

// AttemptTransfer runs the guarded pipeline for a proposed transfer and, when
// every stage passes, commits the balance movement. It returns the net amount
// delivered to the recipient and the fee routed to the sink. Any stage
// failure aborts the whole operation with no balance mutation.
func (e *Engine) AttemptTransfer(from, to [20]byte, amount *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.cfg == nil {
		return nil, nil, errNilConfig
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	if from == ([20]byte{}) {
		return nil, nil, ErrMintAfterGenesis
	}
	amt := new(big.Int).Set(amount)
	cfg := e.cfg
	now := e.now()
	burn := to == [20]byte{}

	// Stage 1: pause.
	if cfg.Paused && !burn && !cfg.IsLimitsExcluded(from) && !cfg.IsLimitsExcluded(to) {
		return nil, nil, ErrSystemPaused
	}

	// Stage 2: blacklist.
	if cfg.IsBlacklisted(from) || cfg.IsBlacklisted(to) {
		return nil, nil, ErrBlacklisted
	}

	// Stage 3: KYC gate.
	if cfg.KYCEnabled && !burn && !cfg.IsKYCExempt(to) {
		if e.registry == nil {
			return nil, nil, ErrApprovalRegistryUnset
		}
		if !e.registry.IsApproved(to) {
			return nil, nil, ErrRecipientNotApproved
		}
	}

	// Stage 4: trading gate. Limits-excluded parties move funds pre-launch
	// (initial liquidity and escrow funding); burns always pass.
	if !cfg.TradingEnabled && !burn && !cfg.IsLimitsExcluded(from) && !cfg.IsLimitsExcluded(to) {
		return nil, nil, ErrTradingNotOpen
	}

	// Stage 5: launch limits.
	cooldownActors, err := e.checkLaunchLimits(cfg, from, to, amt, now)
	if err != nil {
		return nil, nil, err
	}

	// Stage 6: fee computation.
	fee := e.computeFee(cfg, from, to, amt)
	net := new(big.Int).Sub(amt, fee)

	// Stage 7: commit. Cooldown stamps persist before the balance writes so
	// a config-store failure cannot surface after funds have moved; a failed
	// commit restores them.
	priorStamps := make(map[[20]byte]int64, len(cooldownActors))
	for _, actor := range cooldownActors {
		priorStamps[actor] = cfg.LastTradeAt(actor)
		cfg.stampTrade(actor, now)
	}
	if err := e.state.GuardConfigPut(cfg); err != nil {
		for actor, at := range priorStamps {
			cfg.stampTrade(actor, at)
		}
		return nil, nil, err
	}
	if err := e.commit(from, to, amt, net, fee); err != nil {
		for actor, at := range priorStamps {
			cfg.stampTrade(actor, at)
		}
		if putErr := e.state.GuardConfigPut(cfg); putErr != nil {
			return nil, nil, errors.Join(err, putErr)
		}
		return nil, nil, err
	}

	e.emit(events.Transfer{From: from, To: to, Amount: amt, Net: net, Fee: fee}.Event())
	if fee.Sign() > 0 {
		e.emit(events.FeeCollected{Payer: from, Sink: cfg.FeeSink, Amount: fee}.Event())
	}
	return net, fee, nil
}

// checkLaunchLimits evaluates the anti-sniper, max-transaction, max-wallet
// and cooldown stages. It returns the actors whose trade stamps must be
// refreshed once the transfer commits.
func (e *Engine) checkLaunchLimits(cfg *Config, from, to [20]byte, amount *big.Int, now int64) ([][20]byte, error) {
	if cfg.GuardsSunsetAt > 0 && now >= cfg.GuardsSunsetAt {
		return nil, nil
	}

	buy := cfg.IsLiquidityPair(from) && !cfg.IsLiquidityPair(to)
	sell := cfg.IsLiquidityPair(to) && !cfg.IsLiquidityPair(from)

	// The sniper check deliberately runs before the exclusion short-circuit:
	// during the window even excluded buyers cannot route pair buys into
	// contracts.
	if cfg.TradingEnabled && cfg.SniperWindowLength > 0 && buy {
		ord := e.ordinal()
		if ord >= cfg.EnabledAtOrdinal && ord-cfg.EnabledAtOrdinal < cfg.SniperWindowLength {
			recipient, err := e.state.GetAccount(to)
			if err != nil {
				return nil, err
			}
			if recipient.IsContract() {
				return nil, ErrSniperWindowEOAOnly
			}
		}
	}

	if cfg.IsLimitsExcluded(from) && cfg.IsLimitsExcluded(to) {
		return nil, nil
	}

	if cfg.MaxTxBps > 0 && amount.Sign() > 0 {
		if maxTx := e.fractionOfSupply(cfg.MaxTxBps); maxTx != nil && amount.Cmp(maxTx) > 0 {
			return nil, ErrMaxTxExceeded
		}
	}

	if cfg.MaxWalletBps > 0 && to != ([20]byte{}) && !cfg.IsLiquidityPair(to) {
		recipient, err := e.state.GetAccount(to)
		if err != nil {
			return nil, err
		}
		resulting := new(big.Int).Add(recipient.Balance, amount)
		if maxWallet := e.fractionOfSupply(cfg.MaxWalletBps); maxWallet != nil && resulting.Cmp(maxWallet) > 0 {
			return nil, ErrMaxWalletExceeded
		}
	}

	var actors [][20]byte
	if cfg.CooldownSeconds > 0 {
		switch {
		case buy:
			actors = [][20]byte{to}
		case sell:
			actors = [][20]byte{from}
		case !cfg.IsLiquidityPair(from) && !cfg.IsLiquidityPair(to):
			actors = [][20]byte{from, to}
		}
		for _, actor := range actors {
			if last := cfg.LastTradeAt(actor); last > 0 && now-last < int64(cfg.CooldownSeconds) {
				return nil, ErrCooldownActive
			}
		}
	}
	return actors, nil
}

func (e *Engine) computeFee(cfg *Config, from, to [20]byte, amount *big.Int) *big.Int {
	if amount.Sign() == 0 || to == ([20]byte{}) {
		return big.NewInt(0)
	}
	if cfg.IsFeeExcluded(from) || cfg.IsFeeExcluded(to) {
		return big.NewInt(0)
	}
	var bps uint32
	switch {
	case cfg.IsLiquidityPair(from):
		bps = cfg.BuyFeeBps
	case cfg.IsLiquidityPair(to):
		bps = cfg.SellFeeBps
	}
	if bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return fee.Div(fee, big.NewInt(BpsDenominator))
}

// commit debits the sender and credits the sink and recipient. The balance
// check runs before any write; accounts are re-read between writes so aliased
// parties (self-transfers, sink-as-recipient) settle correctly.
func (e *Engine) commit(from, to [20]byte, amount, net, fee *big.Int) error {
	sender, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	if err := e.state.PutAccount(from, sender); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		sink, err := e.state.GetAccount(e.cfg.FeeSink)
		if err != nil {
			return err
		}
		sink.Balance = new(big.Int).Add(sink.Balance, fee)
		if err := e.state.PutAccount(e.cfg.FeeSink, sink); err != nil {
			return err
		}
	}
	recipient, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	recipient.Balance = new(big.Int).Add(recipient.Balance, net)
	return e.state.PutAccount(to, recipient)
}

// Transfer adapts the guarded pipeline to the plain ledger signature consumed
// by the vesting and sale engines.
func (e *Engine) Transfer(from, to [20]byte, amount *big.Int) error {
	_, _, err := e.AttemptTransfer(from, to, amount)
	return err
}

// --- Administrative surface ---

// EnableTrading opens the trading gate permanently, stamping the enable time
// and ordinal.
func (e *Engine) EnableTrading() error {
	if err := e.cfg.EnableTrading(e.now(), e.ordinal()); err != nil {
		return err
	}
	if err := e.persistConfig(); err != nil {
		return err
	}
	e.emit(events.TradingEnabled{At: e.cfg.EnabledAtTime, Ordinal: e.cfg.EnabledAtOrdinal}.Event())
	return nil
}

// LockCategory permanently disables the setters of the supplied category.
func (e *Engine) LockCategory(category LockCategory) error {
	if err := e.cfg.Locks().Lock(category); err != nil {
		return err
	}
	if err := e.persistConfig(); err != nil {
		return err
	}
	e.emit(events.CategoryLocked{Category: category.String()}.Event())
	return nil
}

// SetGuardsSunsetAt schedules the launch-limit sunset and emits the canonical
// event.
func (e *Engine) SetGuardsSunsetAt(at int64) error {
	if err := e.cfg.SetGuardsSunsetAt(at); err != nil {
		return err
	}
	if err := e.persistConfig(); err != nil {
		return err
	}
	e.emit(events.GuardsSunset{At: at}.Event())
	return nil
}

// Mutate applies a config setter and persists the result only when it
// succeeds. The remaining admin endpoints funnel through here so a failed
// setter never partially applies.
func (e *Engine) Mutate(mutator func(*Config) error) error {
	if mutator == nil {
		return nil
	}
	if err := mutator(e.cfg); err != nil {
		return err
	}
	return e.persistConfig()
}

func (e *Engine) persistConfig() error {
	if e.state == nil {
		return errNilState
	}
	return e.state.GuardConfigPut(e.cfg)
}
