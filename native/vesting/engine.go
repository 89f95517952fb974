package vesting

import (
	"errors"
	"math/big"
	"time"

	"kestrel/core/events"
	"kestrel/core/types"
)

var (
	errNilState  = errors.New("vesting engine: state not configured")
	errNilLedger = errors.New("vesting engine: ledger not configured")
)

type engineState interface {
	ScheduleGet(beneficiary [20]byte) (*Schedule, bool, error)
	SchedulePut(schedule *Schedule) error
	Beneficiaries() ([][20]byte, error)
}

// Ledger is the balance-moving primitive the engine settles through. The
// escrow address must be limits-excluded so releases work before trading
// opens.
type Ledger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

type vestingEvent struct {
	evt *types.Event
}

func (e vestingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vestingEvent) Event() *types.Event { return e.evt }

// Engine tracks per-beneficiary entitlements that unlock linearly over time
// and settles releases and revocations through the ledger. Every entry point
// that moves value finalises its bookkeeping before the transfer and is
// guarded against re-entry.
type Engine struct {
	state    engineState
	ledger   Ledger
	escrow   [20]byte
	treasury [20]byte
	emitter  events.Emitter
	nowFn    func() int64
	busy     bool
}

// NewEngine creates a vesting engine settling from the escrow address, with
// revoked remainders returned to the treasury.
func NewEngine(escrow, treasury [20]byte) *Engine {
	return &Engine{
		escrow:   escrow,
		treasury: treasury,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the schedule store backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the balance-moving primitive.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

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

// EscrowAddress returns the address holding unvested balances.
func (e *Engine) EscrowAddress() [20]byte { return e.escrow }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vestingEvent{evt: event})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// enter acquires the scoped busy guard shared by every value-moving entry
// point, so a callback triggered by a token movement cannot re-enter the
// accounting before it finishes.
func (e *Engine) enter() error {
	if e.busy {
		return ErrReentrancy
	}
	e.busy = true
	return nil
}

func (e *Engine) leave() { e.busy = false }

// CreateSchedule registers a fresh schedule for the beneficiary. It is the
// strict variant: an existing schedule, a zero total, a zero duration or the
// none role all fail.
func (e *Engine) CreateSchedule(beneficiary [20]byte, total *big.Int, start, cliff, duration uint64, revocable bool, role Role) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if role == RoleNone {
		return nil, ErrInvalidRole
	}
	if _, ok, err := e.state.ScheduleGet(beneficiary); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrScheduleExists
	}
	schedule, err := SanitizeSchedule(&Schedule{
		Beneficiary: beneficiary,
		Total:       cloneBigInt(total),
		Released:    big.NewInt(0),
		Start:       start,
		Cliff:       cliff,
		Duration:    duration,
		Revocable:   revocable,
		Role:        role,
	})
	if err != nil {
		return nil, err
	}
	if err := e.state.SchedulePut(schedule); err != nil {
		return nil, err
	}
	e.emit(events.VestingCreated{
		Beneficiary: beneficiary,
		Total:       schedule.Total,
		Start:       start,
		Cliff:       cliff,
		Duration:    duration,
		Revocable:   revocable,
		Role:        role.String(),
	}.Event())
	return schedule.Clone(), nil
}

// vestedAt computes the entitlement accrued by the supplied instant.
func vestedAt(s *Schedule, now uint64) *big.Int {
	if now < s.Cliff {
		return big.NewInt(0)
	}
	if now >= s.End() {
		return cloneBigInt(s.Total)
	}
	elapsed := new(big.Int).SetUint64(now - s.Cliff)
	vested := new(big.Int).Mul(cloneBigInt(s.Total), elapsed)
	return vested.Div(vested, new(big.Int).SetUint64(s.Duration))
}

// claimableOf clamps vested-minus-released to zero. A merge that moved the
// cliff later can leave released above the recomputed vested amount; the
// difference must render as zero, never underflow.
func claimableOf(s *Schedule, now uint64) *big.Int {
	if s == nil || s.Revoked {
		return big.NewInt(0)
	}
	vested := vestedAt(s, now)
	claimable := vested.Sub(vested, s.Released)
	if claimable.Sign() < 0 {
		return big.NewInt(0)
	}
	return claimable
}

// Claimable returns the amount the beneficiary could release right now. A
// missing or revoked schedule yields zero.
func (e *Engine) Claimable(beneficiary [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	schedule, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return claimableOf(schedule, e.now()), nil
}

// Release pays out everything accrued and unreleased. Anyone may call it on
// behalf of the beneficiary; it is a pure pull of what has vested.
func (e *Engine) Release(beneficiary [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave()

	schedule, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	amount := claimableOf(schedule, e.now())
	if amount.Sign() == 0 {
		return nil, ErrNothingToRelease
	}
	prior := schedule.Clone()
	schedule.Released = new(big.Int).Add(schedule.Released, amount)
	if schedule.Released.Cmp(schedule.Total) > 0 {
		return nil, errors.New("vesting: internal invariant violated: released exceeds total")
	}
	if err := e.state.SchedulePut(schedule); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(e.escrow, beneficiary, amount); err != nil {
		// Roll the bookkeeping back so the failed operation leaves no trace.
		if restoreErr := e.state.SchedulePut(prior); restoreErr != nil {
			return nil, errors.Join(err, restoreErr)
		}
		return nil, err
	}
	e.emit(events.VestingReleased{Beneficiary: beneficiary, Amount: amount, Released: schedule.Released}.Event())
	return amount, nil
}

// IncreaseSchedule adds to the total entitlement without touching timing.
func (e *Engine) IncreaseSchedule(beneficiary [20]byte, addAmount *big.Int) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if addAmount == nil || addAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	schedule, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	if schedule.Revoked {
		return nil, ErrScheduleRevoked
	}
	schedule.Total = new(big.Int).Add(schedule.Total, addAmount)
	if err := e.state.SchedulePut(schedule); err != nil {
		return nil, err
	}
	e.emit(events.VestingIncreased{Beneficiary: beneficiary, Added: addAmount, Total: schedule.Total}.Event())
	return schedule.Clone(), nil
}

// Revoke terminates a revocable schedule: the accrued-and-unreleased amount
// is paid to the beneficiary, the remainder returns to the treasury, and the
// schedule is permanently marked revoked.
func (e *Engine) Revoke(beneficiary [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()

	schedule, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil {
		return err
	}
	if !ok {
		return ErrScheduleNotFound
	}
	if schedule.Revoked {
		return ErrScheduleRevoked
	}
	if !schedule.Revocable {
		return ErrNotRevocable
	}
	payout := claimableOf(schedule, e.now())
	accrued := new(big.Int).Add(schedule.Released, payout)
	remainder := new(big.Int).Sub(schedule.Total, accrued)
	if remainder.Sign() < 0 {
		return errors.New("vesting: internal invariant violated: accrued exceeds total")
	}
	prior := schedule.Clone()
	schedule.Released = new(big.Int).Add(schedule.Released, payout)
	schedule.Revoked = true
	if err := e.state.SchedulePut(schedule); err != nil {
		return err
	}
	if payout.Sign() > 0 {
		if err := e.ledger.Transfer(e.escrow, beneficiary, payout); err != nil {
			if restoreErr := e.state.SchedulePut(prior); restoreErr != nil {
				return errors.Join(err, restoreErr)
			}
			return err
		}
	}
	if remainder.Sign() > 0 {
		if err := e.ledger.Transfer(e.escrow, e.treasury, remainder); err != nil {
			// Reverse the payout leg and restore the bookkeeping so the
			// schedule stays live for a retry.
			restoreErr := e.state.SchedulePut(prior)
			var reverseErr error
			if payout.Sign() > 0 {
				reverseErr = e.ledger.Transfer(beneficiary, e.escrow, payout)
			}
			return errors.Join(err, restoreErr, reverseErr)
		}
	}
	e.emit(events.VestingRevoked{Beneficiary: beneficiary, PaidOut: payout, Returned: remainder}.Event())
	return nil
}

// --- Enumeration views ---

// BeneficiaryCount returns the number of registered beneficiaries.
func (e *Engine) BeneficiaryCount() (int, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	list, err := e.state.Beneficiaries()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// BeneficiaryAt returns the beneficiary at the insertion-ordered index.
func (e *Engine) BeneficiaryAt(index int) ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, errNilState
	}
	list, err := e.state.Beneficiaries()
	if err != nil {
		return [20]byte{}, err
	}
	if index < 0 || index >= len(list) {
		return [20]byte{}, errors.New("vesting: beneficiary index out of range")
	}
	return list[index], nil
}

// RoleOf returns the role assigned at first creation.
func (e *Engine) RoleOf(beneficiary [20]byte) (Role, error) {
	schedule, err := e.ScheduleOf(beneficiary)
	if err != nil {
		return RoleNone, err
	}
	return schedule.Role, nil
}

// ScheduleOf returns a copy of the stored schedule.
func (e *Engine) ScheduleOf(beneficiary [20]byte) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	schedule, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return schedule.Clone(), nil
}
