package vesting

import (
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
)

type mockState struct {
	schedules map[[20]byte]*Schedule
	order     [][20]byte
	putErr    error
}

func newMockState() *mockState {
	return &mockState{schedules: make(map[[20]byte]*Schedule)}
}

func (m *mockState) ScheduleGet(beneficiary [20]byte) (*Schedule, bool, error) {
	schedule, ok := m.schedules[beneficiary]
	if !ok {
		return nil, false, nil
	}
	return schedule.Clone(), true, nil
}

func (m *mockState) SchedulePut(schedule *Schedule) error {
	if m.putErr != nil {
		return m.putErr
	}
	sanitized, err := SanitizeSchedule(schedule)
	if err != nil {
		return err
	}
	if _, ok := m.schedules[sanitized.Beneficiary]; !ok {
		m.order = append(m.order, sanitized.Beneficiary)
	}
	m.schedules[sanitized.Beneficiary] = sanitized
	return nil
}

func (m *mockState) Beneficiaries() ([][20]byte, error) {
	return append([][20]byte(nil), m.order...), nil
}

type mockLedger struct {
	transfers []mockTransfer
	failNext  error
	failCall  int
	failWith  error
	calls     int
}

type mockTransfer struct {
	from, to [20]byte
	amount   *big.Int
}

func (m *mockLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	m.calls++
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if m.failCall > 0 && m.calls == m.failCall {
		m.failCall = 0
		return m.failWith
	}
	m.transfers = append(m.transfers, mockTransfer{from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var (
	escrowAddr   = addr(0xEE)
	treasuryAddr = addr(0xDD)
)

func testEngine(now int64) (*Engine, *mockState, *mockLedger) {
	engine := NewEngine(escrowAddr, treasuryAddr)
	state := newMockState()
	ledger := &mockLedger{}
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetNowFunc(func() int64 { return now })
	return engine, state, ledger
}

func TestCreateScheduleStrict(t *testing.T) {
	engine, _, _ := testEngine(0)
	beneficiary := addr(1)

	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(100), 10, 20, 30, true, RoleNone); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(0), 10, 20, 30, true, RoleTeam); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(100), 10, 20, 0, true, RoleTeam); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(100), 20, 10, 30, true, RoleTeam); !errors.Is(err, ErrInvalidCliff) {
		t.Fatalf("expected ErrInvalidCliff, got %v", err)
	}

	schedule, err := engine.CreateSchedule(beneficiary, big.NewInt(100), 10, 20, 30, true, RoleTeam)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if schedule.Total.Int64() != 100 || schedule.Released.Sign() != 0 {
		t.Fatalf("unexpected schedule: %+v", schedule)
	}
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(100), 10, 20, 30, true, RoleTeam); !errors.Is(err, ErrScheduleExists) {
		t.Fatalf("expected ErrScheduleExists, got %v", err)
	}
}

func TestClaimableAccrual(t *testing.T) {
	engine, _, _ := testEngine(0)
	beneficiary := addr(1)
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(1000), 0, 100, 100, false, RoleMarketing); err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		now  int64
		want int64
	}{
		{0, 0},      // before cliff
		{99, 0},     // still before cliff
		{100, 0},    // at cliff, zero elapsed
		{150, 500},  // halfway
		{175, 750},
		{200, 1000}, // fully vested
		{500, 1000}, // long after end
	}
	for _, tc := range cases {
		engine.SetNowFunc(func() int64 { return tc.now })
		claimable, err := engine.Claimable(beneficiary)
		if err != nil {
			t.Fatalf("claimable at %d: %v", tc.now, err)
		}
		if claimable.Int64() != tc.want {
			t.Fatalf("claimable at %d = %s, want %d", tc.now, claimable, tc.want)
		}
	}

	// Unknown beneficiary reads as zero, not an error.
	claimable, err := engine.Claimable(addr(99))
	if err != nil {
		t.Fatalf("unknown claimable: %v", err)
	}
	if claimable.Sign() != 0 {
		t.Fatalf("unknown claimable = %s, want 0", claimable)
	}
}

func TestReleasePaysOutAndAdvances(t *testing.T) {
	engine, state, ledger := testEngine(150)
	beneficiary := addr(1)
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(1000), 0, 100, 100, false, RoleTeam); err != nil {
		t.Fatalf("create: %v", err)
	}

	amount, err := engine.Release(beneficiary)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if amount.Int64() != 500 {
		t.Fatalf("released %s, want 500", amount)
	}
	if len(ledger.transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(ledger.transfers))
	}
	moved := ledger.transfers[0]
	if moved.from != escrowAddr || moved.to != beneficiary || moved.amount.Int64() != 500 {
		t.Fatalf("unexpected transfer %+v", moved)
	}
	if got := state.schedules[beneficiary].Released.Int64(); got != 500 {
		t.Fatalf("released bookkeeping = %d, want 500", got)
	}

	// Nothing new has vested: a second release fails cleanly.
	if _, err := engine.Release(beneficiary); !errors.Is(err, ErrNothingToRelease) {
		t.Fatalf("expected ErrNothingToRelease, got %v", err)
	}

	// More time passes, the remainder drains.
	engine.SetNowFunc(func() int64 { return 500 })
	amount, err = engine.Release(beneficiary)
	if err != nil {
		t.Fatalf("final release: %v", err)
	}
	if amount.Int64() != 500 {
		t.Fatalf("final release %s, want 500", amount)
	}
}

func TestReleaseRollsBackOnLedgerFailure(t *testing.T) {
	engine, state, ledger := testEngine(150)
	beneficiary := addr(1)
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(1000), 0, 100, 100, false, RoleTeam); err != nil {
		t.Fatalf("create: %v", err)
	}

	ledgerErr := errors.New("token: transfer rejected")
	ledger.failNext = ledgerErr
	if _, err := engine.Release(beneficiary); !errors.Is(err, ledgerErr) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if got := state.schedules[beneficiary].Released.Sign(); got != 0 {
		t.Fatal("failed release left bookkeeping advanced")
	}

	// The schedule is intact: a retry succeeds.
	amount, err := engine.Release(beneficiary)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if amount.Int64() != 500 {
		t.Fatalf("retry released %s, want 500", amount)
	}
}

func TestReleaseMissingSchedule(t *testing.T) {
	engine, _, _ := testEngine(150)
	if _, err := engine.Release(addr(1)); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestIncreaseSchedule(t *testing.T) {
	engine, _, _ := testEngine(150)
	beneficiary := addr(1)
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(1000), 0, 100, 100, false, RoleTeam); err != nil {
		t.Fatalf("create: %v", err)
	}

	schedule, err := engine.IncreaseSchedule(beneficiary, big.NewInt(500))
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if schedule.Total.Int64() != 1500 {
		t.Fatalf("total = %s, want 1500", schedule.Total)
	}
	// Timing is untouched; half of the larger total is now claimable.
	claimable, err := engine.Claimable(beneficiary)
	if err != nil {
		t.Fatalf("claimable: %v", err)
	}
	if claimable.Int64() != 750 {
		t.Fatalf("claimable = %s, want 750", claimable)
	}

	if _, err := engine.IncreaseSchedule(beneficiary, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.IncreaseSchedule(addr(9), big.NewInt(1)); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestRevokeSplitsPayout(t *testing.T) {
	engine, state, ledger := testEngine(150)
	beneficiary := addr(1)
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(1000), 0, 100, 100, true, RoleAdvisor); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := engine.Revoke(beneficiary); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(ledger.transfers) != 2 {
		t.Fatalf("expected payout and remainder transfers, got %d", len(ledger.transfers))
	}
	payout, remainder := ledger.transfers[0], ledger.transfers[1]
	if payout.to != beneficiary || payout.amount.Int64() != 500 {
		t.Fatalf("payout %+v", payout)
	}
	if remainder.to != treasuryAddr || remainder.amount.Int64() != 500 {
		t.Fatalf("remainder %+v", remainder)
	}
	if !state.schedules[beneficiary].Revoked {
		t.Fatal("schedule not marked revoked")
	}

	// Revoked is terminal.
	if err := engine.Revoke(beneficiary); !errors.Is(err, ErrScheduleRevoked) {
		t.Fatalf("expected ErrScheduleRevoked, got %v", err)
	}
	if _, err := engine.Release(beneficiary); !errors.Is(err, ErrNothingToRelease) {
		t.Fatalf("release after revoke: %v", err)
	}
	if _, err := engine.IncreaseSchedule(beneficiary, big.NewInt(1)); !errors.Is(err, ErrScheduleRevoked) {
		t.Fatalf("increase after revoke: %v", err)
	}
}

func TestRevokeRollsBackOnRemainderFailure(t *testing.T) {
	engine, state, ledger := testEngine(150)
	beneficiary := addr(1)
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(1000), 0, 100, 100, true, RoleAdvisor); err != nil {
		t.Fatalf("create: %v", err)
	}

	// The payout leg settles, the treasury remainder leg fails.
	ledgerErr := errors.New("token: insufficient balance")
	ledger.failCall = 2
	ledger.failWith = ledgerErr
	if err := engine.Revoke(beneficiary); !errors.Is(err, ledgerErr) {
		t.Fatalf("expected ledger error, got %v", err)
	}

	stored := state.schedules[beneficiary]
	if stored.Revoked {
		t.Fatal("failed revoke left schedule revoked")
	}
	if stored.Released.Sign() != 0 {
		t.Fatal("failed revoke left released advanced")
	}
	if len(ledger.transfers) != 2 {
		t.Fatalf("expected payout and reversal, got %d transfers", len(ledger.transfers))
	}
	reversal := ledger.transfers[1]
	if reversal.from != beneficiary || reversal.to != escrowAddr || reversal.amount.Int64() != 500 {
		t.Fatalf("unexpected reversal %+v", reversal)
	}

	// The schedule stays live: a retry settles both legs.
	if err := engine.Revoke(beneficiary); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !state.schedules[beneficiary].Revoked {
		t.Fatal("retry did not revoke")
	}
	final := ledger.transfers[len(ledger.transfers)-1]
	if final.to != treasuryAddr || final.amount.Int64() != 500 {
		t.Fatalf("unexpected remainder %+v", final)
	}
}

func TestRevokeRequiresRevocable(t *testing.T) {
	engine, _, _ := testEngine(150)
	beneficiary := addr(1)
	if _, err := engine.CreateSchedule(beneficiary, big.NewInt(1000), 0, 100, 100, false, RoleTeam); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.Revoke(beneficiary); !errors.Is(err, ErrNotRevocable) {
		t.Fatalf("expected ErrNotRevocable, got %v", err)
	}
}

func TestEnumeration(t *testing.T) {
	engine, _, _ := testEngine(0)
	first, second := addr(1), addr(2)
	if _, err := engine.CreateSchedule(first, big.NewInt(10), 0, 1, 1, false, RoleTeam); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := engine.CreateSchedule(second, big.NewInt(20), 0, 1, 1, false, RoleMarketing); err != nil {
		t.Fatalf("create second: %v", err)
	}

	count, err := engine.BeneficiaryCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	got, err := engine.BeneficiaryAt(1)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if got != second {
		t.Fatalf("beneficiary[1] = %s", hex.EncodeToString(got[:]))
	}
	if _, err := engine.BeneficiaryAt(2); err == nil {
		t.Fatal("expected out-of-range error")
	}
	role, err := engine.RoleOf(second)
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if role != RoleMarketing {
		t.Fatalf("role = %s", role)
	}
}
