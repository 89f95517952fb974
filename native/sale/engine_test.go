package sale

import (
	"errors"
	"math/big"
	"testing"
)

type mockState struct {
	stored *State
}

func (m *mockState) SaleGet() (*State, bool, error) {
	if m.stored == nil {
		return nil, false, nil
	}
	return m.stored.Clone(), true, nil
}

func (m *mockState) SalePut(state *State) error {
	m.stored = state.Clone()
	return nil
}

type mockLedger struct {
	transfers []mockTransfer
	failNext  error
}

type mockTransfer struct {
	from, to [20]byte
	amount   *big.Int
}

func (m *mockLedger) Transfer(from, to [20]byte, amount *big.Int) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.transfers = append(m.transfers, mockTransfer{from: from, to: to, amount: new(big.Int).Set(amount)})
	return nil
}

type mockRefunder struct {
	refunds  []mockRefund
	failNext error
}

type mockRefund struct {
	to     [20]byte
	amount *big.Int
}

func (m *mockRefunder) Refund(to [20]byte, amount *big.Int) error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.refunds = append(m.refunds, mockRefund{to: to, amount: new(big.Int).Set(amount)})
	return nil
}

type allowAll struct{}

func (allowAll) IsApproved([20]byte) bool { return true }

type denyAll struct{}

func (denyAll) IsApproved([20]byte) bool { return false }

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

var saleAddr = addr(0xAA)

func testParams() Params {
	return Params{
		StartAt:         1000,
		EndAt:           2000,
		MinContribution: big.NewInt(10),
		MaxContribution: big.NewInt(500),
		Cap:             big.NewInt(1000),
		TokensPerUnit:   big.NewInt(5),
		SaleAddress:     saleAddr,
	}
}

func testEngine(now int64) (*Engine, *mockState, *mockLedger, *mockRefunder) {
	engine := NewEngine(testParams())
	state := &mockState{}
	ledger := &mockLedger{}
	refunder := &mockRefunder{}
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetApprovals(allowAll{})
	engine.SetRefunder(refunder)
	engine.SetNowFunc(func() int64 { return now })
	return engine, state, ledger, refunder
}

func TestContributeWindowAndBounds(t *testing.T) {
	engine, _, _, _ := testEngine(500)
	buyer := addr(1)

	if _, err := engine.Contribute(buyer, big.NewInt(100)); !errors.Is(err, ErrSaleClosed) {
		t.Fatalf("before window: %v", err)
	}

	engine.SetNowFunc(func() int64 { return 1500 })
	if _, err := engine.Contribute(buyer, big.NewInt(5)); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("below minimum: %v", err)
	}
	if _, err := engine.Contribute(buyer, big.NewInt(501)); !errors.Is(err, ErrAboveMaximum) {
		t.Fatalf("above maximum: %v", err)
	}
	if _, err := engine.Contribute(buyer, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}

	receipt, err := engine.Contribute(buyer, big.NewInt(100))
	if err != nil {
		t.Fatalf("contribute: %v", err)
	}
	if receipt == ([32]byte{}) {
		t.Fatal("expected non-zero receipt")
	}

	// The bounds apply to the cumulative wallet total.
	if _, err := engine.Contribute(buyer, big.NewInt(401)); !errors.Is(err, ErrAboveMaximum) {
		t.Fatalf("cumulative above maximum: %v", err)
	}
	second, err := engine.Contribute(buyer, big.NewInt(400))
	if err != nil {
		t.Fatalf("second contribute: %v", err)
	}
	if second == receipt {
		t.Fatal("receipts must be distinct per contribution")
	}

	engine.SetNowFunc(func() int64 { return 2000 })
	if _, err := engine.Contribute(buyer, big.NewInt(10)); !errors.Is(err, ErrSaleClosed) {
		t.Fatalf("at end instant: %v", err)
	}
}

func TestContributeRequiresApproval(t *testing.T) {
	engine, _, _, _ := testEngine(1500)
	engine.SetApprovals(denyAll{})
	if _, err := engine.Contribute(addr(1), big.NewInt(100)); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
}

func TestContributionsPastCapAccepted(t *testing.T) {
	engine, state, _, _ := testEngine(1500)
	// Cap is 1000; three buyers raise 1500 in total.
	for i, amount := range []int64{500, 500, 500} {
		if _, err := engine.Contribute(addr(byte(i+1)), big.NewInt(amount)); err != nil {
			t.Fatalf("contribute %d: %v", i, err)
		}
	}
	if state.stored.Raised.Int64() != 1500 {
		t.Fatalf("raised = %s, want 1500", state.stored.Raised)
	}
}

func TestFinalizeFixesAccepted(t *testing.T) {
	engine, state, _, _ := testEngine(1500)
	if _, err := engine.Contribute(addr(1), big.NewInt(300)); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	// Too early.
	if err := engine.Finalize(); !errors.Is(err, ErrSaleClosed) {
		t.Fatalf("expected ErrSaleClosed before end, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return 2001 })
	if err := engine.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !state.stored.Finalized || state.stored.Accepted.Int64() != 300 {
		t.Fatalf("unexpected finalized state %+v", state.stored)
	}
	if err := engine.Finalize(); !errors.Is(err, ErrSaleFinalized) {
		t.Fatalf("expected ErrSaleFinalized, got %v", err)
	}
}

func TestClaimUndersubscribed(t *testing.T) {
	engine, _, ledger, refunder := testEngine(1500)
	buyer := addr(1)
	if _, err := engine.Contribute(buyer, big.NewInt(200)); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	// Claims require finalisation first.
	if _, _, err := engine.Claim(buyer); !errors.Is(err, ErrSaleNotFinalized) {
		t.Fatalf("expected ErrSaleNotFinalized, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return 2001 })
	if err := engine.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	tokens, refund, err := engine.Claim(buyer)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if tokens.Int64() != 1000 { // 200 accepted * 5 tokens per unit
		t.Fatalf("tokens = %s, want 1000", tokens)
	}
	if refund.Sign() != 0 || len(refunder.refunds) != 0 {
		t.Fatalf("unexpected refund %s", refund)
	}
	if len(ledger.transfers) != 1 || ledger.transfers[0].from != saleAddr || ledger.transfers[0].to != buyer {
		t.Fatalf("unexpected delivery %+v", ledger.transfers)
	}

	// Already claimed.
	if _, _, err := engine.Claim(buyer); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim, got %v", err)
	}
	// Never contributed.
	if _, _, err := engine.Claim(addr(9)); !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected ErrNothingToClaim for stranger, got %v", err)
	}
}

func TestClaimProRataWhenOversubscribed(t *testing.T) {
	engine, _, ledger, refunder := testEngine(1500)
	// Raised 1500 against a cap of 1000: every buyer keeps two thirds.
	buyers := []struct {
		who    [20]byte
		amount int64
	}{
		{addr(1), 500},
		{addr(2), 500},
		{addr(3), 500},
	}
	for _, b := range buyers {
		if _, err := engine.Contribute(b.who, big.NewInt(b.amount)); err != nil {
			t.Fatalf("contribute: %v", err)
		}
	}
	engine.SetNowFunc(func() int64 { return 2001 })
	if err := engine.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	tokens, refund, err := engine.Claim(addr(1))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	// accepted = 500 * 1000 / 1500 = 333 (floor), refund 167, tokens 1665.
	if refund.Int64() != 167 {
		t.Fatalf("refund = %s, want 167", refund)
	}
	if tokens.Int64() != 1665 {
		t.Fatalf("tokens = %s, want 1665", tokens)
	}
	if len(refunder.refunds) != 1 || refunder.refunds[0].amount.Int64() != 167 {
		t.Fatalf("unexpected refunds %+v", refunder.refunds)
	}
	if len(ledger.transfers) != 1 || ledger.transfers[0].amount.Int64() != 1665 {
		t.Fatalf("unexpected deliveries %+v", ledger.transfers)
	}
}

func TestClaimRollsBackOnLedgerFailure(t *testing.T) {
	engine, state, ledger, _ := testEngine(1500)
	buyer := addr(1)
	if _, err := engine.Contribute(buyer, big.NewInt(200)); err != nil {
		t.Fatalf("contribute: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 2001 })
	if err := engine.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	ledgerErr := errors.New("token: transfer rejected")
	ledger.failNext = ledgerErr
	if _, _, err := engine.Claim(buyer); !errors.Is(err, ledgerErr) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	for _, c := range state.stored.Contributions {
		if c.Claimed {
			t.Fatal("failed claim left contribution marked claimed")
		}
	}

	// Retry settles cleanly.
	tokens, _, err := engine.Claim(buyer)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if tokens.Int64() != 1000 {
		t.Fatalf("retry tokens = %s, want 1000", tokens)
	}
}

func TestClaimRollsBackOnRefundFailure(t *testing.T) {
	engine, state, ledger, refunder := testEngine(1500)
	for i, amount := range []int64{500, 500, 500} {
		if _, err := engine.Contribute(addr(byte(i+1)), big.NewInt(amount)); err != nil {
			t.Fatalf("contribute %d: %v", i, err)
		}
	}
	engine.SetNowFunc(func() int64 { return 2001 })
	if err := engine.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// The token leg settles, the refund leg fails.
	refundErr := errors.New("journal: write failed")
	refunder.failNext = refundErr
	if _, _, err := engine.Claim(addr(1)); !errors.Is(err, refundErr) {
		t.Fatalf("expected refund error, got %v", err)
	}

	for _, c := range state.stored.Contributions {
		if c.Claimed {
			t.Fatal("failed claim left contribution marked claimed")
		}
	}
	if len(ledger.transfers) != 2 {
		t.Fatalf("expected delivery and reversal, got %d transfers", len(ledger.transfers))
	}
	reversal := ledger.transfers[1]
	if reversal.from != addr(1) || reversal.to != saleAddr || reversal.amount.Int64() != 1665 {
		t.Fatalf("unexpected reversal %+v", reversal)
	}

	// Retry settles the tokens and the refund.
	tokens, refund, err := engine.Claim(addr(1))
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if tokens.Int64() != 1665 || refund.Int64() != 167 {
		t.Fatalf("retry tokens=%s refund=%s", tokens, refund)
	}
	if len(refunder.refunds) != 1 || refunder.refunds[0].amount.Int64() != 167 {
		t.Fatalf("unexpected refunds %+v", refunder.refunds)
	}
}

func TestReceiptsAreDeterministic(t *testing.T) {
	first := contributionReceipt(addr(1), 0)
	second := contributionReceipt(addr(1), 1)
	other := contributionReceipt(addr(2), 0)
	if first == second || first == other {
		t.Fatal("receipts must differ by buyer and index")
	}
	if again := contributionReceipt(addr(1), 0); again != first {
		t.Fatal("receipt must be deterministic")
	}
}
