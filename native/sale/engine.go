package sale

import (
	"encoding/binary"
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"kestrel/core/events"
	"kestrel/core/types"
)

var (
	errNilState    = errors.New("sale engine: state not configured")
	errNilLedger   = errors.New("sale engine: ledger not configured")
	errNilRefunder = errors.New("sale engine: refunder not configured")
)

type engineState interface {
	SaleGet() (*State, bool, error)
	SalePut(state *State) error
}

// Ledger delivers KST credits on claim. The sale address must be
// limits-excluded and pre-funded.
type Ledger interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// ApprovalView mirrors the transfer engine's registry predicate; the sale
// checks it before accepting payment.
type ApprovalView interface {
	IsApproved(addr [20]byte) bool
}

// Refunder returns native payment to a buyer. The host environment owns the
// payment leg; the engine only decides amounts.
type Refunder interface {
	Refund(to [20]byte, amount *big.Int) error
}

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

// Engine runs the capped public sale: bounded contributions while the window
// is open, then a finalise step and pro-rata claims with overflow refunds.
type Engine struct {
	state     engineState
	ledger    Ledger
	approvals ApprovalView
	refunder  Refunder
	params    Params
	emitter   events.Emitter
	nowFn     func() int64
	busy      bool
}

// NewEngine creates a sale engine with fixed terms and a no-op emitter.
func NewEngine(params Params) *Engine {
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the sale state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the token delivery primitive.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetApprovals configures the registry predicate checked before payment.
func (e *Engine) SetApprovals(view ApprovalView) { e.approvals = view }

// SetRefunder configures the native payment return path.
func (e *Engine) SetRefunder(refunder Refunder) { e.refunder = refunder }

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

// Params returns the fixed sale terms.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadState() (*State, error) {
	state, ok, err := e.state.SaleGet()
	if err != nil {
		return nil, err
	}
	if !ok {
		return NewState(), nil
	}
	return state, nil
}

func (e *Engine) enter() error {
	if e.busy {
		return ErrReentrancy
	}
	e.busy = true
	return nil
}

func (e *Engine) leave() { e.busy = false }

// Contribute records a payment from the buyer. The window must be open, the
// buyer approved, and the cumulative wallet total inside the min/max bounds.
// Contributions past the cap are accepted and squared up pro rata at claim.
func (e *Engine) Contribute(buyer [20]byte, amount *big.Int) ([32]byte, error) {
	var receipt [32]byte
	if e == nil || e.state == nil {
		return receipt, errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return receipt, ErrInvalidAmount
	}
	now := e.now()
	if now < e.params.StartAt || now >= e.params.EndAt {
		return receipt, ErrSaleClosed
	}
	if e.approvals == nil || !e.approvals.IsApproved(buyer) {
		return receipt, ErrNotApproved
	}
	state, err := e.loadState()
	if err != nil {
		return receipt, err
	}
	if state.Finalized {
		return receipt, ErrSaleClosed
	}
	walletTotal := big.NewInt(0)
	for _, c := range state.Contributions {
		if c.Buyer == buyer {
			walletTotal.Add(walletTotal, c.Amount)
		}
	}
	cumulative := new(big.Int).Add(walletTotal, amount)
	if e.params.MinContribution != nil && cumulative.Cmp(e.params.MinContribution) < 0 {
		return receipt, ErrBelowMinimum
	}
	if e.params.MaxContribution != nil && cumulative.Cmp(e.params.MaxContribution) > 0 {
		return receipt, ErrAboveMaximum
	}
	receipt = contributionReceipt(buyer, len(state.Contributions))
	state.Contributions = append(state.Contributions, &Contribution{
		Buyer:   buyer,
		Amount:  new(big.Int).Set(amount),
		Receipt: receipt,
	})
	state.Raised = new(big.Int).Add(state.Raised, amount)
	if err := e.state.SalePut(state); err != nil {
		return [32]byte{}, err
	}
	e.emit(events.SaleContribution{Buyer: buyer, Amount: amount, Receipt: receipt}.Event())
	return receipt, nil
}

// Finalize closes the sale after the window ends and fixes the accepted
// total at min(raised, cap).
func (e *Engine) Finalize() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.now() < e.params.EndAt {
		return ErrSaleClosed
	}
	state, err := e.loadState()
	if err != nil {
		return err
	}
	if state.Finalized {
		return ErrSaleFinalized
	}
	state.Finalized = true
	state.Accepted = new(big.Int).Set(state.Raised)
	if e.params.Cap != nil && state.Accepted.Cmp(e.params.Cap) > 0 {
		state.Accepted = new(big.Int).Set(e.params.Cap)
	}
	if err := e.state.SalePut(state); err != nil {
		return err
	}
	e.emit(events.SaleFinalized{Raised: state.Raised, Accepted: state.Accepted}.Event())
	return nil
}

// Claim settles every unclaimed contribution for the buyer: tokens for the
// pro-rata accepted portion, a refund for the overflow. Bookkeeping is
// persisted before any value moves.
func (e *Engine) Claim(buyer [20]byte) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if e.ledger == nil {
		return nil, nil, errNilLedger
	}
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.leave()

	state, err := e.loadState()
	if err != nil {
		return nil, nil, err
	}
	if !state.Finalized {
		return nil, nil, ErrSaleNotFinalized
	}
	contributed := big.NewInt(0)
	for _, c := range state.Contributions {
		if c.Buyer == buyer && !c.Claimed {
			contributed.Add(contributed, c.Amount)
		}
	}
	if contributed.Sign() == 0 {
		return nil, nil, ErrNothingToClaim
	}

	accepted := new(big.Int).Set(contributed)
	oversubscribed := e.params.Cap != nil && state.Raised.Cmp(e.params.Cap) > 0
	if oversubscribed {
		accepted.Mul(contributed, e.params.Cap)
		accepted.Div(accepted, state.Raised)
	}
	refund := new(big.Int).Sub(contributed, accepted)
	tokens := new(big.Int).Set(accepted)
	if e.params.TokensPerUnit != nil {
		tokens.Mul(accepted, e.params.TokensPerUnit)
	}
	if refund.Sign() > 0 && e.refunder == nil {
		return nil, nil, errNilRefunder
	}

	prior := state.Clone()
	for _, c := range state.Contributions {
		if c.Buyer == buyer {
			c.Claimed = true
		}
	}
	if err := e.state.SalePut(state); err != nil {
		return nil, nil, err
	}
	if tokens.Sign() > 0 {
		if err := e.ledger.Transfer(e.params.SaleAddress, buyer, tokens); err != nil {
			if restoreErr := e.state.SalePut(prior); restoreErr != nil {
				return nil, nil, errors.Join(err, restoreErr)
			}
			return nil, nil, err
		}
	}
	if refund.Sign() > 0 {
		if err := e.refunder.Refund(buyer, refund); err != nil {
			// Reverse the token leg and restore the bookkeeping so the
			// contributions stay claimable for a retry.
			restoreErr := e.state.SalePut(prior)
			var reverseErr error
			if tokens.Sign() > 0 {
				reverseErr = e.ledger.Transfer(buyer, e.params.SaleAddress, tokens)
			}
			return nil, nil, errors.Join(err, restoreErr, reverseErr)
		}
	}
	e.emit(events.SaleClaimed{Buyer: buyer, Tokens: tokens, Refund: refund}.Event())
	return tokens, refund, nil
}

// contributionReceipt derives a deterministic identifier from the buyer and
// the contribution's position in the sale ledger.
func contributionReceipt(buyer [20]byte, index int) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(index))
	return [32]byte(ethcrypto.Keccak256Hash(buyer[:], seq[:]))
}
