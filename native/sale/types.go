package sale

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrSaleClosed       = errors.New("sale: not accepting contributions")
	ErrSaleNotFinalized = errors.New("sale: not finalized")
	ErrSaleFinalized    = errors.New("sale: already finalized")
	ErrBelowMinimum     = errors.New("sale: below per-wallet minimum")
	ErrAboveMaximum     = errors.New("sale: above per-wallet maximum")
	ErrNotApproved      = errors.New("sale: buyer not approved")
	ErrNothingToClaim   = errors.New("sale: nothing to claim")
	ErrInvalidAmount    = errors.New("sale: amount must be positive")
	ErrReentrancy       = errors.New("sale: reentrant call")
)

// Params fixes the sale terms at construction. Amounts are in native payment
// units; TokensPerUnit converts accepted payment into KST credits.
type Params struct {
	StartAt         int64
	EndAt           int64
	MinContribution *big.Int
	MaxContribution *big.Int
	Cap             *big.Int
	TokensPerUnit   *big.Int
	SaleAddress     [20]byte
}

// Contribution records a single accepted payment. Receipt is the
// deterministic identifier handed back to the buyer.
type Contribution struct {
	Buyer   [20]byte
	Amount  *big.Int
	Receipt [32]byte
	Claimed bool
}

// State is the persisted sale ledger: contributions in insertion order plus
// the running totals.
type State struct {
	Contributions []*Contribution
	Raised        *big.Int
	Finalized     bool
	Accepted      *big.Int
}

// NewState returns an empty sale ledger.
func NewState() *State {
	return &State{Raised: big.NewInt(0), Accepted: big.NewInt(0)}
}

// Clone deep-copies the state so engine mutations never alias the store.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	clone := &State{
		Raised:    cloneBigInt(s.Raised),
		Accepted:  cloneBigInt(s.Accepted),
		Finalized: s.Finalized,
	}
	for _, c := range s.Contributions {
		clone.Contributions = append(clone.Contributions, &Contribution{
			Buyer:   c.Buyer,
			Amount:  cloneBigInt(c.Amount),
			Receipt: c.Receipt,
			Claimed: c.Claimed,
		})
	}
	return clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

type contributionJSON struct {
	Buyer   string `json:"buyer"`
	Amount  string `json:"amount"`
	Receipt string `json:"receipt"`
	Claimed bool   `json:"claimed,omitempty"`
}

type stateJSON struct {
	Contributions []contributionJSON `json:"contributions,omitempty"`
	Raised        string             `json:"raised"`
	Finalized     bool               `json:"finalized,omitempty"`
	Accepted      string             `json:"accepted"`
}

// MarshalJSON implements json.Marshaler.
func (s *State) MarshalJSON() ([]byte, error) {
	out := stateJSON{
		Raised:    cloneBigInt(s.Raised).String(),
		Accepted:  cloneBigInt(s.Accepted).String(),
		Finalized: s.Finalized,
	}
	for _, c := range s.Contributions {
		out.Contributions = append(out.Contributions, contributionJSON{
			Buyer:   hex.EncodeToString(c.Buyer[:]),
			Amount:  cloneBigInt(c.Amount).String(),
			Receipt: hex.EncodeToString(c.Receipt[:]),
			Claimed: c.Claimed,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var decoded stateJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	out := NewState()
	var ok bool
	if out.Raised, ok = new(big.Int).SetString(decoded.Raised, 10); !ok {
		return fmt.Errorf("sale: decode raised %q", decoded.Raised)
	}
	if out.Accepted, ok = new(big.Int).SetString(decoded.Accepted, 10); !ok {
		return fmt.Errorf("sale: decode accepted %q", decoded.Accepted)
	}
	out.Finalized = decoded.Finalized
	for _, c := range decoded.Contributions {
		entry := &Contribution{Claimed: c.Claimed}
		rawBuyer, err := hex.DecodeString(c.Buyer)
		if err != nil || len(rawBuyer) != 20 {
			return fmt.Errorf("sale: decode buyer: invalid payload")
		}
		copy(entry.Buyer[:], rawBuyer)
		rawReceipt, err := hex.DecodeString(c.Receipt)
		if err != nil || len(rawReceipt) != 32 {
			return fmt.Errorf("sale: decode receipt: invalid payload")
		}
		copy(entry.Receipt[:], rawReceipt)
		if entry.Amount, ok = new(big.Int).SetString(c.Amount, 10); !ok {
			return fmt.Errorf("sale: decode amount %q", c.Amount)
		}
		out.Contributions = append(out.Contributions, entry)
	}
	*s = *out
	return nil
}
