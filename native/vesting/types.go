package vesting

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
)

// Role tags a beneficiary's allocation bucket. It is assigned at first
// creation and immutable thereafter.
type Role uint8

const (
	RoleNone Role = iota
	RoleTeam
	RoleMarketing
	RoleAdvisor
)

// Valid reports whether the role value is within the supported range.
func (r Role) Valid() bool {
	switch r {
	case RoleNone, RoleTeam, RoleMarketing, RoleAdvisor:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	switch r {
	case RoleTeam:
		return "team"
	case RoleMarketing:
		return "marketing"
	case RoleAdvisor:
		return "advisor"
	case RoleNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseRole resolves the canonical role name back to its value.
func ParseRole(name string) (Role, error) {
	for _, r := range []Role{RoleNone, RoleTeam, RoleMarketing, RoleAdvisor} {
		if r.String() == name {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("vesting: unknown role %q", name)
}

var (
	ErrNilBeneficiary   = errors.New("vesting: beneficiary required")
	ErrInvalidAmount    = errors.New("vesting: amount must be positive")
	ErrInvalidDuration  = errors.New("vesting: duration must be positive")
	ErrInvalidCliff     = errors.New("vesting: cliff before start")
	ErrInvalidRole      = errors.New("vesting: role required")
	ErrScheduleExists   = errors.New("vesting: schedule already exists")
	ErrScheduleNotFound = errors.New("vesting: schedule not found")
	ErrScheduleRevoked  = errors.New("vesting: schedule revoked")
	ErrNotRevocable     = errors.New("vesting: schedule not revocable")
	ErrNothingToRelease = errors.New("vesting: nothing to release")
	ErrReentrancy       = errors.New("vesting: reentrant call")
	ErrTimeOverflow     = errors.New("vesting: schedule end overflows")
)

// Schedule is the per-beneficiary vesting record. Total only grows (except
// via revoke), Released only grows, Revoked is one-way.
type Schedule struct {
	Beneficiary [20]byte
	Total       *big.Int
	Released    *big.Int
	Start       uint64
	Cliff       uint64
	Duration    uint64
	Revocable   bool
	Revoked     bool
	Role        Role
}

// Clone returns a deep copy so callers can mutate the result without touching
// the stored instance.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Total = cloneBigInt(s.Total)
	clone.Released = cloneBigInt(s.Released)
	return &clone
}

// End returns the absolute time at which the schedule is fully vested.
func (s *Schedule) End() uint64 {
	return s.Cliff + s.Duration
}

// SanitizeSchedule validates and normalises a schedule record, returning a
// cloned instance with non-nil amounts. The original value is not mutated.
func SanitizeSchedule(s *Schedule) (*Schedule, error) {
	if s == nil {
		return nil, fmt.Errorf("vesting: nil schedule")
	}
	clone := s.Clone()
	if clone.Beneficiary == ([20]byte{}) {
		return nil, ErrNilBeneficiary
	}
	if clone.Total == nil || clone.Total.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.Released == nil {
		clone.Released = big.NewInt(0)
	}
	if clone.Released.Sign() < 0 || clone.Released.Cmp(clone.Total) > 0 {
		return nil, fmt.Errorf("vesting: released out of range")
	}
	if clone.Duration == 0 {
		return nil, ErrInvalidDuration
	}
	if clone.Cliff < clone.Start {
		return nil, ErrInvalidCliff
	}
	if clone.Cliff > math.MaxUint64-clone.Duration {
		return nil, ErrTimeOverflow
	}
	if !clone.Role.Valid() {
		return nil, ErrInvalidRole
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// scheduleJSON is the persistence shape for Schedule.
type scheduleJSON struct {
	Beneficiary string `json:"beneficiary"`
	Total       string `json:"total"`
	Released    string `json:"released"`
	Start       uint64 `json:"start"`
	Cliff       uint64 `json:"cliff"`
	Duration    uint64 `json:"duration"`
	Revocable   bool   `json:"revocable"`
	Revoked     bool   `json:"revoked,omitempty"`
	Role        string `json:"role"`
}

// MarshalJSON implements json.Marshaler.
func (s *Schedule) MarshalJSON() ([]byte, error) {
	return json.Marshal(scheduleJSON{
		Beneficiary: hex.EncodeToString(s.Beneficiary[:]),
		Total:       cloneBigInt(s.Total).String(),
		Released:    cloneBigInt(s.Released).String(),
		Start:       s.Start,
		Cliff:       s.Cliff,
		Duration:    s.Duration,
		Revocable:   s.Revocable,
		Revoked:     s.Revoked,
		Role:        s.Role.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var decoded scheduleJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	raw, err := hex.DecodeString(decoded.Beneficiary)
	if err != nil || len(raw) != 20 {
		return fmt.Errorf("vesting: decode beneficiary: invalid payload")
	}
	total, ok := new(big.Int).SetString(decoded.Total, 10)
	if !ok {
		return fmt.Errorf("vesting: decode total %q", decoded.Total)
	}
	released, ok := new(big.Int).SetString(decoded.Released, 10)
	if !ok {
		return fmt.Errorf("vesting: decode released %q", decoded.Released)
	}
	role, err := ParseRole(decoded.Role)
	if err != nil {
		return err
	}
	out := Schedule{
		Total:     total,
		Released:  released,
		Start:     decoded.Start,
		Cliff:     decoded.Cliff,
		Duration:  decoded.Duration,
		Revocable: decoded.Revocable,
		Revoked:   decoded.Revoked,
		Role:      role,
	}
	copy(out.Beneficiary[:], raw)
	*s = out
	return nil
}
