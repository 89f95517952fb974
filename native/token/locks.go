package token

import "fmt"

// LockCategory identifies a group of configuration setters that can be
// permanently disabled by governance.
type LockCategory uint8

const (
	LockFees LockCategory = iota
	LockFeeExclusions
	LockLimits
	LockKYC
	LockPairs
	LockBlacklist
)

// String returns the canonical category name used in errors and events.
func (c LockCategory) String() string {
	switch c {
	case LockFees:
		return "fees"
	case LockFeeExclusions:
		return "fee_exclusions"
	case LockLimits:
		return "limits"
	case LockKYC:
		return "kyc"
	case LockPairs:
		return "pairs"
	case LockBlacklist:
		return "blacklist"
	default:
		return "unknown"
	}
}

// Valid reports whether the category value is within the supported range.
func (c LockCategory) Valid() bool {
	switch c {
	case LockFees, LockFeeExclusions, LockLimits, LockKYC, LockPairs, LockBlacklist:
		return true
	default:
		return false
	}
}

// ParseLockCategory resolves the canonical category name back to its value.
func ParseLockCategory(name string) (LockCategory, error) {
	for _, c := range []LockCategory{LockFees, LockFeeExclusions, LockLimits, LockKYC, LockPairs, LockBlacklist} {
		if c.String() == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("token: unknown lock category %q", name)
}

// LockState is the per-category state machine: Mutable with a single
// irreversible transition to Locked.
type LockState uint8

const (
	LockMutable LockState = iota
	LockLocked
)

// Locks is the central authority every configuration setter consults before
// mutating its category.
type Locks struct {
	states map[LockCategory]LockState
}

// NewLocks returns a lock set with every category mutable.
func NewLocks() *Locks {
	return &Locks{states: make(map[LockCategory]LockState)}
}

// State returns the current state for the category.
func (l *Locks) State(category LockCategory) LockState {
	if l == nil || l.states == nil {
		return LockMutable
	}
	return l.states[category]
}

// Locked reports whether the category has been permanently locked.
func (l *Locks) Locked(category LockCategory) bool {
	return l.State(category) == LockLocked
}

// Ensure fails with a category-specific error when the category is locked.
func (l *Locks) Ensure(category LockCategory) error {
	if l.Locked(category) {
		return fmt.Errorf("%w: %s", ErrCategoryLocked, category)
	}
	return nil
}

// Lock performs the one-way Mutable -> Locked transition. Locking an already
// locked category is a no-op so governance retries stay idempotent.
func (l *Locks) Lock(category LockCategory) error {
	if !category.Valid() {
		return fmt.Errorf("token: invalid lock category %d", category)
	}
	if l.states == nil {
		l.states = make(map[LockCategory]LockState)
	}
	l.states[category] = LockLocked
	return nil
}

// LockedCategories returns the canonical names of every locked category in
// category order. Used by the codec and the config views.
func (l *Locks) LockedCategories() []string {
	if l == nil {
		return nil
	}
	var out []string
	for _, c := range []LockCategory{LockFees, LockFeeExclusions, LockLimits, LockKYC, LockPairs, LockBlacklist} {
		if l.Locked(c) {
			out = append(out, c.String())
		}
	}
	return out
}
