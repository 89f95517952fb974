package registry

import (
	"errors"
	"strings"
)

var errNilState = errors.New("registry: state not configured")

// Approval is the per-address record: a boolean flag plus an opaque reference
// into the off-ledger KYC process.
type Approval struct {
	Approved  bool   `json:"approved"`
	Reference string `json:"reference,omitempty"`
}

type registryState interface {
	ApprovalGet(addr [20]byte) (Approval, bool, error)
	ApprovalPut(addr [20]byte, approval Approval) error
}

// Registry is the approval-registry boundary consumed by the transfer engine
// as a read-only predicate. Writes happen through the admin surface only.
type Registry struct {
	state registryState
}

// New creates a registry over the supplied state backend.
func New(state registryState) *Registry {
	return &Registry{state: state}
}

// SetApproval stores or updates the record for an address.
func (r *Registry) SetApproval(addr [20]byte, approved bool, reference string) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	return r.state.ApprovalPut(addr, Approval{
		Approved:  approved,
		Reference: strings.TrimSpace(reference),
	})
}

// IsApproved implements the transfer engine's approval predicate. Backend
// errors and missing records both read as not approved.
func (r *Registry) IsApproved(addr [20]byte) bool {
	if r == nil || r.state == nil {
		return false
	}
	approval, ok, err := r.state.ApprovalGet(addr)
	if err != nil || !ok {
		return false
	}
	return approval.Approved
}

// Lookup returns the stored record for an address.
func (r *Registry) Lookup(addr [20]byte) (Approval, bool, error) {
	if r == nil || r.state == nil {
		return Approval{}, false, errNilState
	}
	return r.state.ApprovalGet(addr)
}
