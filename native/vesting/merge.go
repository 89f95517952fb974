package vesting

import (
	"math"
	"math/big"

	"kestrel/core/events"
)

// UpsertSchedule is the additive setup variant used by the tranche and
// streaming helpers. The first call for a beneficiary creates the schedule;
// subsequent calls either top up the total when the timing tuple matches
// exactly, or merge timing by pushing the cliff and end to the later of the
// two and recomputing the duration. Released is never touched by a merge.
//
// A merge can move the cliff past time that has already elapsed, momentarily
// dropping the computed vested amount to or below Released; Claimable renders
// that as zero rather than underflowing.
func (e *Engine) UpsertSchedule(beneficiary [20]byte, addTotal *big.Int, start, cliff, duration uint64, revocable bool, role Role) (*Schedule, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if addTotal == nil || addTotal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	existing, ok, err := e.state.ScheduleGet(beneficiary)
	if err != nil {
		return nil, err
	}
	if !ok {
		return e.CreateSchedule(beneficiary, addTotal, start, cliff, duration, revocable, role)
	}
	if existing.Revoked {
		return nil, ErrScheduleRevoked
	}
	if duration == 0 {
		return nil, ErrInvalidDuration
	}
	if cliff > math.MaxUint64-duration {
		return nil, ErrTimeOverflow
	}

	sameTiming := existing.Start == start && existing.Cliff == cliff &&
		existing.Duration == duration && existing.Revocable == revocable
	if sameTiming {
		existing.Total = new(big.Int).Add(existing.Total, addTotal)
		if err := e.state.SchedulePut(existing); err != nil {
			return nil, err
		}
		e.emit(events.VestingIncreased{Beneficiary: beneficiary, Added: addTotal, Total: existing.Total}.Event())
		return existing.Clone(), nil
	}

	mergedCliff := existing.Cliff
	if cliff > mergedCliff {
		mergedCliff = cliff
	}
	mergedEnd := existing.End()
	if end := cliff + duration; end > mergedEnd {
		mergedEnd = end
	}
	existing.Cliff = mergedCliff
	existing.Duration = mergedEnd - mergedCliff
	existing.Total = new(big.Int).Add(existing.Total, addTotal)
	existing.Revocable = existing.Revocable || revocable
	if err := e.state.SchedulePut(existing); err != nil {
		return nil, err
	}
	e.emit(events.VestingMerged{
		Beneficiary: beneficiary,
		Cliff:       existing.Cliff,
		Duration:    existing.Duration,
		Total:       existing.Total,
	}.Event())
	return existing.Clone(), nil
}

// GrantTranches installs count equal tranches, the first unlocking at
// firstCliff and each subsequent one an interval later. Under the merge rules
// the tranches collapse into a single schedule ending at the final tranche.
func (e *Engine) GrantTranches(beneficiary [20]byte, perTranche *big.Int, start, firstCliff, interval uint64, count int, revocable bool, role Role) (*Schedule, error) {
	if count <= 0 {
		return nil, ErrInvalidAmount
	}
	if interval == 0 {
		return nil, ErrInvalidDuration
	}
	var schedule *Schedule
	for k := 0; k < count; k++ {
		offset := uint64(k) * interval
		if firstCliff > math.MaxUint64-offset {
			return nil, ErrTimeOverflow
		}
		var err error
		schedule, err = e.UpsertSchedule(beneficiary, perTranche, start, firstCliff+offset, interval, revocable, role)
		if err != nil {
			return nil, err
		}
	}
	return schedule, nil
}

// GrantStream installs a single linear stream via the additive path, so
// repeated grants for the same beneficiary accumulate.
func (e *Engine) GrantStream(beneficiary [20]byte, total *big.Int, start, cliff, duration uint64, revocable bool, role Role) (*Schedule, error) {
	return e.UpsertSchedule(beneficiary, total, start, cliff, duration, revocable, role)
}
