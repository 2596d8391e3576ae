// Package conflict detects overlapping weekly commitments and clashing
// group sessions.
package conflict

import "conservatory/pkg/domain"

// Overlaps reports whether two weekly slots share a day and their half-open
// intervals intersect. Touching endpoints do not overlap.
func Overlaps(a, b domain.TimeBlock) bool {
	if a.DayOfWeek != b.DayOfWeek {
		return false
	}
	ia, ok := parseInterval(a.StartTime, a.EndTime)
	if !ok {
		return false
	}
	ib, ok := parseInterval(b.StartTime, b.EndTime)
	if !ok {
		return false
	}
	return ia.overlaps(ib)
}

// HasScheduleConflict reports whether candidate overlaps any existing slot.
// An existing slot sharing the candidate's SourceID is the candidate itself
// and is skipped.
func HasScheduleConflict(candidate domain.TimeBlock, existing []domain.TimeBlock) bool {
	return len(Conflicts(candidate, existing)) > 0
}

// Conflicts returns every existing slot overlapping candidate.
func Conflicts(candidate domain.TimeBlock, existing []domain.TimeBlock) []domain.TimeBlock {
	var out []domain.TimeBlock
	for _, slot := range existing {
		if candidate.SourceID != "" && slot.SourceID == candidate.SourceID {
			continue
		}
		if Overlaps(candidate, slot) {
			out = append(out, slot)
		}
	}
	return out
}
