package booking

// HasConflict reports whether candidate overlaps any of existing.
func HasConflict(candidate DateRange, existing []DateRange) bool {
	for _, r := range existing {
		if Overlaps(candidate, r) {
			return true
		}
	}
	return false
}

// ConflictsWith returns the first active reservation whose range overlaps
// candidate. Cancelled reservations never block.
func ConflictsWith(candidate DateRange, existing []Reservation) (Reservation, bool) {
	for _, r := range existing {
		if r.Active() && Overlaps(candidate, r.Range) {
			return r, true
		}
	}
	return Reservation{}, false
}

// Ranges extracts the ranges of the active reservations in rs.
func Ranges(rs []Reservation) []DateRange {
	out := make([]DateRange, 0, len(rs))
	for _, r := range rs {
		if r.Active() {
			out = append(out, r.Range)
		}
	}
	return out
}
