// Package fine computes overdue fines. Everything here is pure: callers may
// evaluate fines as often as they like (read-time estimates, sweeps) and only
// the return-processing transition ever persists a result.
package fine

import "time"

// DaysLate returns the number of whole calendar days the actual return
// instant lies past the expected return date. The borrower keeps the entire
// due day; any part of a later day counts as a full day. Returns before or on
// the due day yield zero.
func DaysLate(expectedReturn, actual time.Time) int {
	due := startOfDay(expectedReturn)
	ret := startOfDay(actual)
	if !ret.After(due) {
		return 0
	}
	// Round instead of truncate so DST-shifted days still count as one.
	days := int((ret.Sub(due) + 12*time.Hour) / (24 * time.Hour))
	return days
}

// ComputeAutoFine returns the automatic overdue fine in the smallest currency
// unit: whole days late times the daily rate.
func ComputeAutoFine(expectedReturn, actual time.Time, dailyRate int64) int64 {
	return int64(DaysLate(expectedReturn, actual)) * dailyRate
}

// Total combines the automatic fine with an admin-entered manual charge.
// Negative manual amounts are treated as zero; manual fines are additive
// damage/loss charges, never discounts.
func Total(auto, manual int64) int64 {
	if manual < 0 {
		manual = 0
	}
	return auto + manual
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
