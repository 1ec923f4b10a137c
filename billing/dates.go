package billing

import "time"

// DefaultDueDays is the offset between invoice date and due date when the
// billing profile does not override it.
const DefaultDueDays = 16

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DueDate returns invoiceDate + days (calendar days).
func DueDate(invoiceDate time.Time, days int) time.Time {
	return Day(invoiceDate).AddDate(0, 0, days)
}

// DueDays resolves the due-date offset: profile override, then fallback,
// then DefaultDueDays.
func DueDays(profile BillingProfile, fallback int) int {
	switch {
	case profile.DueDays > 0:
		return profile.DueDays
	case fallback > 0:
		return fallback
	default:
		return DefaultDueDays
	}
}

// Earliest returns the earliest non-zero time, or the zero time.
func Earliest(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.IsZero() {
			continue
		}
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return out
}
