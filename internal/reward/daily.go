package reward

import "time"

// NextDailyReset is the UTC midnight following now.
func NextDailyReset(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// DailyAvailable reports whether a daily claimed at last may be claimed again at now.
func DailyAvailable(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return last.Before(NextDailyReset(now).Add(-24 * time.Hour))
}
