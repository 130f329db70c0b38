package segment

import "time"

const dayLayout = "2006-01-02"

// Aggregate folds per-day event counts into a single number for eventName.
// The bool is false only when the mode or window is unusable; zero matching
// records is a valid count of 0.
func Aggregate(eventName string, mode EventConditionType, windowDays any, records []EventIntermediateCount, now time.Time) (float64, bool) {
	switch mode {
	case CountAll:
		var total float64
		for _, r := range records {
			if r.Name == eventName {
				total += float64(r.Count)
			}
		}
		return total, true

	case CountInWindow:
		days, ok := toNumber(windowDays, true)
		if !ok || days < 0 {
			return 0, false
		}
		// whole UTC days: the window covers today and the Y days before it
		now = now.UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		lower := today.AddDate(0, 0, -int(days))
		var total float64
		for _, r := range records {
			if r.Name != eventName {
				continue
			}
			dt, ok := parseDay(r.Dt)
			if !ok {
				continue
			}
			if dt.Before(lower) || dt.After(now) {
				continue
			}
			total += float64(r.Count)
		}
		return total, true

	default:
		return 0, false
	}
}

func parseDay(s string) (time.Time, bool) {
	if t, err := time.Parse(dayLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
