// Package chatfmt formats chat timestamps for the chat list.
package chatfmt

import "time"

// Layouts used by FormatChatTime.
const (
	LayoutToday     = "15:04"
	LayoutThisWeek  = "Mon"
	LayoutThisYear  = "Jan 2"
	LayoutOlder     = "Jan 2, 2006"
	LabelYesterday  = "Yesterday"
	recentWindowDay = 6
)

// FormatChatTime renders t relative to now, in now's location.
// Timestamps later than now (clock skew) are treated as today.
func FormatChatTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())

	days := daysBetween(t, now)
	switch {
	case days <= 0:
		return t.Format(LayoutToday)
	case days == 1:
		return LabelYesterday
	case days <= recentWindowDay:
		return t.Format(LayoutThisWeek)
	case t.Year() == now.Year():
		return t.Format(LayoutThisYear)
	default:
		return t.Format(LayoutOlder)
	}
}

// daysBetween counts calendar days from t to now.
func daysBetween(t, now time.Time) int {
	loc := now.Location()
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	// Round absorbs DST shifts of up to an hour.
	return int(to.Sub(from).Round(24*time.Hour) / (24 * time.Hour))
}
