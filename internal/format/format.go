// Package format renders timestamps, durations and activity labels for
// display. All millisecond arguments are unix-epoch or elapsed milliseconds,
// matching the wire protocol.
package format

import (
	"fmt"
	"time"

	"github.com/nestlinghq/nestling/backend/internal/activity"
)

// Duration renders elapsed milliseconds as a coarse human duration,
// e.g. "1h 5m", "3m 20s", "45s".
func Duration(millis int64) string {
	totalSeconds := millis / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// TimerDisplay renders elapsed milliseconds as a running-timer readout,
// "MM:SS" under an hour and "HH:MM:SS" beyond.
func TimerDisplay(millis int64) string {
	totalSeconds := millis / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// TimeAgo renders how long ago the millisecond timestamp was relative to now.
func TimeAgo(now time.Time, millis int64) string {
	diff := now.UnixMilli() - millis

	minutes := diff / 60000
	hours := diff / 3600000
	days := diff / 86400000

	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	default:
		return fmt.Sprintf("%dd ago", days)
	}
}

// DayLabel renders a millisecond timestamp as "Today", "Yesterday" or a short
// date, relative to now in its location.
func DayLabel(now time.Time, millis int64) string {
	day := time.UnixMilli(millis).In(now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterday := today.AddDate(0, 0, -1)

	switch {
	case !day.Before(today):
		return "Today"
	case !day.Before(yesterday):
		return "Yesterday"
	default:
		return day.Format("Mon Jan 2")
	}
}

// FeedingLabel renders a feeding payload's feedType for display.
func FeedingLabel(feedType string) string {
	switch feedType {
	case "bottle":
		return "Bottle"
	case "breast":
		return "Breastfeed"
	case "solid":
		return "Solid Food"
	default:
		return "Feeding"
	}
}

// DiaperLabel renders a diaper payload's diaperType for display.
func DiaperLabel(diaperType string) string {
	switch diaperType {
	case "wet":
		return "Wet"
	case "dirty":
		return "Dirty"
	case "both":
		return "Wet & Dirty"
	default:
		return "Diaper"
	}
}

// ActivityIcon returns the emoji marker for an activity category.
func ActivityIcon(activityType activity.Type) string {
	switch activityType {
	case activity.TypeFeeding:
		return "🍼"
	case activity.TypeSleep:
		return "😴"
	case activity.TypeDiaper:
		return "🧷"
	default:
		return "📝"
	}
}
