// Package markettime extracts a market's scheduled trading window from its
// title text. Short-horizon Polymarket markets encode the window directly in
// the title, e.g. "Bitcoin Up or Down - June 4, 6:30PM-6:45PM ET".
package markettime

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var windowRe = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*(AM|PM)\s*-\s*(\d{1,2}):(\d{2})\s*(AM|PM)\s*ET`)

// Titles use the venue's Eastern Time convention. Fall back to a fixed -5h
// offset when the tz database is unavailable (static binaries, scratch images).
var etZone = loadET()

func loadET() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// Window is the parsed trading window of a market relative to a reference time.
type Window struct {
	// End is the normalized end-of-window clock, e.g. "6:45PM ET".
	End string
	// MinutesRemaining until the window closes. Negative means the window
	// already closed (beyond the midnight-wraparound tolerance).
	MinutesRemaining float64
	// EndsAt is the resolved end instant on the reference day.
	EndsAt time.Time
}

// Remaining parses the trading window out of title and computes minutes left
// until its end relative to now. ok is false when the title carries no window;
// callers must treat that as "freshness does not apply", not as an error.
func Remaining(title string, now time.Time) (w Window, ok bool) {
	m := windowRe.FindStringSubmatch(title)
	if m == nil {
		return Window{}, false
	}

	endHour, endMin, err := clockFrom(m[4], m[5], m[6])
	if err != nil {
		return Window{}, false
	}

	nowET := now.In(etZone)
	endsAt := time.Date(nowET.Year(), nowET.Month(), nowET.Day(), endHour, endMin, 0, 0, etZone)

	diff := endsAt.Sub(nowET).Minutes()
	// A window that appears more than an hour in the past most likely belongs
	// to tomorrow (the title's clock crossed midnight relative to now).
	if diff < -60 {
		diff += 24 * 60
		endsAt = endsAt.Add(24 * time.Hour)
	}

	return Window{
		End:              normalizeClock(m[4], m[5], m[6]),
		MinutesRemaining: diff,
		EndsAt:           endsAt,
	}, true
}

func clockFrom(hourStr, minStr, meridiem string) (hour, minute int, err error) {
	hour, err = strconv.Atoi(hourStr)
	if err != nil {
		return 0, 0, err
	}
	minute, err = strconv.Atoi(minStr)
	if err != nil {
		return 0, 0, err
	}
	if hour < 1 || hour > 12 || minute > 59 {
		return 0, 0, fmt.Errorf("clock out of range: %s:%s%s", hourStr, minStr, meridiem)
	}
	if meridiem == "PM" && hour != 12 {
		hour += 12
	}
	if meridiem == "AM" && hour == 12 {
		hour = 0
	}
	return hour, minute, nil
}

func normalizeClock(hourStr, minStr, meridiem string) string {
	h, _ := strconv.Atoi(hourStr)
	return fmt.Sprintf("%d:%s%s ET", h, minStr, meridiem)
}
