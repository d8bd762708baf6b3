package util

import (
	"strings"
	"time"
)

// IST is the exchange's local time zone.
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		IST = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// NowIST returns the current time in IST.
func NowIST() time.Time {
	return time.Now().In(IST)
}

// DateOnly truncates t to midnight of its IST calendar day.
func DateOnly(t time.Time) time.Time {
	d := t.In(IST)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IST)
}

// DaysBetween returns the number of calendar days from a to b in IST (b - a).
func DaysBetween(a, b time.Time) int {
	da, db := DateOnly(a), DateOnly(b)
	return int(db.Sub(da).Hours() / 24)
}

var expiryLayouts = []string{
	"02-Jan-2006",
	"2-Jan-2006",
	"02-JAN-2006",
	"2006-01-02",
	"02 Jan 2006",
}

// ParseExpiry parses exchange expiry strings such as "28-Nov-2024".
func ParseExpiry(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, IST); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LastWeekdayOfMonth returns the last given weekday of t's month.
func LastWeekdayOfMonth(t time.Time, wd time.Weekday) time.Time {
	d := DateOnly(t)
	last := time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, IST).AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// ParseWeekday maps an English weekday name to time.Weekday.
func ParseWeekday(s string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), strings.TrimSpace(s)) {
			return wd, true
		}
	}
	return time.Sunday, false
}

// ParseClock parses "15:04" into hour and minute.
func ParseClock(s string) (int, int, bool) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
